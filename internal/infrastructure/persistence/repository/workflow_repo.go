package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/sqlite"
)

// WorkflowRepository implements port.WorkflowRepository.
// Steps are stored as a JSON array on the workflow row.
type WorkflowRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewWorkflowRepository creates a new workflow repository
func NewWorkflowRepository(db *sql.DB, logger *zap.Logger) port.WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

// Save upserts on company_id, so a company keeps exactly one workflow. The
// original id and created_at survive a replacement.
func (r *WorkflowRepository) Save(ctx context.Context, wf *entity.WorkflowDefinition) error {
	steps := wf.Steps
	if steps == nil {
		steps = []entity.WorkflowStep{}
	}
	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		return fmt.Errorf("failed to encode workflow steps: %w", err)
	}

	query := `
		INSERT INTO workflows (id, company_id, name, is_manager_first, steps, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(company_id) DO UPDATE SET
			name = excluded.name,
			is_manager_first = excluded.is_manager_first,
			steps = excluded.steps,
			updated_at = excluded.updated_at
	`
	_, err = sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		wf.ID,
		wf.CompanyID,
		wf.Name,
		wf.IsManagerFirst,
		string(stepsJSON),
		wf.CreatedAt,
		wf.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to save workflow", zap.String("company_id", wf.CompanyID), zap.Error(err))
		return fmt.Errorf("failed to save workflow: %w", err)
	}
	return nil
}

func (r *WorkflowRepository) GetByCompany(ctx context.Context, companyID string) (*entity.WorkflowDefinition, error) {
	query := `
		SELECT id, company_id, name, is_manager_first, steps, created_at, updated_at
		FROM workflows
		WHERE company_id = ?
	`
	var wf entity.WorkflowDefinition
	var steps string
	err := sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, companyID).Scan(
		&wf.ID,
		&wf.CompanyID,
		&wf.Name,
		&wf.IsManagerFirst,
		&steps,
		&wf.CreatedAt,
		&wf.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get workflow", zap.String("company_id", companyID), zap.Error(err))
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	if err := json.Unmarshal([]byte(steps), &wf.Steps); err != nil {
		return nil, fmt.Errorf("failed to decode workflow steps: %w", err)
	}
	return &wf, nil
}

var _ port.WorkflowRepository = (*WorkflowRepository)(nil)
