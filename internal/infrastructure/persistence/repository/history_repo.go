package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/sqlite"
)

// HistoryRepository implements port.HistoryRepository
type HistoryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *sql.DB, logger *zap.Logger) port.HistoryRepository {
	return &HistoryRepository{db: db, logger: logger}
}

// Create appends a history record
func (r *HistoryRepository) Create(ctx context.Context, history *entity.ApprovalHistory) error {
	query := `
		INSERT INTO approval_history (
			expense_id, actor_id, action, previous_status, new_status, comment, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		history.ExpenseID,
		history.ActorID,
		history.Action,
		history.PreviousStatus,
		history.NewStatus,
		history.Comment,
		history.Timestamp,
	)
	if err != nil {
		r.logger.Error("Failed to create history record", zap.String("expense_id", history.ExpenseID), zap.Error(err))
		return fmt.Errorf("failed to create history: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	history.ID = id
	return nil
}

// GetByExpenseID retrieves all history records for an expense in insertion order
func (r *HistoryRepository) GetByExpenseID(ctx context.Context, expenseID string) ([]*entity.ApprovalHistory, error) {
	query := `
		SELECT id, expense_id, actor_id, action, previous_status, new_status, comment, timestamp
		FROM approval_history
		WHERE expense_id = ?
		ORDER BY id ASC
	`

	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, expenseID)
	if err != nil {
		r.logger.Error("Failed to get history by expense ID", zap.String("expense_id", expenseID), zap.Error(err))
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer rows.Close()

	records := make([]*entity.ApprovalHistory, 0)
	for rows.Next() {
		var record entity.ApprovalHistory
		if err := rows.Scan(
			&record.ID,
			&record.ExpenseID,
			&record.ActorID,
			&record.Action,
			&record.PreviousStatus,
			&record.NewStatus,
			&record.Comment,
			&record.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan history record: %w", err)
		}
		records = append(records, &record)
	}

	return records, rows.Err()
}

var _ port.HistoryRepository = (*HistoryRepository)(nil)
