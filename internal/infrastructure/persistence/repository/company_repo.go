package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/sqlite"
)

// CompanyRepository implements port.CompanyRepository
type CompanyRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewCompanyRepository creates a new company repository
func NewCompanyRepository(db *sql.DB, logger *zap.Logger) port.CompanyRepository {
	return &CompanyRepository{db: db, logger: logger}
}

func (r *CompanyRepository) Create(ctx context.Context, company *entity.Company) error {
	query := `
		INSERT INTO companies (id, name, default_currency, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		company.ID,
		company.Name,
		company.DefaultCurrency,
		company.CreatedAt,
		company.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create company", zap.String("company_id", company.ID), zap.Error(err))
		return fmt.Errorf("failed to create company: %w", err)
	}
	return nil
}

func (r *CompanyRepository) GetByID(ctx context.Context, id string) (*entity.Company, error) {
	query := `
		SELECT id, name, default_currency, created_at, updated_at
		FROM companies
		WHERE id = ?
	`
	var c entity.Company
	err := sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, id).Scan(
		&c.ID,
		&c.Name,
		&c.DefaultCurrency,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get company", zap.String("company_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get company: %w", err)
	}
	return &c, nil
}

var _ port.CompanyRepository = (*CompanyRepository)(nil)
