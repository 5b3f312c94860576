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

// UserRepository implements port.UserRepository
type UserRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *sql.DB, logger *zap.Logger) port.UserRepository {
	return &UserRepository{db: db, logger: logger}
}

const userColumns = `id, company_id, manager_id, name, email, password_hash, role, created_at, updated_at`

// Create inserts a user. A taken email yields port.ErrDuplicate.
func (r *UserRepository) Create(ctx context.Context, user *entity.User) error {
	query := `INSERT INTO users (` + userColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		user.ID,
		user.CompanyID,
		nullableString(user.ManagerID),
		user.Name,
		user.Email,
		user.PasswordHash,
		user.Role,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if sqlite.IsUniqueViolation(err) {
		return fmt.Errorf("%w: email %s", port.ErrDuplicate, user.Email)
	}
	if err != nil {
		r.logger.Error("Failed to create user", zap.String("email", user.Email), zap.Error(err))
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*entity.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	return r.getOne(ctx, query, id)
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = ?`
	return r.getOne(ctx, query, email)
}

// Update writes the mutable fields of a user
func (r *UserRepository) Update(ctx context.Context, user *entity.User) error {
	query := `
		UPDATE users
		SET manager_id = ?, name = ?, role = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		nullableString(user.ManagerID),
		user.Name,
		user.Role,
		user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update user", zap.String("user_id", user.ID), zap.Error(err))
		return fmt.Errorf("failed to update user: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("user %s not found", user.ID)
	}
	return nil
}

func (r *UserRepository) ListByCompany(ctx context.Context, companyID string) ([]*entity.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE company_id = ? ORDER BY created_at ASC, email ASC`

	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, companyID)
	if err != nil {
		r.logger.Error("Failed to list users", zap.String("company_id", companyID), zap.Error(err))
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*entity.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *UserRepository) getOne(ctx context.Context, query string, arg interface{}) (*entity.User, error) {
	u, err := scanUser(sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get user", zap.Any("key", arg), zap.Error(err))
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*entity.User, error) {
	var u entity.User
	var managerID sql.NullString
	if err := row.Scan(
		&u.ID,
		&u.CompanyID,
		&managerID,
		&u.Name,
		&u.Email,
		&u.PasswordHash,
		&u.Role,
		&u.CreatedAt,
		&u.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if managerID.Valid && managerID.String != "" {
		id := managerID.String
		u.ManagerID = &id
	}
	return &u, nil
}

func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

var _ port.UserRepository = (*UserRepository)(nil)
