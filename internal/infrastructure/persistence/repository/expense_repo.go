package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/sqlite"
)

// ExpenseRepository implements port.ExpenseRepository. The approval chain is
// kept in order as a JSON array in the approvals column.
type ExpenseRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewExpenseRepository creates a new expense repository
func NewExpenseRepository(db *sql.DB, logger *zap.Logger) port.ExpenseRepository {
	return &ExpenseRepository{db: db, logger: logger}
}

const expenseColumns = `id, employee_id, company_id, amount, currency, category, description,
	expense_date, receipt_url, status, approvals, version, created_at, updated_at`

func (r *ExpenseRepository) Create(ctx context.Context, expense *entity.Expense) error {
	approvals, err := encodeChain(expense.Approvals)
	if err != nil {
		return err
	}
	if expense.Version == 0 {
		expense.Version = 1
	}

	query := `INSERT INTO expenses (` + expenseColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		expense.ID,
		expense.EmployeeID,
		expense.CompanyID,
		expense.Amount,
		expense.Currency,
		expense.Category,
		expense.Description,
		expense.ExpenseDate,
		expense.ReceiptURL,
		expense.Status,
		approvals,
		expense.Version,
		expense.CreatedAt,
		expense.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create expense", zap.String("expense_id", expense.ID), zap.Error(err))
		return fmt.Errorf("failed to create expense: %w", err)
	}
	return nil
}

func (r *ExpenseRepository) GetByID(ctx context.Context, id string) (*entity.Expense, error) {
	query := `SELECT ` + expenseColumns + ` FROM expenses WHERE id = ?`

	expense, err := scanExpense(sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get expense", zap.String("expense_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get expense: %w", err)
	}
	return expense, nil
}

// Update is a compare-and-swap on version
func (r *ExpenseRepository) Update(ctx context.Context, expense *entity.Expense) error {
	approvals, err := encodeChain(expense.Approvals)
	if err != nil {
		return err
	}

	query := `
		UPDATE expenses
		SET status = ?, approvals = ?, receipt_url = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`
	result, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		expense.Status,
		approvals,
		expense.ReceiptURL,
		expense.UpdatedAt,
		expense.ID,
		expense.Version,
	)
	if err != nil {
		r.logger.Error("Failed to update expense", zap.String("expense_id", expense.ID), zap.Error(err))
		return fmt.Errorf("failed to update expense: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		r.logger.Debug("Expense version conflict",
			zap.String("expense_id", expense.ID),
			zap.Int64("expected_version", expense.Version))
		return fmt.Errorf("%w: expense %s at version %d", port.ErrVersionConflict, expense.ID, expense.Version)
	}

	expense.Version++
	return nil
}

func (r *ExpenseRepository) ListByEmployee(ctx context.Context, employeeID string) ([]*entity.Expense, error) {
	query := `SELECT ` + expenseColumns + `
		FROM expenses
		WHERE employee_id = ?
		ORDER BY expense_date DESC, created_at DESC`
	return r.list(ctx, query, employeeID)
}

func (r *ExpenseRepository) ListPendingFor(ctx context.Context, companyID, approverID string) ([]*entity.Expense, error) {
	query := `SELECT ` + expenseColumns + `
		FROM expenses
		WHERE company_id = ?
			AND status = 'PENDING'
			AND EXISTS (
				SELECT 1 FROM json_each(expenses.approvals) AS entry
				WHERE json_extract(entry.value, '$.approver') = ?
					AND json_extract(entry.value, '$.status') = 'PENDING'
			)
		ORDER BY created_at ASC`
	return r.list(ctx, query, companyID, approverID)
}

func (r *ExpenseRepository) ListByCompany(ctx context.Context, companyID string, filter port.ExpenseFilter) ([]*entity.Expense, error) {
	var b strings.Builder
	b.WriteString(`SELECT ` + expenseColumns + ` FROM expenses WHERE company_id = ?`)
	args := []interface{}{companyID}

	if filter.Status != "" {
		b.WriteString(` AND status = ?`)
		args = append(args, filter.Status)
	}
	if filter.EmployeeID != "" {
		b.WriteString(` AND employee_id = ?`)
		args = append(args, filter.EmployeeID)
	}
	b.WriteString(` ORDER BY created_at DESC`)

	return r.list(ctx, b.String(), args...)
}

func (r *ExpenseRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entity.Expense, error) {
	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list expenses", zap.Error(err))
		return nil, fmt.Errorf("failed to list expenses: %w", err)
	}
	defer rows.Close()

	expenses := make([]*entity.Expense, 0)
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}
		expenses = append(expenses, e)
	}
	return expenses, rows.Err()
}

func scanExpense(row rowScanner) (*entity.Expense, error) {
	var e entity.Expense
	var approvals string
	if err := row.Scan(
		&e.ID,
		&e.EmployeeID,
		&e.CompanyID,
		&e.Amount,
		&e.Currency,
		&e.Category,
		&e.Description,
		&e.ExpenseDate,
		&e.ReceiptURL,
		&e.Status,
		&approvals,
		&e.Version,
		&e.CreatedAt,
		&e.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(approvals), &e.Approvals); err != nil {
		return nil, fmt.Errorf("failed to decode approval chain of %s: %w", e.ID, err)
	}
	return &e, nil
}

func encodeChain(chain []entity.ApprovalStep) (string, error) {
	if chain == nil {
		chain = []entity.ApprovalStep{}
	}
	b, err := json.Marshal(chain)
	if err != nil {
		return "", fmt.Errorf("failed to encode approval chain: %w", err)
	}
	return string(b), nil
}

var _ port.ExpenseRepository = (*ExpenseRepository)(nil)
