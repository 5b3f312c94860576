package port

import (
	"context"
	"errors"

	"github.com/garyjia/expense-approval/internal/domain/entity"
)

var (
	// ErrVersionConflict is returned by ExpenseRepository.Update when the
	// stored version no longer matches the aggregate being written
	ErrVersionConflict = errors.New("expense version conflict")

	// ErrDuplicate is returned when a unique constraint rejects a write
	ErrDuplicate = errors.New("duplicate record")
)

// CompanyRepository defines persistence operations for Company
type CompanyRepository interface {
	Create(ctx context.Context, company *entity.Company) error
	GetByID(ctx context.Context, id string) (*entity.Company, error)
}

// UserRepository defines persistence operations for User.
// Lookups return (nil, nil) when no row matches.
type UserRepository interface {
	Create(ctx context.Context, user *entity.User) error
	GetByID(ctx context.Context, id string) (*entity.User, error)
	GetByEmail(ctx context.Context, email string) (*entity.User, error)
	Update(ctx context.Context, user *entity.User) error
	ListByCompany(ctx context.Context, companyID string) ([]*entity.User, error)
}

// WorkflowRepository defines persistence operations for WorkflowDefinition
type WorkflowRepository interface {
	// Save stores wf as the company's only workflow, replacing any previous one
	Save(ctx context.Context, wf *entity.WorkflowDefinition) error
	GetByCompany(ctx context.Context, companyID string) (*entity.WorkflowDefinition, error)
}

// ExpenseFilter narrows company-wide expense listings
type ExpenseFilter struct {
	Status     entity.ExpenseStatus
	EmployeeID string
}

// ExpenseRepository defines persistence operations for the Expense aggregate
type ExpenseRepository interface {
	// Create stores a new expense at version 1
	Create(ctx context.Context, expense *entity.Expense) error

	GetByID(ctx context.Context, id string) (*entity.Expense, error)

	// Update writes status and chain if the stored version still equals
	// expense.Version, then increments expense.Version. Otherwise it
	// returns ErrVersionConflict and writes nothing.
	Update(ctx context.Context, expense *entity.Expense) error

	// ListByEmployee returns an employee's expenses, newest expense date first
	ListByEmployee(ctx context.Context, employeeID string) ([]*entity.Expense, error)

	// ListPendingFor returns expenses of a company on which approverID has a
	// PENDING chain entry, oldest submission first
	ListPendingFor(ctx context.Context, companyID, approverID string) ([]*entity.Expense, error)

	// ListByCompany returns a company's expenses, newest submission first
	ListByCompany(ctx context.Context, companyID string, filter ExpenseFilter) ([]*entity.Expense, error)
}

// HistoryRepository defines persistence operations for ApprovalHistory
type HistoryRepository interface {
	Create(ctx context.Context, history *entity.ApprovalHistory) error
	GetByExpenseID(ctx context.Context, expenseID string) ([]*entity.ApprovalHistory, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
