package port

import (
	"context"
	"io"

	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// PasswordHasher hashes and verifies user passwords
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

// TokenIssuer issues signed session tokens for authenticated users
type TokenIssuer interface {
	Issue(user *entity.User) (string, error)
}

// ExpenseExporter writes a spreadsheet of expenses
type ExpenseExporter interface {
	Export(ctx context.Context, w io.Writer, expenses []*entity.Expense, users map[string]*entity.User) error
}
