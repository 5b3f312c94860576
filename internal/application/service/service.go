// Package service holds the application use cases of the expense approval
// service. Services orchestrate repositories, the approval domain and the
// event dispatcher; HTTP handlers only translate requests into calls here.
package service

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

var (
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidInput       = errors.New("invalid input")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrNoWorkflow         = errors.New("company has no approval workflow")
	ErrUnknownUser        = errors.New("user does not belong to company")
	ErrReceiptTooLarge    = errors.New("receipt exceeds size limit")
	ErrNoReceipt          = errors.New("expense has no receipt")
)

// Actor identifies the authenticated caller of a use case
type Actor struct {
	UserID    string
	CompanyID string
	Role      entity.Role
}

// IsAdmin reports whether the actor administers their company
func (a Actor) IsAdmin() bool {
	return a.Role == entity.RoleAdmin
}

func newID() string {
	return uuid.NewString()
}

func utcNow() time.Time {
	return time.Now().UTC()
}

// canView applies the read rule shared by Get, History and Receipt: the
// owner, any approver in the chain, and admins of the owner's company.
func canView(actor Actor, expense *entity.Expense) bool {
	switch {
	case expense.EmployeeID == actor.UserID:
		return true
	case expense.InvolvesApprover(actor.UserID):
		return true
	case actor.IsAdmin() && expense.CompanyID == actor.CompanyID:
		return true
	default:
		return false
	}
}
