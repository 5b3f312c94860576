package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// ApprovalStep is one realised entry in an expense's approval chain.
// Only Status, Comment and DecisionDate change after construction.
type ApprovalStep struct {
	Approver     string     `json:"approver"`
	Status       StepStatus `json:"status"`
	Comment      string     `json:"comment,omitempty"`
	DecisionDate *time.Time `json:"decision_date,omitempty"`
	// Stage groups entries that are active at the same time
	Stage    int        `json:"stage"`
	RuleType RuleType   `json:"rule_type,omitempty"`
	Rule     *StageRule `json:"rule,omitempty"`
}

// StageRule is the threshold configuration frozen into a multi-approver stage
type StageRule struct {
	Percentage       int    `json:"percentage"`
	SpecificApprover string `json:"specific_approver,omitempty"`
}

// Expense is the aggregate root owning one approval chain
type Expense struct {
	ID          string          `json:"id"`
	EmployeeID  string          `json:"employee_id"`
	CompanyID   string          `json:"company_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
	ExpenseDate time.Time       `json:"expense_date"`
	ReceiptURL  string          `json:"receipt_url,omitempty"`
	Status      ExpenseStatus   `json:"status"`
	Approvals   []ApprovalStep  `json:"approvals"`
	// Version is compared on every write to serialise concurrent decisions
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InvolvesApprover reports whether approverID appears anywhere in the chain
func (e *Expense) InvolvesApprover(approverID string) bool {
	for _, step := range e.Approvals {
		if step.Approver == approverID {
			return true
		}
	}
	return false
}
