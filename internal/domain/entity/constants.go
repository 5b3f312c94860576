package entity

// ExpenseStatus is the overall status of an expense
type ExpenseStatus string

const (
	ExpenseStatusPending  ExpenseStatus = "PENDING"
	ExpenseStatusApproved ExpenseStatus = "APPROVED"
	ExpenseStatusRejected ExpenseStatus = "REJECTED"
)

// IsTerminal returns true once no further decisions are accepted
func (s ExpenseStatus) IsTerminal() bool {
	return s == ExpenseStatusApproved || s == ExpenseStatusRejected
}

// StepStatus is the status of one entry in an approval chain
type StepStatus string

const (
	StepStatusQueued   StepStatus = "QUEUED"
	StepStatusPending  StepStatus = "PENDING"
	StepStatusApproved StepStatus = "APPROVED"
	StepStatusRejected StepStatus = "REJECTED"
	// StepStatusSkipped marks a quorum member whose vote was no longer needed
	StepStatusSkipped StepStatus = "SKIPPED"
)

// Decision is an approver's verdict on the pending entry
type Decision string

const (
	DecisionApproved Decision = "APPROVED"
	DecisionRejected Decision = "REJECTED"
)

// IsValid returns true for APPROVED and REJECTED
func (d Decision) IsValid() bool {
	return d == DecisionApproved || d == DecisionRejected
}

// RuleType selects the policy used to resolve a workflow step
type RuleType string

const (
	RuleTypeNone       RuleType = "NONE"
	RuleTypePercentage RuleType = "PERCENTAGE"
	RuleTypeSpecific   RuleType = "SPECIFIC"
	RuleTypeHybrid     RuleType = "HYBRID"
)

// IsValid returns true if the rule type is known
func (r RuleType) IsValid() bool {
	switch r {
	case RuleTypeNone, RuleTypePercentage, RuleTypeSpecific, RuleTypeHybrid:
		return true
	default:
		return false
	}
}

// Role is a user's role within their company
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleManager  Role = "MANAGER"
	RoleEmployee Role = "EMPLOYEE"
)

// IsValid returns true if the role is known
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleEmployee:
		return true
	default:
		return false
	}
}

// CanApprove returns true if the role may hold approval chain entries
func (r Role) CanApprove() bool {
	return r == RoleAdmin || r == RoleManager
}

// History action constants
const (
	ActionSubmitted = "SUBMITTED"
	ActionApproved  = "APPROVED"
	ActionRejected  = "REJECTED"
)

// DefaultCurrency is used when a company signs up without one
const DefaultCurrency = "USD"
