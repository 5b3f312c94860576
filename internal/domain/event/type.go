package event

// Type identifies the type of domain event
type Type string

const (
	TypeExpenseSubmitted Type = "expense.submitted"
	TypeStepDecided      Type = "expense.step_decided"
	TypeExpenseApproved  Type = "expense.approved"
	TypeExpenseRejected  Type = "expense.rejected"
	TypeWorkflowChanged  Type = "workflow.changed"
)

func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeExpenseSubmitted,
		TypeStepDecided,
		TypeExpenseApproved,
		TypeExpenseRejected,
		TypeWorkflowChanged:
		return true
	default:
		return false
	}
}

// IsFinal reports whether the event marks the end of an expense's chain
func (t Type) IsFinal() bool {
	return t == TypeExpenseApproved || t == TypeExpenseRejected
}
