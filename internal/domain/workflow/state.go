package workflow

// State is a status in an approval entry or expense lifecycle
type State string

const (
	StateQueued   State = "QUEUED"
	StatePending  State = "PENDING"
	StateApproved State = "APPROVED"
	StateRejected State = "REJECTED"
	StateSkipped  State = "SKIPPED"
)

// IsTerminal returns true if no transition may leave the state
func (s State) IsTerminal() bool {
	switch s {
	case StateApproved, StateRejected, StateSkipped:
		return true
	default:
		return false
	}
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is known. Kept free of package-level
// maps because lifecycle.go configures its machines during package init.
func (s State) IsValid() bool {
	switch s {
	case StateQueued, StatePending, StateApproved, StateRejected, StateSkipped:
		return true
	default:
		return false
	}
}
