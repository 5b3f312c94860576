package workflow

// Trigger is an event that moves an entry or expense between states
type Trigger string

const (
	TriggerActivate Trigger = "ACTIVATE"
	TriggerApprove  Trigger = "APPROVE"
	TriggerReject   Trigger = "REJECT"
	TriggerSkip     Trigger = "SKIP"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
