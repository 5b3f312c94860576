package entity

import "time"

// ApprovalHistory is one row of an expense's audit trail
type ApprovalHistory struct {
	ID             int64     `json:"id"`
	ExpenseID      string    `json:"expense_id"`
	ActorID        string    `json:"actor_id"`
	Action         string    `json:"action"`
	PreviousStatus string    `json:"previous_status"`
	NewStatus      string    `json:"new_status"`
	Comment        string    `json:"comment,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}
