package event

import (
	"time"

	"github.com/google/uuid"
)

// Event represents a domain event raised by the approval workflow
type Event struct {
	ID            string                 `json:"id"`
	Type          Type                   `json:"type"`
	CompanyID     string                 `json:"company_id"`
	ExpenseID     string                 `json:"expense_id,omitempty"`
	ActorID       string                 `json:"actor_id"`
	Payload       map[string]interface{} `json:"payload"`
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlation_id"`
}

// NewEvent creates a new domain event with a fresh ID and timestamp.
// The event starts its own correlation chain.
func NewEvent(eventType Type, companyID, expenseID, actorID string, payload map[string]interface{}) *Event {
	id := uuid.NewString()
	return &Event{
		ID:            id,
		Type:          eventType,
		CompanyID:     companyID,
		ExpenseID:     expenseID,
		ActorID:       actorID,
		Payload:       payload,
		Timestamp:     time.Now().UTC(),
		CorrelationID: id,
	}
}

// Follow creates an event in the same correlation chain as e, e.g. the
// expense.approved raised by the decision that produced e.
func (e *Event) Follow(eventType Type, payload map[string]interface{}) *Event {
	next := NewEvent(eventType, e.CompanyID, e.ExpenseID, e.ActorID, payload)
	next.CorrelationID = e.CorrelationID
	return next
}

// WithPayload returns a copy of e with key set in its payload
func (e *Event) WithPayload(key string, value interface{}) *Event {
	payload := make(map[string]interface{}, len(e.Payload)+1)
	for k, v := range e.Payload {
		payload[k] = v
	}
	payload[key] = value

	cp := *e
	cp.Payload = payload
	return &cp
}

// GetPayloadString retrieves a string value from the payload
func (e *Event) GetPayloadString(key string) string {
	if val, ok := e.Payload[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// GetPayloadInt retrieves an int64 value from the payload
func (e *Event) GetPayloadInt(key string) int64 {
	if val, ok := e.Payload[key]; ok {
		switch v := val.(type) {
		case int64:
			return v
		case int:
			return int64(v)
		case float64:
			return int64(v)
		}
	}
	return 0
}
