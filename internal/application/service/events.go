package service

import (
	"context"
	"sync"

	"github.com/garyjia/expense-approval/internal/domain/event"
)

// EventPublisher hands events to subscribers after the producing write committed
type EventPublisher interface {
	DispatchAsync(ctx context.Context, evt *event.Event)
}

// AuditLogHandler writes one structured log line per event
func AuditLogHandler(logger Logger) func(ctx context.Context, evt *event.Event) error {
	return func(ctx context.Context, evt *event.Event) error {
		logger.Info("Audit event",
			"event_id", evt.ID,
			"event_type", evt.Type,
			"company_id", evt.CompanyID,
			"expense_id", evt.ExpenseID,
			"actor_id", evt.ActorID,
			"correlation_id", evt.CorrelationID,
			"payload", evt.Payload,
		)
		return nil
	}
}

// EventStats counts dispatched events per type
type EventStats struct {
	mu     sync.Mutex
	counts map[event.Type]int64
}

// NewEventStats creates an empty counter set
func NewEventStats() *EventStats {
	return &EventStats{counts: make(map[event.Type]int64)}
}

// Handle is a dispatcher handler that records evt
func (s *EventStats) Handle(ctx context.Context, evt *event.Event) error {
	s.mu.Lock()
	s.counts[evt.Type]++
	s.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the counters keyed by event type name
func (s *EventStats) Snapshot() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]int64, len(s.counts))
	for t, n := range s.counts {
		out[t.String()] = n
	}
	return out
}
