package workflow

import "fmt"

// entryLifecycle governs a single chain entry:
// QUEUED -> PENDING -> {APPROVED, REJECTED, SKIPPED}
var entryLifecycle = func() StateMachineBuilder {
	b := NewBuilder()
	b.Configure(StateQueued).
		Permit(TriggerActivate, StatePending)
	b.Configure(StatePending).
		Permit(TriggerApprove, StateApproved).
		Permit(TriggerReject, StateRejected).
		Permit(TriggerSkip, StateSkipped)
	return b
}()

// expenseLifecycle governs the overall expense: PENDING -> {APPROVED, REJECTED}
var expenseLifecycle = func() StateMachineBuilder {
	b := NewBuilder()
	b.Configure(StatePending).
		Permit(TriggerApprove, StateApproved).
		Permit(TriggerReject, StateRejected)
	return b
}()

// NextEntryState returns the entry state reached by firing trigger from current
func NextEntryState(current State, trigger Trigger) (State, error) {
	return fire(entryLifecycle, current, trigger)
}

// NextExpenseState returns the expense state reached by firing trigger from current
func NextExpenseState(current State, trigger Trigger) (State, error) {
	return fire(expenseLifecycle, current, trigger)
}

func fire(b StateMachineBuilder, current State, trigger Trigger) (State, error) {
	m, err := b.Build(current)
	if err != nil {
		return current, err
	}
	if !m.CanFire(trigger) {
		return current, fmt.Errorf("%w: %s does not permit %s", ErrInvalidTransition, current, trigger)
	}
	if err := m.Fire(trigger); err != nil {
		return current, err
	}
	return m.State(), nil
}
