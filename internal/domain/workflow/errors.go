package workflow

import "errors"

var (
	// ErrInvalidTransition is returned when a chain entry or expense cannot move
	// from its current status with the given trigger
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidState is returned for a status the machines do not know
	ErrInvalidState = errors.New("unknown status")

	// ErrGuardFailed is returned when a transition's guard refuses it
	ErrGuardFailed = errors.New("transition guard refused")
)
