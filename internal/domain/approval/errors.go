package approval

import "errors"

var (
	// ErrEmptyWorkflow is returned when no approver could be derived for an expense
	ErrEmptyWorkflow = errors.New("approval workflow is empty")

	// ErrInvalidStep is returned for a workflow step without an approver
	ErrInvalidStep = errors.New("invalid workflow step")

	// ErrInvalidRuleConfig is returned when a step's rule type or config cannot be realised
	ErrInvalidRuleConfig = errors.New("invalid rule config")

	// ErrInvalidDecision is returned for a decision other than APPROVED or REJECTED
	ErrInvalidDecision = errors.New("decision must be APPROVED or REJECTED")

	// ErrMissingComment is returned when a rejection carries no comment
	ErrMissingComment = errors.New("comment is required for rejection")

	// ErrNoPendingApproval is returned when the approver has nothing to decide on the chain
	ErrNoPendingApproval = errors.New("no pending approval for this approver")

	// ErrAlreadyFinalized is returned when the expense is already APPROVED or REJECTED
	ErrAlreadyFinalized = errors.New("expense is already finalized")
)
