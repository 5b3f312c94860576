package approval

import (
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/workflow"
)

// Result is a chain state produced by one accepted decision
type Result struct {
	Chain  []entity.ApprovalStep
	Status entity.ExpenseStatus

	// Decided is the index of the entry that recorded the decision
	Decided int
	// Activated holds indexes of entries that became PENDING
	Activated []int
	// Skipped holds indexes of quorum members whose vote became moot
	Skipped []int
}

// Finalized reports whether the decision moved the expense to a terminal status
func (r *Result) Finalized() bool {
	return r.Status.IsTerminal()
}

// Advance applies approver's decision to the chain. It never modifies chain;
// the new state is returned in Result and the input is untouched on error.
func Advance(
	chain []entity.ApprovalStep,
	status entity.ExpenseStatus,
	approver string,
	decision entity.Decision,
	comment string,
	now time.Time,
) (*Result, error) {
	if !decision.IsValid() {
		return nil, fmt.Errorf("%w: got %q", ErrInvalidDecision, decision)
	}

	comment = strings.TrimSpace(comment)
	if decision == entity.DecisionRejected && comment == "" {
		return nil, ErrMissingComment
	}

	if status != entity.ExpenseStatusPending {
		return nil, fmt.Errorf("%w: status is %s", ErrAlreadyFinalized, status)
	}

	idx := -1
	for i, entry := range chain {
		if entry.Approver == approver && entry.Status == entity.StepStatusPending {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, ErrNoPendingApproval
	}

	next := cloneChain(chain)
	result := &Result{
		Chain:   next,
		Status:  status,
		Decided: idx,
	}

	trigger := workflow.TriggerApprove
	if decision == entity.DecisionRejected {
		trigger = workflow.TriggerReject
	}
	if err := transitionEntry(next, idx, trigger); err != nil {
		return nil, err
	}
	decidedAt := now
	next[idx].Comment = comment
	next[idx].DecisionDate = &decidedAt

	stage := next[idx].Stage
	first, last := stageBounds(next, idx)

	policy, err := PolicyFor(next[idx].RuleType)
	if err != nil {
		return nil, err
	}

	switch policy.Resolve(next[first : last+1]) {
	case OutcomeOpen:
		return result, nil

	case OutcomeRejected:
		if err := skipOpenMembers(next, first, last, result); err != nil {
			return nil, err
		}
		if result.Status, err = transitionExpense(status, workflow.TriggerReject); err != nil {
			return nil, err
		}
		return result, nil

	case OutcomeApproved:
		if err := skipOpenMembers(next, first, last, result); err != nil {
			return nil, err
		}
		if last+1 >= len(next) {
			if result.Status, err = transitionExpense(status, workflow.TriggerApprove); err != nil {
				return nil, err
			}
			return result, nil
		}
		nextStage := next[last+1].Stage
		for i := last + 1; i < len(next) && next[i].Stage == nextStage; i++ {
			if err := transitionEntry(next, i, workflow.TriggerActivate); err != nil {
				return nil, err
			}
			result.Activated = append(result.Activated, i)
		}
		return result, nil
	}

	return nil, fmt.Errorf("stage %d: unresolvable outcome", stage)
}

// Apply advances the expense's chain and commits the result onto the
// aggregate. It is the only place the aggregate's chain and status change
// after submission.
func Apply(expense *entity.Expense, approver string, decision entity.Decision, comment string, now time.Time) (*Result, error) {
	result, err := Advance(expense.Approvals, expense.Status, approver, decision, comment, now)
	if err != nil {
		return nil, err
	}
	expense.Approvals = result.Chain
	expense.Status = result.Status
	expense.UpdatedAt = now
	return result, nil
}

// stageBounds returns the first and last index of the stage containing idx.
// Entries of one stage are contiguous.
func stageBounds(chain []entity.ApprovalStep, idx int) (int, int) {
	stage := chain[idx].Stage
	first, last := idx, idx
	for first > 0 && chain[first-1].Stage == stage {
		first--
	}
	for last < len(chain)-1 && chain[last+1].Stage == stage {
		last++
	}
	return first, last
}

func skipOpenMembers(chain []entity.ApprovalStep, first, last int, result *Result) error {
	for i := first; i <= last; i++ {
		if chain[i].Status != entity.StepStatusPending {
			continue
		}
		if err := transitionEntry(chain, i, workflow.TriggerSkip); err != nil {
			return err
		}
		result.Skipped = append(result.Skipped, i)
	}
	return nil
}

func transitionEntry(chain []entity.ApprovalStep, idx int, trigger workflow.Trigger) error {
	next, err := workflow.NextEntryState(workflow.State(chain[idx].Status), trigger)
	if err != nil {
		return fmt.Errorf("entry %d (%s): %w", idx, chain[idx].Approver, err)
	}
	chain[idx].Status = entity.StepStatus(next)
	return nil
}

func transitionExpense(status entity.ExpenseStatus, trigger workflow.Trigger) (entity.ExpenseStatus, error) {
	next, err := workflow.NextExpenseState(workflow.State(status), trigger)
	if err != nil {
		return status, fmt.Errorf("expense: %w", err)
	}
	return entity.ExpenseStatus(next), nil
}

func cloneChain(chain []entity.ApprovalStep) []entity.ApprovalStep {
	out := make([]entity.ApprovalStep, len(chain))
	copy(out, chain)
	for i := range out {
		if out[i].DecisionDate != nil {
			t := *out[i].DecisionDate
			out[i].DecisionDate = &t
		}
	}
	return out
}
