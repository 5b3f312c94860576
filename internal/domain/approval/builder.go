// Package approval builds and advances the approval chain of an expense.
//
// Both Build and Advance are pure: they read only their arguments and never
// touch storage. Callers persist the result and serialise concurrent
// decisions on the same expense.
package approval

import (
	"fmt"
	"sort"

	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// Build realises the approval chain for an expense submitted by employee.
//
// When the workflow asks for it and the employee has a manager, the manager
// forms the first stage. Workflow steps follow in ascending sequence order;
// steps sharing a sequence keep their configured order. The first stage is
// PENDING, every later entry QUEUED.
func Build(employee *entity.User, wf *entity.WorkflowDefinition) ([]entity.ApprovalStep, error) {
	if wf == nil {
		return nil, ErrEmptyWorkflow
	}

	chain := make([]entity.ApprovalStep, 0, len(wf.Steps)+1)
	stage := 0
	firstAssigned := false

	if wf.IsManagerFirst && employee != nil && employee.HasManager() {
		chain = append(chain, entity.ApprovalStep{
			Approver: *employee.ManagerID,
			Status:   entity.StepStatusPending,
			Stage:    stage,
			RuleType: entity.RuleTypeNone,
		})
		stage++
		firstAssigned = true
	}

	steps := make([]entity.WorkflowStep, len(wf.Steps))
	copy(steps, wf.Steps)
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].Sequence < steps[j].Sequence
	})

	for _, step := range steps {
		if step.Approver == "" {
			return nil, fmt.Errorf("%w: sequence %d has no approver", ErrInvalidStep, step.Sequence)
		}

		ruleType := step.RuleType
		if ruleType == "" {
			ruleType = entity.RuleTypeNone
		}
		policy, err := PolicyFor(ruleType)
		if err != nil {
			return nil, fmt.Errorf("sequence %d: %w", step.Sequence, err)
		}

		approvers, rule, err := policy.Expand(step)
		if err != nil {
			return nil, fmt.Errorf("sequence %d: %w", step.Sequence, err)
		}

		status := entity.StepStatusQueued
		if !firstAssigned {
			status = entity.StepStatusPending
		}

		for _, approver := range approvers {
			chain = append(chain, entity.ApprovalStep{
				Approver: approver,
				Status:   status,
				Stage:    stage,
				RuleType: ruleType,
				Rule:     rule,
			})
		}
		stage++
		firstAssigned = true
	}

	if len(chain) == 0 {
		return nil, ErrEmptyWorkflow
	}
	return chain, nil
}
