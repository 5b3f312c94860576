package approval

import (
	"encoding/json"
	"fmt"

	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// Outcome is the resolution of one stage of a chain
type Outcome int

const (
	// OutcomeOpen means the stage still waits for decisions
	OutcomeOpen Outcome = iota
	OutcomeApproved
	OutcomeRejected
)

// Policy realises workflow steps of one rule type and resolves their stages
type Policy interface {
	// Expand returns the approvers of the stage realised for step, in order,
	// plus the rule frozen into each entry (nil for single-approver stages).
	Expand(step entity.WorkflowStep) ([]string, *entity.StageRule, error)

	// Resolve decides the stage from the current statuses of its entries
	Resolve(stage []entity.ApprovalStep) Outcome
}

var policies = map[entity.RuleType]Policy{
	entity.RuleTypeNone:       singlePolicy{},
	entity.RuleTypeSpecific:   singlePolicy{},
	entity.RuleTypePercentage: quorumPolicy{},
	entity.RuleTypeHybrid:     quorumPolicy{hybrid: true},
}

// PolicyFor returns the policy registered for a rule type. An empty rule
// type is treated as NONE.
func PolicyFor(ruleType entity.RuleType) (Policy, error) {
	if ruleType == "" {
		ruleType = entity.RuleTypeNone
	}
	p, ok := policies[ruleType]
	if !ok {
		return nil, fmt.Errorf("%w: unknown rule type %q", ErrInvalidRuleConfig, ruleType)
	}
	return p, nil
}

// singlePolicy backs NONE and SPECIFIC: the step's approver alone decides
type singlePolicy struct{}

func (singlePolicy) Expand(step entity.WorkflowStep) ([]string, *entity.StageRule, error) {
	return []string{step.Approver}, nil, nil
}

func (singlePolicy) Resolve(stage []entity.ApprovalStep) Outcome {
	approved := 0
	for _, entry := range stage {
		switch entry.Status {
		case entity.StepStatusRejected:
			return OutcomeRejected
		case entity.StepStatusApproved:
			approved++
		}
	}
	if approved == len(stage) {
		return OutcomeApproved
	}
	return OutcomeOpen
}

// quorumPolicy backs PERCENTAGE and HYBRID. All members are PENDING at once;
// the stage approves when enough of them approve (or, for HYBRID, when the
// specific approver does) and rejects as soon as that can no longer happen.
type quorumPolicy struct {
	hybrid bool
}

func (p quorumPolicy) Expand(step entity.WorkflowStep) ([]string, *entity.StageRule, error) {
	var cfg entity.RuleConfig
	if len(step.RuleConfig) > 0 && string(step.RuleConfig) != "null" {
		if err := json.Unmarshal(step.RuleConfig, &cfg); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrInvalidRuleConfig, err)
		}
	}

	// Unconfigured threshold means unanimous
	if cfg.Percentage == 0 {
		cfg.Percentage = 100
	}
	if cfg.Percentage < 1 || cfg.Percentage > 100 {
		return nil, nil, fmt.Errorf("%w: percentage %d out of range 1..100", ErrInvalidRuleConfig, cfg.Percentage)
	}

	members := dedupe(append([]string{step.Approver}, cfg.Approvers...))
	rule := &entity.StageRule{Percentage: cfg.Percentage}

	if p.hybrid {
		if cfg.SpecificApprover == "" {
			return nil, nil, fmt.Errorf("%w: hybrid rule needs specific_approver", ErrInvalidRuleConfig)
		}
		members = dedupe(append(members, cfg.SpecificApprover))
		rule.SpecificApprover = cfg.SpecificApprover
	}

	for _, m := range members {
		if m == "" {
			return nil, nil, fmt.Errorf("%w: empty approver in quorum", ErrInvalidRuleConfig)
		}
	}
	return members, rule, nil
}

func (p quorumPolicy) Resolve(stage []entity.ApprovalStep) Outcome {
	if len(stage) == 0 {
		return OutcomeOpen
	}

	percentage := 100
	specific := ""
	if rule := stage[0].Rule; rule != nil {
		percentage = rule.Percentage
		specific = rule.SpecificApprover
	}

	total := len(stage)
	required := (percentage*total + 99) / 100
	if required < 1 {
		required = 1
	}

	approved, rejected := 0, 0
	specificOpen := false
	for _, entry := range stage {
		switch entry.Status {
		case entity.StepStatusApproved:
			approved++
			if p.hybrid && entry.Approver == specific {
				return OutcomeApproved
			}
		case entity.StepStatusRejected:
			rejected++
		case entity.StepStatusPending:
			if p.hybrid && entry.Approver == specific {
				specificOpen = true
			}
		}
	}

	if approved >= required {
		return OutcomeApproved
	}
	if total-rejected < required && !specificOpen {
		return OutcomeRejected
	}
	return OutcomeOpen
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
