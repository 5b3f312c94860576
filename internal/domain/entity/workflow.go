package entity

import (
	"encoding/json"
	"time"
)

// WorkflowStep is one configured approval requirement, pre-submission
type WorkflowStep struct {
	Sequence   int             `json:"sequence"`
	Approver   string          `json:"approver"`
	RuleType   RuleType        `json:"rule_type"`
	RuleConfig json.RawMessage `json:"rule_config,omitempty"`
}

// WorkflowDefinition is a company's approval policy. Only one per company
// is consulted when an expense is submitted.
type WorkflowDefinition struct {
	ID             string         `json:"id"`
	CompanyID      string         `json:"company_id"`
	Name           string         `json:"name"`
	IsManagerFirst bool           `json:"is_manager_first"`
	Steps          []WorkflowStep `json:"steps"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// RuleConfig is the decoded form of WorkflowStep.RuleConfig for threshold rules
type RuleConfig struct {
	// Approvers are additional members of a PERCENTAGE or HYBRID quorum
	Approvers []string `json:"approvers,omitempty"`
	// Percentage of the quorum that must approve, 1..100
	Percentage int `json:"percentage,omitempty"`
	// SpecificApprover short-circuits a HYBRID quorum when they approve
	SpecificApprover string `json:"specific_approver,omitempty"`
}
