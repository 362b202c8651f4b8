package domain

import "time"

// ReviewType selects the review checklist applied to a contract.
type ReviewType string

const (
	ReviewTypeStandard   ReviewType = "STANDARD"
	ReviewTypeCompliance ReviewType = "COMPLIANCE"
	ReviewTypeRisk       ReviewType = "RISK"
)

// IsValid checks if the review type is one of the allowed values.
func (r ReviewType) IsValid() bool {
	switch r {
	case ReviewTypeStandard, ReviewTypeCompliance, ReviewTypeRisk:
		return true
	default:
		return false
	}
}

// ContractTaskDetails holds the contract-specific attributes of a task.
// A task has at most one of these; the store does not enforce it.
type ContractTaskDetails struct {
	TaskID     string
	ContractID string
	FileRef    string
	FileName   string
	ReviewType ReviewType
	CreatedAt  time.Time
}
