package service

import (
	"fmt"
	"strings"

	"github.com/mtlprog/reviewflow/internal/domain"
)

const (
	maxContractIDLength = 128
	maxFileRefLength    = 1024
	maxTimeoutSeconds   = 24 * 60 * 60
)

// CreateContractTaskParams describes a new contract review.
type CreateContractTaskParams struct {
	ContractID     string
	FileRef        string
	FileName       string
	ReviewType     domain.ReviewType
	TimeoutSeconds int
	RetryPolicy    *domain.RetryPolicy
	Settings       map[string]string
}

// Validator checks requests before they reach storage.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateCreate checks the parameters of a new contract review.
func (v *Validator) ValidateCreate(actorID string, p CreateContractTaskParams) error {
	if actorID == "" {
		return domain.ErrMissingActor
	}

	if err := validateContract(p.ContractID, p.FileRef, p.ReviewType); err != nil {
		return err
	}

	if p.TimeoutSeconds < 0 || p.TimeoutSeconds > maxTimeoutSeconds {
		return fmt.Errorf("%w: timeout_seconds must be between 0 and %d", domain.ErrInvalidRequest, maxTimeoutSeconds)
	}

	if p.RetryPolicy != nil {
		if err := p.RetryPolicy.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// ValidateAttach checks contract details about to be attached to an existing task.
func (v *Validator) ValidateAttach(d *domain.ContractTaskDetails) error {
	return validateContract(d.ContractID, d.FileRef, d.ReviewType)
}

func validateContract(contractID, fileRef string, reviewType domain.ReviewType) error {
	contractID = strings.TrimSpace(contractID)
	if contractID == "" {
		return fmt.Errorf("%w: contract_id is required", domain.ErrInvalidRequest)
	}
	if len(contractID) > maxContractIDLength {
		return fmt.Errorf("%w: contract_id longer than %d characters", domain.ErrInvalidRequest, maxContractIDLength)
	}

	fileRef = strings.TrimSpace(fileRef)
	if fileRef == "" {
		return fmt.Errorf("%w: file_ref is required", domain.ErrInvalidRequest)
	}
	if len(fileRef) > maxFileRefLength {
		return fmt.Errorf("%w: file_ref longer than %d characters", domain.ErrInvalidRequest, maxFileRefLength)
	}

	if !reviewType.IsValid() {
		return fmt.Errorf("%w: unknown review_type %q", domain.ErrInvalidRequest, reviewType)
	}

	return nil
}

// CanAttach validates that contract details may be attached to task.
// existing are the contract rows already recorded for it.
func (v *Validator) CanAttach(task *domain.Task, existing []*domain.ContractTaskDetails) error {
	if task.Type != domain.TaskTypeContractReview {
		return fmt.Errorf("%w: task %s has type %s, expected %s",
			domain.ErrInvalidTaskType, task.ID, task.Type, domain.TaskTypeContractReview)
	}
	if len(existing) > 0 {
		return fmt.Errorf("%w: task %s already has contract %s",
			domain.ErrDuplicateContractTask, task.ID, existing[0].ContractID)
	}
	return nil
}
