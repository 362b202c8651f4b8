package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mtlprog/reviewflow/internal/domain"
)

// ContractTaskService creates contract reviews and enforces that a task has at
// most one set of contract details. Storage does not enforce it.
type ContractTaskService struct {
	tasks     TaskRepository
	contracts ContractRepository
	validator *Validator
	policy    domain.RetryPolicy
	now       func() time.Time
}

// NewContractTaskService creates a new ContractTaskService.
func NewContractTaskService(tasks TaskRepository, contracts ContractRepository) *ContractTaskService {
	return &ContractTaskService{
		tasks:     tasks,
		contracts: contracts,
		validator: NewValidator(),
		policy:    domain.DefaultRetryPolicy(),
		now:       time.Now,
	}
}

// WithRetryPolicy sets the policy whose retry limit applies to tasks created
// without their own.
func (s *ContractTaskService) WithRetryPolicy(policy domain.RetryPolicy) *ContractTaskService {
	s.policy = policy
	return s
}

// Create registers a CONTRACT_REVIEW task together with its contract details.
func (s *ContractTaskService) Create(
	ctx context.Context,
	actorID string,
	params CreateContractTaskParams,
) (*domain.Task, *domain.ContractTaskDetails, error) {
	if err := s.validator.ValidateCreate(actorID, params); err != nil {
		return nil, nil, err
	}

	now := s.now().UTC()
	task, err := domain.NewTask(domain.TaskTypeContractReview, actorID, domain.TaskConfiguration{
		RetryPolicy: params.RetryPolicy,
		Settings:    params.Settings,
	}, now)
	if err != nil {
		return nil, nil, err
	}
	if params.RetryPolicy == nil {
		task.MaxRetries = s.policy.MaxRetries
	}
	if params.TimeoutSeconds > 0 {
		task.TimeoutSeconds = params.TimeoutSeconds
	}

	details := &domain.ContractTaskDetails{
		TaskID:     task.ID,
		ContractID: strings.TrimSpace(params.ContractID),
		FileRef:    strings.TrimSpace(params.FileRef),
		FileName:   params.FileName,
		ReviewType: params.ReviewType,
		CreatedAt:  now,
	}

	if err := s.contracts.CreateTaskWithContract(ctx, task, details); err != nil {
		return nil, nil, fmt.Errorf("create contract task: %w", err)
	}

	slog.Info("contract task created",
		"task_id", task.ID,
		"contract_id", details.ContractID,
		"review_type", details.ReviewType,
		"actor_id", actorID,
	)

	return task, details, nil
}

// Attach adds contract details to an existing CONTRACT_REVIEW task.
// Returns ErrDuplicateContractTask if the task already has details.
// The check and the insert are not atomic; concurrent Attach calls on one task
// are caught by ContractDetails later.
func (s *ContractTaskService) Attach(ctx context.Context, details *domain.ContractTaskDetails) error {
	if err := s.validator.ValidateAttach(details); err != nil {
		return err
	}
	details.ContractID = strings.TrimSpace(details.ContractID)
	details.FileRef = strings.TrimSpace(details.FileRef)

	task, err := s.tasks.FindByID(ctx, details.TaskID)
	if err != nil {
		return err
	}

	existing, err := s.contracts.FindContractDetails(ctx, task.ID)
	if err != nil {
		return fmt.Errorf("find contract details: %w", err)
	}
	if err := s.validator.CanAttach(task, existing); err != nil {
		return err
	}

	if details.CreatedAt.IsZero() {
		details.CreatedAt = s.now().UTC()
	}
	if err := s.contracts.InsertContractDetails(ctx, details); err != nil {
		return fmt.Errorf("attach contract details: %w", err)
	}

	slog.Info("contract attached",
		"task_id", task.ID,
		"contract_id", details.ContractID,
		"review_type", details.ReviewType,
	)
	return nil
}

// ContractDetails returns the single contract attached to a task.
// Returns ErrContractTaskNotFound when there is none and ErrDuplicateContractTask
// when storage holds more than one.
func (s *ContractTaskService) ContractDetails(ctx context.Context, taskID string) (*domain.ContractTaskDetails, error) {
	details, err := s.contracts.FindContractDetails(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("find contract details: %w", err)
	}

	switch len(details) {
	case 0:
		return nil, fmt.Errorf("%w: task %s", domain.ErrContractTaskNotFound, taskID)
	case 1:
		return details[0], nil
	default:
		return nil, fmt.Errorf("%w: task %s has %d contract records", domain.ErrDuplicateContractTask, taskID, len(details))
	}
}
