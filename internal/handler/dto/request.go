package dto

import (
	"time"

	"github.com/mtlprog/reviewflow/internal/domain"
	"github.com/mtlprog/reviewflow/internal/service"
)

// CreateContractTaskRequest represents the request body for POST /contract-tasks.
type CreateContractTaskRequest struct {
	ContractID     string             `json:"contract_id"`
	FileRef        string             `json:"file_ref"`
	FileName       string             `json:"file_name"`
	ReviewType     string             `json:"review_type"`
	TimeoutSeconds int                `json:"timeout_seconds,omitempty"`
	RetryPolicy    *RetryPolicyParams `json:"retry_policy,omitempty"`
	Settings       map[string]string  `json:"settings,omitempty"`
}

// RetryPolicyParams is a retry policy with delays in milliseconds.
type RetryPolicyParams struct {
	MaxRetries         int     `json:"max_retries"`
	InitialDelayMs     int64   `json:"initial_delay_ms"`
	MaxDelayMs         int64   `json:"max_delay_ms"`
	BackoffMultiplier  float64 `json:"backoff_multiplier"`
	ExponentialBackoff bool    `json:"exponential_backoff"`
}

// ToParams converts the request into service parameters.
func (r CreateContractTaskRequest) ToParams() service.CreateContractTaskParams {
	params := service.CreateContractTaskParams{
		ContractID:     r.ContractID,
		FileRef:        r.FileRef,
		FileName:       r.FileName,
		ReviewType:     domain.ReviewType(r.ReviewType),
		TimeoutSeconds: r.TimeoutSeconds,
		Settings:       r.Settings,
	}
	if params.ReviewType == "" {
		params.ReviewType = domain.ReviewTypeStandard
	}
	if r.RetryPolicy != nil {
		params.RetryPolicy = &domain.RetryPolicy{
			MaxRetries:         r.RetryPolicy.MaxRetries,
			InitialDelay:       time.Duration(r.RetryPolicy.InitialDelayMs) * time.Millisecond,
			MaxDelay:           time.Duration(r.RetryPolicy.MaxDelayMs) * time.Millisecond,
			BackoffMultiplier:  r.RetryPolicy.BackoffMultiplier,
			ExponentialBackoff: r.RetryPolicy.ExponentialBackoff,
		}
	}
	return params
}

// AttachContractRequest represents the request body for POST /tasks/:id/contract.
type AttachContractRequest struct {
	ContractID string `json:"contract_id"`
	FileRef    string `json:"file_ref"`
	FileName   string `json:"file_name"`
	ReviewType string `json:"review_type"`
}

// ToDetails converts the request into contract details for taskID.
func (r AttachContractRequest) ToDetails(taskID string) *domain.ContractTaskDetails {
	reviewType := domain.ReviewType(r.ReviewType)
	if reviewType == "" {
		reviewType = domain.ReviewTypeStandard
	}
	return &domain.ContractTaskDetails{
		TaskID:     taskID,
		ContractID: r.ContractID,
		FileRef:    r.FileRef,
		FileName:   r.FileName,
		ReviewType: reviewType,
	}
}

// CancelTaskRequest represents the request body for POST /tasks/:id/cancel.
type CancelTaskRequest struct {
	Reason string `json:"reason"`
}
