package domain

import "errors"

// Domain-specific errors for the review pipeline.
var (
	// Task errors
	ErrTaskNotFound      = errors.New("task not found")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrRetryExhausted    = errors.New("retry exhausted")
	ErrVersionConflict   = errors.New("task version conflict")

	// Contract task errors
	ErrContractTaskNotFound  = errors.New("contract task not found")
	ErrDuplicateContractTask = errors.New("task already has contract details")

	// Stage result errors
	ErrStageResultNotFound = errors.New("stage result not found")

	// Validation errors
	ErrInvalidRetryPolicy = errors.New("invalid retry policy")
	ErrInvalidTaskType    = errors.New("invalid task type")
	ErrMissingActor       = errors.New("actor id is required")
	ErrInvalidRequest     = errors.New("invalid request")
)
