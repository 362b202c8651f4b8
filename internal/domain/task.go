package domain

import (
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the status of a task's current unit of work.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "PENDING"
	TaskStatusRunning   TaskStatus = "RUNNING"
	TaskStatusCompleted TaskStatus = "COMPLETED"
	TaskStatusFailed    TaskStatus = "FAILED"
	TaskStatusCancelled TaskStatus = "CANCELLED"
)

// transitions lists the allowed status moves. FAILED -> PENDING is only reachable through Retry.
var transitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending: {TaskStatusRunning, TaskStatusCancelled},
	TaskStatusRunning: {TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled},
	TaskStatusFailed:  {TaskStatusPending},
}

// IsTerminal returns true if no transition leaves the status.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusCancelled
}

// IsValid checks if the status is one of the allowed values.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusCompleted,
		TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to TaskStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TransitionError describes a rejected status move.
type TransitionError struct {
	TaskID string
	From   TaskStatus
	To     TaskStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: task %s cannot transition %s -> %s", ErrInvalidTransition, e.TaskID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// TaskType selects the stage a new task starts at.
type TaskType string

const (
	TaskTypeContractReview TaskType = "CONTRACT_REVIEW"
	TaskTypeGeneric        TaskType = "GENERIC"
)

// IsValid checks if the task type is known.
func (t TaskType) IsValid() bool {
	return t == TaskTypeContractReview || t == TaskTypeGeneric
}

// InitialStage returns the stage a freshly created task of this type sits at.
func (t TaskType) InitialStage() Stage {
	if t == TaskTypeContractReview {
		return StageClauseExtraction
	}
	return StagePending
}

const (
	// DefaultTimeoutSeconds bounds a single stage execution.
	DefaultTimeoutSeconds = 3600

	// MaxRetryExceededMessage is recorded when a task fails permanently.
	MaxRetryExceededMessage = "max retry count exceeded"
)

// TaskConfiguration carries per-task overrides.
type TaskConfiguration struct {
	RetryPolicy *RetryPolicy      `json:"retry_policy,omitempty"`
	Settings    map[string]string `json:"settings,omitempty"`
}

// Task is a multi-stage review job.
type Task struct {
	ID             string
	Type           TaskType
	Status         TaskStatus
	CurrentStage   Stage
	RetryCount     int
	MaxRetries     int
	TimeoutSeconds int
	ErrorMessage   string
	StartedAt      *time.Time
	CompletedAt    *time.Time
	NextRetryAt    *time.Time
	Configuration  TaskConfiguration
	CreatedBy      string
	CreatedAt      time.Time
	UpdatedBy      string
	UpdatedAt      time.Time
	Version        int64
}

// NewTask creates a PENDING task at the initial stage of its type.
func NewTask(taskType TaskType, actorID string, cfg TaskConfiguration, at time.Time) (*Task, error) {
	if !taskType.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTaskType, taskType)
	}
	if actorID == "" {
		return nil, ErrMissingActor
	}

	maxRetries := DefaultMaxRetries
	if cfg.RetryPolicy != nil {
		if err := cfg.RetryPolicy.Validate(); err != nil {
			return nil, err
		}
		maxRetries = cfg.RetryPolicy.MaxRetries
	}

	return &Task{
		ID:             uuid.NewString(),
		Type:           taskType,
		Status:         TaskStatusPending,
		CurrentStage:   taskType.InitialStage(),
		MaxRetries:     maxRetries,
		TimeoutSeconds: DefaultTimeoutSeconds,
		Configuration:  cfg,
		CreatedBy:      actorID,
		CreatedAt:      at,
		UpdatedBy:      actorID,
		UpdatedAt:      at,
	}, nil
}

// transition validates and applies a status move. Nothing is mutated on error.
func (t *Task) transition(to TaskStatus, actorID string, at time.Time) error {
	if actorID == "" {
		return ErrMissingActor
	}
	if !CanTransition(t.Status, to) {
		return &TransitionError{TaskID: t.ID, From: t.Status, To: to}
	}
	t.Status = to
	t.UpdatedBy = actorID
	t.UpdatedAt = at
	return nil
}

// Start moves a PENDING task to RUNNING.
func (t *Task) Start(actorID string, at time.Time) error {
	if err := t.transition(TaskStatusRunning, actorID, at); err != nil {
		return err
	}
	t.StartedAt = &at
	t.CompletedAt = nil
	return nil
}

// Complete finishes the current stage's unit of work and advances to the next stage.
func (t *Task) Complete(actorID string, at time.Time) error {
	if err := t.transition(TaskStatusCompleted, actorID, at); err != nil {
		return err
	}
	t.CompletedAt = &at
	t.CurrentStage = t.CurrentStage.Next()
	t.ErrorMessage = ""
	t.NextRetryAt = nil
	return nil
}

// Fail records a failed execution. The stage is left where the failure happened.
func (t *Task) Fail(actorID, reason string, at time.Time) error {
	if err := t.transition(TaskStatusFailed, actorID, at); err != nil {
		return err
	}
	t.CompletedAt = &at
	t.ErrorMessage = reason
	return nil
}

// Cancel stops a PENDING or RUNNING task for good.
func (t *Task) Cancel(actorID, reason string, at time.Time) error {
	if err := t.transition(TaskStatusCancelled, actorID, at); err != nil {
		return err
	}
	t.CompletedAt = &at
	if reason != "" {
		t.ErrorMessage = reason
	}
	return nil
}

// CanRetry reports whether a FAILED task still has retries left.
func (t *Task) CanRetry() bool {
	return t.Status == TaskStatusFailed &&
		t.CurrentStage != StageFailed &&
		t.RetryCount < t.MaxRetries
}

// RetryEligible combines CanRetry with the task's own retry policy, or fallback
// when the task has none.
func (t *Task) RetryEligible(fallback RetryPolicy) bool {
	return t.CanRetry() && t.EffectiveRetryPolicy(fallback).CanRetry(t.RetryCount)
}

// Retry puts a FAILED task back to PENDING at the stage where it failed.
func (t *Task) Retry(actorID string, at time.Time) error {
	if actorID == "" {
		return ErrMissingActor
	}
	if t.Status != TaskStatusFailed {
		return &TransitionError{TaskID: t.ID, From: t.Status, To: TaskStatusPending}
	}
	if !t.CanRetry() {
		return fmt.Errorf("%w: task %s has %d of %d retries used", ErrRetryExhausted, t.ID, t.RetryCount, t.MaxRetries)
	}
	if err := t.transition(TaskStatusPending, actorID, at); err != nil {
		return err
	}
	t.RetryCount++
	t.StartedAt = nil
	t.CompletedAt = nil
	t.NextRetryAt = nil
	return nil
}

// MarkRetryExhausted parks a FAILED task in the FAILED stage so no sweep picks it up again.
func (t *Task) MarkRetryExhausted(actorID string, at time.Time) error {
	if actorID == "" {
		return ErrMissingActor
	}
	if t.Status != TaskStatusFailed {
		return &TransitionError{TaskID: t.ID, From: t.Status, To: TaskStatusFailed}
	}
	t.CurrentStage = StageFailed
	t.ErrorMessage = MaxRetryExceededMessage
	t.NextRetryAt = nil
	t.UpdatedBy = actorID
	t.UpdatedAt = at
	return nil
}

// Reopen hands a task whose previous stage COMPLETED over to the stage it now sits at.
func (t *Task) Reopen(actorID string, at time.Time) error {
	if actorID == "" {
		return ErrMissingActor
	}
	if t.Status != TaskStatusCompleted || t.CurrentStage.IsTerminal() {
		return &TransitionError{TaskID: t.ID, From: t.Status, To: TaskStatusPending}
	}
	t.Status = TaskStatusPending
	t.StartedAt = nil
	t.CompletedAt = nil
	t.UpdatedBy = actorID
	t.UpdatedAt = at
	return nil
}

// IsDispatchable reports whether a stage sweep should hand the task to an executor.
func (t *Task) IsDispatchable() bool {
	if t.CurrentStage.IsTerminal() {
		return false
	}
	return t.Status == TaskStatusPending || t.Status == TaskStatusCompleted
}

// ScheduleRetry sets the earliest time the retry sweep may pick the task up.
func (t *Task) ScheduleRetry(at time.Time) {
	t.NextRetryAt = &at
}

// RetryDue reports whether the backoff window has elapsed.
func (t *Task) RetryDue(now time.Time) bool {
	return t.NextRetryAt == nil || !now.Before(*t.NextRetryAt)
}

// IsTimeout reports whether the current execution has run past TimeoutSeconds.
func (t *Task) IsTimeout(now time.Time) bool {
	deadline := t.Deadline()
	return deadline != nil && now.After(*deadline)
}

// Deadline returns StartedAt plus the timeout, or nil when the task was never
// started or has no timeout.
func (t *Task) Deadline() *time.Time {
	if t.StartedAt == nil || t.TimeoutSeconds <= 0 {
		return nil
	}
	deadline := t.StartedAt.Add(time.Duration(t.TimeoutSeconds) * time.Second)
	return &deadline
}

// EffectiveRetryPolicy returns the task's own policy or fallback.
func (t *Task) EffectiveRetryPolicy(fallback RetryPolicy) RetryPolicy {
	if t.Configuration.RetryPolicy != nil {
		return *t.Configuration.RetryPolicy
	}
	return fallback
}

// Clone returns a deep copy.
func (t *Task) Clone() *Task {
	c := *t
	c.StartedAt = cloneTime(t.StartedAt)
	c.CompletedAt = cloneTime(t.CompletedAt)
	c.NextRetryAt = cloneTime(t.NextRetryAt)
	if t.Configuration.RetryPolicy != nil {
		p := *t.Configuration.RetryPolicy
		c.Configuration.RetryPolicy = &p
	}
	if t.Configuration.Settings != nil {
		c.Configuration.Settings = maps.Clone(t.Configuration.Settings)
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
