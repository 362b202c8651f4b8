package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mtlprog/reviewflow/internal/domain"
	"github.com/mtlprog/reviewflow/internal/repository"
)

// TaskService serves task queries and operator actions.
type TaskService struct {
	tasks   TaskRepository
	results ResultRepository
	now     func() time.Time
}

// NewTaskService creates a new TaskService.
func NewTaskService(tasks TaskRepository, results ResultRepository) *TaskService {
	return &TaskService{
		tasks:   tasks,
		results: results,
		now:     time.Now,
	}
}

// Get returns a task by ID.
func (s *TaskService) Get(ctx context.Context, taskID string) (*domain.Task, error) {
	return s.tasks.FindByID(ctx, taskID)
}

// Events returns the audit trail of a task, oldest first.
func (s *TaskService) Events(ctx context.Context, taskID string) ([]*domain.TaskEvent, error) {
	if _, err := s.tasks.FindByID(ctx, taskID); err != nil {
		return nil, err
	}
	events, err := s.tasks.ListEvents(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// Results returns every stage result recorded for a task.
func (s *TaskService) Results(ctx context.Context, taskID string) ([]*domain.StageResult, error) {
	if _, err := s.tasks.FindByID(ctx, taskID); err != nil {
		return nil, err
	}
	results, err := s.results.ListStageResults(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("list stage results: %w", err)
	}
	return results, nil
}

// Stats returns task counts grouped by stage and status.
func (s *TaskService) Stats(ctx context.Context) ([]repository.StageStatusCount, error) {
	counts, err := s.tasks.CountByStageAndStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	return counts, nil
}

// Cancel stops a task. A task waiting between stages is reopened first so the
// cancellation goes through the regular PENDING -> CANCELLED transition.
// A RUNNING task is cancelled in storage; the executor's next save then loses
// on version and leaves it alone.
func (s *TaskService) Cancel(ctx context.Context, taskID, actorID, reason string) (*domain.Task, error) {
	if actorID == "" {
		return nil, domain.ErrMissingActor
	}

	task, err := s.tasks.FindByID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if task.Status == domain.TaskStatusCompleted && !task.CurrentStage.IsTerminal() {
		if err := task.Reopen(actorID, now); err != nil {
			return nil, err
		}
	}
	if err := task.Cancel(actorID, reason, now); err != nil {
		return nil, err
	}

	if err := s.tasks.Save(ctx, task); err != nil {
		return nil, err
	}

	slog.Info("task cancelled",
		"task_id", task.ID,
		"stage", task.CurrentStage,
		"actor_id", actorID,
	)

	return task, nil
}
