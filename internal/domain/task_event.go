package domain

import (
	"time"

	"github.com/google/uuid"
)

// TaskEvent is an audit log entry written with every task save.
type TaskEvent struct {
	ID        string
	TaskID    string
	ActorID   string
	OldStatus *TaskStatus // nil on creation
	NewStatus TaskStatus
	OldStage  *Stage
	NewStage  Stage
	Comment   string
	CreatedAt time.Time
}

// IsCreation returns true for the first event of a task.
func (e *TaskEvent) IsCreation() bool {
	return e.OldStatus == nil
}

// NewTaskEvent records the move from oldStatus/oldStage to the task's current state.
// Pass nil for both on creation.
func NewTaskEvent(t *Task, oldStatus *TaskStatus, oldStage *Stage) *TaskEvent {
	event := &TaskEvent{
		ID:        uuid.NewString(),
		TaskID:    t.ID,
		ActorID:   t.UpdatedBy,
		OldStatus: oldStatus,
		NewStatus: t.Status,
		OldStage:  oldStage,
		NewStage:  t.CurrentStage,
		CreatedAt: t.UpdatedAt,
	}
	if t.Status == TaskStatusFailed || t.Status == TaskStatusCancelled {
		event.Comment = t.ErrorMessage
	}
	return event
}
