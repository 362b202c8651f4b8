package service

import (
	"time"

	"github.com/mtlprog/reviewflow/internal/domain"
)

// ExecutionDeadline returns when the current run of a RUNNING task times out.
// Returns nil for tasks that are not running or have no timeout.
func ExecutionDeadline(task *domain.Task) *time.Time {
	if task.Status != domain.TaskStatusRunning {
		return nil
	}
	return task.Deadline()
}
