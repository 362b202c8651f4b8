package service

import (
	"context"

	"github.com/mtlprog/reviewflow/internal/domain"
	"github.com/mtlprog/reviewflow/internal/repository"
)

// TaskRepository is the task persistence used by the services.
type TaskRepository interface {
	FindByID(ctx context.Context, taskID string) (*domain.Task, error)
	Save(ctx context.Context, task *domain.Task) error
	ListEvents(ctx context.Context, taskID string) ([]*domain.TaskEvent, error)
	CountByStageAndStatus(ctx context.Context) ([]repository.StageStatusCount, error)
}

// ContractRepository stores contract details next to their task.
type ContractRepository interface {
	CreateTaskWithContract(ctx context.Context, task *domain.Task, details *domain.ContractTaskDetails) error
	InsertContractDetails(ctx context.Context, details *domain.ContractTaskDetails) error
	FindContractDetails(ctx context.Context, taskID string) ([]*domain.ContractTaskDetails, error)
}

// ResultRepository lists recorded stage results.
type ResultRepository interface {
	ListStageResults(ctx context.Context, taskID string) ([]*domain.StageResult, error)
}
