// Package pipeline drives review tasks through their stages: per-stage batch
// executors, and the aggregator that groups in-flight tasks by stage on every sweep.
package pipeline

import (
	"context"

	"github.com/mtlprog/reviewflow/internal/domain"
)

// TaskStore is the persistence contract the pipeline relies on.
type TaskStore interface {
	// FindNonFinalStageTasks returns tasks waiting for a stage executor:
	// stage not terminal, status PENDING or COMPLETED (stage hand-off).
	FindNonFinalStageTasks(ctx context.Context) ([]*domain.Task, error)
	FindByStatus(ctx context.Context, status domain.TaskStatus) ([]*domain.Task, error)
	// FindByID returns domain.ErrTaskNotFound for unknown ids.
	FindByID(ctx context.Context, id string) (*domain.Task, error)
	// Save writes the task if its Version matches the stored one and bumps Version.
	// A stale Version yields domain.ErrVersionConflict.
	Save(ctx context.Context, task *domain.Task) error
}

// ResultStore keeps StageResult records.
type ResultStore interface {
	SaveStageResult(ctx context.Context, result *domain.StageResult) error
	// LatestStageResult returns the newest successful result for the stage,
	// or domain.ErrStageResultNotFound.
	LatestStageResult(ctx context.Context, taskID string, stage domain.Stage) (*domain.StageResult, error)
}

// ContractLookup resolves the contract details of a task.
type ContractLookup interface {
	ContractDetails(ctx context.Context, taskID string) (*domain.ContractTaskDetails, error)
}

// ExtractionInput is passed to a ClauseExtractor.
type ExtractionInput struct {
	Task     *domain.Task
	Contract *domain.ContractTaskDetails
}

// ReviewInput is passed to a ModelReviewer.
type ReviewInput struct {
	Task     *domain.Task
	Contract *domain.ContractTaskDetails
	Clauses  *ClauseSet
}

// ReportInput is passed to a ReportGenerator.
type ReportInput struct {
	Task     *domain.Task
	Contract *domain.ContractTaskDetails
	Clauses  *ClauseSet
	Verdict  *ReviewVerdict
}

// ClauseExtractor turns a contract document into clauses.
type ClauseExtractor interface {
	ExtractClauses(ctx context.Context, in ExtractionInput) (*ClauseSet, error)
}

// ModelReviewer produces a verdict for extracted clauses.
// An unfavorable verdict is a normal return value, never an error.
type ModelReviewer interface {
	ReviewClauses(ctx context.Context, in ReviewInput) (*ReviewVerdict, error)
}

// ReportGenerator assembles and stores the final report.
type ReportGenerator interface {
	GenerateReport(ctx context.Context, in ReportInput) (*ReportRef, error)
}
