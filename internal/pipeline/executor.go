package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mtlprog/reviewflow/internal/domain"
	"github.com/mtlprog/reviewflow/internal/metrics"
)

// SystemActor is recorded on mutations made by the sweeps when no actor is configured.
const SystemActor = "system:scheduler"

// settleTimeout bounds the writes that record a stage outcome. They run detached
// from the sweep context so a task that was started is never left RUNNING.
const settleTimeout = 10 * time.Second

// Deps are the collaborators shared by executors and the aggregator.
type Deps struct {
	Tasks     TaskStore
	Results   ResultStore
	Contracts ContractLookup
	// RetryPolicy applies to tasks without their own policy.
	RetryPolicy domain.RetryPolicy
	ActorID     string
	Clock       func() time.Time
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

func (d Deps) withDefaults() Deps {
	if d.ActorID == "" {
		d.ActorID = SystemActor
	}
	if d.RetryPolicy == (domain.RetryPolicy{}) {
		d.RetryPolicy = domain.DefaultRetryPolicy()
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return d
}

// BatchExecutor processes every task of one stage bucket.
type BatchExecutor interface {
	ProcessBatch(ctx context.Context, tasks []*domain.Task) BatchResult
}

// BatchResult counts per-task outcomes of one batch.
type BatchResult struct {
	Stage     domain.Stage
	Succeeded int
	Failed    int
	Skipped   int
}

// Total returns the number of tasks seen.
func (r BatchResult) Total() int {
	return r.Succeeded + r.Failed + r.Skipped
}

// WorkFunc performs a stage's work. prior is nil when the stage needs no earlier result.
// The returned value is stored as the stage's StageResult output.
type WorkFunc func(ctx context.Context, task *domain.Task, prior *domain.StageResult) (any, error)

type outcome int

const (
	outcomeSucceeded outcome = iota
	outcomeFailed
	outcomeSkipped
)

func (o outcome) String() string {
	switch o {
	case outcomeSucceeded:
		return metrics.OutcomeSucceeded
	case outcomeFailed:
		return metrics.OutcomeFailed
	default:
		return metrics.OutcomeSkipped
	}
}

// StageExecutor runs one pipeline stage over a batch of tasks, one task at a time.
type StageExecutor struct {
	deps     Deps
	stage    domain.Stage
	requires domain.Stage
	work     WorkFunc
	logger   *slog.Logger
}

// NewStageExecutor creates an executor for stage. When requires is non-empty the
// latest successful StageResult of that stage is loaded and handed to work.
func NewStageExecutor(deps Deps, stage, requires domain.Stage, work WorkFunc) *StageExecutor {
	deps = deps.withDefaults()
	return &StageExecutor{
		deps:     deps,
		stage:    stage,
		requires: requires,
		work:     work,
		logger:   deps.Logger.With("component", "stage_executor", "stage", stage),
	}
}

// Stage returns the stage this executor owns.
func (e *StageExecutor) Stage() domain.Stage {
	return e.stage
}

// ProcessBatch processes tasks sequentially. A failing task never aborts the batch.
func (e *StageExecutor) ProcessBatch(ctx context.Context, tasks []*domain.Task) BatchResult {
	result := BatchResult{Stage: e.stage}

	for _, task := range tasks {
		o := e.processTask(ctx, task)
		e.deps.Metrics.StageTask(string(e.stage), o.String())

		switch o {
		case outcomeSucceeded:
			result.Succeeded++
		case outcomeFailed:
			result.Failed++
		default:
			result.Skipped++
		}
	}

	e.logger.Info("stage batch processed",
		"tasks", len(tasks),
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"skipped", result.Skipped,
	)

	return result
}

func (e *StageExecutor) processTask(ctx context.Context, task *domain.Task) outcome {
	log := e.logger.With("task_id", task.ID)

	if task.CurrentStage != e.stage || !task.IsDispatchable() {
		log.Debug("task not dispatchable for stage",
			"task_stage", task.CurrentStage,
			"status", task.Status,
		)
		return outcomeSkipped
	}

	startedAt := e.deps.Clock()
	if task.Status == domain.TaskStatusCompleted {
		if err := task.Reopen(e.deps.ActorID, startedAt); err != nil {
			log.Warn("failed to reopen task for stage", "error", err)
			return outcomeSkipped
		}
	}
	if err := task.Start(e.deps.ActorID, startedAt); err != nil {
		log.Warn("failed to start task", "error", err)
		return outcomeSkipped
	}
	if o, ok := e.save(ctx, log, task, "start"); !ok {
		return o
	}

	output, err := e.run(ctx, task)

	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	if err == nil {
		var payload json.RawMessage
		payload, err = json.Marshal(output)
		if err != nil {
			err = fmt.Errorf("encode %s output: %w", e.stage, err)
		} else {
			return e.succeed(settleCtx, log, task, startedAt, payload)
		}
	}

	return e.fail(settleCtx, log, task, startedAt, err)
}

// run invokes the stage work, turning panics into errors.
func (e *StageExecutor) run(ctx context.Context, task *domain.Task) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage %s panicked: %v", e.stage, r)
		}
	}()

	var prior *domain.StageResult
	if e.requires != "" {
		prior, err = e.deps.Results.LatestStageResult(ctx, task.ID, e.requires)
		if err != nil {
			return nil, fmt.Errorf("load %s result for task %s: %w", e.requires, task.ID, err)
		}
	}

	return e.work(ctx, task, prior)
}

func (e *StageExecutor) succeed(
	ctx context.Context,
	log *slog.Logger,
	task *domain.Task,
	startedAt time.Time,
	payload json.RawMessage,
) outcome {
	finishedAt := e.deps.Clock()

	// The work already happened; a lost result record must not undo it.
	e.recordResult(ctx, log, &domain.StageResult{
		ID:         uuid.NewString(),
		TaskID:     task.ID,
		Stage:      e.stage,
		Success:    true,
		Output:     payload,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
	})

	if err := task.Complete(e.deps.ActorID, finishedAt); err != nil {
		log.Error("failed to complete task", "error", err)
		return outcomeFailed
	}
	if o, ok := e.save(ctx, log, task, "complete"); !ok {
		return o
	}

	log.Info("stage completed", "next_stage", task.CurrentStage)
	return outcomeSucceeded
}

func (e *StageExecutor) fail(
	ctx context.Context,
	log *slog.Logger,
	task *domain.Task,
	startedAt time.Time,
	cause error,
) outcome {
	failedAt := e.deps.Clock()

	e.recordResult(ctx, log, &domain.StageResult{
		ID:         uuid.NewString(),
		TaskID:     task.ID,
		Stage:      e.stage,
		Success:    false,
		Error:      cause.Error(),
		StartedAt:  startedAt,
		FinishedAt: failedAt,
	})

	if err := task.Fail(e.deps.ActorID, cause.Error(), failedAt); err != nil {
		log.Error("failed to mark task failed", "error", err, "cause", cause)
		return outcomeFailed
	}
	policy := task.EffectiveRetryPolicy(e.deps.RetryPolicy)
	task.ScheduleRetry(failedAt.Add(policy.CalculateDelay(task.RetryCount)))

	log.Warn("stage failed",
		"error", cause,
		"retry_count", task.RetryCount,
		"next_retry_at", task.NextRetryAt,
	)

	if o, ok := e.save(ctx, log, task, "fail"); !ok && o == outcomeSkipped {
		return o
	}
	return outcomeFailed
}

// save persists the task. A version conflict means someone else owns the task
// this cycle, so the task is skipped rather than failed.
func (e *StageExecutor) save(ctx context.Context, log *slog.Logger, task *domain.Task, step string) (outcome, bool) {
	err := e.deps.Tasks.Save(ctx, task)
	if err == nil {
		return outcomeSucceeded, true
	}
	if errors.Is(err, domain.ErrVersionConflict) {
		log.Warn("task changed concurrently, skipping this cycle", "step", step, "error", err)
		return outcomeSkipped, false
	}
	log.Error("failed to save task", "step", step, "error", err)
	return outcomeFailed, false
}

func (e *StageExecutor) recordResult(ctx context.Context, log *slog.Logger, result *domain.StageResult) {
	if err := e.deps.Results.SaveStageResult(ctx, result); err != nil {
		log.Warn("failed to save stage result", "success", result.Success, "error", err)
	}
}
