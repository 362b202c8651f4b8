package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mtlprog/reviewflow/internal/domain"
	"github.com/mtlprog/reviewflow/internal/metrics"
)

// Sweep names used in logs and metrics.
const (
	SweepStages   = "stages"
	SweepRetry    = "retry"
	SweepWatchdog = "watchdog"
)

// SweepReport summarizes one ProcessTasksByStage run.
type SweepReport struct {
	Tasks        int
	Batches      []BatchResult
	Unregistered []domain.Stage
	StageErrors  int
}

// RetryReport summarizes one RetryFailedTasks run.
type RetryReport struct {
	Candidates int
	Retried    int
	Exhausted  int
	Deferred   int
	Conflicts  int
	Errors     int
}

// WatchdogReport summarizes one FailTimedOutTasks run.
type WatchdogReport struct {
	Running  int
	TimedOut int
	Errors   int
}

// Aggregator groups in-flight tasks by stage and hands each group to its executor.
// It also owns the retry sweep and the timeout watchdog.
type Aggregator struct {
	deps      Deps
	executors map[domain.Stage]BatchExecutor
	logger    *slog.Logger
}

// NewAggregator creates an aggregator with no executors registered.
func NewAggregator(deps Deps) *Aggregator {
	deps = deps.withDefaults()
	return &Aggregator{
		deps:      deps,
		executors: make(map[domain.Stage]BatchExecutor),
		logger:    deps.Logger.With("component", "aggregator"),
	}
}

// Register binds an executor to a stage, replacing any previous one.
func (a *Aggregator) Register(stage domain.Stage, executor BatchExecutor) {
	a.executors[stage] = executor
}

// ProcessTasksByStage runs one stage sweep. Errors from a single stage bucket are
// logged and counted; only a failed task query is returned.
func (a *Aggregator) ProcessTasksByStage(ctx context.Context) (report SweepReport, err error) {
	start := time.Now()
	defer func() { a.deps.Metrics.ObserveSweep(SweepStages, time.Since(start), err) }()

	tasks, err := a.deps.Tasks.FindNonFinalStageTasks(ctx)
	if err != nil {
		a.logger.Error("failed to query non-final tasks", "error", err)
		return report, fmt.Errorf("find non-final stage tasks: %w", err)
	}
	if len(tasks) == 0 {
		a.logger.Debug("no tasks to process")
		return report, nil
	}
	report.Tasks = len(tasks)

	order, buckets := groupByStage(tasks)
	for _, stage := range order {
		executor, ok := a.executors[stage]
		if !ok {
			a.logger.Debug("no executor registered for stage, skipping",
				"stage", stage,
				"tasks", len(buckets[stage]),
			)
			report.Unregistered = append(report.Unregistered, stage)
			continue
		}

		result, err := a.dispatch(ctx, executor, buckets[stage])
		if err != nil {
			report.StageErrors++
			a.logger.Error("stage batch aborted",
				"stage", stage,
				"tasks", len(buckets[stage]),
				"error", err,
			)
			continue
		}
		report.Batches = append(report.Batches, result)
	}

	a.logger.Info("stage sweep finished",
		"tasks", report.Tasks,
		"batches", len(report.Batches),
		"unregistered_stages", len(report.Unregistered),
		"stage_errors", report.StageErrors,
		"took", time.Since(start),
	)

	return report, nil
}

// groupByStage splits tasks into disjoint buckets keyed by their persisted stage,
// keeping first-seen stage order.
func groupByStage(tasks []*domain.Task) ([]domain.Stage, map[domain.Stage][]*domain.Task) {
	var order []domain.Stage
	buckets := make(map[domain.Stage][]*domain.Task)
	for _, task := range tasks {
		if _, seen := buckets[task.CurrentStage]; !seen {
			order = append(order, task.CurrentStage)
		}
		buckets[task.CurrentStage] = append(buckets[task.CurrentStage], task)
	}
	return order, buckets
}

// dispatch runs one bucket, converting a panic into an error so sibling buckets still run.
func (a *Aggregator) dispatch(ctx context.Context, executor BatchExecutor, tasks []*domain.Task) (result BatchResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panicked: %v", r)
		}
	}()
	return executor.ProcessBatch(ctx, tasks), nil
}

// RetryFailedTasks runs one retry sweep over FAILED tasks.
func (a *Aggregator) RetryFailedTasks(ctx context.Context) (report RetryReport, err error) {
	start := time.Now()
	defer func() { a.deps.Metrics.ObserveSweep(SweepRetry, time.Since(start), err) }()

	failed, err := a.deps.Tasks.FindByStatus(ctx, domain.TaskStatusFailed)
	if err != nil {
		a.logger.Error("failed to query failed tasks", "error", err)
		return report, fmt.Errorf("find failed tasks: %w", err)
	}

	now := a.deps.Clock()
	for _, task := range failed {
		if task.CurrentStage == domain.StageFailed {
			continue
		}
		report.Candidates++

		outcome := a.retryTask(ctx, task, now)
		a.deps.Metrics.RetryDecision(outcome)
		switch outcome {
		case metrics.OutcomeRetried:
			report.Retried++
		case metrics.OutcomeExhausted:
			report.Exhausted++
		case metrics.OutcomeDeferred:
			report.Deferred++
		case metrics.OutcomeConflict:
			report.Conflicts++
		default:
			report.Errors++
		}
	}

	if report.Candidates > 0 {
		a.logger.Info("retry sweep finished",
			"candidates", report.Candidates,
			"retried", report.Retried,
			"exhausted", report.Exhausted,
			"deferred", report.Deferred,
			"conflicts", report.Conflicts,
			"errors", report.Errors,
		)
	}

	return report, nil
}

func (a *Aggregator) retryTask(ctx context.Context, task *domain.Task, now time.Time) (outcome string) {
	log := a.logger.With("task_id", task.ID, "stage", task.CurrentStage)
	defer func() {
		if r := recover(); r != nil {
			log.Error("retry panicked", "panic", r)
			outcome = metrics.OutcomeFailed
		}
	}()

	if !task.RetryEligible(a.deps.RetryPolicy) {
		if err := task.MarkRetryExhausted(a.deps.ActorID, now); err != nil {
			log.Error("failed to mark task exhausted", "error", err)
			return metrics.OutcomeFailed
		}
		if err := a.deps.Tasks.Save(ctx, task); err != nil {
			return a.saveFailure(log, err)
		}
		log.Warn("task failed permanently",
			"retry_count", task.RetryCount,
			"max_retries", task.MaxRetries,
		)
		return metrics.OutcomeExhausted
	}

	if !task.RetryDue(now) {
		log.Debug("retry not due yet", "next_retry_at", task.NextRetryAt)
		return metrics.OutcomeDeferred
	}

	if err := task.Retry(a.deps.ActorID, now); err != nil {
		log.Error("failed to retry task", "error", err)
		return metrics.OutcomeFailed
	}
	if err := a.deps.Tasks.Save(ctx, task); err != nil {
		outcome = a.saveFailure(log, err)
		if outcome == metrics.OutcomeFailed {
			a.postpone(ctx, log, task.ID, now)
		}
		return outcome
	}

	log.Info("task requeued for retry", "retry_count", task.RetryCount)
	return metrics.OutcomeRetried
}

// postpone pushes the next retry of a task whose retry could not be saved.
// The retry count itself is only ever advanced by Task.Retry.
func (a *Aggregator) postpone(ctx context.Context, log *slog.Logger, taskID string, now time.Time) {
	fresh, err := a.deps.Tasks.FindByID(ctx, taskID)
	if err != nil {
		log.Warn("failed to reload task to postpone retry", "error", err)
		return
	}
	if fresh.Status != domain.TaskStatusFailed {
		return
	}

	policy := fresh.EffectiveRetryPolicy(a.deps.RetryPolicy)
	fresh.ScheduleRetry(now.Add(policy.CalculateDelay(fresh.RetryCount)))
	if err := a.deps.Tasks.Save(ctx, fresh); err != nil {
		log.Warn("failed to postpone retry", "error", err)
		return
	}
	log.Info("retry postponed", "next_retry_at", fresh.NextRetryAt)
}

func (a *Aggregator) saveFailure(log *slog.Logger, err error) string {
	if errors.Is(err, domain.ErrVersionConflict) {
		log.Warn("task changed concurrently, leaving it for the next sweep", "error", err)
		return metrics.OutcomeConflict
	}
	log.Error("failed to save task", "error", err)
	return metrics.OutcomeFailed
}

// FailTimedOutTasks marks RUNNING tasks past their timeout as FAILED so the retry
// sweep can reclaim them.
func (a *Aggregator) FailTimedOutTasks(ctx context.Context) (report WatchdogReport, err error) {
	start := time.Now()
	defer func() { a.deps.Metrics.ObserveSweep(SweepWatchdog, time.Since(start), err) }()

	running, err := a.deps.Tasks.FindByStatus(ctx, domain.TaskStatusRunning)
	if err != nil {
		a.logger.Error("failed to query running tasks", "error", err)
		return report, fmt.Errorf("find running tasks: %w", err)
	}
	report.Running = len(running)

	now := a.deps.Clock()
	for _, task := range running {
		if !task.IsTimeout(now) {
			continue
		}
		log := a.logger.With("task_id", task.ID, "stage", task.CurrentStage)

		reason := fmt.Sprintf("execution timed out after %ds", task.TimeoutSeconds)
		if err := task.Fail(a.deps.ActorID, reason, now); err != nil {
			log.Error("failed to mark timed out task", "error", err)
			report.Errors++
			continue
		}
		policy := task.EffectiveRetryPolicy(a.deps.RetryPolicy)
		task.ScheduleRetry(now.Add(policy.CalculateDelay(task.RetryCount)))

		if err := a.deps.Tasks.Save(ctx, task); err != nil {
			a.saveFailure(log, err)
			report.Errors++
			continue
		}
		a.deps.Metrics.StageTask(string(task.CurrentStage), metrics.OutcomeTimedOut)
		log.Warn("task timed out", "started_at", task.StartedAt)
		report.TimedOut++
	}

	return report, nil
}
