// Package scheduler drives the periodic sweeps: stage processing, failed task
// retry and the timeout watchdog. Each sweep runs with a fixed delay between the
// end of one run and the start of the next, so runs of the same sweep never
// overlap.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mtlprog/reviewflow/internal/config"
	"github.com/mtlprog/reviewflow/internal/pipeline"
)

// ErrShutdownTimeout is returned by Run when in-flight sweeps outlive the grace period.
var ErrShutdownTimeout = errors.New("sweeps did not finish within shutdown grace period")

// Job is a named periodic sweep. A non-positive Interval disables it.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Lease guards a sweep across replicas. lock.RedisLease implements it.
type Lease interface {
	Acquire(ctx context.Context, name string) (bool, error)
	Release(ctx context.Context, name string) error
}

// Options tune the scheduler.
type Options struct {
	PoolSize      int
	QueueSize     int
	JobTimeout    time.Duration
	ShutdownGrace time.Duration
	Lease         Lease
	Logger        *slog.Logger
}

// OptionsFromConfig maps the scheduler section of the config.
func OptionsFromConfig(cfg config.SchedulerConfig) Options {
	return Options{
		PoolSize:      cfg.PoolSize,
		QueueSize:     cfg.QueueSize,
		JobTimeout:    cfg.JobTimeout,
		ShutdownGrace: cfg.ShutdownGrace,
	}
}

// Scheduler runs jobs on a bounded pool.
type Scheduler struct {
	jobs     []Job
	opts     Options
	pool     *Pool
	logger   *slog.Logger
	stopping atomic.Bool

	runCtx    context.Context
	cancelRun context.CancelFunc
}

// New creates a scheduler. Jobs are not started until Run.
func New(opts Options, jobs ...Job) *Scheduler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = config.DefaultJobTimeout
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = config.DefaultShutdownGrace
	}
	return &Scheduler{
		jobs:   jobs,
		opts:   opts,
		pool:   NewPool(opts.PoolSize, opts.QueueSize),
		logger: opts.Logger.With("component", "scheduler"),
	}
}

// AggregatorJobs returns the three sweeps backed by agg.
func AggregatorJobs(agg *pipeline.Aggregator, cfg config.SchedulerConfig) []Job {
	return []Job{
		{
			Name:     pipeline.SweepStages,
			Interval: cfg.StageSweepInterval,
			Run: func(ctx context.Context) error {
				_, err := agg.ProcessTasksByStage(ctx)
				return err
			},
		},
		{
			Name:     pipeline.SweepRetry,
			Interval: cfg.RetrySweepInterval,
			Run: func(ctx context.Context) error {
				_, err := agg.RetryFailedTasks(ctx)
				return err
			},
		},
		{
			Name:     pipeline.SweepWatchdog,
			Interval: cfg.WatchdogInterval,
			Run: func(ctx context.Context) error {
				_, err := agg.FailTimedOutTasks(ctx)
				return err
			},
		},
	}
}

// Run starts every enabled job and blocks until ctx is cancelled. In-flight
// sweeps keep running after cancellation for up to the shutdown grace period,
// then their contexts are cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.runCtx, s.cancelRun = context.WithCancel(context.WithoutCancel(ctx))
	defer s.cancelRun()

	g, gctx := errgroup.WithContext(ctx)
	for _, job := range s.jobs {
		if job.Interval <= 0 {
			s.logger.Info("sweep disabled", "job", job.Name)
			continue
		}
		s.logger.Info("sweep scheduled", "job", job.Name, "interval", job.Interval)
		g.Go(func() error {
			s.loop(gctx, job)
			return nil
		})
	}

	<-ctx.Done()
	s.stopping.Store(true)
	s.logger.Info("scheduler stopping", "grace", s.opts.ShutdownGrace)

	drained := make(chan struct{})
	go func() {
		_ = g.Wait()
		s.pool.Close()
		close(drained)
	}()

	select {
	case <-drained:
		s.logger.Info("scheduler stopped")
		return nil
	case <-time.After(s.opts.ShutdownGrace):
		s.cancelRun()
		<-drained
		s.logger.Warn("scheduler stopped after grace period")
		return ErrShutdownTimeout
	}
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		done := make(chan struct{})
		if _, err := s.pool.Submit(func() {
			defer close(done)
			s.execute(job)
		}); err != nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-done:
		}
		timer.Reset(job.Interval)
	}
}

func (s *Scheduler) execute(job Job) {
	log := s.logger.With("job", job.Name)
	defer func() {
		if r := recover(); r != nil {
			log.Error("sweep panicked", "panic", fmt.Sprint(r))
		}
	}()

	if s.stopping.Load() {
		return
	}

	ctx, cancel := context.WithTimeout(s.runCtx, s.opts.JobTimeout)
	defer cancel()

	if s.opts.Lease != nil {
		ok, err := s.opts.Lease.Acquire(ctx, job.Name)
		if err != nil {
			log.Warn("failed to acquire sweep lease", "error", err)
			return
		}
		if !ok {
			log.Debug("sweep lease held elsewhere")
			return
		}
		defer func() {
			if err := s.opts.Lease.Release(context.WithoutCancel(ctx), job.Name); err != nil {
				log.Warn("failed to release sweep lease", "error", err)
			}
		}()
	}

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		log.Error("sweep failed", "error", err, "duration", time.Since(start))
		return
	}
	log.Debug("sweep finished", "duration", time.Since(start))
}
