package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/mtlprog/reviewflow/internal/collaborator"
	"github.com/mtlprog/reviewflow/internal/config"
	"github.com/mtlprog/reviewflow/internal/database"
	"github.com/mtlprog/reviewflow/internal/domain"
	"github.com/mtlprog/reviewflow/internal/handler"
	"github.com/mtlprog/reviewflow/internal/lock"
	"github.com/mtlprog/reviewflow/internal/metrics"
	"github.com/mtlprog/reviewflow/internal/pipeline"
	"github.com/mtlprog/reviewflow/internal/repository"
	"github.com/mtlprog/reviewflow/internal/scheduler"
	"github.com/mtlprog/reviewflow/internal/service"
)

type taskStore interface {
	service.TaskRepository
	pipeline.TaskStore
}

type resultStore interface {
	service.ResultRepository
	pipeline.ResultStore
}

// app holds the wired components shared by every command.
type app struct {
	cfg        *config.Config
	db         *database.DB
	registry   *prometheus.Registry
	tasks      *service.TaskService
	contracts  *service.ContractTaskService
	aggregator *pipeline.Aggregator
	lease      scheduler.Lease
	closers    []func()
}

// newApp connects the store, the collaborators and the optional Redis lease.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	tasks, contracts, results, err := a.openStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.tasks = service.NewTaskService(tasks, results)
	a.contracts = service.NewContractTaskService(tasks, contracts).WithRetryPolicy(cfg.Retry)

	extractor, reviewer, generator, err := a.collaborators(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	deps := pipeline.Deps{
		Tasks:       tasks,
		Results:     results,
		Contracts:   a.contracts,
		RetryPolicy: cfg.Retry,
		ActorID:     cfg.ActorID,
		Metrics:     metrics.New(a.registry),
		Logger:      slog.Default(),
	}
	a.aggregator = pipeline.NewAggregator(deps)
	a.aggregator.Register(domain.StageClauseExtraction, pipeline.NewClauseExtractionExecutor(deps, extractor))
	a.aggregator.Register(domain.StageModelReview, pipeline.NewModelReviewExecutor(deps, reviewer))
	a.aggregator.Register(domain.StageReportGeneration, pipeline.NewReportGenerationExecutor(deps, generator))

	if cfg.Redis.Addr != "" {
		rdb, err := lock.Connect(ctx, cfg.Redis)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		a.lease = lock.NewRedisLease(rdb, cfg.Redis.KeyPrefix, cfg.Redis.LeaseTTL)
		slog.Info("sweep leases enabled", "redis_addr", cfg.Redis.Addr)
	}

	return a, nil
}

func (a *app) openStore(ctx context.Context) (taskStore, service.ContractRepository, resultStore, error) {
	if a.cfg.Store == config.StoreMemory {
		slog.Warn("using in-memory store; tasks are lost on exit")
		store := repository.NewMemoryStore()
		return store, store, store, nil
	}

	db, err := database.New(ctx, a.cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, db.Close)

	if err := database.RunMigrations(ctx, db.Pool()); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	taskRepo := repository.NewTaskRepository(db.Pool())
	return taskRepo,
		repository.NewContractTaskRepository(db.Pool(), taskRepo),
		repository.NewStageResultRepository(db.Pool()),
		nil
}

func (a *app) collaborators(ctx context.Context) (pipeline.ClauseExtractor, pipeline.ModelReviewer, pipeline.ReportGenerator, error) {
	var (
		extractor pipeline.ClauseExtractor
		reviewer  pipeline.ModelReviewer
		sink      collaborator.ReportSink
	)

	if a.cfg.MinioEnabled() {
		files, err := collaborator.NewMinioStore(a.cfg.Minio)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := files.EnsureBucket(ctx); err != nil {
			return nil, nil, nil, err
		}
		sink = files
		if a.cfg.MineruEnabled() {
			extractor = collaborator.NewMineruExtractor(a.cfg.Mineru, files)
		}
	} else {
		sink = collaborator.NewDirSink(a.cfg.Local.ReportsDir)
	}
	if extractor == nil {
		extractor = collaborator.NewLocalExtractor(a.cfg.Local.FilesDir)
	}

	if a.cfg.OpenAIEnabled() {
		reviewer = collaborator.NewOpenAIReviewer(a.cfg.OpenAI)
	} else {
		reviewer = collaborator.NewLocalReviewer()
	}

	slog.Info("collaborators configured",
		"extractor", fmt.Sprintf("%T", extractor),
		"reviewer", fmt.Sprintf("%T", reviewer),
		"report_sink", fmt.Sprintf("%T", sink),
	)
	return extractor, reviewer, collaborator.NewReportWriter(sink), nil
}

// handler builds the HTTP handler.
func (a *app) handler() *handler.Handler {
	var pinger handler.Pinger
	if a.db != nil {
		pinger = a.db
	}
	return handler.New(a.tasks, a.contracts, pinger, a.registry)
}

// scheduler builds the sweep scheduler.
func (a *app) scheduler() *scheduler.Scheduler {
	opts := scheduler.OptionsFromConfig(a.cfg.Scheduler)
	opts.Lease = a.lease
	return scheduler.New(opts, scheduler.AggregatorJobs(a.aggregator, a.cfg.Scheduler)...)
}

// runOnce runs a single sweep, guarded by the lease when one is configured.
func (a *app) runOnce(ctx context.Context, name string, run func(ctx context.Context) error) error {
	if a.lease != nil {
		ok, err := a.lease.Acquire(ctx, name)
		if err != nil {
			return fmt.Errorf("acquire %s lease: %w", name, err)
		}
		if !ok {
			slog.Info("sweep already running elsewhere", "job", name)
			return nil
		}
		defer func() {
			if err := a.lease.Release(context.WithoutCancel(ctx), name); err != nil {
				slog.Warn("failed to release sweep lease", "job", name, "error", err)
			}
		}()
	}
	return run(ctx)
}

// Close releases connections in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
