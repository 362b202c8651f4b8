package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/mtlprog/reviewflow/internal/config"
	"github.com/mtlprog/reviewflow/internal/database"
	"github.com/mtlprog/reviewflow/internal/logger"
	"github.com/mtlprog/reviewflow/internal/pipeline"
)

const shutdownTimeout = 10 * time.Second

func main() {
	app := &cli.App{
		Name:  "reviewflow",
		Usage: "Multi-stage contract review pipeline",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Value:   "info",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Value:   logger.FormatJSON,
				Usage:   "Log format (json, text)",
				EnvVars: []string{"LOG_FORMAT"},
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML config file",
				EnvVars: []string{"REVIEWFLOW_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "database-url",
				Aliases: []string{"d"},
				Usage:   "PostgreSQL database URL (overrides config)",
			},
			&cli.StringFlag{
				Name:  "store",
				Usage: "Task store: postgres or memory (overrides config)",
			},
		},
		Before: func(c *cli.Context) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("failed to load .env: %w", err)
			}
			logger.Setup(logger.ParseLevel(c.String("log-level")), c.String("log-format"))
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Start the API server and the sweep scheduler",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "port",
						Aliases: []string{"p"},
						Usage:   "HTTP server port (overrides config)",
					},
					&cli.BoolFlag{
						Name:  "no-scheduler",
						Usage: "Serve the API only",
					},
				},
				Action: runServe,
			},
			{
				Name:   "sweep",
				Usage:  "Run one stage sweep and exit",
				Action: runSweep,
			},
			{
				Name:   "retry-failed",
				Usage:  "Requeue failed tasks whose backoff has elapsed and exit",
				Action: runRetryFailed,
			},
			{
				Name:   "check-timeouts",
				Usage:  "Fail running tasks past their execution deadline and exit",
				Action: runCheckTimeouts,
			},
			{
				Name:   "migrate",
				Usage:  "Apply database migrations and exit",
				Action: runMigrate,
			},
		},
		Action: runServe,
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and environment, then applies flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}

	if c.IsSet("database-url") {
		cfg.DatabaseURL = c.String("database-url")
	}
	if c.IsSet("store") {
		cfg.Store = c.String("store")
	}
	if c.IsSet("port") {
		cfg.Port = c.String("port")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServe(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.handler().Routes(),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting server", "server_addr", "http://localhost:"+cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		slog.Info("server stopped")
		return nil
	})

	if !c.Bool("no-scheduler") {
		sched := a.scheduler()
		g.Go(func() error {
			return sched.Run(gctx)
		})
	}

	return g.Wait()
}

func runSweep(c *cli.Context) error {
	return runOneShot(c, pipeline.SweepStages, func(ctx context.Context, a *app) error {
		report, err := a.aggregator.ProcessTasksByStage(ctx)
		if err != nil {
			return err
		}
		slog.Info("stage sweep finished",
			"tasks", report.Tasks,
			"batches", len(report.Batches),
			"unregistered_stages", len(report.Unregistered),
			"stage_errors", report.StageErrors,
		)
		return nil
	})
}

func runRetryFailed(c *cli.Context) error {
	return runOneShot(c, pipeline.SweepRetry, func(ctx context.Context, a *app) error {
		report, err := a.aggregator.RetryFailedTasks(ctx)
		if err != nil {
			return err
		}
		slog.Info("retry sweep finished",
			"candidates", report.Candidates,
			"retried", report.Retried,
			"exhausted", report.Exhausted,
			"deferred", report.Deferred,
			"conflicts", report.Conflicts,
			"errors", report.Errors,
		)
		return nil
	})
}

func runCheckTimeouts(c *cli.Context) error {
	return runOneShot(c, pipeline.SweepWatchdog, func(ctx context.Context, a *app) error {
		report, err := a.aggregator.FailTimedOutTasks(ctx)
		if err != nil {
			return err
		}
		slog.Info("timeout check finished",
			"running", report.Running,
			"timed_out", report.TimedOut,
			"errors", report.Errors,
		)
		return nil
	})
}

func runOneShot(c *cli.Context, name string, run func(ctx context.Context, a *app) error) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.Store == config.StoreMemory {
		slog.Warn("one-shot sweep against the in-memory store has nothing to process")
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(ctx, cfg.Scheduler.JobTimeout)
	defer cancel()

	return a.runOnce(ctx, name, func(ctx context.Context) error {
		return run(ctx, a)
	})
}

func runMigrate(c *cli.Context) error {
	ctx := c.Context

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.Store != config.StorePostgres {
		return fmt.Errorf("migrate requires the %s store", config.StorePostgres)
	}

	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := database.RunMigrations(ctx, db.Pool()); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	slog.Info("migrations applied")
	return nil
}
