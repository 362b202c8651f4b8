package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mtlprog/reviewflow/internal/domain"
)

// taskColumns is the shared list of columns for task queries.
var taskColumns = []string{
	"id", "type", "status", "current_stage", "retry_count", "max_retries",
	"timeout_seconds", "error_message", "started_at", "completed_at", "next_retry_at",
	"configuration", "created_by", "created_at", "updated_by", "updated_at", "version",
}

// TaskRepository handles database operations for tasks and their audit events.
type TaskRepository struct {
	pool *pgxpool.Pool
}

// NewTaskRepository creates a new TaskRepository.
func NewTaskRepository(pool *pgxpool.Pool) *TaskRepository {
	return &TaskRepository{pool: pool}
}

// scanTask scans a single row into a Task struct.
func scanTask(row pgx.Row) (*domain.Task, error) {
	var (
		task   domain.Task
		config []byte
	)
	err := row.Scan(
		&task.ID,
		&task.Type,
		&task.Status,
		&task.CurrentStage,
		&task.RetryCount,
		&task.MaxRetries,
		&task.TimeoutSeconds,
		&task.ErrorMessage,
		&task.StartedAt,
		&task.CompletedAt,
		&task.NextRetryAt,
		&config,
		&task.CreatedBy,
		&task.CreatedAt,
		&task.UpdatedBy,
		&task.UpdatedAt,
		&task.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	if len(config) > 0 {
		if err := json.Unmarshal(config, &task.Configuration); err != nil {
			return nil, fmt.Errorf("decode configuration of task %s: %w", task.ID, err)
		}
	}
	return &task, nil
}

// scanTasks scans multiple rows into a slice of Task structs.
func scanTasks(rows pgx.Rows) ([]*domain.Task, error) {
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return tasks, nil
}

func (r *TaskRepository) query(ctx context.Context, qb sq.SelectBuilder, what string) ([]*domain.Task, error) {
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build %s query: %w", what, err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", what, err)
	}

	return scanTasks(rows)
}

// FindByID retrieves a task by ID.
func (r *TaskRepository) FindByID(ctx context.Context, taskID string) (*domain.Task, error) {
	query, args, err := psql.
		Select(taskColumns...).
		From("tasks").
		Where(sq.Eq{"id": taskID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build FindByID query for task: %w", err)
	}

	return scanTask(r.pool.QueryRow(ctx, query, args...))
}

// getByIDForUpdate retrieves a task by ID with FOR UPDATE lock (within transaction).
func (r *TaskRepository) getByIDForUpdate(ctx context.Context, tx pgx.Tx, taskID string) (*domain.Task, error) {
	query, args, err := psql.
		Select(taskColumns...).
		From("tasks").
		Where(sq.Eq{"id": taskID}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build getByIDForUpdate query for task %s: %w", taskID, err)
	}

	return scanTask(tx.QueryRow(ctx, query, args...))
}

// FindNonFinalStageTasks returns tasks a stage executor can pick up, oldest first.
func (r *TaskRepository) FindNonFinalStageTasks(ctx context.Context) ([]*domain.Task, error) {
	qb := psql.
		Select(taskColumns...).
		From("tasks").
		Where(sq.NotEq{"current_stage": []domain.Stage{domain.StageCompleted, domain.StageFailed}}).
		Where(sq.Eq{"status": []domain.TaskStatus{domain.TaskStatusPending, domain.TaskStatusCompleted}}).
		OrderBy("created_at ASC", "id ASC")

	return r.query(ctx, qb, "non-final stage tasks")
}

// FindByStatus returns all tasks in the given status, oldest first.
func (r *TaskRepository) FindByStatus(ctx context.Context, status domain.TaskStatus) ([]*domain.Task, error) {
	qb := psql.
		Select(taskColumns...).
		From("tasks").
		Where(sq.Eq{"status": status}).
		OrderBy("created_at ASC", "id ASC")

	return r.query(ctx, qb, "tasks by status")
}

// Create inserts a new task and its creation event. Version starts at 1.
func (r *TaskRepository) Create(ctx context.Context, task *domain.Task) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	if err := r.insertTask(ctx, tx, task); err != nil {
		return err
	}
	if err := insertEvent(ctx, tx, domain.NewTaskEvent(task, nil, nil)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *TaskRepository) insertTask(ctx context.Context, tx pgx.Tx, task *domain.Task) error {
	config, err := json.Marshal(task.Configuration)
	if err != nil {
		return fmt.Errorf("encode configuration of task %s: %w", task.ID, err)
	}

	query, args, err := psql.
		Insert("tasks").
		Columns(taskColumns...).
		Values(
			task.ID,
			task.Type,
			task.Status,
			task.CurrentStage,
			task.RetryCount,
			task.MaxRetries,
			task.TimeoutSeconds,
			task.ErrorMessage,
			task.StartedAt,
			task.CompletedAt,
			task.NextRetryAt,
			config,
			task.CreatedBy,
			task.CreatedAt,
			task.UpdatedBy,
			task.UpdatedAt,
			1,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build Create query for task: %w", err)
	}

	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	task.Version = 1
	return nil
}

// Save writes the task with optimistic locking on the version column and records
// an audit event when status or stage changed.
// Returns ErrVersionConflict if the stored version differs from task.Version.
func (r *TaskRepository) Save(ctx context.Context, task *domain.Task) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	current, err := r.getByIDForUpdate(ctx, tx, task.ID)
	if err != nil {
		return err
	}
	if current.Version != task.Version {
		return fmt.Errorf("%w: task %s has version %d, update based on %d",
			domain.ErrVersionConflict, task.ID, current.Version, task.Version)
	}

	config, err := json.Marshal(task.Configuration)
	if err != nil {
		return fmt.Errorf("encode configuration of task %s: %w", task.ID, err)
	}

	query, args, err := psql.
		Update("tasks").
		Set("status", task.Status).
		Set("current_stage", task.CurrentStage).
		Set("retry_count", task.RetryCount).
		Set("max_retries", task.MaxRetries).
		Set("timeout_seconds", task.TimeoutSeconds).
		Set("error_message", task.ErrorMessage).
		Set("started_at", task.StartedAt).
		Set("completed_at", task.CompletedAt).
		Set("next_retry_at", task.NextRetryAt).
		Set("configuration", config).
		Set("updated_by", task.UpdatedBy).
		Set("updated_at", task.UpdatedAt).
		Set("version", sq.Expr("version + 1")).
		Where(sq.Eq{
			"id":      task.ID,
			"version": task.Version,
		}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build Save query for task %s: %w", task.ID, err)
	}

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: task %s", domain.ErrVersionConflict, task.ID)
	}

	if current.Status != task.Status || current.CurrentStage != task.CurrentStage {
		event := domain.NewTaskEvent(task, &current.Status, &current.CurrentStage)
		if err := insertEvent(ctx, tx, event); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	task.Version++
	return nil
}
