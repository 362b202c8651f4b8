package repository

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mtlprog/reviewflow/internal/domain"
)

// ContractTaskRepository handles database operations for contract task details.
type ContractTaskRepository struct {
	pool  *pgxpool.Pool
	tasks *TaskRepository
}

// NewContractTaskRepository creates a new ContractTaskRepository.
func NewContractTaskRepository(pool *pgxpool.Pool, tasks *TaskRepository) *ContractTaskRepository {
	return &ContractTaskRepository{pool: pool, tasks: tasks}
}

func insertContractDetails(ctx context.Context, tx pgx.Tx, details *domain.ContractTaskDetails) error {
	query, args, err := psql.
		Insert("contract_tasks").
		Columns("task_id", "contract_id", "file_ref", "file_name", "review_type", "created_at").
		Values(details.TaskID, details.ContractID, details.FileRef, details.FileName, details.ReviewType, details.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("create contract task details: %w", err)
	}
	return nil
}

// CreateTaskWithContract inserts a task and its contract details in one transaction.
func (r *ContractTaskRepository) CreateTaskWithContract(
	ctx context.Context,
	task *domain.Task,
	details *domain.ContractTaskDetails,
) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	if err := r.tasks.insertTask(ctx, tx, task); err != nil {
		return err
	}
	if err := insertEvent(ctx, tx, domain.NewTaskEvent(task, nil, nil)); err != nil {
		return err
	}
	if err := insertContractDetails(ctx, tx, details); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// InsertContractDetails attaches contract details to an existing task.
func (r *ContractTaskRepository) InsertContractDetails(ctx context.Context, details *domain.ContractTaskDetails) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	if err := insertContractDetails(ctx, tx, details); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// FindContractDetails returns every contract row recorded for a task.
func (r *ContractTaskRepository) FindContractDetails(ctx context.Context, taskID string) ([]*domain.ContractTaskDetails, error) {
	query, args, err := psql.
		Select("task_id", "contract_id", "file_ref", "file_name", "review_type", "created_at").
		From("contract_tasks").
		Where(sq.Eq{"task_id": taskID}).
		OrderBy("id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query contract task details: %w", err)
	}
	defer rows.Close()

	var details []*domain.ContractTaskDetails
	for rows.Next() {
		var d domain.ContractTaskDetails
		if err := rows.Scan(&d.TaskID, &d.ContractID, &d.FileRef, &d.FileName, &d.ReviewType, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan contract task details: %w", err)
		}
		details = append(details, &d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return details, nil
}
