package repository

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mtlprog/reviewflow/internal/domain"
)

var stageResultColumns = []string{
	"id", "task_id", "stage", "success", "output", "error", "started_at", "finished_at",
}

// StageResultRepository handles database operations for stage results.
type StageResultRepository struct {
	pool *pgxpool.Pool
}

// NewStageResultRepository creates a new StageResultRepository.
func NewStageResultRepository(pool *pgxpool.Pool) *StageResultRepository {
	return &StageResultRepository{pool: pool}
}

func scanStageResult(row pgx.Row) (*domain.StageResult, error) {
	var (
		result domain.StageResult
		output []byte
	)
	err := row.Scan(
		&result.ID,
		&result.TaskID,
		&result.Stage,
		&result.Success,
		&output,
		&result.Error,
		&result.StartedAt,
		&result.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrStageResultNotFound
		}
		return nil, fmt.Errorf("scan stage result: %w", err)
	}
	result.Output = output
	return &result, nil
}

// SaveStageResult inserts a stage result.
func (r *StageResultRepository) SaveStageResult(ctx context.Context, result *domain.StageResult) error {
	var output []byte
	if len(result.Output) > 0 {
		output = result.Output
	}

	query, args, err := psql.
		Insert("stage_results").
		Columns(stageResultColumns...).
		Values(result.ID, result.TaskID, result.Stage, result.Success, output,
			result.Error, result.StartedAt, result.FinishedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("create stage result: %w", err)
	}
	return nil
}

// LatestStageResult returns the newest successful result of a stage for a task.
func (r *StageResultRepository) LatestStageResult(ctx context.Context, taskID string, stage domain.Stage) (*domain.StageResult, error) {
	query, args, err := psql.
		Select(stageResultColumns...).
		From("stage_results").
		Where(sq.Eq{"task_id": taskID, "stage": stage, "success": true}).
		OrderBy("finished_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	result, err := scanStageResult(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, domain.ErrStageResultNotFound) {
			return nil, fmt.Errorf("%w: task %s stage %s", err, taskID, stage)
		}
		return nil, err
	}
	return result, nil
}

// ListStageResults returns every result recorded for a task, oldest first.
func (r *StageResultRepository) ListStageResults(ctx context.Context, taskID string) ([]*domain.StageResult, error) {
	query, args, err := psql.
		Select(stageResultColumns...).
		From("stage_results").
		Where(sq.Eq{"task_id": taskID}).
		OrderBy("finished_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query stage results: %w", err)
	}
	defer rows.Close()

	var results []*domain.StageResult
	for rows.Next() {
		result, err := scanStageResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return results, nil
}
