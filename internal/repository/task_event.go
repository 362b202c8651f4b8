package repository

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/mtlprog/reviewflow/internal/domain"
)

// insertEvent writes a task event within the transaction.
func insertEvent(ctx context.Context, tx pgx.Tx, event *domain.TaskEvent) error {
	query, args, err := psql.
		Insert("task_events").
		Columns("id", "task_id", "actor_id", "old_status", "new_status", "old_stage", "new_stage", "comment", "created_at").
		Values(event.ID, event.TaskID, event.ActorID, event.OldStatus, event.NewStatus,
			event.OldStage, event.NewStage, event.Comment, event.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("create task event: %w", err)
	}

	return nil
}

// ListEvents retrieves all events for a task, oldest first.
func (r *TaskRepository) ListEvents(ctx context.Context, taskID string) ([]*domain.TaskEvent, error) {
	query, args, err := psql.
		Select("id", "task_id", "actor_id", "old_status", "new_status", "old_stage", "new_stage", "comment", "created_at").
		From("task_events").
		Where(sq.Eq{"task_id": taskID}).
		OrderBy("created_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query task events: %w", err)
	}
	defer rows.Close()

	var events []*domain.TaskEvent
	for rows.Next() {
		var event domain.TaskEvent
		err := rows.Scan(
			&event.ID,
			&event.TaskID,
			&event.ActorID,
			&event.OldStatus,
			&event.NewStatus,
			&event.OldStage,
			&event.NewStage,
			&event.Comment,
			&event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan task event: %w", err)
		}
		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return events, nil
}
