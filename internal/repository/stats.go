package repository

import (
	"context"
	"fmt"

	"github.com/mtlprog/reviewflow/internal/domain"
)

// StageStatusCount is the number of tasks sharing a stage and status.
type StageStatusCount struct {
	Stage  domain.Stage
	Status domain.TaskStatus
	Count  int
}

// CountByStageAndStatus returns current task counts grouped by stage and status.
func (r *TaskRepository) CountByStageAndStatus(ctx context.Context) ([]StageStatusCount, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT current_stage, status, COUNT(*)
		FROM tasks
		GROUP BY current_stage, status
		ORDER BY current_stage, status
	`)
	if err != nil {
		return nil, fmt.Errorf("query task counts: %w", err)
	}
	defer rows.Close()

	var results []StageStatusCount
	for rows.Next() {
		var result StageStatusCount
		if err := rows.Scan(&result.Stage, &result.Status, &result.Count); err != nil {
			return nil, fmt.Errorf("scan task count: %w", err)
		}
		results = append(results, result)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task count rows: %w", err)
	}

	return results, nil
}
