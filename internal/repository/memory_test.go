package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtlprog/reviewflow/internal/domain"
	"github.com/mtlprog/reviewflow/internal/repository"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTask(t *testing.T, at time.Time) *domain.Task {
	t.Helper()
	task, err := domain.NewTask(domain.TaskTypeContractReview, "user-1", domain.TaskConfiguration{}, at)
	require.NoError(t, err)
	return task
}

func TestMemoryStore_StaleSaveConflicts(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()

	task := newTask(t, t0)
	require.NoError(t, store.Create(ctx, task))
	assert.EqualValues(t, 1, task.Version)

	first, err := store.FindByID(ctx, task.ID)
	require.NoError(t, err)
	second, err := store.FindByID(ctx, task.ID)
	require.NoError(t, err)

	require.NoError(t, first.Start("sweep-a", t0))
	require.NoError(t, store.Save(ctx, first))
	assert.EqualValues(t, 2, first.Version)

	require.NoError(t, second.Cancel("admin", "stop", t0))
	err = store.Save(ctx, second)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrVersionConflict)

	stored, err := store.FindByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusRunning, stored.Status)
	assert.Equal(t, "sweep-a", stored.UpdatedBy)
}

func TestMemoryStore_SaveUnknownTask(t *testing.T) {
	store := repository.NewMemoryStore()
	err := store.Save(context.Background(), newTask(t, t0))
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	task := newTask(t, t0)
	require.NoError(t, store.Create(ctx, task))

	task.Status = domain.TaskStatusCancelled
	got, err := store.FindByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, got.Status)
}

func TestMemoryStore_Queries(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()

	pending := newTask(t, t0)
	handedOff := newTask(t, t0.Add(time.Second))
	failed := newTask(t, t0.Add(2*time.Second))
	done := newTask(t, t0.Add(3*time.Second))
	for _, task := range []*domain.Task{pending, handedOff, failed, done} {
		require.NoError(t, store.Create(ctx, task))
	}

	require.NoError(t, handedOff.Start("s", t0))
	require.NoError(t, handedOff.Complete("s", t0))
	require.NoError(t, store.Save(ctx, handedOff))

	require.NoError(t, failed.Start("s", t0))
	require.NoError(t, failed.Fail("s", "boom", t0))
	require.NoError(t, store.Save(ctx, failed))

	done.CurrentStage = domain.StageReportGeneration
	require.NoError(t, done.Start("s", t0))
	require.NoError(t, done.Complete("s", t0))
	require.NoError(t, store.Save(ctx, done))

	nonFinal, err := store.FindNonFinalStageTasks(ctx)
	require.NoError(t, err)
	require.Len(t, nonFinal, 2)
	assert.Equal(t, pending.ID, nonFinal[0].ID)
	assert.Equal(t, handedOff.ID, nonFinal[1].ID)

	byStatus, err := store.FindByStatus(ctx, domain.TaskStatusFailed)
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, failed.ID, byStatus[0].ID)

	counts, err := store.CountByStageAndStatus(ctx)
	require.NoError(t, err)
	total := 0
	for _, c := range counts {
		total += c.Count
	}
	assert.Equal(t, 4, total)
}

func TestMemoryStore_EventsFollowStatusAndStage(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	task := newTask(t, t0)
	require.NoError(t, store.Create(ctx, task))

	require.NoError(t, task.Start("sweep", t0))
	require.NoError(t, store.Save(ctx, task))

	task.ScheduleRetry(t0.Add(time.Minute)) // no status change, no event
	require.NoError(t, store.Save(ctx, task))

	require.NoError(t, task.Complete("sweep", t0))
	require.NoError(t, store.Save(ctx, task))

	events, err := store.ListEvents(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.True(t, events[0].IsCreation())
	assert.Equal(t, domain.TaskStatusRunning, events[1].NewStatus)
	assert.Equal(t, domain.StageModelReview, events[2].NewStage)
	require.NotNil(t, events[2].OldStage)
	assert.Equal(t, domain.StageClauseExtraction, *events[2].OldStage)
	assert.Equal(t, "sweep", events[2].ActorID)
}

func TestMemoryStore_StageResults(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	taskID := "task-1"

	_, err := store.LatestStageResult(ctx, taskID, domain.StageClauseExtraction)
	assert.ErrorIs(t, err, domain.ErrStageResultNotFound)

	require.NoError(t, store.SaveStageResult(ctx, &domain.StageResult{
		ID: "r1", TaskID: taskID, Stage: domain.StageClauseExtraction, Success: true,
		Output: []byte(`{"v":1}`), FinishedAt: t0,
	}))
	require.NoError(t, store.SaveStageResult(ctx, &domain.StageResult{
		ID: "r2", TaskID: taskID, Stage: domain.StageClauseExtraction, Success: true,
		Output: []byte(`{"v":2}`), FinishedAt: t0.Add(time.Minute),
	}))
	require.NoError(t, store.SaveStageResult(ctx, &domain.StageResult{
		ID: "r3", TaskID: taskID, Stage: domain.StageClauseExtraction, Success: false,
		Error: "boom", FinishedAt: t0.Add(time.Hour),
	}))

	latest, err := store.LatestStageResult(ctx, taskID, domain.StageClauseExtraction)
	require.NoError(t, err)
	assert.Equal(t, "r2", latest.ID)

	all, err := store.ListStageResults(ctx, taskID)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMemoryStore_ContractDetails(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	task := newTask(t, t0)
	details := &domain.ContractTaskDetails{TaskID: task.ID, ContractID: "c-1", FileRef: "contracts/c-1.pdf", ReviewType: domain.ReviewTypeRisk}

	require.NoError(t, store.CreateTaskWithContract(ctx, task, details))

	got, err := store.FindContractDetails(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c-1", got[0].ContractID)

	err = store.InsertContractDetails(ctx, &domain.ContractTaskDetails{TaskID: "missing"})
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)
}
