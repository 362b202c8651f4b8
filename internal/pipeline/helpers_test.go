package pipeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mtlprog/reviewflow/internal/domain"
	"github.com/mtlprog/reviewflow/internal/pipeline"
	"github.com/mtlprog/reviewflow/internal/repository"
	"github.com/mtlprog/reviewflow/internal/service"
)

var baseTime = time.Date(2026, 4, 2, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store     *repository.MemoryStore
	contracts *service.ContractTaskService
	now       time.Time
}

func newFixture() *fixture {
	store := repository.NewMemoryStore()
	return &fixture{
		store:     store,
		contracts: service.NewContractTaskService(store, store),
		now:       baseTime,
	}
}

func (f *fixture) deps() pipeline.Deps {
	return pipeline.Deps{
		Tasks:       f.store,
		Results:     f.store,
		Contracts:   f.contracts,
		RetryPolicy: domain.DefaultRetryPolicy(),
		Clock:       func() time.Time { return f.now },
	}
}

// createContractTask stores a PENDING contract review at CLAUSE_EXTRACTION.
func (f *fixture) createContractTask(t *testing.T) *domain.Task {
	t.Helper()
	task, _, err := f.contracts.Create(context.Background(), "user-1", service.CreateContractTaskParams{
		ContractID: "c-1",
		FileRef:    "contracts/c-1.pdf",
		ReviewType: domain.ReviewTypeStandard,
	})
	require.NoError(t, err)
	return task
}

// seed stores a contract task after mutate has shaped its state.
func (f *fixture) seed(t *testing.T, mutate func(*domain.Task)) *domain.Task {
	t.Helper()
	task, err := domain.NewTask(domain.TaskTypeContractReview, "user-1", domain.TaskConfiguration{}, f.now)
	require.NoError(t, err)
	mutate(task)

	require.NoError(t, f.store.CreateTaskWithContract(context.Background(), task, &domain.ContractTaskDetails{
		TaskID:     task.ID,
		ContractID: "c-seed",
		FileRef:    "contracts/c-seed.pdf",
		ReviewType: domain.ReviewTypeRisk,
		CreatedAt:  f.now,
	}))
	return task
}

func (f *fixture) reload(t *testing.T, id string) *domain.Task {
	t.Helper()
	task, err := f.store.FindByID(context.Background(), id)
	require.NoError(t, err)
	return task
}

type extractorFunc func(ctx context.Context, in pipeline.ExtractionInput) (*pipeline.ClauseSet, error)

func (fn extractorFunc) ExtractClauses(ctx context.Context, in pipeline.ExtractionInput) (*pipeline.ClauseSet, error) {
	return fn(ctx, in)
}

type reviewerFunc func(ctx context.Context, in pipeline.ReviewInput) (*pipeline.ReviewVerdict, error)

func (fn reviewerFunc) ReviewClauses(ctx context.Context, in pipeline.ReviewInput) (*pipeline.ReviewVerdict, error) {
	return fn(ctx, in)
}

type generatorFunc func(ctx context.Context, in pipeline.ReportInput) (*pipeline.ReportRef, error)

func (fn generatorFunc) GenerateReport(ctx context.Context, in pipeline.ReportInput) (*pipeline.ReportRef, error) {
	return fn(ctx, in)
}

func okExtractor() extractorFunc {
	return func(_ context.Context, in pipeline.ExtractionInput) (*pipeline.ClauseSet, error) {
		return &pipeline.ClauseSet{
			Source: in.Contract.FileRef,
			Clauses: []pipeline.Clause{
				{Number: "1", Title: "Term", Text: "This agreement runs for 12 months."},
				{Number: "2", Title: "Liability", Text: "Liability is unlimited."},
			},
		}, nil
	}
}

func verdictReviewer(risk pipeline.RiskLevel) reviewerFunc {
	return func(_ context.Context, in pipeline.ReviewInput) (*pipeline.ReviewVerdict, error) {
		return &pipeline.ReviewVerdict{
			RiskLevel: risk,
			Compliant: risk != pipeline.RiskHigh,
			Summary:   "reviewed clauses",
			Findings: []pipeline.Finding{
				{ClauseNumber: in.Clauses.Clauses[1].Number, Severity: risk, Issue: "unlimited liability"},
			},
		}, nil
	}
}

func okGenerator() generatorFunc {
	return func(_ context.Context, in pipeline.ReportInput) (*pipeline.ReportRef, error) {
		return &pipeline.ReportRef{
			Location: "reports/" + in.Task.ID + ".json",
			Size:     42,
			Summary:  in.Verdict.Summary,
			Risk:     in.Verdict.RiskLevel,
		}, nil
	}
}

// mockTaskStore records every call made against the task store.
type mockTaskStore struct {
	mock.Mock
}

func (m *mockTaskStore) FindNonFinalStageTasks(ctx context.Context) ([]*domain.Task, error) {
	args := m.Called(ctx)
	tasks, _ := args.Get(0).([]*domain.Task)
	return tasks, args.Error(1)
}

func (m *mockTaskStore) FindByStatus(ctx context.Context, status domain.TaskStatus) ([]*domain.Task, error) {
	args := m.Called(ctx, status)
	tasks, _ := args.Get(0).([]*domain.Task)
	return tasks, args.Error(1)
}

func (m *mockTaskStore) FindByID(ctx context.Context, id string) (*domain.Task, error) {
	args := m.Called(ctx, id)
	task, _ := args.Get(0).(*domain.Task)
	return task, args.Error(1)
}

func (m *mockTaskStore) Save(ctx context.Context, task *domain.Task) error {
	args := m.Called(ctx, task)
	return args.Error(0)
}

// recordingExecutor remembers the batches it was handed.
type recordingExecutor struct {
	stage   domain.Stage
	batches [][]*domain.Task
	panics  bool
}

func (r *recordingExecutor) ProcessBatch(_ context.Context, tasks []*domain.Task) pipeline.BatchResult {
	if r.panics {
		panic("executor blew up")
	}
	r.batches = append(r.batches, tasks)
	return pipeline.BatchResult{Stage: r.stage, Skipped: len(tasks)}
}

// ctxStore rejects writes on a done context the way pgx does.
type ctxStore struct {
	*repository.MemoryStore
}

func (s ctxStore) Save(ctx context.Context, task *domain.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.Save(ctx, task)
}

func (s ctxStore) SaveStageResult(ctx context.Context, result *domain.StageResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.SaveStageResult(ctx, result)
}
