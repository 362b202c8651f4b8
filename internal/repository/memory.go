package repository

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/mtlprog/reviewflow/internal/domain"
)

// MemoryStore is an in-process store with the same optimistic-version semantics
// as the Postgres repositories. It serves local runs and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	tasks     map[string]*domain.Task
	events    map[string][]*domain.TaskEvent
	results   map[string][]*domain.StageResult
	contracts map[string][]*domain.ContractTaskDetails
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:     make(map[string]*domain.Task),
		events:    make(map[string][]*domain.TaskEvent),
		results:   make(map[string][]*domain.StageResult),
		contracts: make(map[string][]*domain.ContractTaskDetails),
	}
}

// Create inserts a new task. Version starts at 1.
func (s *MemoryStore) Create(_ context.Context, task *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(task)
}

func (s *MemoryStore) createLocked(task *domain.Task) error {
	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("create task: task %s already exists", task.ID)
	}
	task.Version = 1
	s.tasks[task.ID] = task.Clone()
	s.events[task.ID] = append(s.events[task.ID], domain.NewTaskEvent(task, nil, nil))
	return nil
}

// FindByID retrieves a copy of a task.
func (s *MemoryStore) FindByID(_ context.Context, taskID string) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	return task.Clone(), nil
}

func (s *MemoryStore) filter(keep func(*domain.Task) bool) []*domain.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tasks []*domain.Task
	for _, task := range s.tasks {
		if keep(task) {
			tasks = append(tasks, task.Clone())
		}
	}
	slices.SortFunc(tasks, func(a, b *domain.Task) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return tasks
}

// FindNonFinalStageTasks returns tasks a stage executor can pick up, oldest first.
func (s *MemoryStore) FindNonFinalStageTasks(_ context.Context) ([]*domain.Task, error) {
	return s.filter(func(t *domain.Task) bool { return t.IsDispatchable() }), nil
}

// FindByStatus returns all tasks in the given status, oldest first.
func (s *MemoryStore) FindByStatus(_ context.Context, status domain.TaskStatus) ([]*domain.Task, error) {
	return s.filter(func(t *domain.Task) bool { return t.Status == status }), nil
}

// Save writes the task if task.Version matches the stored version.
func (s *MemoryStore) Save(_ context.Context, task *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.tasks[task.ID]
	if !ok {
		return domain.ErrTaskNotFound
	}
	if current.Version != task.Version {
		return fmt.Errorf("%w: task %s has version %d, update based on %d",
			domain.ErrVersionConflict, task.ID, current.Version, task.Version)
	}

	if current.Status != task.Status || current.CurrentStage != task.CurrentStage {
		oldStatus, oldStage := current.Status, current.CurrentStage
		s.events[task.ID] = append(s.events[task.ID], domain.NewTaskEvent(task, &oldStatus, &oldStage))
	}

	task.Version++
	s.tasks[task.ID] = task.Clone()
	return nil
}

// ListEvents returns the audit events of a task, oldest first.
func (s *MemoryStore) ListEvents(_ context.Context, taskID string) ([]*domain.TaskEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.events[taskID]), nil
}

// CountByStageAndStatus returns current task counts grouped by stage and status.
func (s *MemoryStore) CountByStageAndStatus(_ context.Context) ([]StageStatusCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type key struct {
		stage  domain.Stage
		status domain.TaskStatus
	}
	counts := make(map[key]int)
	for _, task := range s.tasks {
		counts[key{task.CurrentStage, task.Status}]++
	}

	results := make([]StageStatusCount, 0, len(counts))
	for k, n := range counts {
		results = append(results, StageStatusCount{Stage: k.stage, Status: k.status, Count: n})
	}
	slices.SortFunc(results, func(a, b StageStatusCount) int {
		if c := cmp.Compare(a.Stage, b.Stage); c != 0 {
			return c
		}
		return cmp.Compare(a.Status, b.Status)
	})
	return results, nil
}

// SaveStageResult appends a stage result.
func (s *MemoryStore) SaveStageResult(_ context.Context, result *domain.StageResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := *result
	r.Output = slices.Clone(result.Output)
	s.results[result.TaskID] = append(s.results[result.TaskID], &r)
	return nil
}

// LatestStageResult returns the newest successful result of a stage for a task.
func (s *MemoryStore) LatestStageResult(_ context.Context, taskID string, stage domain.Stage) (*domain.StageResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.StageResult
	for _, r := range s.results[taskID] {
		if r.Stage != stage || !r.Success {
			continue
		}
		if latest == nil || !r.FinishedAt.Before(latest.FinishedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: task %s stage %s", domain.ErrStageResultNotFound, taskID, stage)
	}
	c := *latest
	return &c, nil
}

// ListStageResults returns every result recorded for a task.
func (s *MemoryStore) ListStageResults(_ context.Context, taskID string) ([]*domain.StageResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.results[taskID]), nil
}

// CreateTaskWithContract inserts a task and its contract details atomically.
func (s *MemoryStore) CreateTaskWithContract(_ context.Context, task *domain.Task, details *domain.ContractTaskDetails) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.createLocked(task); err != nil {
		return err
	}
	d := *details
	s.contracts[task.ID] = append(s.contracts[task.ID], &d)
	return nil
}

// InsertContractDetails attaches contract details to an existing task.
func (s *MemoryStore) InsertContractDetails(_ context.Context, details *domain.ContractTaskDetails) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[details.TaskID]; !ok {
		return domain.ErrTaskNotFound
	}
	d := *details
	s.contracts[details.TaskID] = append(s.contracts[details.TaskID], &d)
	return nil
}

// FindContractDetails returns every contract row recorded for a task.
func (s *MemoryStore) FindContractDetails(_ context.Context, taskID string) ([]*domain.ContractTaskDetails, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	details := make([]*domain.ContractTaskDetails, 0, len(s.contracts[taskID]))
	for _, d := range s.contracts[taskID] {
		c := *d
		details = append(details, &c)
	}
	return details, nil
}
