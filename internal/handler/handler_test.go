package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"github.com/mtlprog/reviewflow/internal/domain"
	"github.com/mtlprog/reviewflow/internal/handler"
	"github.com/mtlprog/reviewflow/internal/handler/dto"
	"github.com/mtlprog/reviewflow/internal/metrics"
	"github.com/mtlprog/reviewflow/internal/middleware"
	"github.com/mtlprog/reviewflow/internal/repository"
	"github.com/mtlprog/reviewflow/internal/service"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type HandlerTestSuite struct {
	suite.Suite
	store    *repository.MemoryStore
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	pingErr  error
	router   http.Handler
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerTestSuite))
}

func (s *HandlerTestSuite) SetupTest() {
	s.store = repository.NewMemoryStore()
	s.registry = prometheus.NewRegistry()
	s.metrics = metrics.New(s.registry)
	s.pingErr = nil

	h := handler.New(
		service.NewTaskService(s.store, s.store),
		service.NewContractTaskService(s.store, s.store),
		pingerFunc(func(context.Context) error { return s.pingErr }),
		s.registry,
	)
	s.router = h.Routes()
}

// Helper to make a request on behalf of actor.
func (s *HandlerTestSuite) makeRequest(method, path, actor string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set(middleware.HeaderActorID, actor)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *HandlerTestSuite) decode(w *httptest.ResponseRecorder, v any) {
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func (s *HandlerTestSuite) errorCode(w *httptest.ResponseRecorder) string {
	var resp dto.ErrorResponse
	s.decode(w, &resp)
	return resp.Error.Code
}

func (s *HandlerTestSuite) createContractTask() dto.ContractTaskResponse {
	w := s.makeRequest(http.MethodPost, "/api/v1/contract-tasks", "user:alice", map[string]any{
		"contract_id": "C-1",
		"file_ref":    "reviewflow-contracts/c-1.pdf",
		"file_name":   "c-1.pdf",
		"review_type": "RISK",
	})
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	var resp dto.ContractTaskResponse
	s.decode(w, &resp)
	return resp
}

func (s *HandlerTestSuite) TestHealthz() {
	w := s.makeRequest(http.MethodGet, "/healthz", "", nil)
	s.Equal(http.StatusOK, w.Code)

	s.pingErr = errors.New("connection refused")
	w = s.makeRequest(http.MethodGet, "/healthz", "", nil)
	s.Equal(http.StatusServiceUnavailable, w.Code)
}

func (s *HandlerTestSuite) TestMetrics() {
	s.metrics.ObserveSweep("stages", time.Second, nil)

	w := s.makeRequest(http.MethodGet, "/metrics", "", nil)
	s.Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), `reviewflow_sweeps_total{sweep="stages"} 1`)
}

func (s *HandlerTestSuite) TestCreateContractTask() {
	resp := s.createContractTask()

	s.NotEmpty(resp.Task.ID)
	s.Equal(string(domain.TaskTypeContractReview), resp.Task.Type)
	s.Equal(string(domain.TaskStatusPending), resp.Task.Status)
	s.Equal(string(domain.StageClauseExtraction), resp.Task.CurrentStage)
	s.Equal("user:alice", resp.Task.CreatedBy)
	s.Nil(resp.Task.ExecutionDeadlineAt)
	s.Equal("C-1", resp.Contract.ContractID)
	s.Equal("RISK", resp.Contract.ReviewType)
}

func (s *HandlerTestSuite) TestCreateContractTask_DefaultReviewTypeAndPolicy() {
	w := s.makeRequest(http.MethodPost, "/api/v1/contract-tasks", "user:alice", map[string]any{
		"contract_id": "C-2",
		"file_ref":    "c-2.pdf",
		"retry_policy": map[string]any{
			"max_retries":         5,
			"initial_delay_ms":    2000,
			"max_delay_ms":        60000,
			"backoff_multiplier":  2,
			"exponential_backoff": true,
		},
	})
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	var resp dto.ContractTaskResponse
	s.decode(w, &resp)
	s.Equal("STANDARD", resp.Contract.ReviewType)
	s.Equal(5, resp.Task.MaxRetries)
	s.Require().NotNil(resp.Task.RetryPolicy)
	s.Equal(int64(2000), resp.Task.RetryPolicy.InitialDelayMs)
}

func (s *HandlerTestSuite) TestCreateContractTask_MissingActor() {
	w := s.makeRequest(http.MethodPost, "/api/v1/contract-tasks", "", map[string]any{
		"contract_id": "C-1",
		"file_ref":    "c-1.pdf",
	})
	s.Equal(http.StatusUnauthorized, w.Code)
}

func (s *HandlerTestSuite) TestCreateContractTask_InvalidJSON() {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/contract-tasks", strings.NewReader("{"))
	req.Header.Set(middleware.HeaderActorID, "user:alice")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	s.Equal(http.StatusBadRequest, w.Code)
	s.Equal("INVALID_JSON", s.errorCode(w))
}

func (s *HandlerTestSuite) TestCreateContractTask_ValidationErrors() {
	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing contract id", map[string]any{"file_ref": "c.pdf"}},
		{"missing file ref", map[string]any{"contract_id": "C-1"}},
		{"unknown review type", map[string]any{"contract_id": "C-1", "file_ref": "c.pdf", "review_type": "VIBES"}},
		{"negative retries", map[string]any{
			"contract_id":  "C-1",
			"file_ref":     "c.pdf",
			"retry_policy": map[string]any{"max_retries": -1},
		}},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			w := s.makeRequest(http.MethodPost, "/api/v1/contract-tasks", "user:alice", tt.body)
			s.Equal(http.StatusUnprocessableEntity, w.Code, w.Body.String())
			s.Equal("VALIDATION_ERROR", s.errorCode(w))
		})
	}
}

func (s *HandlerTestSuite) TestGetTask() {
	created := s.createContractTask()

	w := s.makeRequest(http.MethodGet, "/api/v1/tasks/"+created.Task.ID, "", nil)
	s.Require().Equal(http.StatusOK, w.Code)

	var resp dto.TaskDetailResponse
	s.decode(w, &resp)
	s.Equal(created.Task.ID, resp.Task.ID)
	s.Require().NotNil(resp.Contract)
	s.Equal("C-1", resp.Contract.ContractID)
}

func (s *HandlerTestSuite) TestGetTask_RunningHasDeadline() {
	created := s.createContractTask()
	ctx := context.Background()

	task, err := s.store.FindByID(ctx, created.Task.ID)
	s.Require().NoError(err)
	s.Require().NoError(task.Start("system:scheduler", time.Now()))
	s.Require().NoError(s.store.Save(ctx, task))

	w := s.makeRequest(http.MethodGet, "/api/v1/tasks/"+task.ID, "", nil)
	s.Require().Equal(http.StatusOK, w.Code)

	var resp dto.TaskDetailResponse
	s.decode(w, &resp)
	s.Equal(string(domain.TaskStatusRunning), resp.Task.Status)
	s.NotNil(resp.Task.ExecutionDeadlineAt)
}

func (s *HandlerTestSuite) TestGetTask_NotFound() {
	w := s.makeRequest(http.MethodGet, "/api/v1/tasks/"+uuid.NewString(), "", nil)
	s.Equal(http.StatusNotFound, w.Code)
	s.Equal("TASK_NOT_FOUND", s.errorCode(w))
}

func (s *HandlerTestSuite) TestGetTask_InvalidID() {
	w := s.makeRequest(http.MethodGet, "/api/v1/tasks/not-a-uuid", "", nil)
	s.Equal(http.StatusBadRequest, w.Code)
	s.Equal("INVALID_REQUEST", s.errorCode(w))
}

func (s *HandlerTestSuite) TestCancelTask() {
	created := s.createContractTask()

	w := s.makeRequest(http.MethodPost, "/api/v1/tasks/"+created.Task.ID+"/cancel", "user:bob",
		dto.CancelTaskRequest{Reason: "contract withdrawn"})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	var resp dto.TaskDetailResponse
	s.decode(w, &resp)
	s.Equal(string(domain.TaskStatusCancelled), resp.Task.Status)
	s.Equal("user:bob", resp.Task.UpdatedBy)

	w = s.makeRequest(http.MethodGet, "/api/v1/tasks/"+created.Task.ID+"/events", "", nil)
	s.Require().Equal(http.StatusOK, w.Code)

	var events dto.TaskEventsResponse
	s.decode(w, &events)
	s.Require().Len(events.Events, 2)
	s.Nil(events.Events[0].OldStatus)
	s.Equal(string(domain.TaskStatusCancelled), events.Events[1].NewStatus)
	s.Equal("user:bob", events.Events[1].ActorID)
	s.Equal("contract withdrawn", events.Events[1].Comment)
}

func (s *HandlerTestSuite) TestCancelTask_Twice() {
	created := s.createContractTask()
	path := "/api/v1/tasks/" + created.Task.ID + "/cancel"

	s.Require().Equal(http.StatusOK, s.makeRequest(http.MethodPost, path, "user:bob", nil).Code)

	w := s.makeRequest(http.MethodPost, path, "user:bob", nil)
	s.Equal(http.StatusConflict, w.Code)
	s.Equal("INVALID_TRANSITION", s.errorCode(w))
}

func (s *HandlerTestSuite) TestCancelTask_MissingActor() {
	created := s.createContractTask()

	w := s.makeRequest(http.MethodPost, "/api/v1/tasks/"+created.Task.ID+"/cancel", "", nil)
	s.Equal(http.StatusUnauthorized, w.Code)
}

func (s *HandlerTestSuite) TestGetTaskResults() {
	created := s.createContractTask()
	now := time.Now().UTC()
	s.Require().NoError(s.store.SaveStageResult(context.Background(), &domain.StageResult{
		ID:         uuid.NewString(),
		TaskID:     created.Task.ID,
		Stage:      domain.StageClauseExtraction,
		Success:    true,
		Output:     json.RawMessage(`{"clauses":[]}`),
		StartedAt:  now,
		FinishedAt: now,
	}))

	w := s.makeRequest(http.MethodGet, "/api/v1/tasks/"+created.Task.ID+"/results", "", nil)
	s.Require().Equal(http.StatusOK, w.Code)

	var resp dto.StageResultsResponse
	s.decode(w, &resp)
	s.Require().Len(resp.Results, 1)
	s.Equal(string(domain.StageClauseExtraction), resp.Results[0].Stage)
	s.True(resp.Results[0].Success)
	s.JSONEq(`{"clauses":[]}`, string(resp.Results[0].Output))
}

func (s *HandlerTestSuite) TestGetTaskResults_NotFound() {
	w := s.makeRequest(http.MethodGet, "/api/v1/tasks/"+uuid.NewString()+"/results", "", nil)
	s.Equal(http.StatusNotFound, w.Code)
}

func (s *HandlerTestSuite) TestGetStats() {
	s.createContractTask()
	second := s.createContractTask()
	s.Require().Equal(http.StatusOK,
		s.makeRequest(http.MethodPost, "/api/v1/tasks/"+second.Task.ID+"/cancel", "user:bob", nil).Code)

	w := s.makeRequest(http.MethodGet, "/api/v1/stats", "", nil)
	s.Require().Equal(http.StatusOK, w.Code)

	var resp dto.StatsResponse
	s.decode(w, &resp)
	s.Equal(2, resp.Total)
	s.Require().Len(resp.Stages, 1)
	s.Equal(string(domain.StageClauseExtraction), resp.Stages[0].Stage)
	s.Equal(1, resp.Stages[0].ByStatus[string(domain.TaskStatusPending)])
	s.Equal(1, resp.Stages[0].ByStatus[string(domain.TaskStatusCancelled)])
}

func (s *HandlerTestSuite) createBareContractTask() *domain.Task {
	task, err := domain.NewTask(domain.TaskTypeContractReview, "user:alice", domain.TaskConfiguration{}, time.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(context.Background(), task))
	return task
}

func (s *HandlerTestSuite) TestAttachContract() {
	task := s.createBareContractTask()
	path := "/api/v1/tasks/" + task.ID + "/contract"
	body := map[string]any{"contract_id": "C-9", "file_ref": "c-9.pdf", "review_type": "COMPLIANCE"}

	w := s.makeRequest(http.MethodPost, path, "user:alice", body)
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	var contract dto.ContractDetail
	s.decode(w, &contract)
	s.Equal("C-9", contract.ContractID)
	s.Equal("COMPLIANCE", contract.ReviewType)

	w = s.makeRequest(http.MethodGet, "/api/v1/tasks/"+task.ID, "", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var detail dto.TaskDetailResponse
	s.decode(w, &detail)
	s.Require().NotNil(detail.Contract)
	s.Equal("C-9", detail.Contract.ContractID)

	w = s.makeRequest(http.MethodPost, path, "user:alice", body)
	s.Equal(http.StatusConflict, w.Code)
	s.Equal("DUPLICATE_CONTRACT_TASK", s.errorCode(w))
}

func (s *HandlerTestSuite) TestAttachContract_Rejects() {
	generic, err := domain.NewTask(domain.TaskTypeGeneric, "user:alice", domain.TaskConfiguration{}, time.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(context.Background(), generic))
	bare := s.createBareContractTask()

	tests := []struct {
		name       string
		taskID     string
		actor      string
		body       map[string]any
		wantStatus int
	}{
		{"missing actor", bare.ID, "", map[string]any{"contract_id": "C", "file_ref": "f"}, http.StatusUnauthorized},
		{"missing file ref", bare.ID, "user:alice", map[string]any{"contract_id": "C"}, http.StatusUnprocessableEntity},
		{"generic task", generic.ID, "user:alice", map[string]any{"contract_id": "C", "file_ref": "f"}, http.StatusUnprocessableEntity},
		{"unknown task", uuid.NewString(), "user:alice", map[string]any{"contract_id": "C", "file_ref": "f"}, http.StatusNotFound},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			w := s.makeRequest(http.MethodPost, "/api/v1/tasks/"+tt.taskID+"/contract", tt.actor, tt.body)
			s.Equal(tt.wantStatus, w.Code, w.Body.String())
		})
	}
}
