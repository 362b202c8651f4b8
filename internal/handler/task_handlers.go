package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/mtlprog/reviewflow/internal/domain"
	"github.com/mtlprog/reviewflow/internal/handler/dto"
	"github.com/mtlprog/reviewflow/internal/middleware"
)

const maxRequestBody = 1 << 20

// handleCreateContractTask registers a contract for review.
func (h *Handler) handleCreateContractTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actorID, err := middleware.GetActorFromContext(ctx)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	var req dto.CreateContractTaskRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	task, details, err := h.contractService.Create(ctx, actorID, req.ToParams())
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, dto.ContractTaskResponse{
		Task:     dto.ToTaskDetail(task),
		Contract: dto.ToContractDetail(details),
	})
}

// handleGetTask returns a task and, for contract reviews, its contract details.
func (h *Handler) handleGetTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	taskID, ok := extractTaskID(w, r)
	if !ok {
		return
	}

	task, err := h.taskService.Get(ctx, taskID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	resp := dto.TaskDetailResponse{Task: dto.ToTaskDetail(task)}
	if task.Type == domain.TaskTypeContractReview {
		details, err := h.contractService.ContractDetails(ctx, taskID)
		switch {
		case err == nil:
			contract := dto.ToContractDetail(details)
			resp.Contract = &contract
		case errors.Is(err, domain.ErrContractTaskNotFound):
		default:
			respondDomainError(w, err)
			return
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

// handleGetTaskEvents returns the audit trail of a task.
func (h *Handler) handleGetTaskEvents(w http.ResponseWriter, r *http.Request) {
	taskID, ok := extractTaskID(w, r)
	if !ok {
		return
	}

	events, err := h.taskService.Events(r.Context(), taskID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	resp := dto.TaskEventsResponse{TaskID: taskID, Events: make([]dto.TaskEventInfo, 0, len(events))}
	for _, e := range events {
		resp.Events = append(resp.Events, dto.ToTaskEventInfo(e))
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleGetTaskResults returns every recorded stage execution of a task.
func (h *Handler) handleGetTaskResults(w http.ResponseWriter, r *http.Request) {
	taskID, ok := extractTaskID(w, r)
	if !ok {
		return
	}

	results, err := h.taskService.Results(r.Context(), taskID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	resp := dto.StageResultsResponse{TaskID: taskID, Results: make([]dto.StageResultInfo, 0, len(results))}
	for _, res := range results {
		resp.Results = append(resp.Results, dto.ToStageResultInfo(res))
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleAttachContract attaches contract details to a contract review task
// that has none yet.
func (h *Handler) handleAttachContract(w http.ResponseWriter, r *http.Request) {
	taskID, ok := extractTaskID(w, r)
	if !ok {
		return
	}

	var req dto.AttachContractRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	details := req.ToDetails(taskID)
	if err := h.contractService.Attach(r.Context(), details); err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, dto.ToContractDetail(details))
}

// handleCancelTask cancels a task on behalf of the calling actor.
func (h *Handler) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actorID, err := middleware.GetActorFromContext(ctx)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	taskID, ok := extractTaskID(w, r)
	if !ok {
		return
	}

	var req dto.CancelTaskRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			respondError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
			return
		}
	}

	task, err := h.taskService.Cancel(ctx, taskID, actorID, req.Reason)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.TaskDetailResponse{Task: dto.ToTaskDetail(task)})
}

// handleGetStats returns task counts grouped by stage and status.
func (h *Handler) handleGetStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.taskService.Stats(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToStatsResponse(counts))
}
