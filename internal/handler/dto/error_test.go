package dto_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mtlprog/reviewflow/internal/domain"
	"github.com/mtlprog/reviewflow/internal/handler/dto"
	"github.com/mtlprog/reviewflow/internal/repository"
)

func TestMapDomainError(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{domain.ErrTaskNotFound, http.StatusNotFound, "TASK_NOT_FOUND"},
		{&domain.TransitionError{TaskID: "t", From: domain.TaskStatusCancelled, To: domain.TaskStatusCancelled}, http.StatusConflict, "INVALID_TRANSITION"},
		{fmt.Errorf("save: %w", domain.ErrVersionConflict), http.StatusConflict, "VERSION_CONFLICT"},
		{domain.ErrDuplicateContractTask, http.StatusConflict, "DUPLICATE_CONTRACT_TASK"},
		{domain.ErrContractTaskNotFound, http.StatusNotFound, "CONTRACT_TASK_NOT_FOUND"},
		{domain.ErrMissingActor, http.StatusUnauthorized, "MISSING_ACTOR"},
		{fmt.Errorf("%w: contract_id is required", domain.ErrInvalidRequest), http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{domain.ErrInvalidRetryPolicy, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.wantCode, func(t *testing.T) {
			status, code, message := dto.MapDomainError(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.err.Error(), message)
		})
	}
}

func TestMapDomainError_HidesUnknownErrors(t *testing.T) {
	status, code, message := dto.MapDomainError(errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "INTERNAL_ERROR", code)
	assert.NotContains(t, message, "password")
}

func TestToStatsResponse(t *testing.T) {
	resp := dto.ToStatsResponse([]repository.StageStatusCount{
		{Stage: domain.StageClauseExtraction, Status: domain.TaskStatusPending, Count: 2},
		{Stage: domain.StageModelReview, Status: domain.TaskStatusFailed, Count: 1},
		{Stage: domain.StageClauseExtraction, Status: domain.TaskStatusRunning, Count: 3},
	})

	assert.Equal(t, 6, resp.Total)
	assert.Len(t, resp.Stages, 2)
	assert.Equal(t, string(domain.StageClauseExtraction), resp.Stages[0].Stage)
	assert.Equal(t, 5, resp.Stages[0].Total)
	assert.Equal(t, 3, resp.Stages[0].ByStatus[string(domain.TaskStatusRunning)])
}

func TestToStatsResponse_Empty(t *testing.T) {
	resp := dto.ToStatsResponse(nil)
	assert.NotNil(t, resp.Stages)
	assert.Zero(t, resp.Total)
}
