package dto

import (
	"encoding/json"
	"time"

	"github.com/mtlprog/reviewflow/internal/domain"
	"github.com/mtlprog/reviewflow/internal/repository"
	"github.com/mtlprog/reviewflow/internal/service"
)

// TaskDetail represents the full task object.
type TaskDetail struct {
	ID                  string             `json:"id"`
	Type                string             `json:"type"`
	Status              string             `json:"status"`
	CurrentStage        string             `json:"current_stage"`
	RetryCount          int                `json:"retry_count"`
	MaxRetries          int                `json:"max_retries"`
	TimeoutSeconds      int                `json:"timeout_seconds"`
	ErrorMessage        string             `json:"error_message,omitempty"`
	StartedAt           *time.Time         `json:"started_at"`
	CompletedAt         *time.Time         `json:"completed_at"`
	NextRetryAt         *time.Time         `json:"next_retry_at"`
	ExecutionDeadlineAt *time.Time         `json:"execution_deadline_at"`
	RetryPolicy         *RetryPolicyParams `json:"retry_policy,omitempty"`
	Settings            map[string]string  `json:"settings,omitempty"`
	CreatedBy           string             `json:"created_by"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedBy           string             `json:"updated_by"`
	UpdatedAt           time.Time          `json:"updated_at"`
	Version             int64              `json:"version"`
}

// ContractDetail represents the contract attributes of a task.
type ContractDetail struct {
	ContractID string    `json:"contract_id"`
	FileRef    string    `json:"file_ref"`
	FileName   string    `json:"file_name"`
	ReviewType string    `json:"review_type"`
	CreatedAt  time.Time `json:"created_at"`
}

// ContractTaskResponse is returned when a contract review is created.
type ContractTaskResponse struct {
	Task     TaskDetail     `json:"task"`
	Contract ContractDetail `json:"contract"`
}

// TaskDetailResponse represents a task with its contract attributes, when it has them.
type TaskDetailResponse struct {
	Task     TaskDetail      `json:"task"`
	Contract *ContractDetail `json:"contract"`
}

// TaskEventInfo represents one audit trail entry.
type TaskEventInfo struct {
	ID        string    `json:"id"`
	ActorID   string    `json:"actor_id"`
	OldStatus *string   `json:"old_status"`
	NewStatus string    `json:"new_status"`
	OldStage  *string   `json:"old_stage"`
	NewStage  string    `json:"new_stage"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
}

// TaskEventsResponse represents the response for GET /tasks/:id/events.
type TaskEventsResponse struct {
	TaskID string          `json:"task_id"`
	Events []TaskEventInfo `json:"events"`
}

// StageResultInfo represents one recorded stage execution.
type StageResultInfo struct {
	ID         string          `json:"id"`
	Stage      string          `json:"stage"`
	Success    bool            `json:"success"`
	Output     json.RawMessage `json:"output,omitempty"`
	Error      string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// StageResultsResponse represents the response for GET /tasks/:id/results.
type StageResultsResponse struct {
	TaskID  string            `json:"task_id"`
	Results []StageResultInfo `json:"results"`
}

// StageStats holds task counts of one stage keyed by status.
type StageStats struct {
	Stage    string         `json:"stage"`
	ByStatus map[string]int `json:"by_status"`
	Total    int            `json:"total"`
}

// StatsResponse represents the response for GET /stats.
type StatsResponse struct {
	Stages []StageStats `json:"stages"`
	Total  int          `json:"total"`
}

// ToTaskDetail converts a domain task to its API form.
func ToTaskDetail(t *domain.Task) TaskDetail {
	detail := TaskDetail{
		ID:                  t.ID,
		Type:                string(t.Type),
		Status:              string(t.Status),
		CurrentStage:        string(t.CurrentStage),
		RetryCount:          t.RetryCount,
		MaxRetries:          t.MaxRetries,
		TimeoutSeconds:      t.TimeoutSeconds,
		ErrorMessage:        t.ErrorMessage,
		StartedAt:           t.StartedAt,
		CompletedAt:         t.CompletedAt,
		NextRetryAt:         t.NextRetryAt,
		ExecutionDeadlineAt: service.ExecutionDeadline(t),
		Settings:            t.Configuration.Settings,
		CreatedBy:           t.CreatedBy,
		CreatedAt:           t.CreatedAt,
		UpdatedBy:           t.UpdatedBy,
		UpdatedAt:           t.UpdatedAt,
		Version:             t.Version,
	}
	if p := t.Configuration.RetryPolicy; p != nil {
		detail.RetryPolicy = &RetryPolicyParams{
			MaxRetries:         p.MaxRetries,
			InitialDelayMs:     p.InitialDelay.Milliseconds(),
			MaxDelayMs:         p.MaxDelay.Milliseconds(),
			BackoffMultiplier:  p.BackoffMultiplier,
			ExponentialBackoff: p.ExponentialBackoff,
		}
	}
	return detail
}

// ToContractDetail converts contract details to their API form.
func ToContractDetail(d *domain.ContractTaskDetails) ContractDetail {
	return ContractDetail{
		ContractID: d.ContractID,
		FileRef:    d.FileRef,
		FileName:   d.FileName,
		ReviewType: string(d.ReviewType),
		CreatedAt:  d.CreatedAt,
	}
}

// ToTaskEventInfo converts an audit event to its API form.
func ToTaskEventInfo(e *domain.TaskEvent) TaskEventInfo {
	info := TaskEventInfo{
		ID:        e.ID,
		ActorID:   e.ActorID,
		NewStatus: string(e.NewStatus),
		NewStage:  string(e.NewStage),
		Comment:   e.Comment,
		CreatedAt: e.CreatedAt,
	}
	if e.OldStatus != nil {
		s := string(*e.OldStatus)
		info.OldStatus = &s
	}
	if e.OldStage != nil {
		s := string(*e.OldStage)
		info.OldStage = &s
	}
	return info
}

// ToStageResultInfo converts a stage result to its API form.
func ToStageResultInfo(r *domain.StageResult) StageResultInfo {
	return StageResultInfo{
		ID:         r.ID,
		Stage:      string(r.Stage),
		Success:    r.Success,
		Output:     r.Output,
		Error:      r.Error,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
}

// ToStatsResponse folds flat stage/status counts into per-stage totals.
func ToStatsResponse(counts []repository.StageStatusCount) StatsResponse {
	resp := StatsResponse{Stages: []StageStats{}}
	index := make(map[domain.Stage]int)
	for _, c := range counts {
		i, ok := index[c.Stage]
		if !ok {
			i = len(resp.Stages)
			index[c.Stage] = i
			resp.Stages = append(resp.Stages, StageStats{
				Stage:    string(c.Stage),
				ByStatus: make(map[string]int),
			})
		}
		resp.Stages[i].ByStatus[string(c.Status)] += c.Count
		resp.Stages[i].Total += c.Count
		resp.Total += c.Count
	}
	return resp
}
