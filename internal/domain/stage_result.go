package domain

import (
	"encoding/json"
	"time"
)

// StageResult is the persisted outcome of one stage execution.
type StageResult struct {
	ID         string
	TaskID     string
	Stage      Stage
	Success    bool
	Output     json.RawMessage
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Decode unmarshals Output into v.
func (r *StageResult) Decode(v any) error {
	return json.Unmarshal(r.Output, v)
}
