package collaborator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mtlprog/reviewflow/internal/pipeline"
)

// ReportSink stores a rendered report under key and returns where it went.
type ReportSink interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

type reportDocument struct {
	TaskID      string             `json:"task_id"`
	ContractID  string             `json:"contract_id"`
	ReviewType  string             `json:"review_type"`
	FileRef     string             `json:"file_ref"`
	GeneratedAt time.Time          `json:"generated_at"`
	RiskLevel   pipeline.RiskLevel `json:"risk_level"`
	Compliant   bool               `json:"compliant"`
	Summary     string             `json:"summary"`
	Model       string             `json:"model,omitempty"`
	Findings    []pipeline.Finding `json:"findings"`
	Clauses     []pipeline.Clause  `json:"clauses,omitempty"`
}

// ReportWriter renders the review as JSON and hands it to a sink.
type ReportWriter struct {
	sink ReportSink
	now  func() time.Time
}

// NewReportWriter creates a ReportGenerator writing to sink.
func NewReportWriter(sink ReportSink) *ReportWriter {
	return &ReportWriter{sink: sink, now: time.Now}
}

// GenerateReport implements pipeline.ReportGenerator.
func (w *ReportWriter) GenerateReport(ctx context.Context, in pipeline.ReportInput) (*pipeline.ReportRef, error) {
	doc := reportDocument{
		TaskID:      in.Task.ID,
		ContractID:  in.Contract.ContractID,
		ReviewType:  string(in.Contract.ReviewType),
		FileRef:     in.Contract.FileRef,
		GeneratedAt: w.now().UTC(),
		RiskLevel:   in.Verdict.RiskLevel,
		Compliant:   in.Verdict.Compliant,
		Summary:     in.Verdict.Summary,
		Model:       in.Verdict.Model,
		Findings:    in.Verdict.Findings,
	}
	if doc.Findings == nil {
		doc.Findings = []pipeline.Finding{}
	}
	if in.Clauses != nil {
		doc.Clauses = in.Clauses.Clauses
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}

	key := fmt.Sprintf("%s/%s.json", in.Contract.ContractID, in.Task.ID)
	location, err := w.sink.Put(ctx, key, data, "application/json")
	if err != nil {
		return nil, err
	}

	return &pipeline.ReportRef{
		Location: location,
		Size:     int64(len(data)),
		Summary:  in.Verdict.Summary,
		Risk:     in.Verdict.RiskLevel,
	}, nil
}
