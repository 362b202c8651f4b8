package domain

// Stage is a task's position in the review pipeline.
type Stage string

const (
	StagePending          Stage = "PENDING"
	StageDocumentParsing  Stage = "DOCUMENT_PARSING"
	StageClauseExtraction Stage = "CLAUSE_EXTRACTION"
	StageModelReview      Stage = "MODEL_REVIEW"
	StageReportGeneration Stage = "REPORT_GENERATION"
	StageCompleted        Stage = "COMPLETED"
	StageFailed           Stage = "FAILED"
)

// pipeline is the forward order of working stages.
var pipeline = []Stage{
	StagePending,
	StageDocumentParsing,
	StageClauseExtraction,
	StageModelReview,
	StageReportGeneration,
	StageCompleted,
}

// Next returns the following stage. COMPLETED and FAILED map to themselves.
func (s Stage) Next() Stage {
	for i, stage := range pipeline {
		if stage == s && i+1 < len(pipeline) {
			return pipeline[i+1]
		}
	}
	return s
}

// IsFinal is true only for COMPLETED.
func (s Stage) IsFinal() bool {
	return s == StageCompleted
}

// IsTerminal is true for stages no sweep should dispatch.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed
}

// IsValid checks if the stage is one of the allowed values.
func (s Stage) IsValid() bool {
	if s == StageFailed {
		return true
	}
	for _, stage := range pipeline {
		if stage == s {
			return true
		}
	}
	return false
}
