package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mtlprog/reviewflow/internal/domain"
)

func TestStage_Next(t *testing.T) {
	tests := []struct {
		stage domain.Stage
		want  domain.Stage
	}{
		{domain.StagePending, domain.StageDocumentParsing},
		{domain.StageDocumentParsing, domain.StageClauseExtraction},
		{domain.StageClauseExtraction, domain.StageModelReview},
		{domain.StageModelReview, domain.StageReportGeneration},
		{domain.StageReportGeneration, domain.StageCompleted},
		{domain.StageCompleted, domain.StageCompleted},
		{domain.StageFailed, domain.StageFailed},
	}
	for _, tt := range tests {
		t.Run(string(tt.stage), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.stage.Next())
			assert.True(t, tt.stage.IsValid())
		})
	}
}

func TestStage_Final(t *testing.T) {
	assert.True(t, domain.StageCompleted.IsFinal())
	assert.False(t, domain.StageFailed.IsFinal())
	assert.False(t, domain.StageReportGeneration.IsFinal())

	assert.True(t, domain.StageFailed.IsTerminal())
	assert.True(t, domain.StageCompleted.IsTerminal())
	assert.False(t, domain.StageModelReview.IsTerminal())

	assert.False(t, domain.Stage("CLASSIFICATION").IsValid())
}
