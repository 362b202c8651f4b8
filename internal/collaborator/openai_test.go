package collaborator_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtlprog/reviewflow/internal/collaborator"
	"github.com/mtlprog/reviewflow/internal/config"
	"github.com/mtlprog/reviewflow/internal/domain"
	"github.com/mtlprog/reviewflow/internal/pipeline"
)

func chatServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "review-model", req["model"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "review-model-2026",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]string{"role": "assistant", "content": content},
			}},
		})
	}))
}

func reviewInput() pipeline.ReviewInput {
	return pipeline.ReviewInput{
		Task:     &domain.Task{ID: "task-1"},
		Contract: &domain.ContractTaskDetails{ContractID: "c-1", ReviewType: domain.ReviewTypeRisk},
		Clauses: &pipeline.ClauseSet{Clauses: []pipeline.Clause{
			{Number: "2", Title: "Liability", Text: "Supplier liability is unlimited."},
		}},
	}
}

func TestOpenAIReviewer_HighRiskVerdict(t *testing.T) {
	server := chatServer(t, `{"risk_level":"high","compliant":false,"summary":"unlimited liability",
		"findings":[{"clause_number":"2","severity":"HIGH","issue":"unlimited liability"}]}`)
	defer server.Close()

	reviewer := collaborator.NewOpenAIReviewer(config.OpenAIConfig{
		APIKey:  "sk-test",
		BaseURL: server.URL + "/v1/",
		Model:   "review-model",
	})

	verdict, err := reviewer.ReviewClauses(context.Background(), reviewInput())
	require.NoError(t, err)
	assert.Equal(t, pipeline.RiskHigh, verdict.RiskLevel)
	assert.False(t, verdict.Compliant)
	require.Len(t, verdict.Findings, 1)
	assert.Equal(t, "2", verdict.Findings[0].ClauseNumber)
	assert.Equal(t, "review-model-2026", verdict.Model)
}

func TestOpenAIReviewer_RejectsGarbage(t *testing.T) {
	for name, content := range map[string]string{
		"not json":     "looks fine to me",
		"unknown risk": `{"risk_level":"SEVERE","summary":"?"}`,
	} {
		t.Run(name, func(t *testing.T) {
			server := chatServer(t, content)
			defer server.Close()

			reviewer := collaborator.NewOpenAIReviewer(config.OpenAIConfig{
				APIKey:  "sk-test",
				BaseURL: server.URL + "/v1",
				Model:   "review-model",
			})
			_, err := reviewer.ReviewClauses(context.Background(), reviewInput())
			assert.Error(t, err)
		})
	}
}
