package collaborator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/mtlprog/reviewflow/internal/config"
	"github.com/mtlprog/reviewflow/internal/pipeline"
)

const reviewSystemPrompt = `You review commercial contracts. Reply with a JSON object only:
{"risk_level":"LOW|MEDIUM|HIGH","compliant":true|false,"summary":"...",
 "findings":[{"clause_number":"...","severity":"LOW|MEDIUM|HIGH","issue":"...","suggestion":"..."}]}`

var errBadVerdict = errors.New("model returned an unusable verdict")

// OpenAIReviewer reviews clauses with a chat completion model.
type OpenAIReviewer struct {
	client *openai.Client
	model  string
}

// NewOpenAIReviewer creates a reviewer. BaseURL may point at any OpenAI-compatible API.
func NewOpenAIReviewer(cfg config.OpenAIConfig) *OpenAIReviewer {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	model := cfg.Model
	if model == "" {
		model = config.DefaultOpenAIModel
	}
	return &OpenAIReviewer{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
	}
}

// ReviewClauses asks the model for a verdict. A HIGH risk verdict is a normal result.
func (r *OpenAIReviewer) ReviewClauses(ctx context.Context, in pipeline.ReviewInput) (*pipeline.ReviewVerdict, error) {
	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: r.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: reviewSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: reviewPrompt(in)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", errBadVerdict)
	}

	var verdict pipeline.ReviewVerdict
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &verdict); err != nil {
		return nil, fmt.Errorf("%w: %v", errBadVerdict, err)
	}
	verdict.RiskLevel = pipeline.RiskLevel(strings.ToUpper(string(verdict.RiskLevel)))
	if !verdict.RiskLevel.IsValid() {
		return nil, fmt.Errorf("%w: risk level %q", errBadVerdict, verdict.RiskLevel)
	}
	verdict.Model = resp.Model
	return &verdict, nil
}

func reviewPrompt(in pipeline.ReviewInput) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Review type: %s\nContract: %s\n\n", in.Contract.ReviewType, in.Contract.ContractID)
	for _, c := range in.Clauses.Clauses {
		fmt.Fprintf(&sb, "Clause %s", c.Number)
		if c.Title != "" {
			fmt.Fprintf(&sb, " (%s)", c.Title)
		}
		fmt.Fprintf(&sb, ":\n%s\n\n", c.Text)
	}
	return sb.String()
}
