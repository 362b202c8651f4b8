package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/mtlprog/reviewflow/internal/domain"
)

var errNilOutput = errors.New("collaborator returned no output")

// NewClauseExtractionExecutor builds the CLAUSE_EXTRACTION stage executor.
func NewClauseExtractionExecutor(deps Deps, extractor ClauseExtractor) *StageExecutor {
	return NewStageExecutor(deps, domain.StageClauseExtraction, "",
		func(ctx context.Context, task *domain.Task, _ *domain.StageResult) (any, error) {
			contract, err := deps.Contracts.ContractDetails(ctx, task.ID)
			if err != nil {
				return nil, err
			}

			clauses, err := extractor.ExtractClauses(ctx, ExtractionInput{Task: task, Contract: contract})
			if err != nil {
				return nil, fmt.Errorf("extract clauses: %w", err)
			}
			if clauses == nil {
				return nil, fmt.Errorf("extract clauses: %w", errNilOutput)
			}
			return clauses, nil
		})
}

// NewModelReviewExecutor builds the MODEL_REVIEW stage executor.
func NewModelReviewExecutor(deps Deps, reviewer ModelReviewer) *StageExecutor {
	return NewStageExecutor(deps, domain.StageModelReview, domain.StageClauseExtraction,
		func(ctx context.Context, task *domain.Task, prior *domain.StageResult) (any, error) {
			contract, err := deps.Contracts.ContractDetails(ctx, task.ID)
			if err != nil {
				return nil, err
			}

			var clauses ClauseSet
			if err := prior.Decode(&clauses); err != nil {
				return nil, fmt.Errorf("decode clause extraction result: %w", err)
			}

			verdict, err := reviewer.ReviewClauses(ctx, ReviewInput{Task: task, Contract: contract, Clauses: &clauses})
			if err != nil {
				return nil, fmt.Errorf("review clauses: %w", err)
			}
			if verdict == nil {
				return nil, fmt.Errorf("review clauses: %w", errNilOutput)
			}
			return verdict, nil
		})
}

// NewReportGenerationExecutor builds the REPORT_GENERATION stage executor.
func NewReportGenerationExecutor(deps Deps, generator ReportGenerator) *StageExecutor {
	return NewStageExecutor(deps, domain.StageReportGeneration, domain.StageModelReview,
		func(ctx context.Context, task *domain.Task, prior *domain.StageResult) (any, error) {
			contract, err := deps.Contracts.ContractDetails(ctx, task.ID)
			if err != nil {
				return nil, err
			}

			var verdict ReviewVerdict
			if err := prior.Decode(&verdict); err != nil {
				return nil, fmt.Errorf("decode model review result: %w", err)
			}

			in := ReportInput{Task: task, Contract: contract, Verdict: &verdict}
			if extraction, err := deps.Results.LatestStageResult(ctx, task.ID, domain.StageClauseExtraction); err == nil {
				var clauses ClauseSet
				if err := extraction.Decode(&clauses); err == nil {
					in.Clauses = &clauses
				}
			}

			report, err := generator.GenerateReport(ctx, in)
			if err != nil {
				return nil, fmt.Errorf("generate report: %w", err)
			}
			if report == nil {
				return nil, fmt.Errorf("generate report: %w", errNilOutput)
			}
			return report, nil
		})
}
