package collaborator

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/mtlprog/reviewflow/internal/pipeline"
)

// LocalExtractor reads contract files from a directory and parses them as text.
type LocalExtractor struct {
	files fs.FS
}

// NewLocalExtractor serves file references relative to dir.
func NewLocalExtractor(dir string) *LocalExtractor {
	return &LocalExtractor{files: os.DirFS(dir)}
}

// ExtractClauses implements pipeline.ClauseExtractor.
func (l *LocalExtractor) ExtractClauses(_ context.Context, in pipeline.ExtractionInput) (*pipeline.ClauseSet, error) {
	name := path.Clean(strings.TrimPrefix(in.Contract.FileRef, "/"))
	data, err := fs.ReadFile(l.files, name)
	if err != nil {
		return nil, fmt.Errorf("read contract file %s: %w", in.Contract.FileRef, err)
	}
	return ParseClauses(in.Contract.FileRef, string(data)), nil
}

type riskRule struct {
	phrase     string
	severity   pipeline.RiskLevel
	issue      string
	suggestion string
}

var riskRules = []riskRule{
	{"unlimited liability", pipeline.RiskHigh, "liability is not capped", "cap liability at the contract value"},
	{"liability is unlimited", pipeline.RiskHigh, "liability is not capped", "cap liability at the contract value"},
	{"without notice", pipeline.RiskHigh, "termination without notice", "require at least 30 days notice"},
	{"indemnify", pipeline.RiskMedium, "broad indemnity", "limit indemnity to third-party claims"},
	{"renews automatically", pipeline.RiskMedium, "automatic renewal", "add an opt-out window before renewal"},
	{"auto-renew", pipeline.RiskMedium, "automatic renewal", "add an opt-out window before renewal"},
	{"exclusive", pipeline.RiskMedium, "exclusivity obligation", "narrow exclusivity scope and term"},
	{"governing law", pipeline.RiskLow, "governing law clause present", ""},
}

var riskOrder = map[pipeline.RiskLevel]int{
	pipeline.RiskLow:    0,
	pipeline.RiskMedium: 1,
	pipeline.RiskHigh:   2,
}

// LocalReviewer grades clauses with a fixed phrase list.
type LocalReviewer struct{}

// NewLocalReviewer creates a LocalReviewer.
func NewLocalReviewer() *LocalReviewer {
	return &LocalReviewer{}
}

// ReviewClauses implements pipeline.ModelReviewer.
func (LocalReviewer) ReviewClauses(_ context.Context, in pipeline.ReviewInput) (*pipeline.ReviewVerdict, error) {
	verdict := &pipeline.ReviewVerdict{
		RiskLevel: pipeline.RiskLow,
		Compliant: true,
		Model:     "local-rules",
	}

	for _, clause := range in.Clauses.Clauses {
		text := strings.ToLower(clause.Title + " " + clause.Text)
		for _, rule := range riskRules {
			if !strings.Contains(text, rule.phrase) {
				continue
			}
			verdict.Findings = append(verdict.Findings, pipeline.Finding{
				ClauseNumber: clause.Number,
				Severity:     rule.severity,
				Issue:        rule.issue,
				Suggestion:   rule.suggestion,
			})
			if riskOrder[rule.severity] > riskOrder[verdict.RiskLevel] {
				verdict.RiskLevel = rule.severity
			}
		}
	}

	verdict.Compliant = verdict.RiskLevel != pipeline.RiskHigh
	verdict.Summary = fmt.Sprintf("%d clauses reviewed, %d findings, overall risk %s",
		len(in.Clauses.Clauses), len(verdict.Findings), verdict.RiskLevel)
	return verdict, nil
}

// DirSink writes reports below a local directory.
type DirSink struct {
	dir string
}

// NewDirSink creates a DirSink rooted at dir.
func NewDirSink(dir string) *DirSink {
	return &DirSink{dir: dir}
}

// Put writes data to dir/key and returns the file path.
func (d *DirSink) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	target := filepath.Join(d.dir, filepath.FromSlash(path.Clean("/" + key)))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("create report directory: %w", err)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return target, nil
}
