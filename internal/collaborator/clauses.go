// Package collaborator holds the stage collaborators: clause extraction via the
// MinerU API, model review via OpenAI, report storage in MinIO, and local
// deterministic stand-ins used when those services are not configured.
package collaborator

import (
	"regexp"
	"strings"

	"github.com/mtlprog/reviewflow/internal/pipeline"
)

// clauseHeadings match "## 3. Liability", "Article 4 Payment", "5) Term" and similar.
// Group 1 is the clause number, group 2 the title.
var clauseHeadings = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^#{1,6}\s*(?:(?:clause|article|section)\s+)?(\d+(?:\.\d+)*)[.):]?\s+(.+)$`),
	regexp.MustCompile(`(?i)^(?:clause|article|section)\s+(\d+(?:\.\d+)*)[.):]?\s+(.+)$`),
	regexp.MustCompile(`^(\d+(?:\.\d+)*)[.)]\s+(.+)$`),
}

func matchHeading(line string) (number, title string, ok bool) {
	for _, re := range clauseHeadings {
		if m := re.FindStringSubmatch(line); m != nil {
			return m[1], strings.TrimSpace(m[2]), true
		}
	}
	return "", "", false
}

// ParseClauses splits a markdown or plain text contract into numbered clauses.
// A document without numbered headings becomes a single clause "1".
func ParseClauses(source, text string) *pipeline.ClauseSet {
	set := &pipeline.ClauseSet{Source: source}

	var current *pipeline.Clause
	var body []string
	flush := func() {
		if current == nil {
			return
		}
		current.Text = strings.TrimSpace(strings.Join(body, "\n"))
		set.Clauses = append(set.Clauses, *current)
		current, body = nil, nil
	}

	var preamble []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if number, title, ok := matchHeading(trimmed); ok {
			flush()
			current = &pipeline.Clause{Number: number, Title: title}
			continue
		}
		if current == nil {
			preamble = append(preamble, line)
			continue
		}
		body = append(body, line)
	}
	flush()

	if len(set.Clauses) == 0 {
		if text := strings.TrimSpace(strings.Join(preamble, "\n")); text != "" {
			set.Clauses = []pipeline.Clause{{Number: "1", Text: text}}
		}
	}
	return set
}
