package pipeline

// Clause is one numbered provision of a contract.
type Clause struct {
	Number string `json:"number"`
	Title  string `json:"title,omitempty"`
	Text   string `json:"text"`
}

// ClauseSet is the clause extraction output.
type ClauseSet struct {
	Source  string   `json:"source"`
	Clauses []Clause `json:"clauses"`
}

// RiskLevel grades a review verdict.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Finding is a single issue raised during model review.
type Finding struct {
	ClauseNumber string    `json:"clause_number"`
	Severity     RiskLevel `json:"severity"`
	Issue        string    `json:"issue"`
	Suggestion   string    `json:"suggestion,omitempty"`
}

// ReviewVerdict is the model review output. HIGH risk or non-compliance
// still counts as a successful review.
type ReviewVerdict struct {
	RiskLevel RiskLevel `json:"risk_level"`
	Compliant bool      `json:"compliant"`
	Summary   string    `json:"summary"`
	Findings  []Finding `json:"findings,omitempty"`
	Model     string    `json:"model,omitempty"`
}

// ReportRef points at a stored report.
type ReportRef struct {
	Location string    `json:"location"`
	Size     int64     `json:"size"`
	Summary  string    `json:"summary"`
	Risk     RiskLevel `json:"risk_level"`
}

// IsValid reports whether r is a known risk level.
func (r RiskLevel) IsValid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	}
	return false
}
