package collaborator_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtlprog/reviewflow/internal/collaborator"
)

const sampleContract = `# Master Services Agreement

Between Acme Ltd and Example LLC.

## 1. Term
This agreement runs for twelve months.
It renews automatically.

## 2. Liability
Supplier liability is unlimited.

Article 3 Payment
Invoices are due in 30 days.
`

func TestParseClauses(t *testing.T) {
	set := collaborator.ParseClauses("contracts/msa.md", sampleContract)

	assert.Equal(t, "contracts/msa.md", set.Source)
	require.Len(t, set.Clauses, 3)

	assert.Equal(t, "1", set.Clauses[0].Number)
	assert.Equal(t, "Term", set.Clauses[0].Title)
	assert.Equal(t, "This agreement runs for twelve months.\nIt renews automatically.", set.Clauses[0].Text)

	assert.Equal(t, "2", set.Clauses[1].Number)
	assert.Equal(t, "Liability", set.Clauses[1].Title)

	assert.Equal(t, "3", set.Clauses[2].Number)
	assert.Equal(t, "Payment", set.Clauses[2].Title)
	assert.Equal(t, "Invoices are due in 30 days.", set.Clauses[2].Text)
}

func TestParseClauses_NoHeadings(t *testing.T) {
	set := collaborator.ParseClauses("memo.txt", "\nThe parties agree to cooperate.\n")
	require.Len(t, set.Clauses, 1)
	assert.Equal(t, "1", set.Clauses[0].Number)
	assert.Equal(t, "The parties agree to cooperate.", set.Clauses[0].Text)
}

func TestParseClauses_Empty(t *testing.T) {
	assert.Empty(t, collaborator.ParseClauses("empty.txt", "  \n").Clauses)
}
