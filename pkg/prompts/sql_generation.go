package prompts

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/ekaya-inc/ekaya-finsight/pkg/models"
	"github.com/ekaya-inc/ekaya-finsight/pkg/warehouse"
)

// SQLPromptInput is everything fused into one SQL generation request.
type SQLPromptInput struct {
	Question string
	Dialect  string
	// Table is the qualified fact table reference.
	Table         string
	Schema        []warehouse.TableSchema
	QueryContext  *models.QueryContext
	GLContext     *models.GLQueryContext
	GLFilter      string
	Examples      []models.SQLExample
	PriorAnalysis string
}

// BuildSQLGenerationPrompt renders the user prompt for SQL generation.
func BuildSQLGenerationPrompt(in SQLPromptInput) string {
	var prompt strings.Builder

	prompt.WriteString("# Financial SQL Generation\n\n")
	prompt.WriteString(fmt.Sprintf("Write one %s SELECT statement that answers:\n\n> %s\n\n", dialectName(in.Dialect), in.Question))
	prompt.WriteString(fmt.Sprintf("Primary table: %s\n\n", in.Table))

	if len(in.Schema) > 0 {
		prompt.WriteString("## Schema\n\n")
		for _, t := range in.Schema {
			prompt.WriteString(fmt.Sprintf("### %s\n", t.Name))
			for _, c := range t.Columns {
				prompt.WriteString(fmt.Sprintf("- %s (%s)\n", c.Name, c.DataType))
			}
			prompt.WriteString("\n")
		}
	}

	if qc := in.QueryContext; qc != nil {
		prompt.WriteString("## Question Analysis\n\n")
		prompt.WriteString(fmt.Sprintf("- Query type: %s\n", qc.QueryType))
		if qc.HierarchyLevel != "" {
			prompt.WriteString(fmt.Sprintf("- Hierarchy level: %s\n", qc.HierarchyLevel))
		}
		prompt.WriteString(fmt.Sprintf("- Intent: %s\n", qc.Intent))
		for _, m := range qc.Metrics {
			prompt.WriteString(fmt.Sprintf("- Metric: %s (%s)\n", m.Name, m.Code))
		}
		if qc.TimePeriod != nil {
			prompt.WriteString(fmt.Sprintf("- Time period: %s, filter `%s`\n", qc.TimePeriod.Text, qc.TimePeriod.SQLFilter))
		}
		if len(qc.Dimensions) > 0 {
			prompt.WriteString(fmt.Sprintf("- Group by: %s\n", strings.Join(qc.Dimensions, ", ")))
		}
		if qc.Comparison != "" {
			prompt.WriteString(fmt.Sprintf("- Comparison: %s\n", qc.Comparison))
		}
		for _, k := range sortedKeys(qc.Filters) {
			prompt.WriteString(fmt.Sprintf("- Filter: %s = '%s'\n", k, qc.Filters[k]))
		}
		if len(qc.GLSearchTerms) > 0 {
			prompt.WriteString(fmt.Sprintf("- GL search terms: %s\n", strings.Join(qc.GLSearchTerms, ", ")))
		}
		prompt.WriteString("\n")

		if len(qc.LLMContext) > 0 {
			if b, err := json.MarshalIndent(qc.LLMContext, "", "  "); err == nil {
				prompt.WriteString("## Metric Definitions\n\n```json\n")
				prompt.Write(b)
				prompt.WriteString("\n```\n\n")
			}
		}
	}

	if glc := in.GLContext; glc != nil && (len(glc.RequiredBuckets) > 0 || len(glc.GLAccounts) > 0) {
		prompt.WriteString("## General Ledger Context\n\n")
		if len(glc.IdentifiedConcepts) > 0 {
			prompt.WriteString(fmt.Sprintf("- Concepts: %s\n", strings.Join(glc.IdentifiedConcepts, ", ")))
		}
		if len(glc.RequiredBuckets) > 0 {
			prompt.WriteString(fmt.Sprintf("- Buckets: %s\n", strings.Join(glc.RequiredBuckets, ", ")))
		}
		if len(glc.GLAccounts) > 0 {
			prompt.WriteString(fmt.Sprintf("- GL accounts: %s\n", strings.Join(glc.GLAccounts, ", ")))
		}
		if glc.IsBreakdown {
			prompt.WriteString("- Break the result down by bucket and include each bucket's percentage of the total\n")
		}
		if glc.SuggestedCalculation != "" {
			prompt.WriteString(fmt.Sprintf("- Suggested calculation: `%s`\n", glc.SuggestedCalculation))
		}
		if in.GLFilter != "" {
			prompt.WriteString(fmt.Sprintf("- GL filter: `%s`\n", in.GLFilter))
		}
		prompt.WriteString("\n")
	}

	if len(in.Examples) > 0 {
		prompt.WriteString("## Examples\n\n")
		for i, ex := range in.Examples {
			prompt.WriteString(fmt.Sprintf("### Example %d: %s\n", i+1, ex.Question))
			prompt.WriteString("```sql\n")
			prompt.WriteString(strings.TrimSpace(ex.SQL))
			prompt.WriteString("\n```\n\n")
		}
	}

	if in.PriorAnalysis != "" {
		prompt.WriteString("## Previous Analysis\n\n")
		prompt.WriteString(in.PriorAnalysis)
		prompt.WriteString("\n\n")
	}

	prompt.WriteString("## Rules\n\n")
	prompt.WriteString("- Revenue accounts use the revenue column; every other bucket uses the signed amount column\n")
	prompt.WriteString("- Report percentages in points (0-100) and guard every division against a zero denominator\n")
	if strings.EqualFold(in.Dialect, models.DialectPostgreSQL) {
		prompt.WriteString("- Use PostgreSQL syntax: DATE_TRUNC('month', col), NULLIF for safe division, double-quoted identifiers\n")
	} else {
		prompt.WriteString("- Use BigQuery syntax: SAFE_DIVIDE, DATE_TRUNC(col, MONTH), backtick-qualified table names\n")
	}
	prompt.WriteString("- Alias computed columns in snake_case (gross_margin, gross_margin_pct)\n")
	prompt.WriteString("- Read only: no DDL, DML or multiple statements\n\n")

	prompt.WriteString("Return ONLY the SQL in a ```sql code block.\n")

	return prompt.String()
}

// BuildSQLGenerationSystemMessage returns the system message for SQL generation.
func BuildSQLGenerationSystemMessage() string {
	return `You are a financial analytics SQL expert. You translate business questions about a general ledger into correct, efficient, read-only SQL.`
}

func dialectName(dialect string) string {
	if strings.EqualFold(dialect, models.DialectPostgreSQL) {
		return "PostgreSQL"
	}
	return "BigQuery"
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
