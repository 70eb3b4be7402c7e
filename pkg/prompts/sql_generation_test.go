package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ekaya-inc/ekaya-finsight/pkg/models"
	"github.com/ekaya-inc/ekaya-finsight/pkg/warehouse"
)

func TestBuildSQLGenerationPrompt(t *testing.T) {
	in := SQLPromptInput{
		Question: "show gross margin by region for this quarter",
		Dialect:  models.DialectBigQuery,
		Table:    "`finsight.finance.gl_transactions`",
		Schema: []warehouse.TableSchema{{
			Name:    "gl_transactions",
			Columns: []warehouse.Column{{Name: "Sales_Region", DataType: "STRING"}},
		}},
		QueryContext: &models.QueryContext{
			QueryType:      models.QueryTypeFinancial,
			HierarchyLevel: models.DepthL1,
			Intent:         models.IntentMetricCalculation,
			Metrics:        []models.MetricRef{{Name: "Gross Margin", Code: "GROSS_MARGIN"}},
			Dimensions:     []string{"region"},
			Filters:        map[string]string{"Sales_Region": "EMEA"},
			LLMContext:     map[string]any{"formulas": map[string]string{"GROSS_MARGIN": "revenue - cogs"}},
		},
		GLContext: &models.GLQueryContext{
			IdentifiedConcepts: []string{"gross_margin"},
			RequiredBuckets:    []string{"REV", "COGS_DM"},
		},
		GLFilter: "bucket_code IN ('REV', 'COGS_DM')",
		Examples: []models.SQLExample{{Question: "revenue by month", SQL: "SELECT 1"}},
	}

	prompt := BuildSQLGenerationPrompt(in)

	assert.Contains(t, prompt, "BigQuery SELECT statement")
	assert.Contains(t, prompt, "> show gross margin by region for this quarter")
	assert.Contains(t, prompt, "- Sales_Region (STRING)")
	assert.Contains(t, prompt, "- Metric: Gross Margin (GROSS_MARGIN)")
	assert.Contains(t, prompt, "- Group by: region")
	assert.Contains(t, prompt, "- Filter: Sales_Region = 'EMEA'")
	assert.Contains(t, prompt, `"GROSS_MARGIN": "revenue - cogs"`)
	assert.Contains(t, prompt, "- Buckets: REV, COGS_DM")
	assert.Contains(t, prompt, "bucket_code IN ('REV', 'COGS_DM')")
	assert.Contains(t, prompt, "### Example 1: revenue by month")
	assert.Contains(t, prompt, "SAFE_DIVIDE")
	assert.NotContains(t, prompt, "Previous Analysis")
}

func TestBuildSQLGenerationPrompt_PostgresAndPriorAnalysis(t *testing.T) {
	prompt := BuildSQLGenerationPrompt(SQLPromptInput{
		Question:      "monthly revenue trend",
		Dialect:       models.DialectPostgreSQL,
		Table:         `"finance"."gl_transactions"`,
		PriorAnalysis: "step_1 returned 12 rows with columns month, revenue",
	})

	assert.Contains(t, prompt, "PostgreSQL SELECT statement")
	assert.Contains(t, prompt, "NULLIF")
	assert.Contains(t, prompt, "## Previous Analysis")
	assert.NotContains(t, prompt, "## General Ledger Context")
}

func TestBuildSQLGenerationSystemMessage(t *testing.T) {
	assert.Contains(t, BuildSQLGenerationSystemMessage(), "read-only SQL")
}
