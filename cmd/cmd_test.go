package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-finsight/pkg/config"
	"github.com/ekaya-inc/ekaya-finsight/pkg/warehouse"
)

func TestRootCommand_RegistersSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"query", "research", "precalc", "analyze-patterns", "warm", "migrate", "config", "serve-metrics", "version"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}

func TestMigrateCommand_HasUpAndDown(t *testing.T) {
	sub, _, err := rootCmd.Find([]string{"migrate", "down"})
	require.NoError(t, err)
	assert.Equal(t, "down", sub.Name())
	steps := sub.Flags().Lookup("steps")
	require.NotNil(t, steps)
	assert.Equal(t, "1", steps.DefValue)
}

func TestResearchCommand_Flags(t *testing.T) {
	sub, _, err := rootCmd.Find([]string{"research"})
	require.NoError(t, err)
	for _, f := range []string{"depth", "focus", "parallel", "plan-only"} {
		assert.NotNil(t, sub.Flags().Lookup(f), f)
	}
}

func TestHierarchyOptions_FromTenantConfig(t *testing.T) {
	exec := warehouse.NewMockExecutor()
	exec.Project, exec.Dataset, exec.SQLDialect = "acme-prod", "finance", "bigquery"

	a := &app{
		cfg: &config.Config{
			Tenant: config.TenantConfig{
				TimeColumn:    "Doc_Date",
				RevenueColumn: "Net_Revenue",
				AmountColumn:  "Amount_USD",
			},
			Warehouse: config.WarehouseConfig{Table: "gl_lines", Dialect: "BigQuery"},
		},
		executor: exec,
	}

	opts := a.hierarchyOptions()
	assert.Equal(t, "Doc_Date", opts.Columns.Time)
	assert.Equal(t, "Net_Revenue", opts.Columns.Revenue)
	assert.Equal(t, "Amount_USD", opts.Columns.Amount)
	assert.Equal(t, "GL_Account", opts.Columns.Account)
	assert.Equal(t, "bigquery", opts.Dialect)
	assert.Equal(t, "`acme-prod.finance.gl_lines`", opts.Table)
}

func TestHierarchyOptions_PostgresWarehouse(t *testing.T) {
	exec := warehouse.NewMockExecutor()
	exec.Dataset, exec.SQLDialect = "public", "postgresql"

	a := &app{
		cfg: &config.Config{
			Tenant:    config.TenantConfig{TimeColumn: "Posting_Date"},
			Warehouse: config.WarehouseConfig{Table: "gl_transactions", Dialect: "postgresql"},
		},
		executor: exec,
	}

	assert.Equal(t, `"public"."gl_transactions"`, a.hierarchyOptions().Table)
}

func TestApp_CloseRunsClosersInReverse(t *testing.T) {
	var order []int
	a := &app{}
	a.closers = append(a.closers, func() { order = append(order, 1) }, func() { order = append(order, 2) })
	a.Close()
	a.Close()
	assert.Equal(t, []int{2, 1}, order)
}
