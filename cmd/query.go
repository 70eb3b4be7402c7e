package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ekaya-inc/ekaya-finsight/pkg/sqlgen"
)

//nolint:gochecknoglobals // cobra flags
var (
	forceRefresh bool
	skipPreCalc  bool
)

//nolint:gochecknoglobals // cobra commands are package level
var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Answer a natural-language financial question",
	Example: `  finsight query "show gross margin by region this quarter"
  finsight query --json "what was EBITDA last month"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().BoolVar(&forceRefresh, "force-refresh", false, "bypass the SQL cache")
	queryCmd.Flags().BoolVar(&skipPreCalc, "skip-precalc", false, "always query the warehouse")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.generator.Answer(ctx, strings.Join(args, " "), sqlgen.Options{
		ForceRefresh: forceRefresh,
		SkipPreCalc:  skipPreCalc,
	})
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(resp)
	}
	printResponse(resp)
	if resp.Error != "" {
		return fmt.Errorf("query failed: %s", resp.Error)
	}
	return nil
}

func printResponse(resp *sqlgen.QueryResponse) {
	if len(resp.ClarifyingQuestions) > 0 {
		fmt.Println("The question needs clarification:")
		for _, q := range resp.ClarifyingQuestions {
			fmt.Printf("  - %s\n", q)
		}
	}
	if resp.SQL != "" {
		fmt.Printf("SQL:\n%s\n\n", resp.SQL)
	}

	source := "warehouse"
	switch {
	case resp.FromPreCalc:
		source = "pre-calculated"
	case resp.FromCache:
		source = "cache"
	}

	if len(resp.Columns) > 0 {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		names := make([]string, len(resp.Columns))
		for i, c := range resp.Columns {
			names[i] = strings.ToUpper(c.Name)
		}
		fmt.Fprintln(w, strings.Join(names, "\t"))
		for _, row := range resp.Formatted {
			cells := make([]string, len(resp.Columns))
			for i, c := range resp.Columns {
				cells[i] = row[c.Name]
			}
			fmt.Fprintln(w, strings.Join(cells, "\t"))
		}
		_ = w.Flush()
	}
	fmt.Printf("\n%d row(s) from %s in %s\n", resp.RowCount, source, resp.ExecutionTime)

	if resp.Error != "" {
		fmt.Printf("Error: %s\n", resp.Error)
	}
	for _, s := range resp.Suggestions {
		fmt.Printf("  hint: %s\n", s)
	}
}
