package cmd

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ekaya-inc/ekaya-finsight/pkg/bizconfig"
)

//nolint:gochecknoglobals // cobra commands are package level
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the tenant business configuration",
}

//nolint:gochecknoglobals // cobra commands are package level
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the tenant configuration, materializing defaults when none is stored",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newCoreApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		bc, err := a.configs.Load(cmd.Context(), cfg.Tenant.ClientID, cfg.Tenant.DatasetID)
		if err != nil {
			return err
		}
		return printJSON(bc)
	},
}

//nolint:gochecknoglobals // cobra commands are package level
var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the tenant configuration for structural problems",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newCoreApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		bc, err := a.configs.Load(cmd.Context(), cfg.Tenant.ClientID, cfg.Tenant.DatasetID)
		if err != nil {
			return err
		}
		problems := bizconfig.Validate(bc)
		for _, p := range problems {
			fmt.Println(p)
		}
		if len(problems) > 0 {
			return errors.Join(problems...)
		}
		fmt.Printf("%s is valid (%d GL accounts)\n", bc.Key(), len(bc.GLAccounts))
		return nil
	},
}

//nolint:gochecknoglobals // cobra commands are package level
var configMetricsCmd = &cobra.Command{
	Use:   "metrics [code]",
	Short: "List the metric hierarchy or describe one metric",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newCoreApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		if len(args) == 1 {
			desc, err := a.hierarchy.Describe(args[0])
			if err != nil {
				return err
			}
			fmt.Println(desc)
			return nil
		}
		if jsonOutput {
			return printJSON(a.hierarchy.Metrics())
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CODE\tNAME\tFORMULA")
		for _, m := range a.hierarchy.Metrics() {
			fmt.Fprintf(w, "%s\t%s\t%s\n", m.Code, m.Name, m.FormulaText)
		}
		return w.Flush()
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configValidateCmd, configMetricsCmd)
	rootCmd.AddCommand(configCmd)
}
