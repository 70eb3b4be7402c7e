package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ekaya-inc/ekaya-finsight/pkg/observability"
)

//nolint:gochecknoglobals // cobra commands are package level
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version",
	Args:  cobra.NoArgs,
	// Skips config loading.
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	Run: func(*cobra.Command, []string) {
		fmt.Println(version)
	},
}

//nolint:gochecknoglobals // cobra commands are package level
var metricsCmd = &cobra.Command{
	Use:   "serve-metrics",
	Short: "Serve the Prometheus endpoint until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return observability.ServeMetrics(cmd.Context(), cfg.Metrics.Addr, logger)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd, metricsCmd)
}
