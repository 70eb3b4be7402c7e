// Package cmd contains the finsight command line.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-finsight/pkg/config"
	"github.com/ekaya-inc/ekaya-finsight/pkg/logging"
)

//nolint:gochecknoglobals // cobra commands and their flags are package level
var (
	version    = "dev"
	clientFlag string
	dataset    string
	jsonOutput bool

	cfg    *config.Config
	logger *zap.Logger
)

//nolint:gochecknoglobals // cobra commands are package level
var rootCmd = &cobra.Command{
	Use:   "finsight",
	Short: "Natural-language financial analytics over a GL warehouse",
	Long: `finsight answers financial questions against a general-ledger warehouse.
It maps tenant GL accounts onto a metric/bucket/account hierarchy, generates
and validates SQL, serves answers from pre-calculated metrics where it can,
and decomposes open questions into multi-step research plans.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&clientFlag, "client", "", "tenant client id (overrides CLIENT_ID)")
	rootCmd.PersistentFlags().StringVar(&dataset, "dataset", "", "tenant dataset id (overrides DATASET)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")
}

// Execute runs the root command until it returns or the process is signalled.
func Execute(ctx context.Context, v string) error {
	version = v
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return rootCmd.ExecuteContext(ctx)
}

func loadConfig(_ *cobra.Command, _ []string) error {
	c, err := config.Load(version)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if clientFlag != "" {
		c.Tenant.ClientID = clientFlag
	}
	if dataset != "" {
		c.Tenant.DatasetID = dataset
	}

	l, err := logging.NewLogger(c.Env, c.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, logger = c, l
	logger.Debug("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("client_id", cfg.Tenant.ClientID),
		zap.String("dataset_id", cfg.Tenant.DatasetID),
		zap.String("warehouse_dialect", cfg.Warehouse.Dialect),
		zap.String("llm_provider", cfg.LLM.Provider))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
