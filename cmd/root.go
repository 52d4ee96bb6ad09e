package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kebairia/tenantbackup/internal/config"
	"github.com/kebairia/tenantbackup/internal/logger"
	"github.com/kebairia/tenantbackup/internal/operations"
)

var (
	// ConfigFile is the path to the YAML configuration.
	ConfigFile string

	cfg config.Config
	log = logger.Nop()

	// rootCmd is the base command for bacli.
	rootCmd = &cobra.Command{
		Use:   "bacli",
		Short: "Tenant backup and restore for the clinic data store",
		Long: `bacli takes full and per-tenant snapshots of the live store,
keeps them in an S3-compatible bucket under a rolling retention window
and restores a tenant from any of its snapshots.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Load(ConfigFile); err != nil {
				return err
			}
			l, err := logger.Init(cfg.Log.Level, cfg.Log.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			log = l
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Cleanup()
		},
	}
)

// operator is the identity of whoever runs the CLI.
var operator = operations.Caller{Admin: true}

// Execute runs the root command. SIGINT and SIGTERM cancel the running
// operation, which kills an in-flight pg_dump.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		log.Error("command failed", "error", err.Error())
		logger.Cleanup()
		os.Exit(1)
	}
}

// withManager bootstraps a Manager from the loaded config for the duration
// of fn.
func withManager(ctx context.Context, fn func(m *operations.Manager) error) error {
	m, closeFn, err := operations.Bootstrap(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(m)
}

func init() {
	rootCmd.PersistentFlags().
		StringVarP(&ConfigFile, "config", "c", "./configs/config.yaml", "path to YAML config file")

	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(urlCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(serveCmd)
}
