package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/kebairia/tenantbackup/internal/operations"
	"github.com/kebairia/tenantbackup/internal/scheduler"
)

// shutdownGrace bounds how long serve waits for running jobs on exit.
const shutdownGrace = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run scheduled full backups and retention sweeps",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withManager(ctx, func(m *operations.Manager) error {
			s := scheduler.New(m, operations.RetentionPolicyFrom(cfg),
				scheduler.WithFullBackupSchedule(cfg.Schedule.FullBackup),
				scheduler.WithRetentionSchedule(cfg.Schedule.Retention),
				scheduler.WithLogger(log),
			)
			if err := s.Start(ctx); err != nil {
				return err
			}
			full, sweep := s.Next()
			log.Info("waiting for next run", "full_backup", full, "retention", sweep)

			<-ctx.Done()
			log.Info("shutting down")

			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
			defer cancel()
			return s.Stop(stopCtx)
		})
	},
}
