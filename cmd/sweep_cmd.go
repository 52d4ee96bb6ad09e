package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kebairia/tenantbackup/internal/operations"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete snapshots older than the retention window",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		policy := operations.RetentionPolicyFrom(cfg)
		if cmd.Flags().Changed("window") {
			policy.Window, _ = cmd.Flags().GetDuration("window")
		}
		return withManager(cmd.Context(), func(m *operations.Manager) error {
			report, err := m.Sweep(cmd.Context(), policy)
			fmt.Fprintf(cmd.OutOrStdout(), "cutoff %s: %d expired, %d retained, %d deleted, %d failed\n",
				report.Cutoff.Format("2006-01-02T15:04:05Z"), report.Expired, report.Retained,
				len(report.Deleted), len(report.Failed))
			return err
		})
	},
}

func init() {
	sweepCmd.Flags().Duration("window", 0, "override retention.window (e.g. 720h)")
}
