package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kebairia/tenantbackup/internal/backup"
	"github.com/kebairia/tenantbackup/internal/operations"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Take a full or tenant snapshot",
}

var backupFullCmd = &cobra.Command{
	Use:   "full",
	Short: "Dump the whole live store with pg_dump",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(cmd.Context(), func(m *operations.Manager) error {
			art, err := m.ExportFull(cmd.Context())
			if err != nil {
				return err
			}
			printArtifact(cmd, art)
			return nil
		})
	},
}

var backupTenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Export one tenant's records",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tenantID, _ := cmd.Flags().GetString("tenant")
		return withManager(cmd.Context(), func(m *operations.Manager) error {
			art, err := m.CreateTenantBackup(cmd.Context(), operator, tenantID)
			if err != nil {
				return err
			}
			printArtifact(cmd, art)
			return nil
		})
	},
}

func printArtifact(cmd *cobra.Command, art *backup.Artifact) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d bytes\n", art.Status, art.StoragePath, art.SizeBytes)
}

func init() {
	backupTenantCmd.Flags().StringP("tenant", "t", "", "tenant id to export")
	_ = backupTenantCmd.MarkFlagRequired("tenant")

	backupCmd.AddCommand(backupFullCmd)
	backupCmd.AddCommand(backupTenantCmd)
}
