package cmd

import (
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/kebairia/tenantbackup/internal/operations"
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore a tenant from one of its snapshots",
	Long: `restore upserts every record of a tenant snapshot into the live store
inside a single transaction. Records missing from the snapshot are left
untouched.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tenantID, _ := cmd.Flags().GetString("tenant")
		path, _ := cmd.Flags().GetString("path")
		return withManager(cmd.Context(), func(m *operations.Manager) error {
			res, err := m.RestoreTenantBackup(cmd.Context(), operator, tenantID, path)
			if err != nil {
				return fmt.Errorf("restore %s (%s): %w", path, res.State, err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\t%d records\n", res.State, res.Total())
			for _, kind := range slices.Sorted(maps.Keys(res.Applied)) {
				fmt.Fprintf(out, "  %s\t%d\n", kind, res.Applied[kind])
			}
			return nil
		})
	},
}

func init() {
	restoreCmd.Flags().StringP("tenant", "t", "", "tenant id to restore")
	restoreCmd.Flags().StringP("path", "p", "", "storage path of the tenant snapshot")
	_ = restoreCmd.MarkFlagRequired("tenant")
	_ = restoreCmd.MarkFlagRequired("path")
}
