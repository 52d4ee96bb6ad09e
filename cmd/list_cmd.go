package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/kebairia/tenantbackup/internal/backup"
	"github.com/kebairia/tenantbackup/internal/operations"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored snapshots, newest first",
	Long: `list shows the snapshots of one tenant, or the full-instance dumps
when no tenant is given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tenantID, _ := cmd.Flags().GetString("tenant")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")
		return withManager(cmd.Context(), func(m *operations.Manager) error {
			summaries, err := m.ListBackups(cmd.Context(), operator, tenantID, limit)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(summaries)
			}
			return printSummaries(cmd, summaries)
		})
	},
}

func printSummaries(cmd *cobra.Command, summaries []backup.Summary) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CREATED\tSCOPE\tTENANT\tSIZE\tPATH")
	for _, s := range summaries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			s.CreatedAt.Format("2006-01-02 15:04:05"), s.Scope, s.TenantID, s.SizeBytes, s.Path)
	}
	return w.Flush()
}

func init() {
	listCmd.Flags().StringP("tenant", "t", "", "tenant id; empty lists full dumps")
	listCmd.Flags().IntP("limit", "n", 20, "maximum number of snapshots to show")
	listCmd.Flags().Bool("json", false, "print JSON instead of a table")
}
