package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kebairia/tenantbackup/internal/operations"
)

var urlCmd = &cobra.Command{
	Use:   "url <path>",
	Short: "Print a signed download link for a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(cmd.Context(), func(m *operations.Manager) error {
			url, err := m.DownloadURL(cmd.Context(), operator, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), url)
			return nil
		})
	},
}
