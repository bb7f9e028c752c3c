package cmd

import (
	"fmt"

	"github.com/cwbudde/algo-matcher/internal/version"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  "Print the version, commit, and build date of matcher.",
		Run: func(cmd *cobra.Command, _ []string) {
			if asJSON {
				fmt.Fprintln(cmd.OutOrStdout(), version.JSON())
				return
			}
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output version information as JSON")
	return cmd
}
