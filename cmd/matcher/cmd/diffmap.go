package cmd

import (
	"github.com/cwbudde/algo-matcher/internal/runner"
	"github.com/spf13/cobra"
)

func newDiffMapCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "diffmap",
		Short: "Compute and cache the diff map without rendering",
		Long: `Compute the distance between the parent and every child at every frame and
store it under --cache-dir. Later run and sweep invocations with the same inputs
and cache directory reuse it. The cache key is printed on stdout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.execute(cmd, runner.BuildCache, asJSON)
		},
	}
	addInputFlags(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the run result as JSON")
	return cmd
}
