package cmd

import (
	"github.com/cwbudde/algo-matcher/internal/runner"
	"github.com/spf13/cobra"
)

func newSweepCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Render one output file per stop value",
		Long: `Build the diff map once and render one output for each value given with
--stops. Every other setting is shared by all outputs.`,
		Example: `  matcher sweep --parent moonlight.wav --children moonlight_sonata/ --stops 100,1000,65535`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.execute(cmd, runner.Sweep, asJSON)
		},
	}
	addInputFlags(cmd)
	addComparisonFlags(cmd)
	cmd.Flags().IntSlice("stops", nil, "comma-separated stop values")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the run result as JSON")
	return cmd
}
