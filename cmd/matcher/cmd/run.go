package cmd

import (
	"github.com/cwbudde/algo-matcher/internal/runner"
	"github.com/spf13/cobra"
)

func newRunCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Render one output file",
		Long: `Compare the parent against every child and write out_{start}_{stop}_ {step}.wav
to the output folder. The output path is printed on stdout.`,
		Example: `  matcher run --parent moonlight.wav --children moonlight_sonata/ --stop 5000
  matcher run --config matcher.yaml --mode min`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.execute(cmd, runner.Run, asJSON)
		},
	}
	addInputFlags(cmd)
	addComparisonFlags(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the run result as JSON")
	return cmd
}
