package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/cwbudde/algo-matcher/internal/config"
	"github.com/cwbudde/algo-matcher/internal/observability"
	"github.com/cwbudde/algo-matcher/internal/runner"
	"github.com/spf13/cobra"
)

type runFunc func(context.Context, config.RunConfig, runner.Observer) (*runner.Result, error)

func addInputFlags(cmd *cobra.Command) {
	cmd.Flags().String("parent", "", "parent WAV file")
	cmd.Flags().String("children", "", "folder of child WAV files")
	cmd.Flags().String("workers", "auto", "worker goroutines: 'auto' or integer >= 1")
	cmd.Flags().String("cache-dir", "", "directory for persisted diff maps (disabled when empty)")
}

func addComparisonFlags(cmd *cobra.Command) {
	cmd.Flags().String("output", "./output/", "output folder")
	cmd.Flags().Int("start", 0, "threshold start value")
	cmd.Flags().Int("stop", 65535, "threshold stop value")
	cmd.Flags().Int("step", 1, "step value (>= 1, used in output names)")
	cmd.Flags().String("mode", "max", "selection mode (max, min)")
}

// execute loads the configuration and runs fn with a context cancelled on SIGINT or
// SIGTERM, then prints the result to stdout.
func (a *app) execute(cmd *cobra.Command, fn runFunc, asJSON bool) error {
	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = observability.ContextWithLogger(ctx, a.logger)
	ctx = observability.ContextWithRunID(ctx, observability.NewRunID())

	obs := runner.NewLogObserver(observability.LoggerFromContext(ctx))
	res, err := fn(ctx, *cfg, obs)
	if err != nil {
		return err
	}
	return printResult(cmd.OutOrStdout(), res, asJSON)
}

func printResult(w io.Writer, res *runner.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	for _, p := range res.Outputs {
		if _, err := fmt.Fprintln(w, p); err != nil {
			return err
		}
	}
	if len(res.Outputs) == 0 && res.CacheKey != "" {
		_, err := fmt.Fprintln(w, res.CacheKey)
		return err
	}
	return nil
}
