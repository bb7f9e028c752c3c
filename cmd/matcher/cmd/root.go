// Package cmd implements the CLI commands for matcher.
package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/cwbudde/algo-matcher/internal/config"
	"github.com/cwbudde/algo-matcher/internal/observability"
	"github.com/cwbudde/algo-matcher/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// app carries state shared by every command of one invocation.
type app struct {
	cfgFile string
	v       *viper.Viper
	logger  *slog.Logger
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:     "matcher",
		Short:   "Compose a waveform from a parent and its closest children",
		Version: version.Short(),
		Long: `matcher compares a parent WAV file against every WAV file in a child folder,
sample by sample, using a wrap-around distance. It then writes a new WAV file that
takes each sample either from the parent or from the child whose distance is the
largest (mode max) or smallest (mode min) below a threshold ramping from 0 at the
first frame towards stop-start at the last one.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	// Logging flags are not bound to viper: they only override config and env values
	// when explicitly given.
	rootCmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default is ./matcher.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")

	rootCmd.AddCommand(
		newRunCmd(a),
		newSweepCmd(a),
		newDiffMapCmd(a),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	if err := NewRootCommand().Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

// init reads configuration for cmd and installs the logger.
func (a *app) init(cmd *cobra.Command) error {
	v, err := config.NewViper(a.cfgFile)
	if err != nil {
		return err
	}
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok {
			mustBindPFlag(v, key, f)
		}
	})
	a.v = v
	a.logger = initLogging(v, cmd)
	slog.SetDefault(a.logger)
	return nil
}

// initLogging builds the logger. Priority, highest first: --log-level/--log-format when
// given, MATCHER_LOGGING_* env vars, config file, defaults.
func initLogging(v *viper.Viper, cmd *cobra.Command) *slog.Logger {
	var logCfg config.LoggingConfig
	if err := v.UnmarshalKey("logging", &logCfg); err != nil {
		logCfg = config.LoggingConfig{}
	}
	flags := cmd.Root().PersistentFlags()
	if flags.Changed("log-level") {
		logCfg.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		logCfg.Format, _ = flags.GetString("log-format")
	}
	if logCfg.Level == "" {
		logCfg.Level = "info"
	}
	if logCfg.Format == "" {
		logCfg.Format = "text"
	}
	logCfg.Level = strings.ToLower(logCfg.Level)
	logCfg.Format = strings.ToLower(logCfg.Format)

	return observability.NewLoggerWithWriter(logCfg, cmd.ErrOrStderr())
}

// flagKeys maps command flags to config keys.
var flagKeys = map[string]string{
	"parent":    "parent",
	"children":  "children",
	"output":    "output",
	"start":     "start",
	"stop":      "stop",
	"step":      "step",
	"mode":      "mode",
	"workers":   "workers",
	"cache-dir": "cache_dir",
	"stops":     "stops",
}

// mustBindPFlag binds a viper key to a cobra flag and panics if binding fails.
func mustBindPFlag(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %q to key %q: %v", flag.Name, key, err))
	}
}
