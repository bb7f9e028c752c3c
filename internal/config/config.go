// Package config loads run settings for the matcher from defaults, an optional config
// file, MATCHER_* environment variables and command-line flags, using Viper.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cwbudde/algo-matcher/matcher"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultStart        = 0
	defaultStop         = 65535
	defaultStep         = 1
	defaultMode         = "max"
	defaultWorkers      = "auto"
	defaultOutputFolder = "./output/"
	defaultLogLevel     = "info"
	defaultLogFormat    = "text"
)

// EnvPrefix is the prefix for environment overrides, e.g. MATCHER_STOP.
const EnvPrefix = "MATCHER"

// RunConfig is one matcher run: where the waveforms live and how to compare them.
type RunConfig struct {
	ParentPath   string        `mapstructure:"parent"`
	ChildFolder  string        `mapstructure:"children"`
	OutputFolder string        `mapstructure:"output"`
	Start        int           `mapstructure:"start"`
	Stop         int           `mapstructure:"stop"`
	Step         int           `mapstructure:"step"`
	Mode         string        `mapstructure:"mode"`
	Workers      string        `mapstructure:"workers"` // "auto" or a positive integer
	CacheDir     string        `mapstructure:"cache_dir"`
	Stops        []int         `mapstructure:"stops"` // sweep only
	Logging      LoggingConfig `mapstructure:"logging"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("start", defaultStart)
	v.SetDefault("stop", defaultStop)
	v.SetDefault("step", defaultStep)
	v.SetDefault("mode", defaultMode)
	v.SetDefault("workers", defaultWorkers)
	v.SetDefault("output", defaultOutputFolder)
	v.SetDefault("cache_dir", "")
	v.SetDefault("logging.level", defaultLogLevel)
	v.SetDefault("logging.format", defaultLogFormat)
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", "")
}

// NewViper returns a Viper instance with defaults and environment overrides set up.
// configPath may be empty, in which case ./matcher.yaml is used when present.
func NewViper(configPath string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("matcher")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, matcher.NewError(matcher.CodeConfiguration, "read config", err)
		}
	}
	return v, nil
}

// Load decodes v into a RunConfig. It does not validate.
func Load(v *viper.Viper) (*RunConfig, error) {
	var cfg RunConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, matcher.NewError(matcher.CodeConfiguration, "decode config", err)
	}
	// Lists given through env or a single flag value arrive as one string.
	if len(cfg.Stops) == 0 {
		if raw := v.GetString("stops"); raw != "" {
			stops, err := ParseStops(raw)
			if err != nil {
				return nil, err
			}
			cfg.Stops = stops
		}
	}
	return &cfg, nil
}

// Validate checks everything a run needs before any file is touched.
func (c *RunConfig) Validate() error {
	var problems []string
	if strings.TrimSpace(c.ParentPath) == "" {
		problems = append(problems, "parent path is required")
	}
	if strings.TrimSpace(c.ChildFolder) == "" {
		problems = append(problems, "child folder is required")
	}
	if strings.TrimSpace(c.OutputFolder) == "" {
		problems = append(problems, "output folder is required")
	}
	if len(problems) > 0 {
		return matcher.NewError(matcher.CodeConfiguration, "validate", errors.New(strings.Join(problems, "; ")))
	}
	if _, err := c.Comparison(); err != nil {
		return err
	}
	if _, err := ParseWorkers(c.Workers); err != nil {
		return matcher.NewError(matcher.CodeConfiguration, "validate", fmt.Errorf("workers: %w", err))
	}
	for _, stop := range c.Stops {
		if stop < c.Start {
			return matcher.NewError(matcher.CodeConfiguration, "validate", fmt.Errorf("sweep stop %d is below start %d", stop, c.Start))
		}
	}
	return nil
}

// Comparison converts the comparison fields into a validated matcher.Config.
func (c *RunConfig) Comparison() (matcher.Config, error) {
	return c.ComparisonTo(c.Stop)
}

// ComparisonTo is Comparison with a different stop value, as used by sweeps.
func (c *RunConfig) ComparisonTo(stop int) (matcher.Config, error) {
	mode, err := matcher.ParseMode(c.Mode)
	if err != nil {
		return matcher.Config{}, err
	}
	cmp := matcher.Config{Start: c.Start, Stop: stop, Step: c.Step, Mode: mode}
	if err := cmp.Validate(); err != nil {
		return matcher.Config{}, err
	}
	return cmp, nil
}

// WorkerCount returns the parsed worker setting; 0 means one per CPU.
func (c *RunConfig) WorkerCount() int {
	n, err := ParseWorkers(c.Workers)
	if err != nil {
		return 0
	}
	return n
}

// OutputName formats out_{start}_{stop}_ {step}.wav. The space before the step is
// part of the established naming scheme.
func OutputName(start, stop, step int) string {
	return fmt.Sprintf("out_%d_%d_ %d.wav", start, stop, step)
}

// ParseWorkers accepts a positive integer or "auto" (returned as 0).
func ParseWorkers(raw string) (int, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	if v == "" {
		return 0, fmt.Errorf("empty value (use integer >= 1 or 'auto')")
	}
	if v == "auto" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%q (use integer >= 1 or 'auto')", raw)
	}
	if n < 1 {
		return 0, fmt.Errorf("%d (must be >= 1 or 'auto')", n)
	}
	return n, nil
}

// ParseStops parses a comma-separated list of stop values.
func ParseStops(raw string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, matcher.NewError(matcher.CodeConfiguration, "parse stops", fmt.Errorf("%q is not an integer", part))
		}
		out = append(out, n)
	}
	return out, nil
}
