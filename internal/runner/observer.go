package runner

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/cwbudde/algo-matcher/internal/config"
	"github.com/cwbudde/algo-matcher/matcher"
)

// Observer receives run events. The runner itself never prints; implementations must
// be safe for concurrent use.
type Observer interface {
	// OnStart is called once, after the configuration has been validated.
	OnStart(cfg config.RunConfig)
	// OnPhaseDone reports a finished phase (discover, load, diffmap, select, write).
	OnPhaseDone(name string, fields map[string]any, dur time.Duration)
	// OnProgress reports work units finished within a phase.
	OnProgress(phase string, done, total int)
	// OnOutput is called after an output file has been committed.
	OnOutput(path string, cmp matcher.Config, dur time.Duration)
}

type nopObserver struct{}

func (nopObserver) OnStart(config.RunConfig)                          {}
func (nopObserver) OnPhaseDone(string, map[string]any, time.Duration) {}
func (nopObserver) OnProgress(string, int, int)                       {}
func (nopObserver) OnOutput(string, matcher.Config, time.Duration)    {}

// progressStep is the percentage between two info-level progress lines.
const progressStep = 10

// LogObserver writes run events to a slog.Logger. Progress is logged at info level
// every progressStep percent and at debug level otherwise.
type LogObserver struct {
	logger *slog.Logger

	mu   sync.Mutex
	last map[string]progressMark
}

type progressMark struct {
	done   int
	bucket int
}

// NewLogObserver returns an Observer logging to logger.
func NewLogObserver(logger *slog.Logger) *LogObserver {
	return &LogObserver{logger: logger, last: make(map[string]progressMark)}
}

func (o *LogObserver) OnStart(cfg config.RunConfig) {
	o.logger.Info("matcher run starting",
		slog.String("parent", cfg.ParentPath),
		slog.String("children", cfg.ChildFolder),
		slog.String("output", cfg.OutputFolder),
		slog.String("mode", cfg.Mode),
		slog.Int("start", cfg.Start),
		slog.Int("stop", cfg.Stop),
		slog.String("workers", cfg.Workers),
	)
}

func (o *LogObserver) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	attrs := make([]any, 0, len(fields)+2)
	attrs = append(attrs, slog.String("phase", name), slog.Duration("duration", dur))
	for _, k := range slices.Sorted(maps.Keys(fields)) {
		attrs = append(attrs, slog.Any(k, fields[k]))
	}
	o.logger.Info("phase done", attrs...)
}

func (o *LogObserver) OnProgress(phase string, done, total int) {
	if total <= 0 {
		return
	}
	pct := done * 100 / total
	bucket := pct / progressStep

	o.mu.Lock()
	prev, seen := o.last[phase]
	if !seen || done <= prev.done {
		// A new pass over the same phase, as in a sweep.
		prev = progressMark{bucket: -1}
	}
	o.last[phase] = progressMark{done: done, bucket: max(bucket, prev.bucket)}
	o.mu.Unlock()

	level := slog.LevelDebug
	if bucket > prev.bucket {
		level = slog.LevelInfo
	}
	o.logger.Log(context.Background(), level, "progress",
		slog.String("phase", phase),
		slog.Int("done", done),
		slog.Int("total", total),
		slog.Int("percent", pct),
	)
}

func (o *LogObserver) OnOutput(path string, cmp matcher.Config, dur time.Duration) {
	o.logger.Info("wrote output",
		slog.String("path", path),
		slog.Int("start", cmp.Start),
		slog.Int("stop", cmp.Stop),
		slog.Int("step", cmp.Step),
		slog.String("mode", cmp.Mode.String()),
		slog.Duration("duration", dur),
	)
}
