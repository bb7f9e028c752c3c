// Package runner wires configuration, WAV I/O, the diff-map cache and the matcher core
// into complete runs: one output (Run), one output per stop value (Sweep), or only the
// persisted diff map (BuildCache).
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cwbudde/algo-matcher/internal/config"
	"github.com/cwbudde/algo-matcher/internal/diffcache"
	"github.com/cwbudde/algo-matcher/internal/observability"
	"github.com/cwbudde/algo-matcher/internal/wavio"
	"github.com/cwbudde/algo-matcher/matcher"
	"github.com/google/uuid"
)

// Result summarizes a finished run.
type Result struct {
	RunID    string   `json:"run_id"`
	Children int      `json:"children"`
	Frames   int      `json:"frames"`
	CacheHit bool     `json:"cache_hit"`
	CacheKey string   `json:"cache_key,omitempty"`
	Outputs  []string `json:"outputs,omitempty"`
}

// Session holds the loaded inputs and their diff map. Any number of comparisons can be
// rendered from one session.
type Session struct {
	cfg      config.RunConfig
	obs      Observer
	logger   *slog.Logger
	workers  int
	store    *matcher.Store
	dm       *matcher.DiffMap
	cacheHit bool
	cacheKey uuid.UUID
}

// DiscoverChildren lists the regular, non-hidden files in dir sorted by name.
// Sub-directories are ignored and symlinks are followed.
func DiscoverChildren(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, matcher.NewError(matcher.CodeIO, "discover children", err)
	}
	var paths []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		p := filepath.Join(dir, e.Name())
		mode := e.Type()
		if mode&os.ModeSymlink != 0 {
			fi, err := os.Stat(p)
			if err != nil {
				return nil, matcher.NewError(matcher.CodeIO, "discover children", err)
			}
			mode = fi.Mode().Type()
		}
		if !mode.IsRegular() {
			continue
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// Prepare validates cfg, loads the parent and every child, and builds the diff map or
// loads it from cfg.CacheDir. Configuration errors are reported before any file is read.
func Prepare(ctx context.Context, cfg config.RunConfig, obs Observer) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if obs == nil {
		obs = nopObserver{}
	}
	s := &Session{
		cfg:     cfg,
		obs:     obs,
		logger:  observability.WithComponent(observability.LoggerFromContext(ctx), "runner"),
		workers: cfg.WorkerCount(),
	}
	obs.OnStart(cfg)

	started := time.Now()
	childPaths, err := s.discover()
	if err != nil {
		return nil, err
	}
	obs.OnPhaseDone("discover", map[string]any{"children": len(childPaths)}, time.Since(started))

	started = time.Now()
	if err := s.load(childPaths); err != nil {
		return nil, err
	}
	obs.OnPhaseDone("load", map[string]any{
		"children":     s.store.NumChildren(),
		"frames":       s.store.Frames(),
		"channels":     s.store.Format().Channels,
		"sample_width": s.store.Format().SampleWidth,
		"frame_rate":   s.store.Format().FrameRate,
	}, time.Since(started))

	started = time.Now()
	if err := s.diffMap(ctx, childPaths); err != nil {
		return nil, err
	}
	obs.OnPhaseDone("diffmap", map[string]any{
		"cache_hit": s.cacheHit,
		"entries":   len(s.dm.Values()),
	}, time.Since(started))
	return s, nil
}

func (s *Session) discover() ([]string, error) {
	paths, err := DiscoverChildren(s.cfg.ChildFolder)
	if err != nil {
		return nil, err
	}
	parentAbs, err := filepath.Abs(s.cfg.ParentPath)
	if err != nil {
		return nil, matcher.NewError(matcher.CodeIO, "discover children", err)
	}
	out := paths[:0]
	for _, p := range paths {
		if abs, err := filepath.Abs(p); err == nil && abs == parentAbs {
			s.logger.Debug("skipping parent inside child folder", slog.String("path", p))
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Session) load(childPaths []string) error {
	parent, format, err := readTrack(s.cfg.ParentPath, -1)
	if err != nil {
		return err
	}

	children := make([]matcher.Child, 0, len(childPaths))
	for _, p := range childPaths {
		samples, cf, err := readTrack(p, len(parent))
		if err != nil {
			return err
		}
		if cf.SampleWidth != format.SampleWidth || cf.Channels != format.Channels {
			return matcher.NewError(matcher.CodeData, "load child", fmt.Errorf(
				"%s: %d channel(s) of %d-bit samples, parent has %d channel(s) of %d-bit samples",
				p, cf.Channels, cf.BitDepth(), format.Channels, format.BitDepth()))
		}
		if cf.FrameRate != format.FrameRate {
			s.logger.Warn("child frame rate differs from parent",
				slog.String("path", p),
				slog.Int("child_rate", cf.FrameRate),
				slog.Int("parent_rate", format.FrameRate))
		}
		children = append(children, matcher.Child{Name: filepath.Base(p), Samples: samples})
	}

	store, err := matcher.NewStore(format, parent, children)
	if err != nil {
		return err
	}
	s.store = store
	return nil
}

func readTrack(path string, limit int) (matcher.Track, matcher.Format, error) {
	r, err := wavio.Open(path)
	if err != nil {
		return nil, matcher.Format{}, err
	}
	defer r.Close()
	if limit < 0 {
		limit = r.Len()
	}
	t, err := matcher.LoadTrack(r, limit)
	if err != nil {
		return nil, matcher.Format{}, fmt.Errorf("%s: %w", r.Path(), err)
	}
	return t, r.Format(), nil
}

func (s *Session) diffMap(ctx context.Context, childPaths []string) error {
	maxValue := s.store.Format().MaxValue()
	var cache *diffcache.Cache
	if s.cfg.CacheDir != "" {
		key, err := diffcache.Fingerprint(s.store.Format().SampleWidth, s.cfg.ParentPath, childPaths)
		if err != nil {
			return err
		}
		s.cacheKey = key
		cache = diffcache.New(s.cfg.CacheDir)

		want := diffcache.Shape{Children: s.store.NumChildren(), Frames: s.store.Frames()}
		dm, err := cache.Load(key, want, maxValue)
		switch {
		case err == nil:
			s.logger.Debug("diff map loaded from cache", slog.String("path", cache.Path(key)))
			s.dm, s.cacheHit = dm, true
			return nil
		case errors.Is(err, diffcache.ErrMiss):
		case matcher.IsData(err):
			observability.WithError(s.logger, err).Warn("discarding unusable diff map cache", slog.String("path", cache.Path(key)))
		default:
			return err
		}
	}

	dm, err := matcher.BuildDiffMap(ctx, s.store.Parent(), s.store.Tracks(), maxValue, s.options("diffmap")...)
	if err != nil {
		return err
	}
	s.dm = dm
	if cache != nil {
		if err := cache.Save(s.cacheKey, dm); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) options(phase string) []matcher.Option {
	return []matcher.Option{
		matcher.WithWorkers(s.workers),
		matcher.WithProgress(func(done, total int) { s.obs.OnProgress(phase, done, total) }),
	}
}

// Store returns the loaded inputs.
func (s *Session) Store() *matcher.Store { return s.store }

// DiffMap returns the session's diff map.
func (s *Session) DiffMap() *matcher.DiffMap { return s.dm }

// Render selects frames for cmp and writes them to the output folder, returning the
// output path. Nothing is left on disk when it fails.
func (s *Session) Render(ctx context.Context, cmp matcher.Config) (string, error) {
	started := time.Now()
	format := s.store.Format()
	sel, err := matcher.NewSelector(cmp, format)
	if err != nil {
		return "", err
	}
	samples, err := sel.SelectAll(ctx, s.store.Parent(), s.store.Tracks(), s.dm, s.options("select")...)
	if err != nil {
		return "", err
	}
	cfg := sel.Config()
	s.obs.OnPhaseDone("select", map[string]any{
		"stop": cfg.Stop,
		"mode": cfg.Mode.String(),
	}, time.Since(started))

	written := time.Now()
	path := filepath.Join(s.cfg.OutputFolder, config.OutputName(cfg.Start, cfg.Stop, cfg.Step))
	w, err := wavio.Create(path)
	if err != nil {
		return "", err
	}
	if err := matcher.Compose(w, format, samples, s.store.Frames()); err != nil {
		w.Abort()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	s.obs.OnPhaseDone("write", map[string]any{
		"path":   path,
		"frames": len(samples) / format.Channels,
	}, time.Since(written))
	s.obs.OnOutput(path, cfg, time.Since(started))
	return path, nil
}

func (s *Session) result(ctx context.Context) *Result {
	res := &Result{
		RunID:    observability.RunIDFromContext(ctx),
		Children: s.store.NumChildren(),
		Frames:   s.store.Frames(),
		CacheHit: s.cacheHit,
	}
	if s.cacheKey != uuid.Nil {
		res.CacheKey = s.cacheKey.String()
	}
	return res
}

// withRunID tags ctx with a fresh run ID unless it already carries one.
func withRunID(ctx context.Context) context.Context {
	if observability.RunIDFromContext(ctx) != "" {
		return ctx
	}
	return observability.ContextWithRunID(ctx, observability.NewRunID())
}

// Run renders the single comparison described by cfg.
func Run(ctx context.Context, cfg config.RunConfig, obs Observer) (*Result, error) {
	ctx = withRunID(ctx)
	s, err := Prepare(ctx, cfg, obs)
	if err != nil {
		return nil, err
	}
	cmp, err := cfg.Comparison()
	if err != nil {
		return nil, err
	}
	path, err := s.Render(ctx, cmp)
	if err != nil {
		return nil, err
	}
	res := s.result(ctx)
	res.Outputs = []string{path}
	return res, nil
}

// Sweep renders one output per value in cfg.Stops from a single diff map.
func Sweep(ctx context.Context, cfg config.RunConfig, obs Observer) (*Result, error) {
	if len(cfg.Stops) == 0 {
		return nil, matcher.NewError(matcher.CodeConfiguration, "sweep", errors.New("no stop values given"))
	}
	comparisons := make([]matcher.Config, 0, len(cfg.Stops))
	for _, stop := range cfg.Stops {
		cmp, err := cfg.ComparisonTo(stop)
		if err != nil {
			return nil, err
		}
		comparisons = append(comparisons, cmp)
	}

	ctx = withRunID(ctx)
	s, err := Prepare(ctx, cfg, obs)
	if err != nil {
		return nil, err
	}
	res := s.result(ctx)
	for _, cmp := range comparisons {
		path, err := s.Render(ctx, cmp)
		if err != nil {
			return nil, fmt.Errorf("sweep stop %d: %w", cmp.Stop, err)
		}
		res.Outputs = append(res.Outputs, path)
	}
	return res, nil
}

// BuildCache computes the diff map and stores it in cfg.CacheDir without rendering.
func BuildCache(ctx context.Context, cfg config.RunConfig, obs Observer) (*Result, error) {
	if strings.TrimSpace(cfg.CacheDir) == "" {
		return nil, matcher.NewError(matcher.CodeConfiguration, "diffmap", errors.New("cache directory is required"))
	}
	ctx = withRunID(ctx)
	s, err := Prepare(ctx, cfg, obs)
	if err != nil {
		return nil, err
	}
	return s.result(ctx), nil
}
