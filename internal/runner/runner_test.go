package runner

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cwbudde/algo-matcher/internal/config"
	"github.com/cwbudde/algo-matcher/internal/diffcache"
	"github.com/cwbudde/algo-matcher/internal/observability"
	"github.com/cwbudde/algo-matcher/internal/wavio"
	"github.com/cwbudde/algo-matcher/matcher"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var mono8 = matcher.Format{Channels: 1, SampleWidth: 1, FrameRate: 8000}

type recordObserver struct {
	mu sync.Mutex

	starts   int
	phases   []string
	progress map[string]int
	outputs  []string
}

func (o *recordObserver) OnStart(config.RunConfig) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.starts++
}

func (o *recordObserver) OnPhaseDone(name string, _ map[string]any, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.phases = append(o.phases, name)
}

func (o *recordObserver) OnProgress(phase string, _, _ int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.progress == nil {
		o.progress = make(map[string]int)
	}
	o.progress[phase]++
}

func (o *recordObserver) OnOutput(path string, _ matcher.Config, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outputs = append(o.outputs, path)
}

func writeWAV(t *testing.T, path string, format matcher.Format, samples matcher.Track) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	w, err := wavio.Create(path)
	require.NoError(t, err)
	require.NoError(t, matcher.Compose(w, format, samples, len(samples)))
	require.NoError(t, w.Close())
}

func readWAV(t *testing.T, path string) (matcher.Track, matcher.Format) {
	t.Helper()
	r, err := wavio.Open(path)
	require.NoError(t, err)
	defer r.Close()
	samples, err := matcher.LoadTrack(r, -1)
	require.NoError(t, err)
	return samples, r.Format()
}

// fixture lays out parent.wav and children/ under a temp dir and returns a config
// comparing them with start 0, stop 40, mode max.
func fixture(t *testing.T, parent matcher.Track, children map[string]matcher.Track) config.RunConfig {
	t.Helper()
	return fixtureWithFormat(t, mono8, parent, children)
}

func fixtureWithFormat(t *testing.T, format matcher.Format, parent matcher.Track, children map[string]matcher.Track) config.RunConfig {
	t.Helper()
	root := t.TempDir()
	writeWAV(t, filepath.Join(root, "parent.wav"), format, parent)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "children"), 0o755))
	for name, samples := range children {
		writeWAV(t, filepath.Join(root, "children", name), format, samples)
	}
	return config.RunConfig{
		ParentPath:   filepath.Join(root, "parent.wav"),
		ChildFolder:  filepath.Join(root, "children"),
		OutputFolder: filepath.Join(root, "output"),
		Start:        0,
		Stop:         40,
		Step:         1,
		Mode:         "max",
		Workers:      "auto",
	}
}

func TestRunEndToEnd(t *testing.T) {
	cfg := fixture(t, matcher.Track{0, 10, 20, 30}, map[string]matcher.Track{
		"a.wav": {0, 50, 20, 5},
	})
	obs := &recordObserver{}

	res, err := Run(context.Background(), cfg, obs)
	require.NoError(t, err)

	want := filepath.Join(cfg.OutputFolder, "out_0_40_ 1.wav")
	assert.Equal(t, []string{want}, res.Outputs)
	assert.Equal(t, 1, res.Children)
	assert.Equal(t, 4, res.Frames)
	assert.False(t, res.CacheHit)
	assert.NotEmpty(t, res.RunID)

	got, format := readWAV(t, want)
	assert.Equal(t, matcher.Track{0, 10, 20, 5}, got)
	assert.Equal(t, mono8, format)

	assert.Equal(t, 1, obs.starts)
	assert.Equal(t, []string{"discover", "load", "diffmap", "select", "write"}, obs.phases)
	assert.Equal(t, []string{want}, obs.outputs)
	assert.Positive(t, obs.progress["diffmap"])
	assert.Positive(t, obs.progress["select"])
}

func TestRunStereoThresholdFollowsFrames(t *testing.T) {
	stereo := matcher.Format{Channels: 2, SampleWidth: 1, FrameRate: 8000}
	cfg := fixtureWithFormat(t, stereo, matcher.Track{0, 0, 10, 10, 20, 20, 30, 30}, map[string]matcher.Track{
		"a.wav": {0, 3, 50, 50, 20, 20, 5, 5},
	})

	res, err := Run(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, 8, res.Frames)

	// Four WAV frames ramp 0, 10, 20, 30; both channels of a frame share the threshold.
	got, format := readWAV(t, res.Outputs[0])
	assert.Equal(t, stereo, format)
	assert.Equal(t, matcher.Track{0, 0, 10, 10, 20, 20, 5, 5}, got)
}

func TestRunKeepsRunIDFromContext(t *testing.T) {
	cfg := fixture(t, matcher.Track{1, 2}, nil)
	ctx := observability.ContextWithRunID(context.Background(), "fixed-run")

	res, err := Run(ctx, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "fixed-run", res.RunID)
	assert.Equal(t, 0, res.Children)

	// With no children every frame comes from the parent.
	got, _ := readWAV(t, res.Outputs[0])
	assert.Equal(t, matcher.Track{1, 2}, got)
}

func TestRunInvalidModeWritesNothing(t *testing.T) {
	cfg := fixture(t, matcher.Track{0, 10, 20, 30}, map[string]matcher.Track{
		"a.wav": {0, 50, 20, 5},
	})
	cfg.Mode = "median"
	obs := &recordObserver{}

	_, err := Run(context.Background(), cfg, obs)
	require.Error(t, err)
	assert.True(t, matcher.IsConfiguration(err), "got %v", err)
	assert.Zero(t, obs.starts)
	assert.NoDirExists(t, cfg.OutputFolder)
}

func TestRunShortChild(t *testing.T) {
	cfg := fixture(t, matcher.Track{0, 10, 20, 30}, map[string]matcher.Track{
		"a.wav": {0, 50, 20, 5},
		"b.wav": {1, 2},
	})

	_, err := Run(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.True(t, matcher.IsData(err), "got %v", err)
	assert.Contains(t, err.Error(), "b.wav")
	assert.NoDirExists(t, cfg.OutputFolder)
}

func TestRunChildFormatMismatch(t *testing.T) {
	cfg := fixture(t, matcher.Track{0, 10, 20, 30}, nil)
	wide := matcher.Format{Channels: 1, SampleWidth: 2, FrameRate: 8000}
	writeWAV(t, filepath.Join(cfg.ChildFolder, "wide.wav"), wide, matcher.Track{0, 1000, 2000, 3000})

	_, err := Run(context.Background(), cfg, nil)
	assert.True(t, matcher.IsData(err), "got %v", err)
}

func TestRunMissingChildFolder(t *testing.T) {
	cfg := fixture(t, matcher.Track{0, 10}, nil)
	cfg.ChildFolder = filepath.Join(t.TempDir(), "missing")

	_, err := Run(context.Background(), cfg, nil)
	assert.True(t, matcher.IsIO(err), "got %v", err)
}

func TestRunCancelledWritesNothing(t *testing.T) {
	cfg := fixture(t, matcher.Track{0, 10, 20, 30}, map[string]matcher.Track{
		"a.wav": {0, 50, 20, 5},
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, cfg, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.NoDirExists(t, cfg.OutputFolder)
}

func TestSweep(t *testing.T) {
	cfg := fixture(t, matcher.Track{0, 10, 20, 30}, map[string]matcher.Track{
		"a.wav": {0, 50, 20, 5},
	})
	cfg.Stops = []int{10, 40}
	obs := &recordObserver{}

	res, err := Sweep(context.Background(), cfg, obs)
	require.NoError(t, err)
	require.Len(t, res.Outputs, 2)
	assert.Equal(t, filepath.Join(cfg.OutputFolder, "out_0_10_ 1.wav"), res.Outputs[0])
	assert.Equal(t, filepath.Join(cfg.OutputFolder, "out_0_40_ 1.wav"), res.Outputs[1])

	// Thresholds 0, 2, 5, 7: the last frame's distance of 25 is not eligible.
	got, _ := readWAV(t, res.Outputs[0])
	assert.Equal(t, matcher.Track{0, 10, 20, 30}, got)
	got, _ = readWAV(t, res.Outputs[1])
	assert.Equal(t, matcher.Track{0, 10, 20, 5}, got)

	// One diff map for both outputs.
	assert.Equal(t, []string{"discover", "load", "diffmap", "select", "write", "select", "write"}, obs.phases)
	assert.Len(t, obs.outputs, 2)
}

func TestSweepRequiresStops(t *testing.T) {
	cfg := fixture(t, matcher.Track{0}, nil)
	_, err := Sweep(context.Background(), cfg, nil)
	assert.True(t, matcher.IsConfiguration(err), "got %v", err)

	cfg.Start, cfg.Stops = 20, []int{10}
	_, err = Sweep(context.Background(), cfg, nil)
	assert.True(t, matcher.IsConfiguration(err), "got %v", err)
}

func TestCacheReuse(t *testing.T) {
	cfg := fixture(t, matcher.Track{0, 10, 20, 30}, map[string]matcher.Track{
		"a.wav": {0, 50, 20, 5},
	})
	cfg.CacheDir = filepath.Join(t.TempDir(), "cache")

	built, err := BuildCache(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.False(t, built.CacheHit)
	require.NotEmpty(t, built.CacheKey)
	assert.Empty(t, built.Outputs)
	assert.NoDirExists(t, cfg.OutputFolder)

	res, err := Run(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.True(t, res.CacheHit)
	assert.Equal(t, built.CacheKey, res.CacheKey)
	got, _ := readWAV(t, res.Outputs[0])
	assert.Equal(t, matcher.Track{0, 10, 20, 5}, got)
}

func TestCorruptCacheIsRebuilt(t *testing.T) {
	cfg := fixture(t, matcher.Track{0, 10, 20, 30}, map[string]matcher.Track{
		"a.wav": {0, 50, 20, 5},
	})
	cfg.CacheDir = filepath.Join(t.TempDir(), "cache")

	built, err := BuildCache(context.Background(), cfg, nil)
	require.NoError(t, err)

	entries, err := os.ReadDir(cfg.CacheDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	path := filepath.Join(cfg.CacheDir, entries[0].Name())
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))

	res, err := Run(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.False(t, res.CacheHit)
	assert.Equal(t, built.CacheKey, res.CacheKey)

	shape := diffcache.Shape{Children: 1, Frames: 4}
	dm, err := diffcache.New(cfg.CacheDir).Load(mustParseKey(t, res.CacheKey), shape, mono8.MaxValue())
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 40, 0, 25}, dm.Values())
}

func TestBuildCacheRequiresDir(t *testing.T) {
	cfg := fixture(t, matcher.Track{0}, nil)
	_, err := BuildCache(context.Background(), cfg, nil)
	assert.True(t, matcher.IsConfiguration(err), "got %v", err)
}

func TestDiscoverChildren(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"c.wav", "a.wav", ".hidden.wav", "b.raw"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))
	require.NoError(t, os.Symlink(filepath.Join(dir, "a.wav"), filepath.Join(dir, "d.wav")))

	got, err := DiscoverChildren(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.wav"),
		filepath.Join(dir, "b.raw"),
		filepath.Join(dir, "c.wav"),
		filepath.Join(dir, "d.wav"),
	}, got)
}

func TestParentInsideChildFolderIsSkipped(t *testing.T) {
	cfg := fixture(t, matcher.Track{0, 10, 20, 30}, map[string]matcher.Track{
		"a.wav": {0, 50, 20, 5},
	})
	parent := filepath.Join(cfg.ChildFolder, "parent.wav")
	require.NoError(t, os.Rename(cfg.ParentPath, parent))
	cfg.ParentPath = parent

	res, err := Run(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Children)
}

func mustParseKey(t *testing.T, s string) uuid.UUID {
	t.Helper()
	key, err := uuid.Parse(s)
	require.NoError(t, err)
	return key
}
