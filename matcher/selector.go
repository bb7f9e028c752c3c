package matcher

import (
	"context"
	"fmt"
	"math/bits"
	"strings"
)

// Mode picks which eligible child wins a frame.
type Mode int

const (
	// ModeMax keeps the largest distance still under the threshold.
	ModeMax Mode = iota + 1
	// ModeMin keeps the smallest distance under the threshold.
	ModeMin
)

// ParseMode accepts "max" or "min", case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "max":
		return ModeMax, nil
	case "min":
		return ModeMin, nil
	default:
		return 0, configErrorf("mode", "unknown mode %q (use max or min)", s)
	}
}

func (m Mode) String() string {
	switch m {
	case ModeMax:
		return "max"
	case ModeMin:
		return "min"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Config is one comparison request against a diff map.
type Config struct {
	Start int
	Stop  int
	// Step is validated and carried into output names but not applied anywhere.
	Step int
	Mode Mode
}

// Validate rejects ranges the threshold ramp cannot express.
func (c Config) Validate() error {
	if c.Stop < c.Start {
		return configErrorf("config", "stop %d is below start %d", c.Stop, c.Start)
	}
	if c.Step < 1 {
		return configErrorf("config", "step %d (must be >= 1)", c.Step)
	}
	if c.Mode != ModeMax && c.Mode != ModeMin {
		return configErrorf("config", "unknown mode %v", c.Mode)
	}
	return nil
}

// Selector chooses an output sample per slot.
type Selector struct {
	cfg      Config
	channels int
	span     uint64
	initial  uint64
	better   func(d, running uint64) bool
}

// NewSelector resolves the mode comparator once. The format's MaxValue bounds every
// distance and seeds the running value in ModeMin; its channel count maps slots to
// WAV frames for the threshold ramp.
func NewSelector(cfg Config, format Format) (*Selector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := format.Validate(); err != nil {
		return nil, err
	}
	s := &Selector{cfg: cfg, channels: format.Channels, span: uint64(cfg.Stop - cfg.Start)}
	switch cfg.Mode {
	case ModeMax:
		s.initial = 0
		s.better = func(d, running uint64) bool { return d > running }
	case ModeMin:
		s.initial = format.MaxValue()
		s.better = func(d, running uint64) bool { return d < running }
	}
	return s, nil
}

// Config returns the comparison this selector was built for.
func (s *Selector) Config() Config { return s.cfg }

// Threshold returns floor(frame*(stop-start)/frames), the distance a child must stay
// strictly below at WAV frame index frame of a track with frames WAV frames.
func (s *Selector) Threshold(frame, frames int) uint64 {
	if frames <= 0 || frame <= 0 {
		return 0
	}
	if frame >= frames {
		return s.span
	}
	hi, lo := bits.Mul64(uint64(frame), s.span)
	q, _ := bits.Div64(hi, lo, uint64(frames))
	return q
}

// Select returns the output sample for slot f: the parent sample unless some child
// is under the threshold, in which case the last child in index order that strictly
// improved on the running extremum wins. Nothing carries over between slots. Every
// channel of one WAV frame shares that frame's threshold.
func (s *Selector) Select(f int, parent Track, children []Track, dm *DiffMap) Sample {
	threshold := s.Threshold(f/s.channels, len(parent)/s.channels)
	out := parent[f]
	running := s.initial
	for i := range children {
		d := uint64(dm.At(i, f))
		if d < threshold && s.better(d, running) {
			running = d
			out = children[i][f]
		}
	}
	return out
}

// SelectAll runs Select for every frame. Frame ranges are processed in parallel and
// written into their own slots, so the result is in frame order.
func (s *Selector) SelectAll(ctx context.Context, parent Track, children []Track, dm *DiffMap, opts ...Option) (Track, error) {
	frames := len(parent)
	if dm.Children() != len(children) || dm.Frames() != frames {
		return nil, dataErrorf("select", "diff map is %dx%d, inputs are %dx%d", dm.Children(), dm.Frames(), len(children), frames)
	}
	for i, c := range children {
		if len(c) < frames {
			return nil, dataErrorf("select", "child %d has %d samples, parent has %d", i, len(c), frames)
		}
	}

	out := make(Track, frames)
	o := resolveOptions(opts)
	err := runSpans(ctx, 1, frames, o, func(sp span) {
		for f := sp.lo; f < sp.hi; f++ {
			out[f] = s.Select(f, parent, children, dm)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("select frames: %w", err)
	}
	return out, nil
}
