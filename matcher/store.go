package matcher

// Child is a named candidate track.
type Child struct {
	Name    string
	Samples Track
}

// Store holds the parent track and every child track, each child truncated to the
// parent's length. It is read-only once built.
type Store struct {
	format   Format
	parent   Track
	children []Child
}

// NewStore validates and aligns the inputs. Children longer than the parent are
// truncated; shorter children are rejected with a data error.
func NewStore(format Format, parent Track, children []Child) (*Store, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	maxValue := format.MaxValue()
	if i, ok := outOfRange(parent, maxValue); ok {
		return nil, dataErrorf("store", "parent sample %d = %d exceeds %d-byte range", i, parent[i], format.SampleWidth)
	}

	frames := len(parent)
	aligned := make([]Child, len(children))
	for ci, c := range children {
		if len(c.Samples) < frames {
			return nil, dataErrorf("store", "child %d (%s) has %d samples, parent has %d", ci, c.Name, len(c.Samples), frames)
		}
		samples := c.Samples[:frames:frames]
		if i, ok := outOfRange(samples, maxValue); ok {
			return nil, dataErrorf("store", "child %d (%s) sample %d = %d exceeds %d-byte range", ci, c.Name, i, samples[i], format.SampleWidth)
		}
		aligned[ci] = Child{Name: c.Name, Samples: samples}
	}

	return &Store{
		format:   format,
		parent:   parent[:frames:frames],
		children: aligned,
	}, nil
}

func outOfRange(t Track, maxValue uint64) (int, bool) {
	for i, s := range t {
		if uint64(s) >= maxValue {
			return i, true
		}
	}
	return 0, false
}

// Format returns the parent's format, which is also the output format.
func (s *Store) Format() Format { return s.format }

// Frames returns the parent's length in samples.
func (s *Store) Frames() int { return len(s.parent) }

// Parent returns the parent track. Callers must not modify it.
func (s *Store) Parent() Track { return s.parent }

// NumChildren returns the number of child tracks.
func (s *Store) NumChildren() int { return len(s.children) }

// Child returns child i.
func (s *Store) Child(i int) Child { return s.children[i] }

// Tracks returns the child tracks in index order.
func (s *Store) Tracks() []Track {
	out := make([]Track, len(s.children))
	for i, c := range s.children {
		out[i] = c.Samples
	}
	return out
}

// Names returns the child names in index order.
func (s *Store) Names() []string {
	out := make([]string, len(s.children))
	for i, c := range s.children {
		out[i] = c.Name
	}
	return out
}
