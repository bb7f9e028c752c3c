package matcher

import (
	"context"
	"fmt"
)

// DiffMap holds the distance between every child sample and the parent sample at the
// same frame. Rows are children, columns are frames, stored in one contiguous slice.
type DiffMap struct {
	children int
	frames   int
	values   []uint32
}

// NewDiffMap wraps precomputed distances, as read back from a persisted map. values is
// laid out child-major and is not copied.
func NewDiffMap(children, frames int, values []uint32, maxValue uint64) (*DiffMap, error) {
	if children < 0 || frames < 0 {
		return nil, dataErrorf("diff map", "negative shape %dx%d", children, frames)
	}
	if len(values) != children*frames {
		return nil, dataErrorf("diff map", "%d values for %d children x %d frames", len(values), children, frames)
	}
	for i, v := range values {
		if uint64(v) >= maxValue {
			return nil, dataErrorf("diff map", "distance %d at child %d frame %d exceeds %d", v, i/max(frames, 1), i%max(frames, 1), maxValue)
		}
	}
	return &DiffMap{children: children, frames: frames, values: values}, nil
}

// BuildDiffMap computes Distance(parent[f], children[i][f]) for every child i and frame
// f < len(parent). Entries are independent and computed in parallel blocks.
func BuildDiffMap(ctx context.Context, parent Track, children []Track, maxValue uint64, opts ...Option) (*DiffMap, error) {
	frames := len(parent)
	for i, c := range children {
		if len(c) < frames {
			return nil, dataErrorf("diff map", "child %d has %d samples, parent has %d", i, len(c), frames)
		}
	}

	dm := &DiffMap{
		children: len(children),
		frames:   frames,
		values:   make([]uint32, len(children)*frames),
	}
	o := resolveOptions(opts)
	err := runSpans(ctx, len(children), frames, o, func(s span) {
		row := dm.values[s.row*frames : (s.row+1)*frames]
		child := children[s.row]
		for f := s.lo; f < s.hi; f++ {
			row[f] = Distance(parent[f], child[f], maxValue)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("build diff map: %w", err)
	}
	return dm, nil
}

// Children returns the number of rows.
func (m *DiffMap) Children() int { return m.children }

// Frames returns the number of columns.
func (m *DiffMap) Frames() int { return m.frames }

// At returns the distance for child i at frame f.
func (m *DiffMap) At(i, f int) uint32 { return m.values[i*m.frames+f] }

// Row returns the distances of child i. The slice is shared and must not be modified.
func (m *DiffMap) Row(i int) []uint32 {
	lo := i * m.frames
	return m.values[lo : lo+m.frames : lo+m.frames]
}

// Values returns the backing child-major slice. It must not be modified.
func (m *DiffMap) Values() []uint32 { return m.values }
