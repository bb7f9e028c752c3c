package matcher

import (
	"errors"
	"io"
	"testing"
)

var monoByte = Format{Channels: 1, SampleWidth: 1, FrameRate: 8000}

func TestNewStoreTruncatesChildren(t *testing.T) {
	st, err := NewStore(monoByte, Track{1, 2, 3}, []Child{
		{Name: "a.wav", Samples: Track{9, 9, 9, 9, 9}},
		{Name: "b.wav", Samples: Track{7, 7, 7}},
	})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if st.Frames() != 3 {
		t.Fatalf("Frames() = %d, want 3", st.Frames())
	}
	for i, tr := range st.Tracks() {
		if len(tr) != 3 {
			t.Fatalf("child %d has %d samples, want 3", i, len(tr))
		}
	}
	if names := st.Names(); names[0] != "a.wav" || names[1] != "b.wav" {
		t.Fatalf("Names() = %v", names)
	}
	if st.Child(1).Name != "b.wav" || st.NumChildren() != 2 {
		t.Fatalf("unexpected child listing")
	}
}

func TestNewStoreRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name     string
		format   Format
		parent   Track
		children []Child
	}{
		{name: "short child", format: monoByte, parent: Track{1, 2, 3}, children: []Child{{Name: "x", Samples: Track{1}}}},
		{name: "zero width", format: Format{Channels: 1, SampleWidth: 0, FrameRate: 1}, parent: Track{1}},
		{name: "five bytes", format: Format{Channels: 1, SampleWidth: 5, FrameRate: 1}, parent: Track{1}},
		{name: "parent out of range", format: monoByte, parent: Track{256}},
		{name: "child out of range", format: monoByte, parent: Track{1}, children: []Child{{Name: "x", Samples: Track{300}}}},
		{name: "no channels", format: Format{Channels: 0, SampleWidth: 1, FrameRate: 1}, parent: Track{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewStore(tt.format, tt.parent, tt.children); !IsData(err) {
				t.Fatalf("expected data error, got %v", err)
			}
		})
	}
}

type sliceSource struct {
	format Format
	data   Track
	pos    int
	failAt int
}

func (s *sliceSource) Format() Format { return s.format }

func (s *sliceSource) ReadSamples(n int) (Track, error) {
	if s.failAt > 0 && s.pos >= s.failAt {
		return nil, errors.New("boom")
	}
	if s.pos >= len(s.data) {
		return nil, io.EOF
	}
	hi := min(s.pos+n, len(s.data))
	out := s.data[s.pos:hi]
	s.pos = hi
	return out, nil
}

func TestLoadTrack(t *testing.T) {
	data := make(Track, readBlock*2+17)
	for i := range data {
		data[i] = Sample(i % 256)
	}

	all, err := LoadTrack(&sliceSource{format: monoByte, data: data}, -1)
	if err != nil {
		t.Fatalf("LoadTrack: %v", err)
	}
	if len(all) != len(data) {
		t.Fatalf("len = %d, want %d", len(all), len(data))
	}

	part, err := LoadTrack(&sliceSource{format: monoByte, data: data}, 100)
	if err != nil {
		t.Fatalf("LoadTrack: %v", err)
	}
	if len(part) != 100 || part[99] != 99 {
		t.Fatalf("limited read = %d samples", len(part))
	}

	short, err := LoadTrack(&sliceSource{format: monoByte, data: data[:10]}, 100)
	if err != nil {
		t.Fatalf("LoadTrack: %v", err)
	}
	if len(short) != 10 {
		t.Fatalf("short read = %d samples, want 10", len(short))
	}

	if _, err := LoadTrack(&sliceSource{format: monoByte, data: data, failAt: readBlock}, -1); err == nil {
		t.Fatal("expected read error")
	}
}
