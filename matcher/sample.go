// Package matcher compares a parent PCM waveform against a set of child waveforms
// sample by sample and composes a new waveform from the parent and the children.
//
// The frame axis used throughout this package is the interleaved sample stream:
// a mono file has one slot per WAV frame, a stereo file two. Every slot holds one
// raw unsigned sample of Format.SampleWidth bytes.
package matcher

import (
	"errors"
	"fmt"
	"io"
)

// Sample is a raw fixed-width unsigned PCM value in [0, Format.MaxValue()).
type Sample uint32

// Track is an ordered run of samples.
type Track []Sample

// Format describes the PCM layout shared by a source and the output it produces.
type Format struct {
	Channels    int `json:"channels"`
	SampleWidth int `json:"sample_width"` // bytes per sample, 1..4
	FrameRate   int `json:"frame_rate"`
}

// MaxValue returns 2^(8*SampleWidth), the exclusive upper bound of a sample.
func (f Format) MaxValue() uint64 {
	return uint64(1) << (8 * uint(f.SampleWidth))
}

// BitDepth returns the sample width in bits.
func (f Format) BitDepth() int { return f.SampleWidth * 8 }

// Validate checks that the format can carry samples.
func (f Format) Validate() error {
	if f.SampleWidth < 1 || f.SampleWidth > 4 {
		return dataErrorf("format", "sample width %d bytes (must be 1..4)", f.SampleWidth)
	}
	if f.Channels < 1 {
		return dataErrorf("format", "channel count %d (must be >= 1)", f.Channels)
	}
	if f.FrameRate < 1 {
		return dataErrorf("format", "frame rate %d (must be >= 1)", f.FrameRate)
	}
	return nil
}

// SampleSource yields samples and the format they were recorded in.
type SampleSource interface {
	Format() Format
	// ReadSamples returns up to n samples. It returns io.EOF once the source is drained.
	ReadSamples(n int) (Track, error)
}

// SampleSink persists samples. Begin is called once with the output format and the
// total number of samples that will follow.
type SampleSink interface {
	Begin(format Format, samples int) error
	WriteSamples(t Track) error
}

const readBlock = 1 << 16

// LoadTrack drains src into memory. A negative limit reads everything; otherwise at
// most limit samples are read and the rest of the source is left untouched.
func LoadTrack(src SampleSource, limit int) (Track, error) {
	var out Track
	if limit >= 0 {
		out = make(Track, 0, limit)
	}
	for limit < 0 || len(out) < limit {
		n := readBlock
		if limit >= 0 && limit-len(out) < n {
			n = limit - len(out)
		}
		chunk, err := src.ReadSamples(n)
		out = append(out, chunk...)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read samples: %w", err)
		}
		if len(chunk) == 0 {
			break
		}
	}
	return out, nil
}
