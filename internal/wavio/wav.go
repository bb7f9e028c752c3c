// Package wavio adapts WAV files to matcher sample sources and sinks.
//
// Samples travel as the raw little-endian bit patterns stored in the data chunk, read
// as unsigned integers of the file's sample width. No sign conversion or scaling is
// applied in either direction, so a file read and written back is byte-identical.
package wavio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cwbudde/algo-matcher/matcher"
	"github.com/cwbudde/wav"
)

const (
	formatPCM  = 1
	readBuffer = 1 << 16
)

// Reader streams the data chunk of an integer PCM WAV file as a matcher.SampleSource.
type Reader struct {
	path      string
	f         *os.File
	r         *bufio.Reader
	format    matcher.Format
	samples   int
	remaining int
	raw       []byte
}

// Open positions a reader at the first sample of the integer PCM file at path. A
// trailing partial frame is ignored.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, matcher.NewError(matcher.CodeIO, "open", err)
	}
	r, err := newReader(path, f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return r, nil
}

func newReader(path string, f *os.File) (*Reader, error) {
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, matcher.NewError(matcher.CodeIO, "decode", fmt.Errorf("invalid wav file: %s", path))
	}
	tag := dec.WavAudioFormat
	if dec.FmtChunk != nil {
		tag = dec.FmtChunk.EffectiveFormatTag()
	}
	if tag != formatPCM {
		return nil, matcher.NewError(matcher.CodeData, "decode", fmt.Errorf("%s: wav format %d is not integer PCM", path, tag))
	}
	if dec.BitDepth%8 != 0 {
		return nil, matcher.NewError(matcher.CodeData, "decode", fmt.Errorf("%s: %d-bit samples are not byte aligned", path, dec.BitDepth))
	}
	format := matcher.Format{
		Channels:    int(dec.NumChans),
		SampleWidth: int(dec.BitDepth) / 8,
		FrameRate:   int(dec.SampleRate),
	}
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if err := dec.FwdToPCM(); err != nil {
		return nil, matcher.NewError(matcher.CodeIO, "decode", fmt.Errorf("%s: %w", path, err))
	}
	size, err := dataSize(f)
	if err != nil {
		return nil, matcher.NewError(matcher.CodeIO, "decode", fmt.Errorf("%s: %w", path, err))
	}

	frameBytes := int64(format.Channels * format.SampleWidth)
	frames := size / frameBytes
	samples := int(frames) * format.Channels
	return &Reader{
		path:      path,
		f:         f,
		r:         bufio.NewReaderSize(io.LimitReader(f, frames*frameBytes), readBuffer),
		format:    format,
		samples:   samples,
		remaining: samples,
	}, nil
}

// dataSize returns how many sample bytes follow the current offset of f, which must
// sit right after a data chunk header. The decoder rounds odd chunk sizes up to cover
// the pad byte, so the declared size is read back from the header itself and capped
// at what the file actually holds.
func dataSize(f *os.File) (int64, error) {
	pos, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	if pos < 4 {
		return 0, errors.New("data chunk header not found")
	}
	var field [4]byte
	if _, err := f.ReadAt(field[:], pos-4); err != nil {
		return 0, fmt.Errorf("data chunk size: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return min(int64(binary.LittleEndian.Uint32(field[:])), max(fi.Size()-pos, 0)), nil
}

// Path returns the file the reader was opened from.
func (r *Reader) Path() string { return r.path }

// Format implements matcher.SampleSource.
func (r *Reader) Format() matcher.Format { return r.format }

// Len returns the total number of samples in the data chunk.
func (r *Reader) Len() int { return r.samples }

// ReadSamples implements matcher.SampleSource.
func (r *Reader) ReadSamples(n int) (matcher.Track, error) {
	if r.remaining == 0 {
		return nil, io.EOF
	}
	n = min(n, r.remaining)
	width := r.format.SampleWidth
	if cap(r.raw) < n*width {
		r.raw = make([]byte, n*width)
	}
	raw := r.raw[:n*width]
	if _, err := io.ReadFull(r.r, raw); err != nil {
		return nil, matcher.NewError(matcher.CodeIO, "read samples", fmt.Errorf("%s: %w", r.path, err))
	}
	r.remaining -= n

	out := make(matcher.Track, n)
	for i := range out {
		out[i] = decodeSample(raw[i*width : (i+1)*width])
	}
	return out, nil
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}

// decodeSample assembles a little-endian unsigned value from b.
func decodeSample(b []byte) matcher.Sample {
	var v uint32
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint32(b[i])
	}
	return matcher.Sample(v)
}

// seekBuffer batches encoder writes and flushes before every seek so that header
// patches land after the sample data.
type seekBuffer struct {
	f  *os.File
	bw *bufio.Writer
}

func (b *seekBuffer) Write(p []byte) (int, error) { return b.bw.Write(p) }

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	if err := b.bw.Flush(); err != nil {
		return 0, err
	}
	return b.f.Seek(offset, whence)
}

// Writer encodes samples into a WAV file. Output goes to a temporary file next to the
// target and is renamed into place by Close, so a failed run leaves nothing behind.
type Writer struct {
	path   string
	f      *os.File
	out    *seekBuffer
	enc    *wav.Encoder
	format matcher.Format
	frames int
	closed bool

	// One frame's worth of samples in the encoder's integer type for the width.
	u8  []uint8
	u16 []uint16
	u24 [][3]byte
	u32 []uint32
}

// Create prepares a writer for path, creating parent directories as needed.
func Create(path string) (*Writer, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, matcher.NewError(matcher.CodeIO, "create", err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, matcher.NewError(matcher.CodeIO, "create", err)
	}
	return &Writer{path: path, f: f}, nil
}

// Path returns the final output path.
func (w *Writer) Path() string { return w.path }

// Begin implements matcher.SampleSink.
func (w *Writer) Begin(format matcher.Format, _ int) error {
	if w.enc != nil {
		return errors.New("wav writer already started")
	}
	if err := format.Validate(); err != nil {
		return err
	}
	w.format = format
	w.out = &seekBuffer{f: w.f, bw: bufio.NewWriterSize(w.f, readBuffer)}
	w.enc = wav.NewEncoder(w.out, format.FrameRate, format.BitDepth(), format.Channels, formatPCM)
	switch format.SampleWidth {
	case 1:
		w.u8 = make([]uint8, format.Channels)
	case 2:
		w.u16 = make([]uint16, format.Channels)
	case 3:
		w.u24 = make([][3]byte, format.Channels)
	default:
		w.u32 = make([]uint32, format.Channels)
	}
	return nil
}

// WriteSamples implements matcher.SampleSink. t must hold whole frames.
func (w *Writer) WriteSamples(t matcher.Track) error {
	if w.enc == nil {
		return errors.New("wav writer not started")
	}
	channels := w.format.Channels
	if len(t)%channels != 0 {
		return fmt.Errorf("%d samples do not fill %d-channel frames", len(t), channels)
	}
	for lo := 0; lo < len(t); lo += channels {
		if err := w.enc.WriteFrame(w.frame(t[lo : lo+channels])); err != nil {
			return matcher.NewError(matcher.CodeIO, "write samples", err)
		}
		w.frames++
	}
	return nil
}

// frame converts one frame to the slice the encoder serializes little-endian. The
// encoder counts one frame per call, which sizes the data chunk header.
func (w *Writer) frame(samples matcher.Track) any {
	switch w.format.SampleWidth {
	case 1:
		for i, s := range samples {
			w.u8[i] = uint8(s)
		}
		return w.u8
	case 2:
		for i, s := range samples {
			w.u16[i] = uint16(s)
		}
		return w.u16
	case 3:
		for i, s := range samples {
			w.u24[i] = [3]byte{byte(s), byte(s >> 8), byte(s >> 16)}
		}
		return w.u24
	default:
		for i, s := range samples {
			w.u32[i] = uint32(s)
		}
		return w.u32
	}
}

// Close finalizes the header and moves the file into place.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if w.enc == nil || w.frames == 0 {
		w.discard()
		return matcher.NewError(matcher.CodeIO, "close", errors.New("no frames were written"))
	}
	if err := w.enc.Close(); err != nil {
		w.discard()
		return matcher.NewError(matcher.CodeIO, "close", err)
	}
	if err := w.out.bw.Flush(); err != nil {
		w.discard()
		return matcher.NewError(matcher.CodeIO, "close", err)
	}
	if err := w.f.Close(); err != nil {
		_ = os.Remove(w.f.Name())
		return matcher.NewError(matcher.CodeIO, "close", err)
	}
	if err := os.Rename(w.f.Name(), w.path); err != nil {
		_ = os.Remove(w.f.Name())
		return matcher.NewError(matcher.CodeIO, "close", err)
	}
	return nil
}

// Abort discards everything written so far.
func (w *Writer) Abort() {
	if w.closed {
		return
	}
	w.closed = true
	w.discard()
}

func (w *Writer) discard() {
	_ = w.f.Close()
	_ = os.Remove(w.f.Name())
}
