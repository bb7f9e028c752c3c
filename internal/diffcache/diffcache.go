// Package diffcache persists diff maps so that several comparisons against the same
// parent and children skip recomputing distances.
//
// A cache file is a zstd stream holding a fixed header followed by the distances as
// little-endian uint32 values in child-major order:
//
//	magic   [4]byte  "AMDM"
//	version uint16
//	key     [16]byte fingerprint of the inputs
//	children uint32
//	frames   uint64
//	values   [children*frames]uint32
package diffcache

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cwbudde/algo-matcher/matcher"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// ErrMiss is returned by Load when no cache file exists for a key.
var ErrMiss = errors.New("diffcache: no cached diff map")

const (
	formatVersion = 1
	valueChunk    = 1 << 14
)

var magic = [4]byte{'A', 'M', 'D', 'M'}

// namespace scopes fingerprints so they cannot collide with other v5 UUIDs.
var namespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("algo-matcher/diffmap"))

type header struct {
	Magic    [4]byte
	Version  uint16
	Key      [16]byte
	Children uint32
	Frames   uint64
}

// Shape is the number of children and frames a diff map must cover.
type Shape struct {
	Children int
	Frames   int
}

// Fingerprint identifies a parent and an ordered child list by path, size and
// modification time. Any change to a file or to the child order yields a new key.
func Fingerprint(sampleWidth int, parent string, children []string) (uuid.UUID, error) {
	var b strings.Builder
	b.WriteString("v" + strconv.Itoa(formatVersion) + "|w" + strconv.Itoa(sampleWidth) + "\n")
	for _, p := range append([]string{parent}, children...) {
		abs, err := filepath.Abs(p)
		if err != nil {
			return uuid.Nil, matcher.NewError(matcher.CodeIO, "fingerprint", err)
		}
		fi, err := os.Stat(abs)
		if err != nil {
			return uuid.Nil, matcher.NewError(matcher.CodeIO, "fingerprint", err)
		}
		fmt.Fprintf(&b, "%s|%d|%d\n", abs, fi.Size(), fi.ModTime().UnixNano())
	}
	return uuid.NewSHA1(namespace, []byte(b.String())), nil
}

// Cache stores diff maps under a directory.
type Cache struct {
	dir string
}

// New returns a cache rooted at dir. The directory is created on first Save.
func New(dir string) *Cache {
	return &Cache{dir: dir}
}

// Path returns the file used for key.
func (c *Cache) Path(key uuid.UUID) string {
	return filepath.Join(c.dir, "diffmap-"+key.String()+".zst")
}

// Load reads the diff map stored for key. It returns ErrMiss when there is none and a
// data error when the file is corrupt, belongs to other inputs or does not have the
// expected shape.
func (c *Cache) Load(key uuid.UUID, want Shape, maxValue uint64) (*matcher.DiffMap, error) {
	f, err := os.Open(c.Path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, matcher.NewError(matcher.CodeIO, "load diff map", err)
	}
	defer f.Close()
	return Decode(f, key, want, maxValue)
}

// Save writes dm for key, replacing any previous file atomically.
func (c *Cache) Save(key uuid.UUID, dm *matcher.DiffMap) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return matcher.NewError(matcher.CodeIO, "save diff map", err)
	}
	f, err := os.CreateTemp(c.dir, ".diffmap-*.tmp")
	if err != nil {
		return matcher.NewError(matcher.CodeIO, "save diff map", err)
	}
	if err := Encode(f, key, dm); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return matcher.NewError(matcher.CodeIO, "save diff map", err)
	}
	if err := os.Rename(f.Name(), c.Path(key)); err != nil {
		_ = os.Remove(f.Name())
		return matcher.NewError(matcher.CodeIO, "save diff map", err)
	}
	return nil
}

// Encode writes dm as a compressed cache stream.
func Encode(w io.Writer, key uuid.UUID, dm *matcher.DiffMap) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return matcher.NewError(matcher.CodeIO, "encode diff map", err)
	}
	bw := bufio.NewWriter(zw)

	h := header{
		Magic:    magic,
		Version:  formatVersion,
		Key:      key,
		Children: uint32(dm.Children()),
		Frames:   uint64(dm.Frames()),
	}
	if err := binary.Write(bw, binary.LittleEndian, &h); err != nil {
		_ = zw.Close()
		return matcher.NewError(matcher.CodeIO, "encode diff map", err)
	}

	values := dm.Values()
	buf := make([]byte, 4*valueChunk)
	for lo := 0; lo < len(values); lo += valueChunk {
		hi := min(lo+valueChunk, len(values))
		n := 0
		for _, v := range values[lo:hi] {
			binary.LittleEndian.PutUint32(buf[n:], v)
			n += 4
		}
		if _, err := bw.Write(buf[:n]); err != nil {
			_ = zw.Close()
			return matcher.NewError(matcher.CodeIO, "encode diff map", err)
		}
	}
	if err := bw.Flush(); err != nil {
		_ = zw.Close()
		return matcher.NewError(matcher.CodeIO, "encode diff map", err)
	}
	if err := zw.Close(); err != nil {
		return matcher.NewError(matcher.CodeIO, "encode diff map", err)
	}
	return nil
}

// Decode reads a cache stream written by Encode and checks it against key. The header
// must declare exactly the want shape; nothing is allocated for values otherwise.
func Decode(r io.Reader, key uuid.UUID, want Shape, maxValue uint64) (*matcher.DiffMap, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, matcher.NewError(matcher.CodeData, "decode diff map", err)
	}
	defer zr.Close()
	br := bufio.NewReader(zr)

	var h header
	if err := binary.Read(br, binary.LittleEndian, &h); err != nil {
		return nil, matcher.NewError(matcher.CodeData, "decode diff map", fmt.Errorf("header: %w", err))
	}
	if h.Magic != magic {
		return nil, matcher.NewError(matcher.CodeData, "decode diff map", errors.New("not a diff map file"))
	}
	if h.Version != formatVersion {
		return nil, matcher.NewError(matcher.CodeData, "decode diff map", fmt.Errorf("format version %d, want %d", h.Version, formatVersion))
	}
	if uuid.UUID(h.Key) != key {
		return nil, matcher.NewError(matcher.CodeData, "decode diff map", fmt.Errorf("stale diff map for %s", uuid.UUID(h.Key)))
	}
	if uint64(h.Children) != uint64(want.Children) || h.Frames != uint64(want.Frames) {
		return nil, matcher.NewError(matcher.CodeData, "decode diff map",
			fmt.Errorf("shape %dx%d, want %dx%d", h.Children, h.Frames, want.Children, want.Frames))
	}

	values := make([]uint32, want.Children*want.Frames)
	buf := make([]byte, 4*valueChunk)
	for lo := 0; lo < len(values); lo += valueChunk {
		hi := min(lo+valueChunk, len(values))
		chunk := buf[:4*(hi-lo)]
		if _, err := io.ReadFull(br, chunk); err != nil {
			return nil, matcher.NewError(matcher.CodeData, "decode diff map", fmt.Errorf("values: %w", err))
		}
		for i := range values[lo:hi] {
			values[lo+i] = binary.LittleEndian.Uint32(chunk[4*i:])
		}
	}
	return matcher.NewDiffMap(want.Children, want.Frames, values, maxValue)
}
