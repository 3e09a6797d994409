// Package retention stores the normalized rows of a published segment so
// that compaction can rebuild shards without the original embedding buffers.
//
// A retention file is a zstd stream of a small header followed by the
// segment IDs (int64) and rows (float32), all little-endian:
//
//	magic "VSRV" | version u32 | dim u32 | count u32 | ids | rows
package retention

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/hupe1980/vecshard/internal/fs"
)

const (
	magic   = "VSRV"
	version = 1
)

// ErrCorrupt is returned for files that do not decode.
var ErrCorrupt = errors.New("retention: corrupt file")

// Set is the content of one retention file.
type Set struct {
	Dim     int
	IDs     []int64
	Vectors []float32
}

// Count returns the number of rows.
func (s *Set) Count() int { return len(s.IDs) }

// Row returns row i.
func (s *Set) Row(i int) []float32 { return s.Vectors[i*s.Dim : (i+1)*s.Dim] }

// Write encodes ids and row-major vectors into w.
func Write(w io.Writer, dim int, ids []int64, vectors []float32) error {
	if dim <= 0 || len(vectors) != len(ids)*dim {
		return fmt.Errorf("retention: %d floats for %d ids of dim %d", len(vectors), len(ids), dim)
	}
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	var header [16]byte
	copy(header[:4], magic)
	binary.LittleEndian.PutUint32(header[4:], version)
	binary.LittleEndian.PutUint32(header[8:], uint32(dim))
	binary.LittleEndian.PutUint32(header[12:], uint32(len(ids)))
	if _, err := bw.Write(header[:]); err != nil {
		_ = enc.Close()
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, ids); err != nil {
		_ = enc.Close()
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, vectors); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

// Read decodes a retention stream.
func Read(r io.Reader) (*Set, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	br := bufio.NewReaderSize(dec, 256*1024)

	var header [16]byte
	if _, err := io.ReadFull(br, header[:]); err != nil {
		return nil, fmt.Errorf("%w: header: %w", ErrCorrupt, err)
	}
	if string(header[:4]) != magic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	if v := binary.LittleEndian.Uint32(header[4:]); v != version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, v)
	}
	dim := int(binary.LittleEndian.Uint32(header[8:]))
	count := int(binary.LittleEndian.Uint32(header[12:]))
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dim %d", ErrCorrupt, dim)
	}

	s := &Set{Dim: dim, IDs: make([]int64, count), Vectors: make([]float32, count*dim)}
	if err := binary.Read(br, binary.LittleEndian, s.IDs); err != nil {
		return nil, fmt.Errorf("%w: ids: %w", ErrCorrupt, err)
	}
	if err := binary.Read(br, binary.LittleEndian, s.Vectors); err != nil {
		return nil, fmt.Errorf("%w: rows: %w", ErrCorrupt, err)
	}
	return s, nil
}

// WriteFile writes and fsyncs a retention file.
func WriteFile(fsys fs.FileSystem, path string, dim int, ids []int64, vectors []float32) error {
	return fs.WriteSynced(fsys, path, func(w io.Writer) error {
		return Write(w, dim, ids, vectors)
	})
}

// ReadFile loads a retention file.
func ReadFile(fsys fs.FileSystem, path string) (*Set, error) {
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	s, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}
