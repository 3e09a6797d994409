package engine

import (
	"encoding/binary"
	"math"
	"os"

	"github.com/hupe1980/vecshard/internal/mmap"
)

// rowBuffer holds the rows of one build. Rows come either from a
// copy-on-write mapping of the embedding file, so they can be normalized
// in place without touching the file, or from a decoded copy.
type rowBuffer struct {
	rows    []float32
	mapping *mmap.Mapping
}

func (b *rowBuffer) Close() error {
	if b.mapping == nil {
		return nil
	}
	return b.mapping.Close()
}

// openRows maps path and checks that it holds exactly count*dim float32s.
func openRows(path string, dim, count int) (*rowBuffer, error) {
	want := int64(count) * int64(dim) * 4
	fi, err := os.Stat(path)
	if err != nil {
		return nil, ioErr("stat", path, err)
	}
	if fi.Size() != want {
		return nil, invalid("buffer", "%s holds %d bytes, want count*dim*4 = %d", path, fi.Size(), want)
	}

	m, err := mmap.Open(path, mmap.ModeCopyOnWrite)
	if err != nil {
		return nil, ioErr("mmap", path, err)
	}
	_ = m.AdviseSequential()
	if rows, ok := m.Float32s(); ok {
		return &rowBuffer{rows: rows, mapping: m}, nil
	}

	rows := decodeRows(m.Bytes())
	_ = m.Close()
	return &rowBuffer{rows: rows}, nil
}

// rowsFromBytes decodes an in-memory buffer.
func rowsFromBytes(buf []byte, dim, count int) (*rowBuffer, error) {
	if want := count * dim * 4; len(buf) != want {
		return nil, invalid("buffer", "%d bytes, want count*dim*4 = %d", len(buf), want)
	}
	return &rowBuffer{rows: decodeRows(buf)}, nil
}

func decodeRows(buf []byte) []float32 {
	rows := make([]float32, len(buf)/4)
	for i := range rows {
		rows[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return rows
}
