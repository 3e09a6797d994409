package gonative

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/pierrec/lz4/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/hupe1980/vecshard/internal/backend"
	"github.com/hupe1980/vecshard/internal/hnsw"
	"github.com/hupe1980/vecshard/model"
)

const (
	magic         = "VSHX"
	formatVersion = 1
	headerSize    = 24
)

// body is the msgpack document stored in an index file. Exactly one of the
// index sections is set.
type body struct {
	Dim    int          `msgpack:"dim"`
	Metric model.Metric `msgpack:"metric"`
	IDs    []int64      `msgpack:"ids"`

	Flat *flatState `msgpack:"flat,omitempty"`
	IVF  *ivfState  `msgpack:"ivf,omitempty"`
	HNSW *hnswState `msgpack:"hnsw,omitempty"`
}

type flatState struct {
	Vectors []float32 `msgpack:"vectors"`
}

type ivfState struct {
	Spec      model.IVFPQ `msgpack:"spec"`
	NList     int         `msgpack:"nlist"`
	Trained   bool        `msgpack:"trained"`
	TrainInfo string      `msgpack:"train_info"`
	Centroids []float32   `msgpack:"centroids"`
	Codebooks []float32   `msgpack:"codebooks"`
	ListRows  [][]uint32  `msgpack:"list_rows"`
	Codes     []byte      `msgpack:"codes"`
}

type hnswState struct {
	Spec  model.HNSW `msgpack:"spec"`
	Graph hnsw.State `msgpack:"graph"`
}

func encodeBody(w io.Writer, b *body) error {
	raw, err := msgpack.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}

	payload := raw
	compressedSize := 0
	buf := make([]byte, lz4.CompressBlockBound(len(raw)))
	if n, err := lz4.CompressBlock(raw, buf, nil); err == nil && n > 0 && n < len(raw) {
		payload = buf[:n]
		compressedSize = n
	}

	var header [headerSize]byte
	copy(header[0:4], magic)
	binary.LittleEndian.PutUint32(header[4:], formatVersion)
	binary.LittleEndian.PutUint32(header[8:], crc32.ChecksumIEEE(payload))
	binary.LittleEndian.PutUint32(header[12:], uint32(len(raw)))
	binary.LittleEndian.PutUint32(header[16:], uint32(compressedSize))

	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

func writeFile(path string, encode func(io.Writer) error) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := encode(w); err != nil {
		_ = f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func readBody(path string) (*body, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < headerSize || string(data[0:4]) != magic {
		return nil, fmt.Errorf("%w: %s: bad magic", backend.ErrInvalidFile, path)
	}
	if v := binary.LittleEndian.Uint32(data[4:]); v != formatVersion {
		return nil, fmt.Errorf("%w: %s: unsupported version %d", backend.ErrInvalidFile, path, v)
	}
	checksum := binary.LittleEndian.Uint32(data[8:])
	rawSize := binary.LittleEndian.Uint32(data[12:])
	compressedSize := binary.LittleEndian.Uint32(data[16:])

	payload := data[headerSize:]
	if crc32.ChecksumIEEE(payload) != checksum {
		return nil, fmt.Errorf("%w: %s: checksum mismatch", backend.ErrInvalidFile, path)
	}

	raw := payload
	if compressedSize > 0 {
		if uint32(len(payload)) != compressedSize {
			return nil, fmt.Errorf("%w: %s: truncated payload", backend.ErrInvalidFile, path)
		}
		raw = make([]byte, rawSize)
		n, err := lz4.UncompressBlock(payload, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", backend.ErrInvalidFile, path, err)
		}
		if uint32(n) != rawSize {
			return nil, fmt.Errorf("%w: %s: decompressed size mismatch", backend.ErrInvalidFile, path)
		}
	} else if uint32(len(raw)) != rawSize {
		return nil, fmt.Errorf("%w: %s: truncated payload", backend.ErrInvalidFile, path)
	}

	b := &body{}
	if err := msgpack.Unmarshal(raw, b); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", backend.ErrInvalidFile, path, err)
	}
	if b.Dim <= 0 {
		return nil, fmt.Errorf("%w: %s: dim %d", backend.ErrInvalidFile, path, b.Dim)
	}
	return b, nil
}
