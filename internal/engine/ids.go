package engine

import (
	"bufio"
	"fmt"
	"io"
	"strconv"

	json "github.com/goccy/go-json"

	"github.com/hupe1980/vecshard/internal/fs"
	"github.com/hupe1980/vecshard/model"
)

const (
	fnvPrime = 0x100000001B3
	idMask   = 1<<63 - 1

	// unknownOwner replaces an empty owner id.
	unknownOwner = "unknown"
)

// VectorID derives the ID of row of owner. It folds the bytes of
// "<owner>#<row>" into salt FNV-style and clears the sign bit, so IDs are
// never negative and never collide with the "no result" label.
func VectorID(owner string, row int, salt uint64) model.VectorID {
	if owner == "" {
		owner = unknownOwner
	}
	h := salt
	h = fold(h, owner)
	h = fold(h, "#")
	h = fold(h, strconv.Itoa(row))
	return model.VectorID(h & idMask)
}

func fold(h uint64, s string) uint64 {
	for i := 0; i < len(s); i++ {
		h = (h ^ uint64(int64(int8(s[i])))) * fnvPrime
	}
	return h
}

// GenerateIDs returns the IDs of rows 0..count-1 of owner.
func GenerateIDs(owner string, count int, salt uint64) []int64 {
	ids := make([]int64, count)
	for row := range ids {
		ids[row] = int64(VectorID(owner, row, salt))
	}
	return ids
}

// writeIDs encodes ids as a JSON array.
func writeIDs(w io.Writer, ids []int64) error {
	bw := bufio.NewWriter(w)
	if err := json.NewEncoder(bw).Encode(ids); err != nil {
		return err
	}
	return bw.Flush()
}

// ReadIDsFile loads an IDs sidecar.
func ReadIDsFile(fsys fs.FileSystem, path string) ([]int64, error) {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return nil, err
	}
	var ids []int64
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("decode ids %s: %w", path, err)
	}
	return ids, nil
}
