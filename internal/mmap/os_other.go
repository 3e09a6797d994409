//go:build !unix

package mmap

import (
	"io"
	"os"
)

// Without mmap the file is read into a heap buffer, which behaves like
// ModeCopyOnWrite for every mode.
func osMap(f *os.File, size int, _ Mode) ([]byte, func([]byte) error, error) {
	data := make([]byte, size)
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, nil, err
	}
	return data, nil, nil
}

func osAdviseSequential([]byte) error { return nil }
