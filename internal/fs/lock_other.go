//go:build !unix

package fs

import "os"

// Without flock only the process-local part of the lock applies.
func tryLockFile(path string) (func() error, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	return f.Close, nil
}
