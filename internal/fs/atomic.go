package fs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// SyncDir syncs a directory so that creates and renames inside it are durable.
func SyncDir(fsys FileSystem, dir string) error {
	f, err := fsys.OpenFile(dir, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return f.Sync()
}

// WriteSynced creates (or truncates) name, streams write into it and fsyncs
// it before closing. On failure the partial file is removed.
func WriteSynced(fsys FileSystem, name string, write func(w io.Writer) error) (err error) {
	f, err := fsys.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = fsys.Remove(name)
		}
	}()

	if err = write(f); err != nil {
		return err
	}
	if err = f.Sync(); err != nil {
		return err
	}
	return f.Close()
}

// WriteFileAtomic replaces name with data. The bytes go to a temp file next
// to name, which is fsynced, renamed over name, and the parent directory is
// fsynced. Readers observe either the old or the new content, never a mix.
func WriteFileAtomic(fsys FileSystem, name string, data []byte) error {
	tmp := name + ".tmp"
	if err := WriteSynced(fsys, tmp, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	}); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := fsys.Rename(tmp, name); err != nil {
		_ = fsys.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	if err := SyncDir(fsys, filepath.Dir(name)); err != nil {
		return fmt.Errorf("sync dir: %w", err)
	}
	return nil
}
