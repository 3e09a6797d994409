package fs

import (
	"errors"
	"os"
	"strings"
	"sync"
)

// ErrInjected is returned by injected faults that carry no error of their own.
var ErrInjected = errors.New("fs: injected fault")

// Op is a set of file system operations.
type Op uint8

const (
	OpOpen Op = 1 << iota
	OpWrite
	OpSync
	OpClose
	OpRename
	OpRemove
)

// Fault makes the operations in Op fail on matching paths.
type Fault struct {
	Op Op
	// WriteBudget is the number of bytes a matching file accepts before
	// OpWrite fails. Zero fails the first write.
	WriteBudget int64
	// Err is returned by failed operations. Nil selects ErrInjected.
	Err error
}

func (f Fault) err() error {
	if f.Err != nil {
		return f.Err
	}
	return ErrInjected
}

type rule struct {
	pattern string
	fault   Fault
	hits    int
}

// FaultyFS wraps a FileSystem and fails operations on paths containing a
// registered pattern. Rules are matched in the order they were added.
type FaultyFS struct {
	FS FileSystem

	mu    sync.Mutex
	rules []*rule
}

// NewFaultyFS wraps fsys, or Default when fsys is nil.
func NewFaultyFS(fsys FileSystem) *FaultyFS {
	if fsys == nil {
		fsys = Default
	}
	return &FaultyFS{FS: fsys}
}

// Inject registers fault for paths containing pattern.
func (f *FaultyFS) Inject(pattern string, fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, &rule{pattern: pattern, fault: fault})
}

// Heal removes every rule.
func (f *FaultyFS) Heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = nil
}

// Hits returns how many operations the rules for pattern have failed.
func (f *FaultyFS) Hits(pattern string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.rules {
		if r.pattern == pattern {
			n += r.hits
		}
	}
	return n
}

// lookup returns the first rule matching any of names.
func (f *FaultyFS) lookup(names ...string) *rule {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rules {
		for _, name := range names {
			if strings.Contains(name, r.pattern) {
				return r
			}
		}
	}
	return nil
}

// fail reports whether r fails op and records the hit.
func (f *FaultyFS) fail(r *rule, op Op) error {
	if r == nil || r.fault.Op&op == 0 {
		return nil
	}
	f.mu.Lock()
	r.hits++
	f.mu.Unlock()
	return r.fault.err()
}

func (f *FaultyFS) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	r := f.lookup(name)
	if err := f.fail(r, OpOpen); err != nil {
		return nil, err
	}
	file, err := f.FS.OpenFile(name, flag, perm)
	if err != nil || r == nil {
		return file, err
	}
	return &faultyFile{File: file, fs: f, rule: r}, nil
}

func (f *FaultyFS) Remove(name string) error {
	if err := f.fail(f.lookup(name), OpRemove); err != nil {
		return err
	}
	return f.FS.Remove(name)
}

func (f *FaultyFS) Rename(oldpath, newpath string) error {
	if err := f.fail(f.lookup(oldpath, newpath), OpRename); err != nil {
		return err
	}
	return f.FS.Rename(oldpath, newpath)
}

func (f *FaultyFS) Stat(name string) (os.FileInfo, error)        { return f.FS.Stat(name) }
func (f *FaultyFS) MkdirAll(path string, perm os.FileMode) error { return f.FS.MkdirAll(path, perm) }
func (f *FaultyFS) ReadDir(name string) ([]os.DirEntry, error)   { return f.FS.ReadDir(name) }

type faultyFile struct {
	File
	fs      *FaultyFS
	rule    *rule
	written int64
}

func (ff *faultyFile) Write(p []byte) (int, error) {
	if ff.written+int64(len(p)) > ff.rule.fault.WriteBudget {
		if err := ff.fs.fail(ff.rule, OpWrite); err != nil {
			return 0, err
		}
	}
	n, err := ff.File.Write(p)
	ff.written += int64(n)
	return n, err
}

func (ff *faultyFile) Sync() error {
	if err := ff.fs.fail(ff.rule, OpSync); err != nil {
		return err
	}
	return ff.File.Sync()
}

func (ff *faultyFile) Close() error {
	if err := ff.fs.fail(ff.rule, OpClose); err != nil {
		_ = ff.File.Close()
		return err
	}
	return ff.File.Close()
}
