package fs

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLocked is returned by a non-blocking lock attempt on a held lock.
var ErrLocked = errors.New("fs: lock is held")

// lockRetryInterval is the polling period while waiting for a held lock.
const lockRetryInterval = 5 * time.Millisecond

// FileLock is an exclusive advisory lock on a path. It combines a
// process-local mutex (so goroutines of one process exclude each other) with
// an OS-level lock where the platform supports one.
type FileLock struct {
	path    string
	release func() error
	once    sync.Once
	err     error
}

var (
	localMu    sync.Mutex
	localLocks = map[string]chan struct{}{}
)

func localSlot(path string) chan struct{} {
	localMu.Lock()
	defer localMu.Unlock()
	ch, ok := localLocks[path]
	if !ok {
		ch = make(chan struct{}, 1)
		localLocks[path] = ch
	}
	return ch
}

// Lock acquires the exclusive lock on path, creating the lock file if needed.
// It waits until the lock is free or ctx is done.
func Lock(ctx context.Context, path string) (*FileLock, error) {
	slot := localSlot(path)
	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	for {
		release, err := tryLockFile(path)
		if err == nil {
			return &FileLock{
				path: path,
				release: func() error {
					err := release()
					<-slot
					return err
				},
			}, nil
		}
		if !errors.Is(err, ErrLocked) {
			<-slot
			return nil, err
		}
		select {
		case <-time.After(lockRetryInterval):
		case <-ctx.Done():
			<-slot
			return nil, ctx.Err()
		}
	}
}

// Path returns the lock file path.
func (l *FileLock) Path() string { return l.path }

// Unlock releases the lock. Calling it more than once is a no-op.
func (l *FileLock) Unlock() error {
	l.once.Do(func() { l.err = l.release() })
	return l.err
}
