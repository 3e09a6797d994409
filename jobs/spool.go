package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Spool file suffixes. Producers write a job under another name and rename
// it to <name>.job.json; the spool renames it once more when the job ends.
const (
	SuffixPending = ".job.json"
	SuffixDone    = ".job.done"
	SuffixFailed  = ".job.failed"
	SuffixInvalid = ".job.invalid"
)

// Submitter accepts jobs. *Dispatcher implements it.
type Submitter interface {
	Submit(ctx context.Context, job Job) (<-chan Result, error)
}

// Spool watches a directory for job files and submits them.
type Spool struct {
	dir    string
	sub    Submitter
	logger *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

// NewSpool creates a spool over dir.
func NewSpool(dir string, sub Submitter, logger *slog.Logger) *Spool {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Spool{
		dir:      dir,
		sub:      sub,
		logger:   logger.With("component", "spool", "dir", dir),
		inflight: make(map[string]struct{}),
	}
}

// Run watches the spool until ctx ends. Job files already present are
// submitted first, oldest name first. Run waits for submitted jobs to
// finish before returning.
func (s *Spool) Run(ctx context.Context) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create spool: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch spool: %w", err)
	}
	defer func() { _ = w.Close() }()
	if err := w.Add(s.dir); err != nil {
		return fmt.Errorf("watch spool: %w", err)
	}
	defer s.wg.Wait()

	if err := s.Scan(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if path, ok := handleFsEvent(ev); ok {
				s.process(ctx, path)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("watch error", "error", err)
		}
	}
}

// Scan submits every job file currently in the spool.
func (s *Spool) Scan(ctx context.Context) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("scan spool: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && isJobFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	for _, name := range names {
		s.process(ctx, filepath.Join(s.dir, name))
	}
	return nil
}

// Wait blocks until every submitted job file has been settled.
func (s *Spool) Wait() { s.wg.Wait() }

func isJobFile(name string) bool {
	return strings.HasSuffix(name, SuffixPending) && !strings.HasPrefix(name, ".")
}

// handleFsEvent returns the job file an event refers to, if any.
func handleFsEvent(ev fsnotify.Event) (string, bool) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return "", false
	}
	if !isJobFile(filepath.Base(ev.Name)) {
		return "", false
	}
	return ev.Name, true
}

func (s *Spool) process(ctx context.Context, path string) {
	s.mu.Lock()
	if _, busy := s.inflight[path]; busy {
		s.mu.Unlock()
		return
	}
	s.inflight[path] = struct{}{}
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		delete(s.inflight, path)
		s.mu.Unlock()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		release()
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("read job file", "path", path, "error", err)
		}
		return
	}
	job, err := DecodeJob(data)
	if err != nil {
		s.logger.Error("invalid job file", "path", path, "error", err)
		s.settle(path, SuffixInvalid)
		release()
		return
	}

	done, err := s.sub.Submit(ctx, job)
	if err != nil {
		s.logger.Error("submit job", "path", path, "job", job.Key(), "error", err)
		release()
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer release()
		res := <-done
		if res.Err != nil {
			s.settle(path, SuffixFailed)
			return
		}
		s.settle(path, SuffixDone)
	}()
}

func (s *Spool) settle(path, suffix string) {
	target := strings.TrimSuffix(path, SuffixPending) + suffix
	if err := os.Rename(path, target); err != nil {
		s.logger.Warn("settle job file", "path", path, "error", err)
	}
}

// WriteJobFile atomically places job in dir as <name>.job.json.
func WriteJobFile(dir, name string, job Job) (string, error) {
	if err := job.Validate(); err != nil {
		return "", err
	}
	data, err := EncodeJob(job)
	if err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(dir, ".job-*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	path := filepath.Join(dir, name+SuffixPending)
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	return path, nil
}
