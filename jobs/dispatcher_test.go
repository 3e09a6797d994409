package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecshard/internal/engine"
)

type fakeExecutor struct {
	mu      sync.Mutex
	builds  []BuildSegmentJob
	compact []CompactJob

	running atomic.Int32
	peak    atomic.Int32
	delay   time.Duration
	// fail returns the error of the n-th call, 1-based.
	fail  func(n int) error
	calls atomic.Int32
}

func (f *fakeExecutor) enter() error {
	n := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	call := int(f.calls.Add(1))
	if f.fail != nil {
		return f.fail(call)
	}
	return nil
}

func (f *fakeExecutor) ExecuteBuild(_ context.Context, job BuildSegmentJob) error {
	err := f.enter()
	if err == nil {
		f.mu.Lock()
		f.builds = append(f.builds, job)
		f.mu.Unlock()
	}
	return err
}

func (f *fakeExecutor) ExecuteCompact(_ context.Context, job CompactJob) error {
	err := f.enter()
	if err == nil {
		f.mu.Lock()
		f.compact = append(f.compact, job)
		f.mu.Unlock()
	}
	return err
}

func buildJob(variant string, ts int64) Job {
	return NewBuildJob(BuildSegmentJob{Variant: variant, BufferPath: "b.f32", Dim: 4, Count: 1, Timestamp: ts, OwnerID: "o"})
}

func newTestDispatcher(t *testing.T, opts DispatcherOptions) *Dispatcher {
	t.Helper()
	if opts.InitialDelay == 0 {
		opts.InitialDelay = time.Millisecond
	}
	d := NewDispatcher(opts)
	t.Cleanup(func() { _ = d.Close(context.Background()) })
	return d
}

func TestDispatcher_SerializesVariant(t *testing.T) {
	d := newTestDispatcher(t, DispatcherOptions{})
	a := &fakeExecutor{delay: 5 * time.Millisecond}
	b := &fakeExecutor{delay: 5 * time.Millisecond}
	d.Register("a", a)
	d.Register("b", b)

	var results []<-chan Result
	for i := range 5 {
		for _, v := range []string{"a", "b"} {
			done, err := d.Submit(context.Background(), buildJob(v, int64(i)))
			require.NoError(t, err)
			results = append(results, done)
		}
	}
	for _, done := range results {
		res := <-done
		require.NoError(t, res.Err)
		assert.Equal(t, 1, res.Attempts)
	}

	assert.Equal(t, int32(1), a.peak.Load())
	assert.Equal(t, int32(1), b.peak.Load())
	require.Len(t, a.builds, 5)
	for i, job := range a.builds {
		assert.Equal(t, int64(i), job.Timestamp)
	}
}

func TestDispatcher_Retries(t *testing.T) {
	d := newTestDispatcher(t, DispatcherOptions{MaxAttempts: 4})
	ex := &fakeExecutor{fail: func(n int) error {
		if n < 3 {
			return engine.ErrBackendUnavailable
		}
		return nil
	}}
	d.Register("v", ex)

	res := d.Run(context.Background(), buildJob("v", 1))
	require.NoError(t, res.Err)
	assert.Equal(t, 3, res.Attempts)
	assert.Len(t, ex.builds, 1)
}

func TestDispatcher_GivesUp(t *testing.T) {
	d := newTestDispatcher(t, DispatcherOptions{MaxAttempts: 3})
	d.Register("v", &fakeExecutor{fail: func(int) error { return engine.ErrBackendUnavailable }})

	res := d.Run(context.Background(), buildJob("v", 1))
	require.ErrorIs(t, res.Err, engine.ErrBackendUnavailable)
	assert.Equal(t, 3, res.Attempts)
}

func TestDispatcher_NoRetryOnValidation(t *testing.T) {
	d := newTestDispatcher(t, DispatcherOptions{MaxAttempts: 5})
	ex := &fakeExecutor{fail: func(int) error { return &engine.ValidationError{Field: "dim", Reason: "mismatch"} }}
	d.Register("v", ex)

	res := d.Run(context.Background(), buildJob("v", 1))
	var ve *engine.ValidationError
	require.ErrorAs(t, res.Err, &ve)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, int32(1), ex.calls.Load())
}

func TestDispatcher_LedgerSkipsDone(t *testing.T) {
	led := openTestLedger(t)
	d := newTestDispatcher(t, DispatcherOptions{Ledger: led})
	ex := &fakeExecutor{}
	d.Register("v", ex)

	job := buildJob("v", 7)
	first := d.Run(context.Background(), job)
	require.NoError(t, first.Err)
	assert.False(t, first.Skipped)

	again := d.Run(context.Background(), job)
	require.NoError(t, again.Err)
	assert.True(t, again.Skipped)
	assert.Len(t, ex.builds, 1)

	rec, err := led.Get(job.Key())
	require.NoError(t, err)
	assert.Equal(t, StatusDone, rec.Status)
	assert.Equal(t, 1, rec.Attempts)
}

func TestDispatcher_LedgerRecordsFailure(t *testing.T) {
	led := openTestLedger(t)
	d := newTestDispatcher(t, DispatcherOptions{Ledger: led, MaxAttempts: 2})
	boom := errors.New("boom")
	d.Register("v", &fakeExecutor{fail: func(int) error { return boom }})

	job := NewCompactJob(CompactJob{Variant: "v", Seq: 1})
	res := d.Run(context.Background(), job)
	require.ErrorIs(t, res.Err, boom)

	rec, err := led.Get(job.Key())
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, "boom", rec.LastError)
}

func TestDispatcher_Errors(t *testing.T) {
	d := NewDispatcher(DispatcherOptions{})

	_, err := d.Submit(context.Background(), buildJob("missing", 1))
	require.ErrorIs(t, err, ErrNoExecutor)

	_, err = d.Submit(context.Background(), Job{Kind: "nope"})
	require.Error(t, err)

	d.Register("v", &fakeExecutor{})
	require.NoError(t, d.Close(context.Background()))
	_, err = d.Submit(context.Background(), buildJob("v", 1))
	require.ErrorIs(t, err, ErrDispatcherClosed)
	require.NoError(t, d.Close(context.Background()))
}

func TestDispatcher_CloseDrains(t *testing.T) {
	d := NewDispatcher(DispatcherOptions{})
	ex := &fakeExecutor{delay: 2 * time.Millisecond}
	d.Register("v", ex)

	var results []<-chan Result
	for i := range 10 {
		done, err := d.Submit(context.Background(), buildJob("v", int64(i)))
		require.NoError(t, err)
		results = append(results, done)
	}
	require.NoError(t, d.Close(context.Background()))
	for _, done := range results {
		assert.NoError(t, (<-done).Err)
	}
	assert.Len(t, ex.builds, 10)
}
