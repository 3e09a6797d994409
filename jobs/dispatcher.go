package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hupe1980/vecshard/internal/engine"
)

var (
	// ErrDispatcherClosed is returned by Submit after Close.
	ErrDispatcherClosed = errors.New("jobs: dispatcher closed")
	// ErrNoExecutor is returned for jobs targeting an unregistered variant.
	ErrNoExecutor = errors.New("jobs: no executor for variant")
)

// DispatcherOptions configures a Dispatcher. Zero values select defaults.
type DispatcherOptions struct {
	// Ledger records job outcomes. Nil disables deduplication.
	Ledger *Ledger
	Logger *slog.Logger
	// MaxAttempts bounds the attempts per submission (default 5).
	MaxAttempts int
	// InitialDelay is the first retry delay (default 100ms).
	InitialDelay time.Duration
	// MaxDelay caps the retry delay (default 30s).
	MaxDelay time.Duration
	// BackoffFactor multiplies the delay after each retry (default 2).
	BackoffFactor float64
	// Retryable classifies failures (default engine.IsRetryable).
	Retryable func(error) bool
	// QueueSize is the per-variant queue capacity (default 64).
	QueueSize int
}

// Result is the outcome of one submitted job.
type Result struct {
	Key string
	// Skipped is set when the ledger already recorded the job as done.
	Skipped  bool
	Attempts int
	Err      error
}

type task struct {
	job  Job
	done chan Result
}

type lane struct {
	tasks chan task
}

// Dispatcher runs jobs on one FIFO lane per variant. Jobs of a variant run
// one at a time in submission order; different variants run concurrently.
type Dispatcher struct {
	opts   DispatcherOptions
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	executors map[string]Executor
	lanes     map[string]*lane
	closed    bool
	wg        sync.WaitGroup
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = 100 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 30 * time.Second
	}
	if opts.BackoffFactor < 1 {
		opts.BackoffFactor = 2
	}
	if opts.Retryable == nil {
		opts.Retryable = engine.IsRetryable
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		opts:      opts,
		logger:    opts.Logger.With("component", "dispatcher"),
		ctx:       ctx,
		cancel:    cancel,
		executors: make(map[string]Executor),
		lanes:     make(map[string]*lane),
	}
}

// Register routes jobs of variant to ex, replacing any previous executor.
func (d *Dispatcher) Register(variant string, ex Executor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.executors[variant] = ex
}

// Submit enqueues job on its variant's lane. It blocks while the lane is
// full. The returned channel yields exactly one Result.
func (d *Dispatcher) Submit(ctx context.Context, job Job) (<-chan Result, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	variant := job.Variant()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrDispatcherClosed
	}
	ex, ok := d.executors[variant]
	if !ok {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w %q", ErrNoExecutor, variant)
	}
	l, ok := d.lanes[variant]
	if !ok {
		l = &lane{tasks: make(chan task, d.opts.QueueSize)}
		d.lanes[variant] = l
		d.wg.Add(1)
		go d.runLane(l, ex)
	}
	// Holding the lock keeps Close from closing the channel under us.
	t := task{job: job, done: make(chan Result, 1)}
	select {
	case l.tasks <- t:
		d.mu.Unlock()
		return t.done, nil
	default:
	}
	d.mu.Unlock()
	return d.submitBlocking(ctx, l, t)
}

// submitBlocking retries the send until it succeeds, the dispatcher closes
// or ctx ends.
func (d *Dispatcher) submitBlocking(ctx context.Context, l *lane, t task) (<-chan Result, error) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		d.mu.Lock()
		if d.closed {
			d.mu.Unlock()
			return nil, ErrDispatcherClosed
		}
		select {
		case l.tasks <- t:
			d.mu.Unlock()
			return t.done, nil
		default:
		}
		d.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Run submits job and waits for its result.
func (d *Dispatcher) Run(ctx context.Context, job Job) Result {
	done, err := d.Submit(ctx, job)
	if err != nil {
		return Result{Key: job.Key(), Err: err}
	}
	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		return Result{Key: job.Key(), Err: ctx.Err()}
	}
}

func (d *Dispatcher) runLane(l *lane, ex Executor) {
	defer d.wg.Done()
	for t := range l.tasks {
		t.done <- d.run(ex, t.job)
	}
}

func (d *Dispatcher) run(ex Executor, job Job) Result {
	key := job.Key()
	logger := d.logger.With("job", key)
	res := Result{Key: key}

	rec := Record{Key: key, Job: job, Status: StatusPending}
	if led := d.opts.Ledger; led != nil {
		prev, err := led.Get(key)
		switch {
		case err == nil && prev.Status == StatusDone:
			logger.Debug("job already done")
			res.Skipped = true
			res.Attempts = prev.Attempts
			return res
		case err == nil:
			rec.Attempts = prev.Attempts
		case !errors.Is(err, ErrRecordNotFound):
			logger.Warn("ledger read failed", "error", err)
		}
	}

	delay := d.opts.InitialDelay
	for attempt := 1; ; attempt++ {
		res.Attempts = attempt
		rec.Attempts++
		rec.Status = StatusRunning
		d.record(logger, rec)

		err := d.execute(ex, job)
		if err == nil {
			rec.Status = StatusDone
			rec.LastError = ""
			d.record(logger, rec)
			logger.Info("job done", "attempts", attempt)
			return res
		}

		rec.LastError = err.Error()
		if !d.opts.Retryable(err) || attempt >= d.opts.MaxAttempts {
			rec.Status = StatusFailed
			d.record(logger, rec)
			logger.Error("job failed", "attempts", attempt, "error", err)
			res.Err = err
			return res
		}

		logger.Warn("job failed, retrying", "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-d.ctx.Done():
			rec.Status = StatusFailed
			d.record(logger, rec)
			res.Err = errors.Join(err, d.ctx.Err())
			return res
		case <-time.After(delay):
		}
		delay = min(time.Duration(float64(delay)*d.opts.BackoffFactor), d.opts.MaxDelay)
	}
}

func (d *Dispatcher) execute(ex Executor, job Job) error {
	switch job.Kind {
	case KindBuild:
		return ex.ExecuteBuild(d.ctx, *job.Build)
	case KindCompact:
		return ex.ExecuteCompact(d.ctx, *job.Compact)
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

func (d *Dispatcher) record(logger *slog.Logger, rec Record) {
	if d.opts.Ledger == nil {
		return
	}
	rec.UpdatedAt = time.Now().UTC()
	if err := d.opts.Ledger.Put(rec); err != nil {
		logger.Warn("ledger write failed", "status", rec.Status, "error", err)
	}
}

// Close stops accepting jobs and waits for queued jobs to finish. If ctx
// ends first, running jobs are cancelled and Close returns ctx's error
// once the lanes have stopped.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		for _, l := range d.lanes {
			close(l.tasks)
		}
	}
	d.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-drained
		return ctx.Err()
	}
}
