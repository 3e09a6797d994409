package vecshard

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/vecshard/internal/manifest"
)

func TestBasicMetricsCollector(t *testing.T) {
	var m BasicMetricsCollector
	boom := errors.New("boom")

	m.RecordBuild(100, 2*time.Millisecond, nil)
	m.RecordBuild(50, 4*time.Millisecond, boom)
	m.RecordSearch(10, 3, time.Millisecond, nil)
	m.RecordSearch(10, 0, 3*time.Millisecond, boom)
	m.RecordCompaction(4, time.Second, nil)
	m.RecordCompaction(0, time.Second, boom)

	stats := m.GetStats()
	assert.Equal(t, BasicMetricsStats{
		BuildCount:       2,
		BuildErrors:      1,
		BuildRows:        100,
		BuildAvgNanos:    int64(3 * time.Millisecond),
		SearchCount:      2,
		SearchErrors:     1,
		SearchAvgNanos:   int64(2 * time.Millisecond),
		CompactionCount:  2,
		CompactionErrors: 1,
		SegmentsMerged:   4,
	}, stats)

	var empty BasicMetricsCollector
	assert.Zero(t, empty.GetStats().SearchAvgNanos)

	var _ MetricsCollector = NoopMetricsCollector{}
}

func TestLogger(t *testing.T) {
	ctx := context.Background()

	t.Run("levels", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewLogger(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})).WithVariant("base")

		l.LogBuild(ctx, BuildResult{Segment: manifest.Segment{File: "seg-1-2.vsx", Count: 2}}, nil)
		assert.Contains(t, buf.String(), "level=DEBUG")
		assert.Contains(t, buf.String(), "file=seg-1-2.vsx")
		assert.Contains(t, buf.String(), "variant=base")

		buf.Reset()
		l.LogBuild(ctx, BuildResult{}, ErrBackendUnavailable)
		assert.Contains(t, buf.String(), "level=WARN")
		assert.Contains(t, buf.String(), "authoritative=false")

		buf.Reset()
		l.LogBuild(ctx, BuildResult{}, &IOError{Op: "rename", Path: "x", Err: errors.New("boom")})
		assert.Contains(t, buf.String(), "level=ERROR")
		assert.Contains(t, buf.String(), "retryable=true")

		buf.Reset()
		l.LogCompaction(ctx, CompactionResult{Status: CompactionIdle}, nil)
		assert.Contains(t, buf.String(), "status=idle")

		buf.Reset()
		l.LogReconcile(ctx, ReconcileReport{}, nil)
		assert.Empty(t, buf.String())
		l.LogReconcile(ctx, ReconcileReport{Removed: []string{"x"}}, nil)
		assert.Contains(t, buf.String(), "removed=1")
	})

	t.Run("noop", func(t *testing.T) {
		l := NoopLogger()
		assert.False(t, l.Enabled(ctx, slog.LevelError))
		l.LogSearch(ctx, 10, 0, errors.New("ignored"))
	})
}
