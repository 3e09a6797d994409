package resource

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_Memory(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 100})

	require.NoError(t, c.AcquireMemory(50))
	require.NoError(t, c.AcquireMemory(40))
	assert.Equal(t, int64(90), c.MemoryUsage())

	assert.ErrorIs(t, c.AcquireMemory(20), ErrMemoryLimitExceeded)
	assert.Equal(t, int64(90), c.MemoryUsage())

	c.ReleaseMemory(50)
	require.NoError(t, c.AcquireMemory(20))
	assert.Equal(t, int64(60), c.MemoryUsage())
}

func TestController_UnlimitedMemory(t *testing.T) {
	c := NewController(Config{})
	require.NoError(t, c.AcquireMemory(1000))
	c.ReleaseMemory(500)
	assert.Equal(t, int64(500), c.MemoryUsage())
}

func TestController_Builds(t *testing.T) {
	c := NewController(Config{MaxConcurrentBuilds: 2})

	require.NoError(t, c.AcquireBuild(t.Context()))
	require.NoError(t, c.AcquireBuild(t.Context()))
	assert.Equal(t, int64(2), c.ActiveBuilds())
	assert.False(t, c.TryAcquireBuild())

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, c.AcquireBuild(ctx), context.DeadlineExceeded)

	c.ReleaseBuild()
	assert.True(t, c.TryAcquireBuild())
	assert.Equal(t, int64(2), c.ActiveBuilds())
}

func TestController_Nil(t *testing.T) {
	var c *Controller
	require.NoError(t, c.AcquireMemory(1<<40))
	require.NoError(t, c.AcquireBuild(t.Context()))
	assert.True(t, c.TryAcquireBuild())
	c.ReleaseBuild()
	c.ReleaseMemory(1)
	assert.Zero(t, c.MemoryUsage())

	var buf bytes.Buffer
	assert.Same(t, &buf, c.Writer(t.Context(), &buf))
}

func TestController_Writer(t *testing.T) {
	// A burst of 1 KiB forces the 4 KiB write through several limiter steps.
	c := NewController(Config{IOLimitBytesPerSec: 1 << 20})
	c.ioLimiter.SetBurst(1024)

	var buf bytes.Buffer
	w := c.Writer(t.Context(), &buf)
	n, err := w.Write(make([]byte, 4096))
	require.NoError(t, err)
	assert.Equal(t, 4096, n)
	assert.Equal(t, 4096, buf.Len())

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err = c.Writer(ctx, &buf).Write([]byte("x"))
	require.Error(t, err)
}
