package mmap

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rows.bin")
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func encode(values ...float32) []byte {
	raw := make([]byte, 4*len(values))
	for i, f := range values {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(f))
	}
	return raw
}

func TestOpen(t *testing.T) {
	t.Run("read only", func(t *testing.T) {
		raw := encode(0.5, -1, 3)
		m, err := Open(writeTemp(t, raw), ModeReadOnly)
		require.NoError(t, err)

		assert.Equal(t, len(raw), m.Len())
		assert.Equal(t, raw, m.Bytes())
		assert.NoError(t, m.AdviseSequential())

		require.NoError(t, m.Close())
		require.NoError(t, m.Close())
		assert.Nil(t, m.Bytes())
		_, ok := m.Float32s()
		assert.False(t, ok)
		assert.ErrorIs(t, m.AdviseSequential(), ErrClosed)
	})

	t.Run("empty file", func(t *testing.T) {
		m, err := Open(writeTemp(t, nil), ModeReadOnly)
		require.NoError(t, err)
		defer m.Close()

		assert.Zero(t, m.Len())
		v, ok := m.Float32s()
		assert.True(t, ok)
		assert.Empty(t, v)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Open(filepath.Join(t.TempDir(), "nope"), ModeReadOnly)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestCopyOnWrite(t *testing.T) {
	raw := encode(1, 2, 3, 4)
	path := writeTemp(t, raw)

	m, err := Open(path, ModeCopyOnWrite)
	require.NoError(t, err)

	v, ok := m.Float32s()
	if !ok {
		t.Skip("host does not allow a direct float32 view")
	}
	assert.Equal(t, []float32{1, 2, 3, 4}, v)

	v[0] = 42
	assert.Equal(t, float32(42), v[0])
	require.NoError(t, m.Close())

	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, raw, onDisk)
}

func TestFloat32View(t *testing.T) {
	_, ok := Float32View(make([]byte, 7))
	assert.False(t, ok)

	v, ok := Float32View(nil)
	assert.True(t, ok)
	assert.Empty(t, v)
}
