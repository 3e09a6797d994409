package vecshard

import (
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecshard/internal/backend"
	"github.com/hupe1980/vecshard/internal/manifest"
)

func TestTranslateError(t *testing.T) {
	assert.NoError(t, translateError(nil))

	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"not trained", fmt.Errorf("add: %w", backend.ErrNotTrained), ErrTrainingRequired},
		{"backend unavailable", backend.ErrUnavailable, ErrBackendUnavailable},
		{"manifest mismatch", manifest.ErrMismatch, ErrConfigMismatch},
		{"manifest not found", manifest.ErrNotFound, ErrMissingManifest},
		{"incompatible", fmt.Errorf("load: %w", manifest.ErrIncompatibleVersion), ErrIncompatibleVersion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translateError(tt.err)
			assert.ErrorIs(t, got, tt.target)
			assert.ErrorIs(t, got, tt.err)
		})
	}

	t.Run("path error", func(t *testing.T) {
		_, err := os.Open("/does/not/exist")
		got := translateError(err)
		var ioe *IOError
		require.ErrorAs(t, got, &ioe)
		assert.Equal(t, "open", ioe.Op)
		assert.Equal(t, "/does/not/exist", ioe.Path)
		assert.ErrorIs(t, got, iofs.ErrNotExist)
		assert.True(t, IsRetryable(got))
	})

	t.Run("idempotent", func(t *testing.T) {
		once := translateError(backend.ErrUnavailable)
		assert.Equal(t, once, translateError(once))
	})

	t.Run("passthrough", func(t *testing.T) {
		err := errors.New("other")
		assert.Equal(t, err, translateError(err))
	})
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(&ValidationError{Field: "k", Reason: "must be positive"}))
	assert.False(t, IsRetryable(ErrConfigMismatch))
	assert.False(t, IsRetryable(ErrMissingManifest))
	assert.True(t, IsRetryable(&IOError{Op: "rename", Path: "x", Err: os.ErrPermission}))
	assert.True(t, IsRetryable(ErrBackendUnavailable))
}
