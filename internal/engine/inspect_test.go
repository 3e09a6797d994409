package engine

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecshard/internal/layout"
	"github.com/hupe1980/vecshard/model"
	"github.com/hupe1980/vecshard/testutil"
)

func TestInspect(t *testing.T) {
	const dim = 8
	rng := testutil.NewRNG(5)

	t.Run("missing manifest", func(t *testing.T) {
		v := newTestVariant(t, t.TempDir(), testConfig(dim, model.FlatIP{}), Options{})
		_, err := Inspect(context.Background(), v)
		require.ErrorIs(t, err, ErrMissingManifest)
	})

	t.Run("duplicates", func(t *testing.T) {
		v := newTestVariant(t, t.TempDir(), testConfig(dim, model.FlatIP{}), Options{})
		buildRows(t, v, "a", 1, rng.UnitRows(4, dim))
		// Same owner, rows 0..2 again.
		buildRows(t, v, "a", 2, rng.UnitRows(3, dim))
		buildRows(t, v, "b", 3, rng.UnitRows(2, dim))

		report, err := Inspect(context.Background(), v)
		require.NoError(t, err)
		assert.True(t, report.Healthy())
		assert.Len(t, report.Segments, 3)
		assert.Equal(t, 9, report.Vectors)
		assert.Equal(t, uint64(6), report.UniqueIDs)
		assert.Equal(t, 3, report.Duplicates)
		assert.Equal(t, uint64(3), report.Manifest.Generation)
		assert.Contains(t, report.String(), "duplicates: 3")
	})

	t.Run("missing sidecar", func(t *testing.T) {
		v := newTestVariant(t, t.TempDir(), testConfig(dim, model.FlatIP{}), Options{})
		res := buildRows(t, v, "a", 1, rng.UnitRows(4, dim))
		idsPath := v.layout.Published(layout.KindSegment, res.Segment.IDs)
		require.NoError(t, os.Remove(idsPath))

		report, err := Inspect(context.Background(), v)
		require.NoError(t, err)
		assert.False(t, report.Healthy())
		require.Len(t, report.Segments, 1)
		assert.Equal(t, -1, report.Segments[0].IDs)
		assert.Equal(t, []string{idsPath}, report.Segments[0].Missing)
		assert.Contains(t, report.String(), "unhealthy 1")
	})
}
