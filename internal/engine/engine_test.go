package engine

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecshard/internal/backend"
	"github.com/hupe1980/vecshard/internal/backend/gonative"
	"github.com/hupe1980/vecshard/model"
	"github.com/hupe1980/vecshard/testutil"
)

const testOwner = "video-1"

func testConfig(dim int, spec model.IndexSpec) model.IndexConfig {
	cfg := model.DefaultConfig()
	cfg.Dim = dim
	cfg.Index = spec
	return cfg
}

func smallIVFPQ() model.IVFPQ {
	return model.IVFPQ{NList: 8, NProbe: 8, PQSubvectors: 4, PQBits: 8}
}

// fakeClock returns strictly increasing times one millisecond apart.
func fakeClock() func() time.Time {
	now := time.UnixMilli(1_700_000_000_000)
	return func() time.Time {
		now = now.Add(time.Millisecond)
		return now
	}
}

func newTestVariant(t *testing.T, root string, cfg model.IndexConfig, opts Options) *Variant {
	t.Helper()
	return newTestVariantWith(t, root, cfg, gonative.New(), opts)
}

func newTestVariantWith(t *testing.T, root string, cfg model.IndexConfig, b backend.Backend, opts Options) *Variant {
	t.Helper()
	if opts.Now == nil {
		opts.Now = fakeClock()
	}
	v, err := NewVariant(root, cfg, b, opts)
	require.NoError(t, err)
	return v
}

func buildRows(t *testing.T, v *Variant, owner string, ts int64, rows []float32) BuildResult {
	t.Helper()
	res, err := NewBuilder(v).Build(context.Background(), BuildRequest{
		Buffer:    testutil.EncodeRows(rows),
		Dim:       v.cfg.Dim,
		Count:     len(rows) / v.cfg.Dim,
		Timestamp: ts,
		OwnerID:   owner,
	})
	require.NoError(t, err)
	return res
}

func openSearcher(t *testing.T, v *Variant) *Searcher {
	t.Helper()
	s, err := OpenSearcher(context.Background(), v)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func stagingEntries(t *testing.T, v *Variant) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(v.layout.StagingDir())
	require.NoError(t, err)
	return entries
}
