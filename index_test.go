package vecshard

import (
	"bytes"
	"context"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecshard/blobstore"
	"github.com/hupe1980/vecshard/internal/fs"
	"github.com/hupe1980/vecshard/jobs"
	"github.com/hupe1980/vecshard/model"
	"github.com/hupe1980/vecshard/testutil"
)

func testConfig(dim int, spec model.IndexSpec) IndexConfig {
	cfg := DefaultConfig()
	cfg.Dim = dim
	cfg.Index = spec
	return cfg
}

func openIndex(t *testing.T, root string, cfg IndexConfig, opts ...Option) *Index {
	t.Helper()
	ix, err := Open(root, cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })
	return ix
}

func build(t *testing.T, ix *Index, owner string, ts int64, rows []float32) BuildResult {
	t.Helper()
	res, err := ix.Build(context.Background(), BuildRequest{
		Buffer:    testutil.EncodeRows(rows),
		Dim:       ix.Config().Dim,
		Count:     len(rows) / ix.Config().Dim,
		Timestamp: ts,
		OwnerID:   owner,
	})
	require.NoError(t, err)
	return res
}

func TestIndex_Row37(t *testing.T) {
	const dim = 512
	dir := t.TempDir()
	ix := openIndex(t, dir, testConfig(dim, model.FlatIP{}))

	// Every row from its own seed.
	rows := make([]float32, 0, 100*dim)
	for i := range 100 {
		rows = append(rows, testutil.NewRNG(int64(1000+i)).UniformRows(1, dim)...)
	}
	path := testutil.WriteBuffer(t, dir, "batch.f32", rows)

	res, err := ix.Build(context.Background(), BuildRequest{
		EmbeddingPath: path,
		Dim:           dim,
		Count:         100,
		OwnerID:       "video-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 100, res.Segment.Count)

	m, err := ix.Manifest()
	require.NoError(t, err)
	require.Len(t, m.Segments, 1)
	assert.Equal(t, 100, m.Segments[0].Count)

	results, err := ix.Search(context.Background(), testutil.Row(rows, dim, 37), 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, ComputeID("video-1", 37, model.DefaultIDHashSalt), results[0].ID)
	assert.Greater(t, results[0].Score, float32(0.99))
}

func TestIndex_MissingManifest(t *testing.T) {
	ix := openIndex(t, t.TempDir(), testConfig(8, model.FlatIP{}))

	_, err := ix.Searcher(context.Background())
	require.ErrorIs(t, err, ErrMissingManifest)
	assert.Contains(t, err.Error(), `"base"`)
	assert.False(t, IsRetryable(err))

	_, err = ix.Manifest()
	require.ErrorIs(t, err, ErrMissingManifest)
}

func TestIndex_ManifestOrder(t *testing.T) {
	const dim = 16
	rng := testutil.NewRNG(3)

	for _, tc := range []struct {
		name    string
		spec    model.IndexSpec
		trained bool
	}{
		{"flat", model.FlatIP{}, false},
		{"hnsw", model.HNSW{M: 8, EfConstruction: 40, EfSearch: 32}, false},
		{"ivfpq", model.IVFPQ{NList: 4, NProbe: 4, PQSubvectors: 4, PQBits: 8}, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ix := openIndex(t, t.TempDir(), testConfig(dim, tc.spec))
			timestamps := []int64{50, 10, 30}
			for i, ts := range timestamps {
				build(t, ix, "owner", ts, rng.UnitRows(64+i, dim))
			}

			m, err := ix.Manifest()
			require.NoError(t, err)
			require.Len(t, m.Segments, len(timestamps))
			for i, ts := range timestamps {
				assert.Equal(t, ts, m.Segments[i].TS)
			}
			assert.Equal(t, tc.trained, m.Trained)
			assert.Equal(t, uint64(3), m.Generation)
		})
	}
}

func TestIndex_NormalizedRows(t *testing.T) {
	const dim = 8
	rng := testutil.NewRNG(9)
	ix := openIndex(t, t.TempDir(), testConfig(dim, model.FlatIP{}))

	rows := rng.UniformRows(20, dim)
	for i := range dim {
		rows[3*dim+i] = 0
	}
	for i := range dim {
		rows[5*dim+i] *= 40
	}
	res := build(t, ix, "owner", 1, rows)
	assert.Equal(t, 1, res.ZeroRows)

	// A row searched against itself scores its squared norm, which is one
	// after normalization.
	s, err := ix.Searcher(context.Background())
	require.NoError(t, err)
	defer s.Close()
	for _, row := range []int{0, 5, 19} {
		results, err := s.SearchTopK(context.Background(), testutil.Row(rows, dim, row), 1)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, ComputeID("owner", row, model.DefaultIDHashSalt), results[0].ID)
		assert.InDelta(t, 1.0, float64(results[0].Score), 1e-3)
	}
}

func TestIndex_SearchBounds(t *testing.T) {
	const dim = 16
	rng := testutil.NewRNG(4)
	ix := openIndex(t, t.TempDir(), testConfig(dim, model.FlatIP{}))
	build(t, ix, "a", 1, rng.UnitRows(15, dim))
	build(t, ix, "b", 2, rng.UnitRows(15, dim))

	for _, k := range []int{1, 7, 30, 100} {
		results, err := ix.Search(context.Background(), rng.UnitVector(dim), k)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(results), k)
		assert.Len(t, results, min(k, 30))
		for i := 1; i < len(results); i++ {
			assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
		}
	}

	_, err := ix.Search(context.Background(), rng.UnitVector(dim), 0)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "k", ve.Field)
}

func TestIndex_SnapshotIsolation(t *testing.T) {
	const dim = 8
	rng := testutil.NewRNG(6)
	ix := openIndex(t, t.TempDir(), testConfig(dim, model.FlatIP{}))
	build(t, ix, "a", 1, rng.UnitRows(5, dim))

	s, err := ix.Searcher(context.Background())
	require.NoError(t, err)
	defer s.Close()

	late := rng.UnitRows(5, dim)
	build(t, ix, "b", 2, late)

	results, err := s.SearchTopK(context.Background(), testutil.Row(late, dim, 0), 10)
	require.NoError(t, err)
	assert.Len(t, results, 5)
	for _, r := range results {
		assert.NotEqual(t, ComputeID("b", 0, model.DefaultIDHashSalt), r.ID)
	}
	assert.Equal(t, 1, s.Segments())
	assert.Len(t, s.Manifest().Segments, 1)

	fresh, err := ix.Search(context.Background(), testutil.Row(late, dim, 0), 1)
	require.NoError(t, err)
	assert.Equal(t, ComputeID("b", 0, model.DefaultIDHashSalt), fresh[0].ID)
}

func TestIndex_StubBackend(t *testing.T) {
	var logs bytes.Buffer
	ix := openIndex(t, t.TempDir(), testConfig(8, model.FlatIP{}),
		WithBackend("faiss"),
		WithLogger(NewLogger(slog.NewTextHandler(&logs, nil))),
	)
	if ix.Available() {
		t.Skip("faiss backend compiled in")
	}
	assert.Equal(t, "faiss", ix.Backend())

	_, err := ix.Build(context.Background(), BuildRequest{
		Buffer: testutil.EncodeRows(make([]float32, 8)),
		Dim:    8,
		Count:  1,
	})
	require.ErrorIs(t, err, ErrBackendUnavailable)
	assert.True(t, IsRetryable(err))
	assert.Contains(t, logs.String(), "authoritative=false")

	_, err = ix.Manifest()
	require.ErrorIs(t, err, ErrMissingManifest)
}

func TestIndex_UnknownBackend(t *testing.T) {
	_, err := Open(t.TempDir(), testConfig(8, model.FlatIP{}), WithBackend("nope"))
	require.ErrorIs(t, err, ErrUnknownBackend)
}

func TestIndex_InvalidConfig(t *testing.T) {
	_, err := Open(t.TempDir(), testConfig(0, model.FlatIP{}))
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestIndex_Close(t *testing.T) {
	const dim = 8
	rng := testutil.NewRNG(8)
	ix, err := Open(t.TempDir(), testConfig(dim, model.FlatIP{}))
	require.NoError(t, err)
	build(t, ix, "a", 1, rng.UnitRows(4, dim))

	s, err := ix.Searcher(context.Background())
	require.NoError(t, err)

	require.NoError(t, ix.Close())
	require.NoError(t, ix.Close())

	_, err = s.SearchTopK(context.Background(), rng.UnitVector(dim), 1)
	require.ErrorIs(t, err, ErrClosed)
	require.NoError(t, s.Close())

	_, err = ix.Build(context.Background(), BuildRequest{})
	require.ErrorIs(t, err, ErrClosed)
	_, err = ix.Searcher(context.Background())
	require.ErrorIs(t, err, ErrClosed)
	_, err = ix.Compact(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}

func TestIndex_Compact(t *testing.T) {
	const dim = 8
	rng := testutil.NewRNG(12)
	cfg := testConfig(dim, model.FlatIP{})
	cfg.Compaction = model.CompactionConfig{Enabled: true, MinSegments: 3}
	metrics := &BasicMetricsCollector{}
	ix := openIndex(t, t.TempDir(), cfg, WithMetricsCollector(metrics))

	owners := []string{"a", "b", "c", "d"}
	for i, owner := range owners {
		build(t, ix, owner, int64(i+1), rng.UnitRows(10, dim))
	}

	res, err := ix.Compact(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CompactionCompacted, res.Status)
	assert.Len(t, res.Merged, 4)

	m, err := ix.Manifest()
	require.NoError(t, err)
	require.Len(t, m.Segments, 1)
	assert.Equal(t, 40, m.Segments[0].Count)

	report, err := ix.Inspect(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Healthy())
	assert.Equal(t, uint64(40), report.UniqueIDs)

	stats := metrics.GetStats()
	assert.Equal(t, int64(4), stats.BuildCount)
	assert.Equal(t, int64(40), stats.BuildRows)
	assert.Equal(t, int64(1), stats.CompactionCount)
	assert.Equal(t, int64(4), stats.SegmentsMerged)
}

func TestIndex_CompactWithoutRetention(t *testing.T) {
	const dim = 8
	rng := testutil.NewRNG(13)
	root := t.TempDir()

	// Segments built while compaction was off carry no raw vectors.
	plain := openIndex(t, root, testConfig(dim, model.FlatIP{}))
	for i := range 3 {
		build(t, plain, "a", int64(i+1), rng.UnitRows(4, dim))
	}

	cfg := testConfig(dim, model.FlatIP{})
	cfg.Compaction = model.CompactionConfig{Enabled: true, MinSegments: 2}
	ix := openIndex(t, root, cfg)
	_, err := ix.Compact(context.Background())
	require.ErrorIs(t, err, ErrCompactionUnsupported)
	assert.False(t, IsRetryable(err))
}

func TestIndex_Reconcile(t *testing.T) {
	const dim = 8
	rng := testutil.NewRNG(14)
	faulty := fs.NewFaultyFS(nil)
	ix := openIndex(t, t.TempDir(), testConfig(dim, model.FlatIP{}), WithFileSystem(faulty))
	build(t, ix, "a", 1, rng.UnitRows(4, dim))

	faulty.Inject("MANIFEST.json", fs.Fault{Op: fs.OpRename})
	_, err := ix.Build(context.Background(), BuildRequest{
		Buffer:    testutil.EncodeRows(rng.UnitRows(3, dim)),
		Dim:       dim,
		Count:     3,
		Timestamp: 2,
		OwnerID:   "b",
	})
	var ioe *IOError
	require.ErrorAs(t, err, &ioe)
	assert.True(t, IsRetryable(err))
	faulty.Heal()

	report, err := ix.Reconcile(context.Background(), ReconcileOptions{})
	require.NoError(t, err)
	require.Len(t, report.Registered, 1)

	m, err := ix.Manifest()
	require.NoError(t, err)
	assert.Len(t, m.Segments, 2)
}

func TestIndex_Mirror(t *testing.T) {
	const dim = 8
	rng := testutil.NewRNG(15)
	store := blobstore.NewMemoryStore()
	ix := openIndex(t, t.TempDir(), testConfig(dim, model.FlatIP{}),
		WithMirror(store, func(o *blobstore.MirrorOptions) { o.Prefix = "mirror" }),
	)
	res := build(t, ix, "a", 1, rng.UnitRows(4, dim))

	puts := store.Puts()
	require.Len(t, puts, 3)
	assert.ElementsMatch(t, []string{
		"mirror/base/segments/" + res.Segment.File,
		"mirror/base/segments/" + res.Segment.IDs,
	}, puts[:2])
	assert.Equal(t, "mirror/base/MANIFEST.json", puts[2])
}

func TestIndex_SharedResources(t *testing.T) {
	const dim = 8
	rng := testutil.NewRNG(16)
	res := NewResources(ResourceLimits{MaxConcurrentBuilds: 1})
	root := t.TempDir()

	a := openIndex(t, root, testConfig(dim, model.FlatIP{}).WithVariant("a"), WithResources(res))
	b := openIndex(t, root, testConfig(dim, model.FlatIP{}).WithVariant("b"), WithResources(res))

	var wg sync.WaitGroup
	for i, ix := range []*Index{a, b, a, b} {
		rows := rng.UnitRows(8, dim)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ix.Build(context.Background(), BuildRequest{
				Buffer:    testutil.EncodeRows(rows),
				Dim:       dim,
				Count:     8,
				Timestamp: int64(i + 1),
				OwnerID:   "o",
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(0), res.ActiveBuilds())
	assert.Equal(t, int64(0), res.MemoryUsage())

	for _, ix := range []*Index{a, b} {
		m, err := ix.Manifest()
		require.NoError(t, err)
		assert.Len(t, m.Segments, 2)
	}
}

func TestIndex_Executor(t *testing.T) {
	const dim = 8
	rng := testutil.NewRNG(17)
	dir := t.TempDir()
	cfg := testConfig(dim, model.FlatIP{})
	cfg.Compaction = model.CompactionConfig{Enabled: true, MinSegments: 2}
	ix := openIndex(t, dir, cfg)

	ledger, err := jobs.OpenLedger(jobs.LedgerOptions{InMemory: true})
	require.NoError(t, err)
	defer ledger.Close()

	d := jobs.NewDispatcher(jobs.DispatcherOptions{Ledger: ledger, InitialDelay: time.Millisecond})
	d.Register(cfg.Variant, ix)
	defer func() { _ = d.Close(context.Background()) }()

	ctx := context.Background()
	for i := range 2 {
		path := testutil.WriteBuffer(t, dir, "batch.f32", rng.UnitRows(6, dim))
		job := jobs.NewBuildJob(jobs.BuildSegmentJob{
			Variant:    cfg.Variant,
			BufferPath: path,
			Dim:        dim,
			Count:      6,
			Timestamp:  int64(i + 1),
			OwnerID:    "owner",
		})
		r := d.Run(ctx, job)
		require.NoError(t, r.Err)
		assert.False(t, r.Skipped)

		again := d.Run(ctx, job)
		require.NoError(t, again.Err)
		assert.True(t, again.Skipped)
	}

	r := d.Run(ctx, jobs.NewCompactJob(jobs.CompactJob{Variant: cfg.Variant, Seq: 1}))
	require.NoError(t, r.Err)

	m, err := ix.Manifest()
	require.NoError(t, err)
	require.Len(t, m.Segments, 1)
	assert.Equal(t, 12, m.Segments[0].Count)

	bad := d.Run(ctx, jobs.NewBuildJob(jobs.BuildSegmentJob{
		Variant:    cfg.Variant,
		BufferPath: testutil.WriteBuffer(t, dir, "short.f32", rng.UnitRows(2, dim)),
		Dim:        dim,
		Count:      5,
		Timestamp:  9,
		OwnerID:    "owner",
	}))
	var ve *ValidationError
	require.ErrorAs(t, bad.Err, &ve)
	assert.Equal(t, 1, bad.Attempts)

	err = ix.ExecuteCompact(ctx, jobs.CompactJob{Variant: "other"})
	require.ErrorAs(t, err, &ve)
}

func TestComputeID(t *testing.T) {
	assert.Equal(t, VectorID(2425465422237403021), ComputeID("video-1", 0, 0x7F4A7C15))
	assert.GreaterOrEqual(t, int64(ComputeID("x", math.MaxInt32, math.MaxUint64)), int64(0))
}
