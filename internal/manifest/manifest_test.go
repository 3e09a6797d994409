package manifest

import (
	"context"
	"encoding/json"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecshard/internal/fs"
	"github.com/hupe1980/vecshard/model"
)

func testConfig() model.IndexConfig {
	cfg := model.DefaultConfig()
	cfg.Dim = 8
	cfg.Index = model.FlatIP{}
	return cfg
}

func TestLoad_NotFound(t *testing.T) {
	_, err := Load(fs.Default, filepath.Join(t.TempDir(), "MANIFEST.json"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "MANIFEST.json")

	m := New(testConfig(), "go")
	m.Append(Segment{File: "seg-1-10.vsx", IDs: "seg-1-10.ids.json", Count: 10, TS: 1})
	require.NoError(t, Save(fs.Default, path, m))

	loaded, err := Load(fs.Default, path)
	require.NoError(t, err)
	assert.Equal(t, m, loaded)

	// The document uses the documented keys.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	for _, key := range []string{"schemaVersion", "dim", "metric", "indexType", "variant", "params", "segments", "trained", "trainInfo"} {
		assert.Contains(t, doc, key)
	}
	assert.Equal(t, "inner-product", doc["metric"])
	assert.Equal(t, "flat-ip", doc["indexType"])
	seg := doc["segments"].([]any)[0].(map[string]any)
	assert.Equal(t, []string{"count", "file", "ids", "ts"}, slices.Sorted(maps.Keys(seg)))
}

func TestLoad_IncompatibleVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "MANIFEST.json")
	m := New(testConfig(), "go")
	require.NoError(t, Save(fs.Default, path, m))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	doc["schemaVersion"] = 999
	raw, err = json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, err = Load(fs.Default, path)
	assert.ErrorIs(t, err, ErrIncompatibleVersion)
}

func TestLoad_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "MANIFEST.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := Load(fs.Default, path)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestSave_FailureKeepsPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "MANIFEST.json")
	m := New(testConfig(), "go")
	require.NoError(t, Save(fs.Default, path, m))

	ffs := fs.NewFaultyFS(nil)
	ffs.Inject("MANIFEST.json.tmp", fs.Fault{Op: fs.OpSync})

	m2 := m.Clone()
	m2.Append(Segment{File: "a", IDs: "a.ids.json", Count: 1})
	require.Error(t, Save(ffs, path, m2))

	loaded, err := Load(fs.Default, path)
	require.NoError(t, err)
	assert.Empty(t, loaded.Segments)
}

func TestManifest_Trained(t *testing.T) {
	m := New(testConfig(), "go")
	assert.False(t, m.Trained)

	m.MarkTrained("first")
	m.MarkTrained("second")
	assert.True(t, m.Trained)
	assert.Equal(t, "first", m.TrainInfo)
}

func TestManifest_Replace(t *testing.T) {
	m := New(testConfig(), "go")
	for _, f := range []string{"a", "b", "c", "d"} {
		m.Append(Segment{File: f, IDs: f + ".ids", Count: 1})
	}

	removed := m.Replace([]string{"b", "c"}, Segment{File: "bc", IDs: "bc.ids", Count: 2, Level: 1})
	require.Len(t, removed, 2)

	var files []string
	for _, s := range m.Segments {
		files = append(files, s.File)
	}
	assert.Equal(t, []string{"a", "bc", "d"}, files)
	assert.Equal(t, 4, m.TotalVectors())
	assert.True(t, m.Segments[1].IsShard())
}

func TestManifest_CheckCompatible(t *testing.T) {
	cfg := testConfig()
	m := New(cfg, "go")
	require.NoError(t, m.CheckCompatible(cfg))

	other := cfg
	other.Dim = 16
	other.Metric = model.MetricL2
	err := m.CheckCompatible(other)
	require.ErrorIs(t, err, ErrMismatch)
	assert.Contains(t, err.Error(), "dim")
	assert.Contains(t, err.Error(), "metric")
}

func TestStore_Update(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(nil, filepath.Join(dir, "MANIFEST.json"), filepath.Join(dir, ".lock"))

	_, err := store.Load()
	require.ErrorIs(t, err, ErrNotFound)

	m, err := store.Update(context.Background(), func(cur *Manifest) (*Manifest, error) {
		assert.Nil(t, cur)
		next := New(testConfig(), "go")
		next.Append(Segment{File: "a", IDs: "a.ids", Count: 1})
		return next, nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), m.Generation)

	// A no-op update returns the current manifest without saving.
	same, err := store.Update(context.Background(), func(cur *Manifest) (*Manifest, error) {
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), same.Generation)
}

func TestStore_ConcurrentUpdatesKeepEverySegment(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(nil, filepath.Join(dir, "MANIFEST.json"), filepath.Join(dir, ".lock"))

	const writers = 16
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Update(context.Background(), func(cur *Manifest) (*Manifest, error) {
				if cur == nil {
					cur = New(testConfig(), "go")
				}
				name := string(rune('a' + i))
				cur.Append(Segment{File: name, IDs: name + ".ids", Count: 1, TS: int64(i)})
				return cur, nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	m, err := store.Load()
	require.NoError(t, err)
	assert.Len(t, m.Segments, writers)
	assert.Equal(t, uint64(writers), m.Generation)
}
