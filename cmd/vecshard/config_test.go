package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecshard/model"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadSettings(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		s, err := loadSettings(filepath.Join(t.TempDir(), "missing.env"))
		require.Error(t, err)

		s, err = loadSettings("")
		require.NoError(t, err)
		assert.Equal(t, "./index", s.Root)
		assert.Equal(t, "go", s.Backend)
		assert.Equal(t, int64(1), s.MaxConcurrentBuilds)
		assert.Empty(t, s.Mirror.Kind)
	})

	t.Run("env file and environment", func(t *testing.T) {
		// Restore whatever the file loads once the test ends.
		for _, key := range []string{"VECSHARD_LOG_FORMAT", "VECSHARD_MIRROR_KIND"} {
			t.Setenv(key, "")
			require.NoError(t, os.Unsetenv(key))
		}
		dir := t.TempDir()
		envFile := writeFile(t, dir, "test.env", "VECSHARD_ROOT=/from/file\nVECSHARD_LOG_FORMAT=json\nVECSHARD_MIRROR_KIND=local\n")
		t.Setenv("VECSHARD_ROOT", "/from/env")
		t.Setenv("VECSHARD_MIRROR_TARGET", "/mirror")

		s, err := loadSettings(envFile)
		require.NoError(t, err)
		// Variables already set win over the file.
		assert.Equal(t, "/from/env", s.Root)
		assert.Equal(t, "json", s.LogFormat)
		assert.Equal(t, "local", s.Mirror.Kind)
		assert.Equal(t, "/mirror", s.Mirror.Target)
	})

	t.Run("logger", func(t *testing.T) {
		_, err := Settings{LogLevel: "LOUD", LogFormat: "text"}.Logger()
		require.Error(t, err)
		_, err = Settings{LogLevel: "DEBUG", LogFormat: "xml"}.Logger()
		require.Error(t, err)
		l, err := Settings{LogLevel: "warn", LogFormat: "json"}.Logger()
		require.NoError(t, err)
		assert.NotNil(t, l)
	})
}

func TestLoadFileConfig(t *testing.T) {
	t.Run("no file", func(t *testing.T) {
		fc, err := loadFileConfig("")
		require.NoError(t, err)
		vc, err := fc.Variant("")
		require.NoError(t, err)
		cfg, err := vc.IndexConfig()
		require.NoError(t, err)
		assert.Equal(t, model.DefaultConfig(), cfg)
	})

	t.Run("variants", func(t *testing.T) {
		path := writeFile(t, t.TempDir(), "vecshard.yaml", `
variants:
  - name: base
    dim: 64
    metric: ip
    index:
      type: IVF_PQ
      nlist: 32
      pqM: 8
    compaction:
      enabled: true
  - name: small
    dim: 16
    metric: l2
    index:
      type: hnsw
      efS: 128
    idHashSalt: 7
    retainVectors: true
`)
		fc, err := loadFileConfig(path)
		require.NoError(t, err)
		require.Len(t, fc.Variants, 2)

		vc, err := fc.Variant("base")
		require.NoError(t, err)
		cfg, err := vc.IndexConfig()
		require.NoError(t, err)
		assert.Equal(t, 64, cfg.Dim)
		assert.Equal(t, model.MetricInnerProduct, cfg.Metric)
		assert.Equal(t, model.IVFPQ{NList: 32, NProbe: 16, PQSubvectors: 8, PQBits: 8}, cfg.Index)
		assert.True(t, cfg.Compaction.Enabled)
		assert.Equal(t, 16, cfg.Compaction.MinSegments)

		vc, err = fc.Variant("small")
		require.NoError(t, err)
		assert.True(t, vc.RetainVectors)
		cfg, err = vc.IndexConfig()
		require.NoError(t, err)
		assert.Equal(t, model.MetricL2, cfg.Metric)
		assert.Equal(t, model.HNSW{M: 32, EfConstruction: 200, EfSearch: 128}, cfg.Index)
		assert.Equal(t, uint64(7), cfg.IDHashSalt)

		_, err = fc.Variant("other")
		require.Error(t, err)
	})

	t.Run("invalid", func(t *testing.T) {
		dir := t.TempDir()
		for name, content := range map[string]string{
			"empty.yaml":     "variants: []\n",
			"dup.yaml":       "variants:\n  - name: a\n  - name: a\n",
			"malformed.yaml": "variants: [\n",
		} {
			_, err := loadFileConfig(writeFile(t, dir, name, content))
			assert.Error(t, err, name)
		}

		fc, err := loadFileConfig(writeFile(t, dir, "bad.yaml", "variants:\n  - name: a\n    dim: 10\n    index:\n      type: ivf-pq\n      pqM: 3\n"))
		require.NoError(t, err)
		_, err = fc.Variants[0].IndexConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), `variant "a"`)
	})
}
