package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/vecshard"
	"github.com/hupe1980/vecshard/model"
)

// envPrefix is the prefix of every process setting.
const envPrefix = "VECSHARD"

// Settings holds process configuration read from the environment.
// Field names map to environment variables with the VECSHARD_ prefix.
type Settings struct {
	// Root is the index root directory.
	// Env: VECSHARD_ROOT (default: ./index)
	Root string `envconfig:"ROOT" default:"./index"`

	// Config is the path of the YAML variant configuration.
	// Env: VECSHARD_CONFIG
	Config string `envconfig:"CONFIG"`

	// Backend names the index backend.
	// Env: VECSHARD_BACKEND (default: go)
	Backend string `envconfig:"BACKEND" default:"go"`

	// LogLevel is DEBUG, INFO, WARN or ERROR.
	// Env: VECSHARD_LOG_LEVEL (default: INFO)
	LogLevel string `envconfig:"LOG_LEVEL" default:"INFO"`

	// LogFormat is text or json.
	// Env: VECSHARD_LOG_FORMAT (default: text)
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`

	// MaxConcurrentBuilds caps builds across all variants.
	// Env: VECSHARD_MAX_CONCURRENT_BUILDS (default: 1)
	MaxConcurrentBuilds int64 `envconfig:"MAX_CONCURRENT_BUILDS" default:"1"`

	// MemoryLimitBytes caps row buffers held by running builds.
	// Env: VECSHARD_MEMORY_LIMIT_BYTES
	MemoryLimitBytes int64 `envconfig:"MEMORY_LIMIT_BYTES"`

	// IOLimitBytesPerSec throttles staging writes.
	// Env: VECSHARD_IO_LIMIT_BYTES_PER_SEC
	IOLimitBytesPerSec int64 `envconfig:"IO_LIMIT_BYTES_PER_SEC"`

	// Mirror configures segment mirroring.
	Mirror MirrorSettings `envconfig:"MIRROR"`
}

// MirrorSettings selects a mirror target.
type MirrorSettings struct {
	// Kind is empty (disabled), local, s3 or minio.
	// Env: VECSHARD_MIRROR_KIND
	Kind string `envconfig:"KIND"`

	// Target is the directory for local, the bucket otherwise.
	// Env: VECSHARD_MIRROR_TARGET
	Target string `envconfig:"TARGET"`

	// Prefix is prepended to every blob name.
	// Env: VECSHARD_MIRROR_PREFIX
	Prefix string `envconfig:"PREFIX"`

	// Endpoint overrides the S3 endpoint, or names the MinIO server.
	// Env: VECSHARD_MIRROR_ENDPOINT
	Endpoint string `envconfig:"ENDPOINT"`

	// Region is the S3 region.
	// Env: VECSHARD_MIRROR_REGION
	Region string `envconfig:"REGION"`

	// AccessKey and SecretKey authenticate against MinIO.
	// Env: VECSHARD_MIRROR_ACCESS_KEY, VECSHARD_MIRROR_SECRET_KEY
	AccessKey string `envconfig:"ACCESS_KEY"`
	SecretKey string `envconfig:"SECRET_KEY"`

	// Insecure disables TLS for MinIO.
	// Env: VECSHARD_MIRROR_INSECURE (default: false)
	Insecure bool `envconfig:"INSECURE" default:"false"`
}

// loadSettings loads an optional .env file and then the environment.
// Variables already set in the environment win over the file.
func loadSettings(envFile string) (Settings, error) {
	path := envFile
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err == nil {
		if err := godotenv.Load(path); err != nil {
			return Settings{}, fmt.Errorf("load %s: %w", path, err)
		}
	} else if envFile != "" {
		return Settings{}, fmt.Errorf("env file: %w", err)
	}

	var s Settings
	if err := envconfig.Process(envPrefix, &s); err != nil {
		return Settings{}, fmt.Errorf("process environment: %w", err)
	}
	return s, nil
}

// Limits returns the resource limits of s.
func (s Settings) Limits() vecshard.ResourceLimits {
	return vecshard.ResourceLimits{
		MemoryLimitBytes:    s.MemoryLimitBytes,
		MaxConcurrentBuilds: s.MaxConcurrentBuilds,
		IOLimitBytesPerSec:  s.IOLimitBytesPerSec,
	}
}

// Logger builds the configured logger.
func (s Settings) Logger() (*vecshard.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	switch strings.ToLower(s.LogFormat) {
	case "json":
		return vecshard.NewJSONLogger(level), nil
	case "text", "pretty", "":
		return vecshard.NewTextLogger(level), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", s.LogFormat)
	}
}

// FileConfig is the YAML variant configuration.
//
//	variants:
//	  - name: base
//	    dim: 512
//	    metric: ip
//	    index:
//	      type: ivf-pq
//	      nlist: 4096
//	    compaction:
//	      enabled: true
//	      minSegments: 16
type FileConfig struct {
	Variants []VariantConfig `yaml:"variants"`
}

// VariantConfig configures one variant. Omitted fields take the defaults
// of vecshard.DefaultConfig.
type VariantConfig struct {
	Name              string            `yaml:"name"`
	Dim               int               `yaml:"dim"`
	Metric            string            `yaml:"metric"`
	Index             IndexFileConfig   `yaml:"index"`
	SegmentTargetSize int               `yaml:"segmentTargetSize"`
	Compaction        *CompactionConfig `yaml:"compaction"`
	IDHashSalt        *uint64           `yaml:"idHashSalt"`
	RetainVectors     bool              `yaml:"retainVectors"`
	Revision          uint64            `yaml:"revision"`
}

// IndexFileConfig selects the index type. Parameter keys match the
// manifest params.
type IndexFileConfig struct {
	Type   string         `yaml:"type"`
	Params map[string]int `yaml:",inline"`
}

// CompactionConfig mirrors model.CompactionConfig.
type CompactionConfig struct {
	Enabled     bool `yaml:"enabled"`
	MinSegments int  `yaml:"minSegments"`
}

// loadFileConfig reads path. An empty path yields a single default variant.
func loadFileConfig(path string) (FileConfig, error) {
	if path == "" {
		return FileConfig{Variants: []VariantConfig{{Name: model.DefaultVariant}}}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read config: %w", err)
	}
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return FileConfig{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if len(fc.Variants) == 0 {
		return FileConfig{}, fmt.Errorf("config %s: no variants", path)
	}
	seen := map[string]struct{}{}
	for i := range fc.Variants {
		if fc.Variants[i].Name == "" {
			fc.Variants[i].Name = model.DefaultVariant
		}
		if _, dup := seen[fc.Variants[i].Name]; dup {
			return FileConfig{}, fmt.Errorf("config %s: duplicate variant %q", path, fc.Variants[i].Name)
		}
		seen[fc.Variants[i].Name] = struct{}{}
	}
	return fc, nil
}

// Variant returns the named variant.
func (fc FileConfig) Variant(name string) (VariantConfig, error) {
	if name == "" {
		name = model.DefaultVariant
	}
	for _, v := range fc.Variants {
		if v.Name == name {
			return v, nil
		}
	}
	return VariantConfig{}, fmt.Errorf("variant %q not configured", name)
}

// IndexConfig converts vc to a validated model.IndexConfig.
func (vc VariantConfig) IndexConfig() (model.IndexConfig, error) {
	cfg := model.DefaultConfig()
	cfg.Variant = vc.Name
	cfg.Revision = vc.Revision
	if vc.Dim != 0 {
		cfg.Dim = vc.Dim
	}
	if vc.Metric != "" {
		m, err := model.ParseMetric(vc.Metric)
		if err != nil {
			return cfg, err
		}
		cfg.Metric = m
	}
	if vc.Index.Type != "" || len(vc.Index.Params) > 0 {
		t := cfg.IndexType()
		if vc.Index.Type != "" {
			var err error
			if t, err = model.ParseIndexType(vc.Index.Type); err != nil {
				return cfg, err
			}
		}
		spec, err := model.SpecFromParams(t, vc.Index.Params)
		if err != nil {
			return cfg, err
		}
		cfg.Index = spec
	}
	if vc.SegmentTargetSize != 0 {
		cfg.SegmentTargetSize = vc.SegmentTargetSize
	}
	if vc.Compaction != nil {
		cfg.Compaction.Enabled = vc.Compaction.Enabled
		if vc.Compaction.MinSegments != 0 {
			cfg.Compaction.MinSegments = vc.Compaction.MinSegments
		}
	}
	if vc.IDHashSalt != nil {
		cfg.IDHashSalt = *vc.IDHashSalt
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("variant %q: %w", vc.Name, err)
	}
	return cfg, nil
}
