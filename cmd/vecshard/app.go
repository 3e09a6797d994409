package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hupe1980/vecshard"
	"github.com/hupe1980/vecshard/blobstore"
	"github.com/hupe1980/vecshard/blobstore/minio"
	"github.com/hupe1980/vecshard/blobstore/s3"
)

// app holds what every subcommand needs to open indexes.
type app struct {
	settings  Settings
	files     FileConfig
	logger    *vecshard.Logger
	resources *vecshard.Resources
	mirror    blobstore.BlobStore
}

func newApp(ctx context.Context, g *globalFlags) (*app, error) {
	s, err := loadSettings(g.envFile)
	if err != nil {
		return nil, err
	}

	// Flags take precedence over the environment.
	if g.config != "" {
		s.Config = g.config
	}
	if g.root != "" {
		s.Root = g.root
	}
	if g.backend != "" {
		s.Backend = g.backend
	}

	logger, err := s.Logger()
	if err != nil {
		return nil, err
	}
	files, err := loadFileConfig(s.Config)
	if err != nil {
		return nil, err
	}
	mirror, err := openMirror(ctx, s.Mirror)
	if err != nil {
		return nil, err
	}

	return &app{
		settings:  s,
		files:     files,
		logger:    logger,
		resources: vecshard.NewResources(s.Limits()),
		mirror:    mirror,
	}, nil
}

// open opens the named variant.
func (a *app) open(variant string) (*vecshard.Index, error) {
	vc, err := a.files.Variant(variant)
	if err != nil {
		return nil, err
	}
	cfg, err := vc.IndexConfig()
	if err != nil {
		return nil, err
	}

	opts := []vecshard.Option{
		vecshard.WithBackend(a.settings.Backend),
		vecshard.WithLogger(a.logger),
		vecshard.WithResources(a.resources),
		vecshard.WithRetainVectors(vc.RetainVectors),
	}
	if a.mirror != nil {
		prefix := a.settings.Mirror.Prefix
		opts = append(opts, vecshard.WithMirror(a.mirror, func(o *blobstore.MirrorOptions) {
			o.Prefix = prefix
		}))
	}
	return vecshard.Open(a.settings.Root, cfg, opts...)
}

// openAll opens every configured variant. On error the indexes already
// opened are closed.
func (a *app) openAll() (map[string]*vecshard.Index, error) {
	out := make(map[string]*vecshard.Index, len(a.files.Variants))
	for _, vc := range a.files.Variants {
		ix, err := a.open(vc.Name)
		if err != nil {
			for _, o := range out {
				_ = o.Close()
			}
			return nil, err
		}
		out[vc.Name] = ix
	}
	return out, nil
}

func openMirror(ctx context.Context, m MirrorSettings) (blobstore.BlobStore, error) {
	kind := strings.ToLower(m.Kind)
	if kind == "" {
		return nil, nil
	}
	if m.Target == "" {
		return nil, errors.New("mirror: target is required")
	}

	switch kind {
	case "local":
		return blobstore.NewLocalStore(m.Target), nil
	case "s3":
		var optFns []func(*s3.Options)
		if m.Region != "" {
			optFns = append(optFns, s3.WithRegion(m.Region))
		}
		if m.Endpoint != "" {
			optFns = append(optFns, s3.WithEndpoint(m.Endpoint, true))
		}
		return s3.New(ctx, m.Target, optFns...)
	case "minio":
		if m.Endpoint == "" {
			return nil, errors.New("mirror: minio needs an endpoint")
		}
		client, err := miniogo.New(m.Endpoint, &miniogo.Options{
			Creds:  credentials.NewStaticV4(m.AccessKey, m.SecretKey, ""),
			Secure: !m.Insecure,
			Region: m.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("mirror: minio client: %w", err)
		}
		return minio.NewStore(client, m.Target, ""), nil
	default:
		return nil, fmt.Errorf("mirror: unknown kind %q", m.Kind)
	}
}
