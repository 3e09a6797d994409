package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/hupe1980/vecshard/internal/backend"
	"github.com/hupe1980/vecshard/internal/fs"
)

// trainInfoer is implemented by indexes that describe their training run.
type trainInfoer interface {
	TrainInfo() string
}

// preparedIndex is an empty index ready for insertion.
type preparedIndex struct {
	idx backend.Index
	// trained reports that this call trained the quantizer.
	trained bool
	info    string
}

// prepareIndex returns an empty index for the variant's index type. Types
// that need training reuse the variant's trained template; the first
// caller trains on sample and writes the template. The variant lock keeps
// concurrent builds from training twice.
func (v *Variant) prepareIndex(ctx context.Context, sample []float32) (preparedIndex, error) {
	spec := v.cfg.Index
	if !spec.RequiresTraining() {
		idx, err := v.backend.Create(spec, v.cfg.Metric, v.cfg.Dim)
		if err != nil {
			return preparedIndex{}, err
		}
		return preparedIndex{idx: idx}, nil
	}

	lock, err := fs.Lock(ctx, v.layout.LockPath())
	if err != nil {
		return preparedIndex{}, fmt.Errorf("lock variant: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	tpl := v.layout.TrainedPath()
	ok, err := fs.Exists(v.fsys, tpl)
	if err != nil {
		return preparedIndex{}, ioErr("stat", tpl, err)
	}
	if ok {
		idx, err := v.backend.ReadFile(tpl)
		if err != nil {
			return preparedIndex{}, ioErr("read template", tpl, err)
		}
		if !idx.IsTrained() || idx.Count() != 0 {
			_ = idx.Release()
			return preparedIndex{}, ioErr("read template", tpl, errors.New("template is not an empty trained index"))
		}
		return preparedIndex{idx: idx, info: infoOf(idx)}, nil
	}

	if m, err := v.store.Load(); err == nil && m.Trained {
		v.logger.WarnContext(ctx, "trained template missing, retraining", "path", tpl)
	}

	idx, err := v.backend.Create(spec, v.cfg.Metric, v.cfg.Dim)
	if err != nil {
		return preparedIndex{}, err
	}
	if err := idx.Train(sample); err != nil {
		_ = idx.Release()
		return preparedIndex{}, fmt.Errorf("train: %w", err)
	}

	staged := v.layout.Staged(filepath.Base(tpl))
	if err := v.writeIndexSynced(ctx, idx, staged); err != nil {
		_ = idx.Release()
		return preparedIndex{}, err
	}
	if err := v.fsys.Rename(staged, tpl); err != nil {
		_ = v.fsys.Remove(staged)
		_ = idx.Release()
		return preparedIndex{}, ioErr("rename", staged, err)
	}
	if err := fs.SyncDir(v.fsys, v.layout.VariantDir()); err != nil {
		_ = idx.Release()
		return preparedIndex{}, ioErr("sync", v.layout.VariantDir(), err)
	}

	info := fmt.Sprintf("%s; trained at %s", infoOf(idx), v.now().UTC().Format("2006-01-02T15:04:05Z"))
	v.logger.InfoContext(ctx, "index trained", "vectors", len(sample)/v.cfg.Dim, "info", info)
	return preparedIndex{idx: idx, trained: true, info: info}, nil
}

func infoOf(idx backend.Index) string {
	if ti, ok := idx.(trainInfoer); ok && ti.TrainInfo() != "" {
		return ti.TrainInfo()
	}
	return "trained"
}

// writeIndexSynced writes idx to path and fsyncs it. Indexes that encode
// to a stream go through the IO limiter; the rest write with their own IO
// and the written size is charged to the limiter afterwards.
func (v *Variant) writeIndexSynced(ctx context.Context, idx backend.Index, path string) error {
	if enc, ok := backend.AsEncoder(idx); ok {
		err := fs.WriteSynced(v.fsys, path, func(w io.Writer) error {
			bw := bufio.NewWriter(v.res.Writer(ctx, w))
			if err := enc.Encode(bw); err != nil {
				return err
			}
			return bw.Flush()
		})
		return ioErr("write index", path, err)
	}

	if err := idx.WriteFile(path); err != nil {
		_ = v.fsys.Remove(path)
		return ioErr("write index", path, err)
	}
	if err := v.syncAndCharge(ctx, path); err != nil {
		_ = v.fsys.Remove(path)
		return err
	}
	return nil
}

func (v *Variant) syncAndCharge(ctx context.Context, path string) error {
	f, err := v.fsys.OpenFile(path, 0, 0)
	if err != nil {
		return ioErr("open", path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return ioErr("sync", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return ioErr("stat", path, err)
	}
	if err := f.Close(); err != nil {
		return ioErr("close", path, err)
	}
	return v.res.AcquireIO(ctx, int(fi.Size()))
}
