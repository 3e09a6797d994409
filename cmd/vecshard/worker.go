package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/vecshard"
	"github.com/hupe1980/vecshard/jobs"
)

func workerCmd(g *globalFlags) *cobra.Command {
	var (
		spoolDir     string
		ledgerDir    string
		compactEvery time.Duration
		maxAttempts  int
		drainTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run build and compaction jobs from a spool directory",
		Long: `Run build and compaction jobs from a spool directory.

Producers drop <name>.job.json files into the spool (see "vecshard submit").
Jobs of one variant run one at a time in arrival order; transient failures
are retried with exponential backoff. Finished files are renamed to
.job.done or .job.failed. With --ledger, completed job keys are remembered
across restarts and resubmissions are skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, g)
			if err != nil {
				return err
			}
			indexes, err := a.openAll()
			if err != nil {
				return err
			}
			defer func() {
				for _, ix := range indexes {
					_ = ix.Close()
				}
			}()

			var ledger *jobs.Ledger
			if ledgerDir != "" {
				ledger, err = jobs.OpenLedger(jobs.LedgerOptions{Dir: ledgerDir, Logger: a.logger.Logger})
				if err != nil {
					return err
				}
				defer ledger.Close()
			}

			d := jobs.NewDispatcher(jobs.DispatcherOptions{
				Ledger:      ledger,
				Logger:      a.logger.Logger,
				MaxAttempts: maxAttempts,
			})
			for name, ix := range indexes {
				d.Register(name, ix)
			}
			defer func() {
				dctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
				defer cancel()
				if err := d.Close(dctx); err != nil {
					a.logger.Warn("dispatcher drain", "error", err)
				}
			}()

			if compactEvery > 0 {
				go scheduleCompactions(ctx, d, indexes, compactEvery, a.logger)
			}

			a.logger.Info("worker started", "spool", spoolDir, "variants", len(indexes))
			return jobs.NewSpool(spoolDir, d, a.logger.Logger).Run(ctx)
		},
	}

	cmd.Flags().StringVar(&spoolDir, "spool", "", "Spool directory to watch")
	cmd.Flags().StringVar(&ledgerDir, "ledger", "", "Job ledger directory (default: no ledger)")
	cmd.Flags().DurationVar(&compactEvery, "compact-every", 0, "Submit a compaction per variant at this interval (0 disables)")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 5, "Attempts per job before it fails")
	cmd.Flags().DurationVar(&drainTimeout, "drain-timeout", 30*time.Second, "Time to finish queued jobs on shutdown")
	_ = cmd.MarkFlagRequired("spool")

	return cmd
}

// scheduleCompactions submits a compaction for every variant with
// compaction enabled on each tick.
func scheduleCompactions(ctx context.Context, s jobs.Submitter, indexes map[string]*vecshard.Index, every time.Duration, logger *vecshard.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			for name, ix := range indexes {
				if !ix.Config().Compaction.Enabled {
					continue
				}
				job := jobs.NewCompactJob(jobs.CompactJob{Variant: name, Seq: t.Unix()})
				if _, err := s.Submit(ctx, job); err != nil {
					logger.Warn("schedule compaction", "variant", name, "error", err)
				}
			}
		}
	}
}

func submitCmd(g *globalFlags) *cobra.Command {
	var spoolDir string

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Queue a job for a worker",
	}
	cmd.PersistentFlags().StringVar(&spoolDir, "spool", "", "Spool directory of the worker")
	_ = cmd.MarkPersistentFlagRequired("spool")

	var (
		b       jobs.BuildSegmentJob
		variant string
	)
	build := &cobra.Command{
		Use:   "build",
		Short: "Queue a segment build",
		RunE: func(cmd *cobra.Command, args []string) error {
			abs, err := filepath.Abs(b.BufferPath)
			if err != nil {
				return err
			}
			b.BufferPath = abs
			if b.Timestamp == 0 {
				b.Timestamp = time.Now().UnixMilli()
			}
			if b.Dim == 0 {
				a, err := newApp(cmd.Context(), g)
				if err != nil {
					return err
				}
				vc, err := a.files.Variant(b.Variant)
				if err != nil {
					return err
				}
				cfg, err := vc.IndexConfig()
				if err != nil {
					return err
				}
				b.Variant, b.Dim = cfg.Variant, cfg.Dim
			}
			return writeJob(cmd, spoolDir, jobs.NewBuildJob(b))
		},
	}
	build.Flags().StringVar(&b.Variant, "variant", "base", "Variant name")
	build.Flags().StringVar(&b.BufferPath, "embeddings", "", "Embedding buffer file")
	build.Flags().IntVar(&b.Count, "count", 0, "Number of vectors in the buffer")
	build.Flags().IntVar(&b.Dim, "dim", 0, "Vector dimension (default: the variant's)")
	build.Flags().StringVar(&b.OwnerID, "owner", "", "Owner ID the vector IDs derive from")
	build.Flags().Int64Var(&b.Timestamp, "ts", 0, "Segment timestamp in milliseconds (default: now)")
	_ = build.MarkFlagRequired("embeddings")
	_ = build.MarkFlagRequired("count")

	compact := &cobra.Command{
		Use:   "compact",
		Short: "Queue a compaction run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeJob(cmd, spoolDir, jobs.NewCompactJob(jobs.CompactJob{
				Variant: variant,
				Seq:     time.Now().UnixNano(),
			}))
		},
	}
	compact.Flags().StringVar(&variant, "variant", "base", "Variant name")

	cmd.AddCommand(build, compact)
	return cmd
}

// jobFileName turns a job key into a spool file name.
var jobFileName = strings.NewReplacer("/", "_", `\`, "_")

func writeJob(cmd *cobra.Command, dir string, job jobs.Job) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path, err := jobs.WriteJobFile(dir, jobFileName.Replace(job.Key()), job)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "queued %s\n", path)
	return nil
}
