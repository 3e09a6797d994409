package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"text/tabwriter"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/hupe1980/vecshard"
)

func buildCmd(g *globalFlags) *cobra.Command {
	var (
		variant    string
		embeddings string
		count      int
		dim        int
		owner      string
		ts         int64
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Publish a batch of embeddings as a new segment",
		Long: `Publish a batch of embeddings as a new segment.

The embeddings file holds count*dim little-endian float32 values, row-major.
Building the same (timestamp, count) pair twice is a no-op.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), g)
			if err != nil {
				return err
			}
			ix, err := a.open(variant)
			if err != nil {
				return err
			}
			defer ix.Close()

			if dim == 0 {
				dim = ix.Config().Dim
			}
			res, err := ix.Build(cmd.Context(), vecshard.BuildRequest{
				Variant:       ix.Config().Variant,
				EmbeddingPath: embeddings,
				Dim:           dim,
				Count:         count,
				Timestamp:     ts,
				OwnerID:       owner,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if res.Existing {
				fmt.Fprintf(out, "%s already published (generation %d)\n", res.Segment.File, res.Generation)
				return nil
			}
			fmt.Fprintf(out, "published %s: %d vectors, generation %d\n", res.Segment.File, res.Segment.Count, res.Generation)
			if res.Trained {
				fmt.Fprintln(out, "trained quantizer on this batch")
			}
			if res.ZeroRows > 0 {
				fmt.Fprintf(out, "%d all-zero rows left unnormalized\n", res.ZeroRows)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&variant, "variant", "", "Variant name (default: base)")
	cmd.Flags().StringVar(&embeddings, "embeddings", "", "Embedding buffer file")
	cmd.Flags().IntVar(&count, "count", 0, "Number of vectors in the buffer")
	cmd.Flags().IntVar(&dim, "dim", 0, "Vector dimension (default: the variant's)")
	cmd.Flags().StringVar(&owner, "owner", "", "Owner ID the vector IDs derive from")
	cmd.Flags().Int64Var(&ts, "ts", 0, "Segment timestamp in milliseconds (default: now)")
	_ = cmd.MarkFlagRequired("embeddings")
	_ = cmd.MarkFlagRequired("count")

	return cmd
}

func searchCmd(g *globalFlags) *cobra.Command {
	var (
		variant string
		query   string
		k       int
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Query all segments of a variant",
		Long: `Query all segments of a variant.

The query file holds dim little-endian float32 values.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), g)
			if err != nil {
				return err
			}
			ix, err := a.open(variant)
			if err != nil {
				return err
			}
			defer ix.Close()

			q, err := readQuery(query, ix.Config().Dim)
			if err != nil {
				return err
			}
			results, err := ix.Search(cmd.Context(), q, k)
			if err != nil {
				return err
			}
			return printResults(cmd.OutOrStdout(), results, asJSON)
		},
	}

	cmd.Flags().StringVar(&variant, "variant", "", "Variant name (default: base)")
	cmd.Flags().StringVar(&query, "query", "", "Query vector file")
	cmd.Flags().IntVar(&k, "k", 10, "Number of results")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")
	_ = cmd.MarkFlagRequired("query")

	return cmd
}

func compactCmd(g *globalFlags) *cobra.Command {
	var variant string

	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Merge small segments into a shard",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), g)
			if err != nil {
				return err
			}
			ix, err := a.open(variant)
			if err != nil {
				return err
			}
			defer ix.Close()

			res, err := ix.Compact(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch res.Status {
			case vecshard.CompactionSkipped:
				fmt.Fprintln(out, "compaction is disabled for this variant")
			case vecshard.CompactionIdle:
				fmt.Fprintln(out, "nothing to compact")
			default:
				fmt.Fprintf(out, "merged %d segments into %s (%d vectors, %d duplicate ids), generation %d\n",
					len(res.Merged), res.Shard.File, res.Shard.Count, res.Duplicates, res.Generation)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&variant, "variant", "", "Variant name (default: base)")

	return cmd
}

func reconcileCmd(g *globalFlags) *cobra.Command {
	var (
		variant string
		opts    vecshard.ReconcileOptions
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Repair a variant after interrupted builds",
		Long: `Repair a variant after interrupted builds.

Clears the staging directory and registers published segments the manifest
does not list. With --remove-orphans, files that cannot be registered are
deleted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), g)
			if err != nil {
				return err
			}
			ix, err := a.open(variant)
			if err != nil {
				return err
			}
			defer ix.Close()

			report, err := ix.Reconcile(cmd.Context(), opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, report.String())
			for _, seg := range report.Registered {
				fmt.Fprintf(out, "registered %s\n", seg.File)
			}
			for _, path := range report.Removed {
				fmt.Fprintf(out, "removed %s\n", path)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&variant, "variant", "", "Variant name (default: base)")
	cmd.Flags().BoolVar(&opts.RemoveOrphans, "remove-orphans", false, "Delete files that cannot be registered")
	cmd.Flags().DurationVar(&opts.StagingMaxAge, "staging-max-age", 0, "Keep staging files younger than this")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Report without changing anything")

	return cmd
}

func inspectCmd(g *globalFlags) *cobra.Command {
	var (
		variant string
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show the manifest and check its files",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), g)
			if err != nil {
				return err
			}
			ix, err := a.open(variant)
			if err != nil {
				return err
			}
			defer ix.Close()

			report, err := ix.Inspect(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			m := report.Manifest
			fmt.Fprintf(out, "variant %s: %s, %s, dim %d, backend %s\n", m.Variant, m.IndexType, m.Metric, m.Dim, m.Backend)
			if m.Trained {
				fmt.Fprintf(out, "trained: %s\n", m.TrainInfo)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FILE\tCOUNT\tTS\tLEVEL\tOWNER\tSTATUS")
			for _, s := range report.Segments {
				status := "ok"
				if !s.Healthy() {
					status = fmt.Sprintf("missing %d file(s), %d ids", len(s.Missing), s.IDs)
				}
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\t%s\n", s.Segment.File, s.Segment.Count, s.Segment.TS, s.Segment.Level, s.Segment.Owner, status)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintln(out, report.String())
			return nil
		},
	}

	cmd.Flags().StringVar(&variant, "variant", "", "Variant name (default: base)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")

	return cmd
}

// readQuery reads one little-endian float32 vector of length dim.
func readQuery(path string, dim int) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read query: %w", err)
	}
	if len(data) != 4*dim {
		return nil, fmt.Errorf("query %s holds %d bytes, want dim*4 = %d", path, len(data), 4*dim)
	}
	q := make([]float32, dim)
	for i := range q {
		q[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return q, nil
}

func printResults(w io.Writer, results []vecshard.Result, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(results)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tID\tSCORE")
	for i, r := range results {
		fmt.Fprintf(tw, "%d\t%d\t%.6f\n", i+1, r.ID, r.Score)
	}
	return tw.Flush()
}
