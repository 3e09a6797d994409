// Package main is the entry point for the vecshard CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set via ldflags during build.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	envFile string
	config  string
	root    string
	backend string
}

func rootCmd() *cobra.Command {
	g := &globalFlags{}
	cmd := &cobra.Command{
		Use:   "vecshard",
		Short: "Segmented vector index maintenance",
		Long: `vecshard builds, searches and maintains segmented vector indexes.

Configuration is loaded in the following order (later sources override earlier):
  1. Default values
  2. .env file (if --env-file specified or .env exists in current directory)
  3. Environment variables (VECSHARD_ prefix)
  4. Command line flags

Variants are described in a YAML file (--config or VECSHARD_CONFIG). Without
one, the default variant "base" is used.

Environment variables:
  VECSHARD_ROOT                    Index root directory (default: ./index)
  VECSHARD_CONFIG                  YAML variant configuration
  VECSHARD_BACKEND                 Index backend: go, faiss (default: go)
  VECSHARD_LOG_LEVEL               DEBUG, INFO, WARN, ERROR (default: INFO)
  VECSHARD_LOG_FORMAT              text, json (default: text)
  VECSHARD_MAX_CONCURRENT_BUILDS   Builds running at once (default: 1)
  VECSHARD_MEMORY_LIMIT_BYTES      Row buffer memory limit
  VECSHARD_IO_LIMIT_BYTES_PER_SEC  Staging write throttle

  VECSHARD_MIRROR_*                Segment mirror
    KIND                           local, s3, minio
    TARGET                         Directory or bucket
    PREFIX                         Blob name prefix
    ENDPOINT                       S3 endpoint override or MinIO host
    REGION                         S3 region
    ACCESS_KEY, SECRET_KEY         MinIO credentials
    INSECURE                       Disable TLS for MinIO`,
		SilenceUsage: true,
		Version:      version + " (" + commit + ")",
	}

	cmd.PersistentFlags().StringVar(&g.envFile, "env-file", "", "Path to .env file (default: .env in current directory)")
	cmd.PersistentFlags().StringVar(&g.config, "config", "", "YAML variant configuration")
	cmd.PersistentFlags().StringVar(&g.root, "root", "", "Index root directory")
	cmd.PersistentFlags().StringVar(&g.backend, "backend", "", "Index backend")

	cmd.AddCommand(buildCmd(g))
	cmd.AddCommand(searchCmd(g))
	cmd.AddCommand(compactCmd(g))
	cmd.AddCommand(reconcileCmd(g))
	cmd.AddCommand(inspectCmd(g))
	cmd.AddCommand(submitCmd(g))
	cmd.AddCommand(workerCmd(g))

	return cmd
}
