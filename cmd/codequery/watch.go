package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/arturoeanton/codequery/internal/domain"
	"github.com/arturoeanton/codequery/internal/service"
	"github.com/arturoeanton/codequery/internal/ui"
	"github.com/arturoeanton/codequery/internal/watch"
)

var watchDebounce time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch <repository-id> <directory>",
	Short: "Re-index a local directory whenever it changes",
	Long: `Index a local directory, then keep watching it and re-index after each burst
of file changes. Excluded directories such as .git and node_modules are not
watched. Stop with Ctrl+C.

Examples:
  codequery watch local ./my-project
  codequery watch local ./my-project --debounce 5s`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := filepath.Abs(args[1])
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		ref := domain.RepoRef{ID: args[0], Source: dir}
		w := cmd.OutOrStdout()
		reindex := func(ctx context.Context) {
			job, err := ingestOnce(ctx, a.Ingestion, ref)
			if err != nil {
				ui.Errorf(w, "%v", err)
				return
			}
			printJob(w, job)
		}

		reindex(ctx)
		ui.Infof(w, "watching %s (Ctrl+C to stop)", dir)
		return watch.Run(ctx, dir, watch.Options{
			Debounce: watchDebounce,
			Skip:     service.ExcludedDir,
		}, reindex)
	},
}

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 2*time.Second, "quiet period before re-indexing")
	rootCmd.AddCommand(watchCmd)
}
