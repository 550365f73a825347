package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/arturoeanton/codequery/internal/domain"
	"github.com/arturoeanton/codequery/internal/service"
	"github.com/arturoeanton/codequery/internal/ui"
)

var ingestRef string

var ingestCmd = &cobra.Command{
	Use:   "ingest <repository-id> <source>",
	Short: "Index a repository",
	Long: `Acquire the source (a git URL or a local directory), select its text files,
chunk and embed them, and replace the repository's previous index.

Examples:
  codequery ingest demo https://github.com/org/repo.git
  codequery ingest demo https://github.com/org/repo.git --ref v1.2.0
  codequery ingest local ./my-project`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		job, err := ingestOnce(cmd.Context(), a.Ingestion, domain.RepoRef{ID: args[0], Source: args[1], Ref: ingestRef})
		if jsonOutput && job != nil {
			if perr := printJSON(cmd, job); perr != nil {
				return perr
			}
		} else if job != nil {
			printJob(cmd.OutOrStdout(), job)
		}
		return err
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestRef, "ref", "", "branch, tag or commit to check out (default: remote HEAD)")
	rootCmd.AddCommand(ingestCmd)
}

// ingestOnce runs one synchronous ingestion. A failed job is returned along
// with an error carrying its message.
func ingestOnce(ctx context.Context, ing *service.IngestionService, ref domain.RepoRef) (*domain.Job, error) {
	job, err := ing.StartIngestion(ctx, ref)
	if err != nil {
		return nil, err
	}
	if job.Status == domain.JobStatusFailed {
		return job, fmt.Errorf("ingestion %s failed: %s", job.ID, job.Error)
	}
	return job, nil
}

func printJob(w io.Writer, job *domain.Job) {
	switch job.Status {
	case domain.JobStatusCompleted:
		ui.Successf(w, "indexed %d of %d files into %d chunks", job.Stats.FilesIndexed, job.Stats.FilesScanned, job.Stats.ChunksCreated)
	case domain.JobStatusFailed:
		ui.Errorf(w, "job %s failed", job.ID)
		return
	default:
		ui.Infof(w, "job %s is %s", job.ID, job.Status)
		return
	}
	if job.Stats.ChunksUnembedded > 0 {
		ui.Warningf(w, "%d chunks could not be embedded and are excluded from retrieval", job.Stats.ChunksUnembedded)
	}
	fmt.Fprintf(w, "  job    %s\n", job.ID)
	if job.Commit != "" {
		fmt.Fprintf(w, "  commit %s\n", job.Commit)
	}
	fmt.Fprintf(w, "  model  %s\n", job.EmbeddingModel)
}
