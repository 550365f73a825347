package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/arturoeanton/codequery/internal/domain"
	"github.com/arturoeanton/codequery/internal/ui"
)

var (
	chunksPrefix string
	chunksLimit  int
	chunksOffset int
	jobsLimit    int
)

var chunksCmd = &cobra.Command{
	Use:   "chunks <repository-id>",
	Short: "List indexed chunks",
	Long: `Page through the chunks of the repository's current index, ordered by path
and start line.

Examples:
  codequery chunks demo
  codequery chunks demo --prefix internal/ --limit 100 --offset 100`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		chunks, total, err := a.QA.ListChunks(cmd.Context(), domain.ChunkQuery{
			RepositoryID: args[0],
			PathPrefix:   chunksPrefix,
			Limit:        chunksLimit,
			Offset:       chunksOffset,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd, map[string]any{"chunks": chunks, "total": total})
		}

		w := cmd.OutOrStdout()
		for _, c := range chunks {
			embedded := ui.Green.Sprint("embedded")
			if c.EmbeddingModel == "" {
				embedded = ui.Yellow.Sprint("unembedded")
			}
			fmt.Fprintf(w, "%s  %-10s %s\n", ui.Location(c.FilePath, c.StartLine, c.EndLine), c.Language, embedded)
		}
		ui.Infof(w, "showing %d of %d chunks", len(chunks), total)
		return nil
	},
}

var jobsCmd = &cobra.Command{
	Use:   "jobs <repository-id>",
	Short: "List ingestion jobs",
	Long: `List the repository's ingestion jobs, newest first.

Examples:
  codequery jobs demo
  codequery jobs demo --limit 5 --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		jobs, err := a.Ingestion.ListJobs(cmd.Context(), args[0], jobsLimit)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd, map[string]any{"jobs": jobs, "count": len(jobs)})
		}

		w := cmd.OutOrStdout()
		if len(jobs) == 0 {
			ui.Warningf(w, "no jobs for %s", args[0])
			return nil
		}
		for _, j := range jobs {
			fmt.Fprintf(w, "%s  %s  %s  files=%d chunks=%d\n",
				j.ID, statusColor(j.Status), j.CreatedAt.Local().Format(time.DateTime),
				j.Stats.FilesIndexed, j.Stats.ChunksCreated)
			if j.Error != "" {
				fmt.Fprintf(w, "  %s\n", ui.Red.Sprint(j.Error))
			}
		}
		return nil
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge <repository-id>",
	Short: "Drop a repository's indexed chunks",
	Long: `Delete every chunk of the repository's index. Job and question history are
kept; ingest again to rebuild the index. Fails while an ingestion is running.

Examples:
  codequery purge demo`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Ingestion.Purge(cmd.Context(), args[0]); err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd, map[string]any{"repository_id": args[0], "purged": true})
		}
		ui.Successf(cmd.OutOrStdout(), "purged the index of %s", args[0])
		return nil
	},
}

func init() {
	chunksCmd.Flags().StringVar(&chunksPrefix, "prefix", "", "only chunks whose path starts with this prefix")
	chunksCmd.Flags().IntVar(&chunksLimit, "limit", 50, "page size (max 500)")
	chunksCmd.Flags().IntVar(&chunksOffset, "offset", 0, "page offset")
	jobsCmd.Flags().IntVar(&jobsLimit, "limit", 20, "maximum number of jobs")
	rootCmd.AddCommand(chunksCmd, jobsCmd, purgeCmd)
}

func statusColor(status string) string {
	switch status {
	case domain.JobStatusCompleted:
		return ui.Green.Sprintf("%-9s", status)
	case domain.JobStatusFailed:
		return ui.Red.Sprintf("%-9s", status)
	default:
		return ui.Yellow.Sprintf("%-9s", status)
	}
}
