package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arturoeanton/codequery/internal/ui"
)

var (
	retrieveK       int
	retrieveContent bool
)

var askCmd = &cobra.Command{
	Use:   "ask <repository-id> <question...>",
	Short: "Answer a question with citations",
	Long: `Answer a question from the repository's latest completed ingestion. With a
generative provider configured the answer is written by the model; otherwise
the matching sections are listed.

Examples:
  codequery ask demo "where are emails validated?"
  codequery ask demo how does the retry backoff work --json`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		answer, err := a.QA.Ask(cmd.Context(), args[0], strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd, answer)
		}

		w := cmd.OutOrStdout()
		ui.Header(w, "Answer")
		fmt.Fprintln(w, answer.Text)
		if len(answer.Citations) == 0 {
			return nil
		}
		fmt.Fprintln(w)
		ui.Header(w, fmt.Sprintf("Citations (confidence %.3f)", answer.Confidence))
		for i, c := range answer.Citations {
			fmt.Fprintf(w, "%2d. %s  %.3f\n", i+1, ui.Location(c.FilePath, c.StartLine, c.EndLine), c.RelevanceScore)
		}
		return nil
	},
}

var retrieveCmd = &cobra.Command{
	Use:   "retrieve <repository-id> <question...>",
	Short: "Show the ranked chunks for a question",
	Long: `Rank the repository's chunks against a question without composing an answer.

Examples:
  codequery retrieve demo "email validation"
  codequery retrieve demo parse config file -k 3 --content`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		results, err := a.QA.Retrieve(cmd.Context(), args[0], strings.Join(args[1:], " "), retrieveK)
		if err != nil {
			return err
		}
		if !retrieveContent {
			for i := range results {
				results[i].Content = ""
			}
		}
		if jsonOutput {
			return printJSON(cmd, map[string]any{"results": results, "count": len(results)})
		}

		w := cmd.OutOrStdout()
		if len(results) == 0 {
			ui.Warningf(w, "no matching chunks")
			return nil
		}
		for i, r := range results {
			fmt.Fprintf(w, "%2d. %s  %.3f  %s\n", i+1, ui.Location(r.FilePath, r.StartLine, r.EndLine), r.Score, r.Language)
			if retrieveContent {
				fmt.Fprintln(w, ui.Dim.Sprint(r.Content))
			}
		}
		return nil
	},
}

func init() {
	retrieveCmd.Flags().IntVarP(&retrieveK, "k", "k", 0, "number of chunks to return (default from RETRIEVAL_TOP_K)")
	retrieveCmd.Flags().BoolVar(&retrieveContent, "content", false, "print chunk content")
	rootCmd.AddCommand(askCmd, retrieveCmd)
}
