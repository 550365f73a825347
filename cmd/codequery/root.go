package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/arturoeanton/codequery/internal/app"
	"github.com/arturoeanton/codequery/internal/logging"
	"github.com/arturoeanton/codequery/internal/ui"
	"github.com/arturoeanton/codequery/pkg/config"
)

var (
	envFile    string
	configFile string
	noColor    bool
	verbose    bool
	jsonOutput bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "codequery",
	Short: "Ask questions about a code repository",
	Long: `codequery indexes a git repository or local directory into chunks with
embeddings, then answers natural-language questions with citations.

Configuration is read from the environment (and an optional .env or YAML
file), exactly as the server reads it.

Examples:
  codequery ingest demo https://github.com/org/repo.git --ref main
  codequery ask demo "where are emails validated?"
  codequery retrieve demo "email validation" -k 3
  codequery watch demo ./my-project`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ui.InitColors(noColor)
		_ = godotenv.Load(envFile)
		if configFile != "" {
			os.Setenv("CONFIG_FILE", configFile)
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		level := "warn"
		if verbose {
			level = "debug"
		}
		logging.Setup(cmd.ErrOrStderr(), level, cfg.LogFormat)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file (overrides CONFIG_FILE)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log pipeline progress to stderr")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")
}

// openApp wires the services with ingestions running inline.
func openApp(ctx context.Context) (*app.App, error) {
	return app.New(ctx, cfg, app.Options{Synchronous: true, AllowLocalSources: true})
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
