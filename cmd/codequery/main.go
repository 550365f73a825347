// Command codequery ingests repositories and answers questions about them
// from the terminal, against the same store the server uses.
package main

import (
	"os"

	"github.com/arturoeanton/codequery/internal/ui"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		ui.Errorf(os.Stderr, "%v", err)
		os.Exit(1)
	}
}
