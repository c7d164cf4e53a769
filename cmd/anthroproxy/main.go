// Command anthroproxy runs the Anthropic-Messages-to-OpenAI-Chat-Completions
// translation proxy.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"anthroproxy/internal/cli"
)

func main() {
	root := &cobra.Command{
		Use:   "anthroproxy",
		Short: "Anthropic Messages API translation proxy",
	}
	root.AddCommand(cli.ServeCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
