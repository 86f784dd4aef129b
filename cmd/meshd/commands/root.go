package commands

import (
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "meshd",
	Short: "Agent mesh daemon",
	Long: `meshd runs one agent of a cooperating agent mesh.

Each meshd process serves a single agent over HTTP (and optionally NATS).
The agent's model, tools, peers and guard thresholds come from a TOML
configuration file.

Usage:
  meshd serve --config agent.toml`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
