package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tundra",
	Short: "A parallel, content-signature build engine",
	Long:  `tundra builds a graph of commands, skipping anything already up to date by comparing content signatures across runs.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (not read; configuration is loaded from $XDG_CONFIG_HOME/tundra/config.yaml or ~/.config/tundra/config.yaml)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "debug logging (not read by any subcommand)")
}
