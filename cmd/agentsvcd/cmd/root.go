package cmd

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:     "agentsvcd",
	Short:   "agentsvcd fronts an agent CLI over REST with session, task, and budget attribution",
	Version: Version,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.json (defaults to $HOME/.agentsvcd/config/config.json)")
}
