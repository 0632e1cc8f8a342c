package cli

import (
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "logwarden",
	Short: "logwarden - human-approved remediation for application logs",
	Long: `logwarden reads application logs, correlates error entries with
infrastructure logs recorded around the same time, asks a model to classify
them and propose a fix, and runs a proposed command on a named target only
after a human operator approves it.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config YAML file (default: ~/.logwarden/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")
}

func Execute() error {
	return rootCmd.Execute()
}
