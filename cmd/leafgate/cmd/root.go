package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/jmcleod/leafgate/config"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "leafgate",
	Short: "LeafGate is a request-admission gateway for leaf image classification",
	Long: `LeafGate authenticates users, rate limits every route, validates uploaded
leaf images and forwards them to a classifier, keeping a per-user history
of analyses.

Settings come from an optional YAML file and LEAFGATE_* environment variables.`,
	SilenceUsage: true,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	rootCmd.Version = Version
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}
