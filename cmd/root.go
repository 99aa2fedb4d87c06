package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/c54335/contract-delivery-tracker/config"
)

var rootCmd = &cobra.Command{
	Use:           "tracker",
	Short:         "Contract deliverable tracker",
	Long:          "Tracker builds a deliverable schedule from a contract and keeps it current from free-text progress sentences.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "config.yaml", "config file")
}

// loadConfig reads the --config file. When optional is set and the flag was
// left at its default, a missing file yields the built-in defaults.
func loadConfig(cmd *cobra.Command, optional bool) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if optional && !cmd.Flags().Changed("config") && os.IsNotExist(err) {
		return config.Default(), nil
	}
	return nil, fmt.Errorf("failed to load config %s: %w", path, err)
}
