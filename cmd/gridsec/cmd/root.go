package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/terraconstructs/gridsec/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "gridsec",
	Short: "Grid security node",
	Long: `Gridsec runs the security layer of a grid node: it authenticates the
local node against the configured backend, validates joining peers,
authenticates client connections and authorizes their operations.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		return nil
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().String("bind-addr", "", "Server bind address (env: GRIDSEC_BIND_ADDR)")
	rootCmd.PersistentFlags().String("node-name", "", "Local node name (env: GRIDSEC_NODE_NAME)")
	rootCmd.PersistentFlags().String("policy-path", "", "JSON policy file (env: GRIDSEC_POLICY_PATH)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging (env: DEBUG)")
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
