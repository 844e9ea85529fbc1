package cmd

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/racer-mesh/racer/pkg/config"
)

var configCheckPath string

func init() {
	RootCmd.AddCommand(configCmd)
	configCmd.Flags().StringVarP(&configCheckPath, "check", "c", "", "validate an existing config file instead of printing the default")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the default configuration, or validate an existing one with --check",
	RunE: func(cmd *cobra.Command, args []string) error {
		if configCheckPath != "" {
			cfg, err := config.Load(configCheckPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: valid (node %s)\n", configCheckPath, cfg.Node.RouterBind)
			return nil
		}

		enc := toml.NewEncoder(cmd.OutOrStdout())
		if err := enc.Encode(config.Default()); err != nil {
			return fmt.Errorf("racer: encoding default config: %w", err)
		}
		return nil
	},
}
