package cmd

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/audiolibrelab/camcapture/internal/config"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `View and manage CamCapture configuration settings.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		fmt.Print(string(out))
		return nil
	},
}

var configUseCmd = &cobra.Command{
	Use:   "use [profile]",
	Short: "Set the active configuration profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cfgLoaded {
			return fmt.Errorf("no config file at %s", cfgFile)
		}

		name := args[0]
		root, err := config.ValidateConfigurationFormat(cfgFile)
		if err != nil {
			return err
		}
		if _, ok := root.Configs[name]; !ok {
			return fmt.Errorf("configuration profile '%s' not found", name)
		}

		// Make sure the profile resolves before making it active
		if _, err := config.LoadWithProfile(cfgFile, name); err != nil {
			return err
		}

		if err := config.UpdateActiveConfig(cfgFile, name); err != nil {
			return err
		}
		fmt.Printf("Active profile set to %s in %s\n", name, cfgFile)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configUseCmd)
}
