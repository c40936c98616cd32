package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/ocrfuse/internal/config"
	"github.com/jackzampolin/ocrfuse/internal/home"
	"github.com/jackzampolin/ocrfuse/internal/output"
)

var configInitForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage ocrfuse configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	Long: `Write a default config file to --config, or to ~/.ocrfuse/config.yaml
(or <home>/config.yaml with --home).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			h, err := home.New(homeDir)
			if err != nil {
				return err
			}
			path = h.ConfigPath()
		}
		if _, err := os.Stat(path); err == nil && !configInitForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after applying defaults, the config file, and
OCRFUSE_* environment overrides.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := loadServices(cmd)
		if err != nil {
			return err
		}
		cfg := svc.Config.Get()
		format, err := resolveFormat(cfg)
		if err != nil {
			return err
		}
		return output.To(cmd.OutOrStdout(), format, cfg)
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys [key]",
	Short: "List configuration keys with their defaults",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format := output.FormatYAML
		if outputFormat != "" {
			f, err := output.ParseFormat(outputFormat)
			if err != nil {
				return err
			}
			format = f
		}
		if len(args) == 1 {
			entry, err := config.GetDefault(args[0])
			if err != nil {
				return err
			}
			return output.To(cmd.OutOrStdout(), format, entry)
		}
		return output.To(cmd.OutOrStdout(), format, config.DefaultEntries())
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing config file")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configKeysCmd)
	rootCmd.AddCommand(configCmd)
}
