package main

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/go-tangra/go-tangra-assets/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	// Show where files actually go, not the empty default.
	if home, err := config.ResolveHome(cfg.Home); err == nil {
		cfg.Home = home
	}
	cfg.ClientSecret = redact(cfg.ClientSecret)
	cfg.ApiSecret = redact(cfg.ApiSecret)

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}
