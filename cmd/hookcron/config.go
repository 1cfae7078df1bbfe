package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/foxzi/hookcron/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file and print the effective settings",
	RunE:  runConfigValidate,
}

func init() {
	configCmd.AddCommand(configValidateCmd)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	fmt.Println("Configuration is valid")
	fmt.Printf("  Listen address: %s\n", cfg.Server.ListenAddr)
	fmt.Printf("  Database: %s (%s)\n", cfg.Database.Path, cfg.Database.Driver)
	fmt.Printf("  API keys: %d\n", len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		fmt.Printf("    - %s\n", k.Name)
	}
	fmt.Printf("  Built-in ticker: %v\n", cfg.Runner.BuiltinTicker)
	fmt.Printf("  Signed deliveries: %v\n", cfg.Delivery.SigningSecret != "")
	if cfg.Runner.FireRetention > 0 {
		fmt.Printf("  Fire retention: %s (every %s)\n", cfg.Runner.FireRetention, cfg.Runner.CleanupInterval)
	}
	if len(cfg.Auth.TriggerAllowedIPs) > 0 {
		fmt.Printf("  Trigger allowed IPs: %v\n", cfg.Auth.TriggerAllowedIPs)
	}
	fmt.Println()

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(cfg.Redacted())
}
