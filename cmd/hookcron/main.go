package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/foxzi/hookcron/internal/api"
)

var (
	configFile string
	version    = "dev"
	commit     = "unknown"
	buildTime  = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "hookcron",
	Short: "hookcron - webhook job scheduler",
	Long: `hookcron stores recurring webhook jobs and fires their callbacks when the
trigger endpoint is called, usually once a minute by an external timer.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("hookcron version %s\n", version)
		if commit != "unknown" {
			fmt.Printf("  commit: %s\n", commit)
		}
		if buildTime != "unknown" {
			fmt.Printf("  built:  %s\n", buildTime)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/hookcron/config.yaml", "Path to configuration file")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(triggerCmd)
	rootCmd.AddCommand(jobCmd)
}

func main() {
	api.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
