package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/hookcron/internal/app"
	"github.com/foxzi/hookcron/internal/config"
)

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Run one sweep now and print the result",
	Long: `Run one sweep against the configured store without going through the HTTP
API. Useful from cron on the host running the store.`,
	RunE: runTrigger,
}

var triggerAt string

func init() {
	triggerCmd.Flags().StringVar(&triggerAt, "at", "", "Evaluate as of this RFC 3339 time instead of now")
}

func runTrigger(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	now := time.Now()
	if triggerAt != "" {
		now, err = time.Parse(time.RFC3339, triggerAt)
		if err != nil {
			return fmt.Errorf("invalid --at value: %w", err)
		}
	}

	// Logs go to stderr so stdout stays valid JSON
	logger := app.NewLogger(cfg.Logging, os.Stderr)
	s, err := app.OpenStore(cfg.Database)
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := app.NewRunner(cfg, s, logger).Tick(context.Background(), now)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
