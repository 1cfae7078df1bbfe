package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/foxzi/hookcron/internal/app"
	"github.com/foxzi/hookcron/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long:  `Start the hookcron HTTP API, the optional built-in ticker and the metrics server.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	a, err := app.New(cfg)
	if err != nil {
		return err
	}

	return a.Run(context.Background())
}
