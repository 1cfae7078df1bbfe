package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/foxzi/hookcron/internal/app"
	"github.com/foxzi/hookcron/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the job store",
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	// Opening the store migrates SQLite and creates the bolt buckets
	s, err := app.OpenStore(cfg.Database)
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Printf("Migrations completed successfully (%s: %s)\n", cfg.Database.Driver, cfg.Database.Path)
	return nil
}
