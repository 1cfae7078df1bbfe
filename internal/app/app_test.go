package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/foxzi/hookcron/internal/config"
	"github.com/foxzi/hookcron/internal/metrics"
	"github.com/foxzi/hookcron/internal/models"
	"github.com/foxzi/hookcron/internal/schedule"
)

func TestOpenStore(t *testing.T) {
	for _, driver := range []string{"sqlite", "bolt"} {
		t.Run(driver, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "hookcron.db")
			s, err := OpenStore(config.DatabaseConfig{Driver: driver, Path: path})
			if err != nil {
				t.Fatalf("OpenStore() error = %v", err)
			}

			ctx := context.Background()
			job := &models.Job{
				UserID: "alice",
				Spec: schedule.Daily{
					Window:  schedule.Window{Start: schedule.Date{Year: 2024, Month: 1, Day: 1}},
					Timings: []schedule.TimeOfDay{{Hour: 9}},
				},
				CallbackURL: "https://example.com/hook",
			}
			if err := s.Create(ctx, job); err != nil {
				t.Fatalf("Create() error = %v", err)
			}
			if err := s.Close(); err != nil {
				t.Fatalf("Close() error = %v", err)
			}

			// Reopening keeps the data
			s, err = OpenStore(config.DatabaseConfig{Driver: driver, Path: path})
			if err != nil {
				t.Fatalf("OpenStore() reopen error = %v", err)
			}
			defer s.Close()

			got, err := s.GetByID(ctx, job.ID)
			if err != nil {
				t.Fatalf("GetByID() error = %v", err)
			}
			if got.CallbackURL != job.CallbackURL {
				t.Errorf("CallbackURL = %v, want %v", got.CallbackURL, job.CallbackURL)
			}
		})
	}
}

func TestOpenStoreUnknownDriver(t *testing.T) {
	if _, err := OpenStore(config.DatabaseConfig{Driver: "postgres", Path: "x"}); err == nil {
		t.Error("OpenStore() with unknown driver should fail")
	}
}

func TestNewAppWithMetrics(t *testing.T) {
	cfg := &config.Config{
		Database: config.DatabaseConfig{Driver: "bolt", Path: filepath.Join(t.TempDir(), "jobs.db")},
		Auth:     config.AuthConfig{TriggerToken: "t"},
		Metrics:  config.MetricsConfig{Enabled: true, ListenAddr: "127.0.0.1:0", Path: "/metrics", FlushInterval: time.Minute},
		Logging:  config.LoggingConfig{Level: "error", Format: "text"},
	}

	a, err := New(cfg)
	defer metrics.SetGlobal(nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if a.metricsServer == nil || a.collector == nil {
		t.Error("metrics components not created")
	}
	if a.rateLimiter != nil {
		t.Error("rate limiter created while disabled")
	}
	if err := a.store.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
