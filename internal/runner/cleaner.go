package runner

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// FirePruner deletes fire log entries older than a cutoff
type FirePruner interface {
	PruneFires(ctx context.Context, before time.Time) (int, error)
}

// CleanerConfig contains fire history retention settings
type CleanerConfig struct {
	MaxAge   time.Duration
	Interval time.Duration
}

// Cleaner periodically prunes old fire history
type Cleaner struct {
	store    FirePruner
	cfg      CleanerConfig
	logger   *slog.Logger
	now      func() time.Time
	wg       sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once
}

// NewCleaner creates a new cleaner
func NewCleaner(s FirePruner, cfg CleanerConfig, logger *slog.Logger) *Cleaner {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	return &Cleaner{
		store:  s,
		cfg:    cfg,
		logger: logger.With("component", "cleaner"),
		now:    time.Now,
		done:   make(chan struct{}),
	}
}

// Start runs a cleanup immediately and then every interval. A zero max age
// disables the cleaner.
func (c *Cleaner) Start(ctx context.Context) {
	if c.cfg.MaxAge <= 0 {
		return
	}
	c.wg.Add(1)
	go c.loop(ctx)

	c.logger.Info("cleaner started", "max_age", c.cfg.MaxAge, "interval", c.cfg.Interval)
}

// Stop stops the cleaner and waits for the loop to finish
func (c *Cleaner) Stop() {
	c.stopOnce.Do(func() { close(c.done) })
	c.wg.Wait()
}

func (c *Cleaner) loop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	c.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce prunes fires older than the configured max age
func (c *Cleaner) RunOnce(ctx context.Context) int {
	cutoff := c.now().UTC().Add(-c.cfg.MaxAge)
	deleted, err := c.store.PruneFires(ctx, cutoff)
	if err != nil {
		c.logger.Error("failed to prune fire history", "error", err)
		return 0
	}
	if deleted > 0 {
		c.logger.Info("pruned fire history", "deleted", deleted, "before", cutoff.Format(time.RFC3339))
	}
	return deleted
}
