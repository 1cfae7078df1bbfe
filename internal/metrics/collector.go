package metrics

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"
)

// JobStatsProvider reports the number of stored jobs per status
type JobStatsProvider interface {
	CountByStatus(ctx context.Context) (map[string]int, error)
}

// Collector periodically refreshes system and job gauges
type Collector struct {
	metrics     *Metrics
	jobStats    JobStatsProvider
	storagePath string
	interval    time.Duration
	startTime   time.Time
	logger      *slog.Logger

	mu       sync.Mutex
	statuses map[string]bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewCollector creates a new metrics collector
func NewCollector(m *Metrics, jobStats JobStatsProvider, storagePath string, interval time.Duration, logger *slog.Logger) *Collector {
	if interval == 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		metrics:     m,
		jobStats:    jobStats,
		storagePath: storagePath,
		interval:    interval,
		startTime:   time.Now(),
		logger:      logger.With("component", "metrics_collector"),
		statuses:    make(map[string]bool),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the collector background loop
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.loop(ctx)
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Collector) loop(ctx context.Context) {
	defer c.wg.Done()

	c.collect(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.collect(ctx)
		}
	}
}

// collect refreshes all gauges once
func (c *Collector) collect(ctx context.Context) {
	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	if c.storagePath != "" {
		if info, err := os.Stat(c.storagePath); err == nil {
			c.metrics.StorageUsedBytes.Set(float64(info.Size()))
		}
	}

	if c.jobStats == nil {
		return
	}
	counts, err := c.jobStats.CountByStatus(ctx)
	if err != nil {
		c.logger.Warn("failed to collect job stats", "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Statuses that disappeared since the last pass drop to zero.
	for status := range c.statuses {
		if _, ok := counts[status]; !ok {
			c.metrics.Jobs.WithLabelValues(status).Set(0)
		}
	}
	for status, n := range counts {
		c.statuses[status] = true
		c.metrics.Jobs.WithLabelValues(status).Set(float64(n))
	}
}
