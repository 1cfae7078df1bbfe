// Package runner performs sweeps: it picks the jobs due at a minute, delivers
// their webhooks and records the fires.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/foxzi/hookcron/internal/delivery"
	"github.com/foxzi/hookcron/internal/metrics"
	"github.com/foxzi/hookcron/internal/models"
	"github.com/foxzi/hookcron/internal/schedule"
	"github.com/foxzi/hookcron/internal/store"
	"golang.org/x/sync/errgroup"
)

// Store is the part of the job repository a sweep needs
type Store interface {
	ListCandidates(ctx context.Context, now time.Time) ([]models.Job, error)
	RecordFire(ctx context.Context, jobID string, firedAt time.Time, outcome store.FireOutcome, advance bool) error
}

// JobResult is the outcome of one fired job
type JobResult struct {
	JobID   string `json:"job_id"`
	Success bool   `json:"success"`
	Status  *int   `json:"status,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SweepResult summarizes a sweep
type SweepResult struct {
	Message        string      `json:"message"`
	TriggeredCount int         `json:"triggered_count"`
	TriggeredJobs  []JobResult `json:"triggered_jobs"`
}

// Config contains runner configuration
type Config struct {
	Concurrency int
	// AdvanceOnFailure moves last_triggered and the fire count even when the
	// delivery failed
	AdvanceOnFailure bool
	DeliveryTimeout  time.Duration
}

// Runner evaluates and fires jobs
type Runner struct {
	store     Store
	deliverer delivery.Deliverer
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time

	// sweeps are serialized so the ticker and the trigger endpoint never
	// overlap on the same minute
	sweepMu sync.Mutex

	// attempted holds the jobs fired during the current minute, including
	// failed deliveries that did not advance last_triggered
	attemptMu sync.Mutex
	attempted map[string]time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a runner
func New(s Store, d delivery.Deliverer, cfg Config, logger *slog.Logger) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		store:     s,
		deliverer: d,
		cfg:       cfg,
		logger:    logger.With("component", "runner"),
		now:       time.Now,
		stopCh:    make(chan struct{}),
		attempted: make(map[string]time.Time),
	}
}

// Tick runs one sweep for the minute containing now. Only a failure to list
// candidates is returned as an error; per-job problems end up in the result.
func (r *Runner) Tick(ctx context.Context, now time.Time) (*SweepResult, error) {
	r.sweepMu.Lock()
	defer r.sweepMu.Unlock()

	start := time.Now()
	now = now.UTC().Truncate(time.Minute)
	r.forgetAttemptsBefore(now)

	candidates, err := r.store.ListCandidates(ctx, now)
	if err != nil {
		metrics.ObserveSweep(time.Since(start).Seconds(), 0, err)
		r.logger.Error("failed to list candidate jobs", "error", err)
		return nil, fmt.Errorf("failed to list candidate jobs: %w", err)
	}

	results := make([]*JobResult, len(candidates))

	var g errgroup.Group
	g.SetLimit(r.cfg.Concurrency)
	for i := range candidates {
		i := i
		job := &candidates[i]
		g.Go(func() error {
			results[i] = r.process(ctx, job, now)
			return nil
		})
	}
	g.Wait()

	res := &SweepResult{
		Message:       "Job processing completed",
		TriggeredJobs: []JobResult{},
	}
	for _, jr := range results {
		if jr != nil {
			res.TriggeredJobs = append(res.TriggeredJobs, *jr)
		}
	}
	res.TriggeredCount = len(res.TriggeredJobs)

	metrics.ObserveSweep(time.Since(start).Seconds(), len(candidates), nil)
	r.logger.Info("sweep completed",
		"minute", now.Format(time.RFC3339),
		"candidates", len(candidates),
		"triggered", res.TriggeredCount,
		"duration", time.Since(start),
	)
	return res, nil
}

// process fires job if it is due. It returns nil when the job does not fire.
func (r *Runner) process(ctx context.Context, job *models.Job, now time.Time) *JobResult {
	logger := r.logger.With("job_id", job.ID)

	if job.Spec == nil {
		logger.Warn("skipping job with invalid definition")
		return nil
	}
	// Already fired at this minute by an earlier sweep
	if job.LastTriggered != nil && job.LastTriggered.Equal(now) {
		return nil
	}
	if !schedule.ShouldFire(job.Spec, job.State(), now) {
		return nil
	}
	if !r.claim(job.ID, now) {
		return nil
	}

	metrics.IncFires(job.Freq())

	sendCtx, cancel := context.WithTimeout(ctx, r.cfg.DeliveryTimeout)
	out := r.deliverer.Send(sendCtx, job.CallbackURL, delivery.Payload{
		JobID:       job.ID,
		TriggeredAt: now.Format(time.RFC3339),
		Metadata:    job.Metadata,
	})
	cancel()

	jr := &JobResult{JobID: job.ID, Success: out.Success, Error: out.Error}
	if out.StatusCode != 0 {
		status := out.StatusCode
		jr.Status = &status
	}

	if out.Success {
		logger.Info("webhook delivered", "status", out.StatusCode)
	} else {
		logger.Warn("webhook delivery failed", "status", out.StatusCode, "error", out.Error)
	}

	advance := out.Success || r.cfg.AdvanceOnFailure
	fo := store.FireOutcome{Success: out.Success, StatusCode: out.StatusCode, Error: out.Error}
	// The webhook went out, so the fire is recorded even during shutdown
	if err := r.store.RecordFire(context.WithoutCancel(ctx), job.ID, now, fo, advance); err != nil {
		logger.Error("failed to record fire", "error", err)
		jr.Success = false
		jr.Error = "failed to record fire: " + err.Error()
	}

	return jr
}

// claim marks job as fired at now. It returns false if an earlier sweep of
// the same minute already fired it.
func (r *Runner) claim(jobID string, now time.Time) bool {
	r.attemptMu.Lock()
	defer r.attemptMu.Unlock()
	if at, ok := r.attempted[jobID]; ok && at.Equal(now) {
		return false
	}
	r.attempted[jobID] = now
	return true
}

func (r *Runner) forgetAttemptsBefore(now time.Time) {
	r.attemptMu.Lock()
	defer r.attemptMu.Unlock()
	for id, at := range r.attempted {
		if at.Before(now) {
			delete(r.attempted, id)
		}
	}
}

// Start runs a sweep at the top of every minute until Stop or ctx is done
func (r *Runner) Start(ctx context.Context) {
	r.logger.Info("starting built-in ticker")

	r.wg.Add(1)
	go r.loop(ctx)
}

// Stop stops the ticker and waits for a running sweep to finish
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		r.logger.Info("stopping built-in ticker")
		close(r.stopCh)
	})
	r.wg.Wait()
}

func (r *Runner) loop(ctx context.Context) {
	defer r.wg.Done()

	for {
		now := r.now()
		next := now.Truncate(time.Minute).Add(time.Minute)
		timer := time.NewTimer(next.Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-r.stopCh:
			timer.Stop()
			return
		case <-timer.C:
			if _, err := r.Tick(ctx, next); err != nil {
				r.logger.Error("sweep failed", "error", err)
			}
		}
	}
}
