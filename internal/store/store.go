// Package store persists jobs and their fire history.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/foxzi/hookcron/internal/metrics"
	"github.com/foxzi/hookcron/internal/models"
)

var (
	// ErrNotFound is returned when a job does not exist
	ErrNotFound = errors.New("job not found")
	// ErrRepository wraps every storage backend failure
	ErrRepository = errors.New("repository error")
)

// FireOutcome is the delivery result recorded with a fire
type FireOutcome struct {
	Success    bool
	StatusCode int
	Error      string
}

// Store is the job repository used by the runner and the API
type Store interface {
	// ListCandidates returns active jobs whose date window contains the UTC
	// date of now. Candidates still go through the evaluator.
	ListCandidates(ctx context.Context, now time.Time) ([]models.Job, error)
	// RecordFire appends to the fire log. With advance set it also moves
	// last_triggered to firedAt and increments the fire count.
	RecordFire(ctx context.Context, jobID string, firedAt time.Time, outcome FireOutcome, advance bool) error

	Create(ctx context.Context, job *models.Job) error
	GetByID(ctx context.Context, id string) (*models.Job, error)
	List(ctx context.Context, filter models.JobListFilter) ([]models.Job, int, error)
	// Update replaces the definition of a job: spec, callback, metadata and
	// status. Bookkeeping fields are left untouched.
	Update(ctx context.Context, job *models.Job) error
	UpdateStatus(ctx context.Context, id, status string) error
	Delete(ctx context.Context, id string) error
	ListFires(ctx context.Context, jobID string, limit int) ([]models.JobFire, error)
	// PruneFires deletes fire log entries older than before and returns how
	// many were removed. Job state is not affected.
	PruneFires(ctx context.Context, before time.Time) (int, error)
	CountByStatus(ctx context.Context) (map[string]int, error)

	Close() error
}

// wrapErr tags a backend error with ErrRepository and counts it
func wrapErr(op string, err error) error {
	metrics.IncStoreErrors(op)
	return fmt.Errorf("%w: %s: %w", ErrRepository, op, err)
}

func dateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
