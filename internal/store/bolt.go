package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/foxzi/hookcron/internal/models"
	"github.com/foxzi/hookcron/internal/schedule"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketJobs  = []byte("jobs")
	bucketFires = []byte("fires")
)

// BoltStore stores jobs in a BoltDB file. Fires live in one nested bucket
// per job, keyed by a sequence number.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates the BoltDB file at path
func NewBoltStore(path string) (*BoltStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketJobs, bucketFires} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func getRecord(b *bolt.Bucket, id string) (*record, error) {
	data := b.Get([]byte(id))
	if data == nil {
		return nil, nil
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", id, err)
	}
	return &rec, nil
}

func putRecord(b *bolt.Bucket, rec *record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	return b.Put([]byte(rec.ID), data)
}

// forEach decodes every stored job, skipping entries that are not valid JSON
func (s *BoltStore) forEach(fn func(rec *record)) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobs).ForEach(func(k, v []byte) error {
			var rec record
			if err := json.Unmarshal(v, &rec); err != nil {
				return nil
			}
			fn(&rec)
			return nil
		})
	})
}

// ListCandidates returns active jobs whose window contains today (UTC)
func (s *BoltStore) ListCandidates(ctx context.Context, now time.Time) ([]models.Job, error) {
	today := dateKey(now)
	jobs := []models.Job{}
	err := s.forEach(func(rec *record) {
		if rec.Status == string(schedule.StatusActive) && rec.inWindow(today) {
			jobs = append(jobs, rec.toJob())
		}
	})
	if err != nil {
		return nil, wrapErr("list_candidates", err)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	return jobs, nil
}

// RecordFire logs a fire and, when advance is set, moves the job's state
func (s *BoltStore) RecordFire(ctx context.Context, jobID string, firedAt time.Time, outcome FireOutcome, advance bool) error {
	firedAt = firedAt.UTC()
	var notFound bool

	err := s.db.Update(func(tx *bolt.Tx) error {
		jobs := tx.Bucket(bucketJobs)
		rec, err := getRecord(jobs, jobID)
		if err != nil {
			return err
		}
		if rec == nil {
			notFound = true
			return nil
		}

		if advance {
			rec.LastTriggered = &firedAt
			rec.CallCount++
		}
		rec.UpdatedAt = time.Now().UTC()
		if err := putRecord(jobs, rec); err != nil {
			return err
		}

		fb, err := tx.Bucket(bucketFires).CreateBucketIfNotExists([]byte(jobID))
		if err != nil {
			return err
		}
		seq, err := fb.NextSequence()
		if err != nil {
			return err
		}
		fire := models.JobFire{
			ID:         int64(seq),
			JobID:      jobID,
			FiredAt:    firedAt,
			Success:    outcome.Success,
			StatusCode: outcome.StatusCode,
			Error:      outcome.Error,
			Advanced:   advance,
		}
		data, err := json.Marshal(fire)
		if err != nil {
			return err
		}
		return fb.Put(seqKey(seq), data)
	})
	if err != nil {
		return wrapErr("record_fire", err)
	}
	if notFound {
		return ErrNotFound
	}
	return nil
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

// Create inserts a new job, assigning its ID and timestamps
func (s *BoltStore) Create(ctx context.Context, job *models.Job) error {
	job.ID = uuid.New().String()
	job.CreatedAt = time.Now().UTC()
	job.UpdatedAt = job.CreatedAt
	if job.Status == "" {
		job.Status = schedule.StatusActive
	}

	rec, err := toRecord(job)
	if err != nil {
		return wrapErr("create", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return putRecord(tx.Bucket(bucketJobs), rec)
	})
	if err != nil {
		return wrapErr("create", err)
	}
	return nil
}

// GetByID returns a job by ID
func (s *BoltStore) GetByID(ctx context.Context, id string) (*models.Job, error) {
	var rec *record
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		rec, err = getRecord(tx.Bucket(bucketJobs), id)
		return err
	})
	if err != nil {
		return nil, wrapErr("get", err)
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	job := rec.toJob()
	return &job, nil
}

// List returns jobs with optional filtering, newest first
func (s *BoltStore) List(ctx context.Context, filter models.JobListFilter) ([]models.Job, int, error) {
	jobs := []models.Job{}
	err := s.forEach(func(rec *record) {
		if filter.UserID != "" && rec.UserID != filter.UserID {
			return
		}
		if filter.Status != "" && rec.Status != filter.Status {
			return
		}
		if filter.Freq != "" && rec.Freq != filter.Freq {
			return
		}
		jobs = append(jobs, rec.toJob())
	})
	if err != nil {
		return nil, 0, wrapErr("list", err)
	}

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	total := len(jobs)

	if filter.Limit > 0 {
		start := min(filter.Offset, total)
		end := min(start+filter.Limit, total)
		jobs = jobs[start:end]
	}
	return jobs, total, nil
}

// update loads a job, applies fn and writes it back
func (s *BoltStore) update(op, id string, fn func(rec *record) error) error {
	var notFound bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		rec, err := getRecord(b, id)
		if err != nil {
			return err
		}
		if rec == nil {
			notFound = true
			return nil
		}
		if err := fn(rec); err != nil {
			return err
		}
		rec.UpdatedAt = time.Now().UTC()
		return putRecord(b, rec)
	})
	if err != nil {
		return wrapErr(op, err)
	}
	if notFound {
		return ErrNotFound
	}
	return nil
}

// Update replaces a job's definition
func (s *BoltStore) Update(ctx context.Context, job *models.Job) error {
	next, err := toRecord(job)
	if err != nil {
		return wrapErr("update", err)
	}
	err = s.update("update", job.ID, func(rec *record) error {
		rec.Fields = next.Fields
		rec.CallbackURL = next.CallbackURL
		rec.Metadata = next.Metadata
		rec.Status = next.Status
		return nil
	})
	if err == nil {
		job.UpdatedAt = time.Now().UTC()
	}
	return err
}

// UpdateStatus updates job status
func (s *BoltStore) UpdateStatus(ctx context.Context, id, status string) error {
	return s.update("update_status", id, func(rec *record) error {
		rec.Status = status
		return nil
	})
}

// Delete deletes a job and its fire history
func (s *BoltStore) Delete(ctx context.Context, id string) error {
	var notFound bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		jobs := tx.Bucket(bucketJobs)
		if jobs.Get([]byte(id)) == nil {
			notFound = true
			return nil
		}
		if err := jobs.Delete([]byte(id)); err != nil {
			return err
		}
		fires := tx.Bucket(bucketFires)
		if fires.Bucket([]byte(id)) != nil {
			return fires.DeleteBucket([]byte(id))
		}
		return nil
	})
	if err != nil {
		return wrapErr("delete", err)
	}
	if notFound {
		return ErrNotFound
	}
	return nil
}

// ListFires returns the most recent fires of a job, newest first
func (s *BoltStore) ListFires(ctx context.Context, jobID string, limit int) ([]models.JobFire, error) {
	if limit <= 0 {
		limit = 50
	}
	fires := []models.JobFire{}
	err := s.db.View(func(tx *bolt.Tx) error {
		fb := tx.Bucket(bucketFires).Bucket([]byte(jobID))
		if fb == nil {
			return nil
		}
		c := fb.Cursor()
		for k, v := c.Last(); k != nil && len(fires) < limit; k, v = c.Prev() {
			var f models.JobFire
			if err := json.Unmarshal(v, &f); err != nil {
				continue
			}
			fires = append(fires, f)
		}
		return nil
	})
	if err != nil {
		return nil, wrapErr("list_fires", err)
	}
	return fires, nil
}

// PruneFires walks every fire bucket and deletes entries older than before.
// Sequence keys follow insertion order, so each walk stops at the first
// entry that is recent enough.
func (s *BoltStore) PruneFires(ctx context.Context, before time.Time) (int, error) {
	before = before.UTC()
	deleted := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		fires := tx.Bucket(bucketFires)
		var ids [][]byte
		if err := fires.ForEachBucket(func(k []byte) error {
			ids = append(ids, append([]byte(nil), k...))
			return nil
		}); err != nil {
			return err
		}

		for _, id := range ids {
			fb := fires.Bucket(id)
			var stale [][]byte
			c := fb.Cursor()
			for k, v := c.First(); k != nil; k, v = c.Next() {
				var f models.JobFire
				if err := json.Unmarshal(v, &f); err == nil && !f.FiredAt.Before(before) {
					break
				}
				stale = append(stale, append([]byte(nil), k...))
			}
			for _, k := range stale {
				if err := fb.Delete(k); err != nil {
					return err
				}
			}
			deleted += len(stale)
		}
		return nil
	})
	if err != nil {
		return 0, wrapErr("prune_fires", err)
	}
	return deleted, nil
}

// CountByStatus returns the number of jobs per status
func (s *BoltStore) CountByStatus(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	err := s.forEach(func(rec *record) {
		counts[rec.Status]++
	})
	if err != nil {
		return nil, wrapErr("count", err)
	}
	return counts, nil
}

// Path returns the database file path
func (s *BoltStore) Path() string {
	return s.db.Path()
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}
