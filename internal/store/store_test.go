package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/foxzi/hookcron/internal/db"
	"github.com/foxzi/hookcron/internal/models"
	"github.com/foxzi/hookcron/internal/schedule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB creates an in-memory SQLite database with all migrations applied
func setupTestDB(t *testing.T) *db.DB {
	t.Helper()

	conn, err := db.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, conn.Migrate())

	t.Cleanup(func() { conn.Close() })
	return conn
}

func newSQLiteStore(t *testing.T) Store {
	return NewJobRepository(setupTestDB(t).DB)
}

func newBoltStore(t *testing.T) Store {
	s, err := NewBoltStore(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var backends = map[string]func(t *testing.T) Store{
	"sqlite": newSQLiteStore,
	"bolt":   newBoltStore,
}

func date(y int, m time.Month, d int) schedule.Date {
	return schedule.Date{Year: y, Month: m, Day: d}
}

func newDailyJob(user string, start schedule.Date, end *schedule.Date) *models.Job {
	return &models.Job{
		UserID: user,
		Spec: schedule.Daily{
			Window:  schedule.Window{Start: start, End: end},
			Timings: []schedule.TimeOfDay{{Hour: 9, Minute: 0}},
		},
		CallbackURL: "https://example.com/hook",
		Metadata:    map[string]any{"team": "ops"},
		Status:      schedule.StatusActive,
	}
}

func TestStoreCreateAndGet(t *testing.T) {
	for name, newStore := range backends {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()

			end := date(2024, 12, 31)
			job := &models.Job{
				UserID: "alice",
				Spec: schedule.Custom{
					Window:    schedule.Window{Start: date(2024, 1, 1), End: &end},
					Timings:   []schedule.TimeOfDay{{Hour: 9, Minute: 30}},
					Rule:      schedule.Weekly{Days: []time.Weekday{time.Monday, time.Friday}},
					Overrides: []schedule.Date{date(2024, 7, 4)},
				},
				CallbackURL: "https://example.com/hook",
				Metadata:    map[string]any{"team": "ops"},
			}
			require.NoError(t, s.Create(ctx, job))
			require.NotEmpty(t, job.ID)
			assert.Equal(t, schedule.StatusActive, job.Status)

			got, err := s.GetByID(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, job.Spec, got.Spec)
			assert.Equal(t, "alice", got.UserID)
			assert.Equal(t, "https://example.com/hook", got.CallbackURL)
			assert.Equal(t, map[string]any{"team": "ops"}, got.Metadata)
			assert.Nil(t, got.LastTriggered)
			assert.Zero(t, got.FireCount)
			assert.WithinDuration(t, job.CreatedAt, got.CreatedAt, time.Second)

			_, err = s.GetByID(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreListCandidates(t *testing.T) {
	for name, newStore := range backends {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()

			feb10 := date(2024, 2, 10)
			inWindow := newDailyJob("alice", date(2024, 2, 1), &feb10)
			openEnded := newDailyJob("alice", date(2024, 1, 1), nil)
			notStarted := newDailyJob("alice", date(2024, 3, 1), nil)
			ended := newDailyJob("alice", date(2023, 1, 1), &schedule.Date{Year: 2024, Month: 2, Day: 4})
			paused := newDailyJob("bob", date(2024, 1, 1), nil)
			paused.Status = schedule.StatusPaused
			inactive := newDailyJob("bob", date(2024, 1, 1), nil)
			inactive.Status = schedule.StatusInactive

			for _, j := range []*models.Job{inWindow, openEnded, notStarted, ended, paused, inactive} {
				require.NoError(t, s.Create(ctx, j))
			}

			now := time.Date(2024, 2, 10, 9, 0, 0, 0, time.UTC)
			jobs, err := s.ListCandidates(ctx, now)
			require.NoError(t, err)

			ids := make([]string, len(jobs))
			for i, j := range jobs {
				ids[i] = j.ID
			}
			assert.ElementsMatch(t, []string{inWindow.ID, openEnded.ID}, ids)
		})
	}
}

func TestStoreRecordFire(t *testing.T) {
	for name, newStore := range backends {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()

			job := newDailyJob("alice", date(2024, 1, 1), nil)
			require.NoError(t, s.Create(ctx, job))

			first := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
			second := first.Add(24 * time.Hour)
			third := second.Add(24 * time.Hour)

			require.NoError(t, s.RecordFire(ctx, job.ID, first, FireOutcome{Success: true, StatusCode: 200}, true))
			require.NoError(t, s.RecordFire(ctx, job.ID, second, FireOutcome{Success: false, StatusCode: 500}, true))
			require.NoError(t, s.RecordFire(ctx, job.ID, third, FireOutcome{Success: false, Error: "connection refused"}, false))

			got, err := s.GetByID(ctx, job.ID)
			require.NoError(t, err)
			assert.EqualValues(t, 2, got.FireCount)
			require.NotNil(t, got.LastTriggered)
			assert.True(t, got.LastTriggered.Equal(second), "last_triggered = %v", got.LastTriggered)

			fires, err := s.ListFires(ctx, job.ID, 10)
			require.NoError(t, err)
			require.Len(t, fires, 3)
			assert.True(t, fires[0].FiredAt.Equal(third))
			assert.False(t, fires[0].Advanced)
			assert.Equal(t, "connection refused", fires[0].Error)
			assert.Equal(t, 500, fires[1].StatusCode)
			assert.True(t, fires[2].Success)

			limited, err := s.ListFires(ctx, job.ID, 1)
			require.NoError(t, err)
			assert.Len(t, limited, 1)

			err = s.RecordFire(ctx, "missing", first, FireOutcome{Success: true}, true)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStorePruneFires(t *testing.T) {
	for name, newStore := range backends {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()

			a := newDailyJob("alice", date(2024, 1, 1), nil)
			b := newDailyJob("bob", date(2024, 1, 1), nil)
			require.NoError(t, s.Create(ctx, a))
			require.NoError(t, s.Create(ctx, b))

			start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
			for i := 0; i < 5; i++ {
				at := start.Add(time.Duration(i) * 24 * time.Hour)
				require.NoError(t, s.RecordFire(ctx, a.ID, at, FireOutcome{Success: true, StatusCode: 200}, true))
				require.NoError(t, s.RecordFire(ctx, b.ID, at, FireOutcome{Success: true, StatusCode: 200}, true))
			}

			cutoff := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
			n, err := s.PruneFires(ctx, cutoff)
			require.NoError(t, err)
			assert.Equal(t, 4, n)

			fires, err := s.ListFires(ctx, a.ID, 10)
			require.NoError(t, err)
			require.Len(t, fires, 3)
			for _, f := range fires {
				assert.False(t, f.FiredAt.Before(cutoff), "fire at %v survived pruning", f.FiredAt)
			}

			// Bookkeeping survives pruning
			got, err := s.GetByID(ctx, a.ID)
			require.NoError(t, err)
			assert.EqualValues(t, 5, got.FireCount)

			n, err = s.PruneFires(ctx, cutoff)
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestStoreUpdate(t *testing.T) {
	for name, newStore := range backends {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()

			job := newDailyJob("alice", date(2024, 1, 1), nil)
			require.NoError(t, s.Create(ctx, job))
			require.NoError(t, s.RecordFire(ctx, job.ID, time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC), FireOutcome{Success: true}, true))

			job.Spec = schedule.Recurring{Window: schedule.Window{Start: date(2024, 2, 1)}, Unit: schedule.UnitHours, Every: 6}
			job.CallbackURL = "https://example.com/other"
			job.Metadata = nil
			job.Status = schedule.StatusInactive
			require.NoError(t, s.Update(ctx, job))

			got, err := s.GetByID(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, job.Spec, got.Spec)
			assert.Equal(t, "https://example.com/other", got.CallbackURL)
			assert.Nil(t, got.Metadata)
			assert.Equal(t, schedule.StatusInactive, got.Status)
			assert.EqualValues(t, 1, got.FireCount, "bookkeeping must survive an update")
			assert.NotNil(t, got.LastTriggered)

			require.NoError(t, s.UpdateStatus(ctx, job.ID, string(schedule.StatusPaused)))
			got, err = s.GetByID(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, schedule.StatusPaused, got.Status)

			missing := newDailyJob("alice", date(2024, 1, 1), nil)
			missing.ID = "missing"
			assert.ErrorIs(t, s.Update(ctx, missing), ErrNotFound)
			assert.ErrorIs(t, s.UpdateStatus(ctx, "missing", "active"), ErrNotFound)
		})
	}
}

func TestStoreListAndDelete(t *testing.T) {
	for name, newStore := range backends {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()

			var aliceIDs []string
			for i := 0; i < 3; i++ {
				j := newDailyJob("alice", date(2024, 1, 1), nil)
				require.NoError(t, s.Create(ctx, j))
				aliceIDs = append(aliceIDs, j.ID)
				time.Sleep(2 * time.Millisecond)
			}
			bob := newDailyJob("bob", date(2024, 1, 1), nil)
			bob.Status = schedule.StatusPaused
			require.NoError(t, s.Create(ctx, bob))

			jobs, total, err := s.List(ctx, models.JobListFilter{UserID: "alice"})
			require.NoError(t, err)
			assert.Equal(t, 3, total)
			require.Len(t, jobs, 3)
			assert.Equal(t, aliceIDs[2], jobs[0].ID, "newest first")

			page, total, err := s.List(ctx, models.JobListFilter{UserID: "alice", Limit: 2, Offset: 2})
			require.NoError(t, err)
			assert.Equal(t, 3, total)
			require.Len(t, page, 1)
			assert.Equal(t, aliceIDs[0], page[0].ID)

			paused, _, err := s.List(ctx, models.JobListFilter{Status: "paused"})
			require.NoError(t, err)
			require.Len(t, paused, 1)
			assert.Equal(t, bob.ID, paused[0].ID)

			counts, err := s.CountByStatus(ctx)
			require.NoError(t, err)
			assert.Equal(t, map[string]int{"active": 3, "paused": 1}, counts)

			require.NoError(t, s.RecordFire(ctx, bob.ID, time.Now(), FireOutcome{Success: true}, true))
			require.NoError(t, s.Delete(ctx, bob.ID))
			assert.ErrorIs(t, s.Delete(ctx, bob.ID), ErrNotFound)

			_, err = s.GetByID(ctx, bob.ID)
			assert.ErrorIs(t, err, ErrNotFound)
			fires, err := s.ListFires(ctx, bob.ID, 10)
			require.NoError(t, err)
			assert.Empty(t, fires)
		})
	}
}

func TestSQLiteCorruptSpecIsLoadedWithoutSpec(t *testing.T) {
	conn := setupTestDB(t)
	s := NewJobRepository(conn.DB)
	ctx := context.Background()

	_, err := conn.Exec(`
		INSERT INTO jobs (id, user_id, freq, start_date, trigger_timings, callback_url, status, created_at, updated_at)
		VALUES ('broken', 'alice', 'daily', '2024-01-01', '["25:99"]', 'https://example.com', 'active', ?, ?)`,
		time.Now().UTC(), time.Now().UTC())
	require.NoError(t, err)

	jobs, err := s.ListCandidates(ctx, time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Nil(t, jobs[0].Spec)
	assert.Equal(t, "", jobs[0].Freq())
}

func TestWrapErr(t *testing.T) {
	cause := errors.New("disk I/O error")
	err := wrapErr("list", cause)

	assert.ErrorIs(t, err, ErrRepository)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "list")
}
