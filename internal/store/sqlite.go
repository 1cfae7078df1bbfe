package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/foxzi/hookcron/internal/models"
	"github.com/foxzi/hookcron/internal/schedule"
	"github.com/google/uuid"
)

const jobColumns = `id, user_id, freq, start_date, end_date, trigger_timings, rule_type, rule_value,
	override_dates, callback_url, metadata, status, last_triggered, call_count, created_at, updated_at`

// JobRepository stores jobs in SQLite
type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (models.Job, error) {
	var rec record
	var startDate string
	var endDate, timings, ruleType, ruleValue, overrides, metadata sql.NullString
	var lastTriggered sql.NullTime

	err := row.Scan(&rec.ID, &rec.UserID, &rec.Freq, &startDate, &endDate, &timings, &ruleType, &ruleValue,
		&overrides, &rec.CallbackURL, &metadata, &rec.Status, &lastTriggered, &rec.CallCount,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return models.Job{}, err
	}

	rec.StartDate = &startDate
	if endDate.Valid {
		rec.EndDate = &endDate.String
	}
	if ruleType.Valid {
		rec.RuleType = &ruleType.String
	}
	if timings.Valid {
		rec.TriggerTimings = json.RawMessage(timings.String)
	}
	if ruleValue.Valid {
		rec.RuleValue = json.RawMessage(ruleValue.String)
	}
	if overrides.Valid {
		rec.OverrideDates = json.RawMessage(overrides.String)
	}
	if metadata.Valid {
		rec.Metadata = json.RawMessage(metadata.String)
	}
	if lastTriggered.Valid {
		t := lastTriggered.Time.UTC()
		rec.LastTriggered = &t
	}

	return rec.toJob(), nil
}

func (r *JobRepository) queryJobs(ctx context.Context, query string, args ...any) ([]models.Job, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := []models.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ListCandidates returns active jobs whose window contains today (UTC)
func (r *JobRepository) ListCandidates(ctx context.Context, now time.Time) ([]models.Job, error) {
	today := dateKey(now)
	jobs, err := r.queryJobs(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE status = ? AND start_date <= ? AND (end_date IS NULL OR end_date >= ?)
		ORDER BY created_at`,
		string(schedule.StatusActive), today, today,
	)
	if err != nil {
		return nil, wrapErr("list_candidates", err)
	}
	return jobs, nil
}

// RecordFire logs a fire and, when advance is set, moves the job's state
func (r *JobRepository) RecordFire(ctx context.Context, jobID string, firedAt time.Time, outcome FireOutcome, advance bool) error {
	firedAt = firedAt.UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("record_fire", err)
	}
	defer tx.Rollback()

	var res sql.Result
	if advance {
		res, err = tx.ExecContext(ctx, `
			UPDATE jobs SET last_triggered = ?, call_count = call_count + 1, updated_at = ?
			WHERE id = ?`,
			firedAt, time.Now().UTC(), jobID,
		)
	} else {
		res, err = tx.ExecContext(ctx, "UPDATE jobs SET updated_at = ? WHERE id = ?", time.Now().UTC(), jobID)
	}
	if err != nil {
		return wrapErr("record_fire", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return wrapErr("record_fire", err)
	} else if n == 0 {
		return ErrNotFound
	}

	var statusCode any
	if outcome.StatusCode != 0 {
		statusCode = outcome.StatusCode
	}
	var errMsg any
	if outcome.Error != "" {
		errMsg = outcome.Error
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO job_fires (job_id, fired_at, success, status_code, error, advanced)
		VALUES (?, ?, ?, ?, ?, ?)`,
		jobID, firedAt, outcome.Success, statusCode, errMsg, advance,
	)
	if err != nil {
		return wrapErr("record_fire", err)
	}

	if err := tx.Commit(); err != nil {
		return wrapErr("record_fire", err)
	}
	return nil
}

// Create inserts a new job, assigning its ID and timestamps
func (r *JobRepository) Create(ctx context.Context, job *models.Job) error {
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

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.Freq, nullableString(rec.StartDate), nullableString(rec.EndDate),
		nullableJSON(rec.TriggerTimings), nullableString(rec.RuleType), nullableJSON(rec.RuleValue),
		nullableJSON(rec.OverrideDates), rec.CallbackURL, nullableJSON(rec.Metadata), rec.Status,
		rec.LastTriggered, rec.CallCount, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return wrapErr("create", err)
	}
	return nil
}

// GetByID returns a job by ID
func (r *JobRepository) GetByID(ctx context.Context, id string) (*models.Job, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("get", err)
	}
	return &job, nil
}

// List returns jobs with optional filtering, newest first
func (r *JobRepository) List(ctx context.Context, filter models.JobListFilter) ([]models.Job, int, error) {
	where := " WHERE 1=1"
	args := []any{}
	if filter.UserID != "" {
		where += " AND user_id = ?"
		args = append(args, filter.UserID)
	}
	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.Freq != "" {
		where += " AND freq = ?"
		args = append(args, filter.Freq)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs"+where, args...).Scan(&total); err != nil {
		return nil, 0, wrapErr("list", err)
	}

	query := "SELECT " + jobColumns + " FROM jobs" + where + " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	jobs, err := r.queryJobs(ctx, query, args...)
	if err != nil {
		return nil, 0, wrapErr("list", err)
	}
	return jobs, total, nil
}

// Update replaces a job's definition
func (r *JobRepository) Update(ctx context.Context, job *models.Job) error {
	job.UpdatedAt = time.Now().UTC()
	rec, err := toRecord(job)
	if err != nil {
		return wrapErr("update", err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET freq = ?, start_date = ?, end_date = ?, trigger_timings = ?, rule_type = ?,
			rule_value = ?, override_dates = ?, callback_url = ?, metadata = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		rec.Freq, nullableString(rec.StartDate), nullableString(rec.EndDate), nullableJSON(rec.TriggerTimings),
		nullableString(rec.RuleType), nullableJSON(rec.RuleValue), nullableJSON(rec.OverrideDates),
		rec.CallbackURL, nullableJSON(rec.Metadata), rec.Status, rec.UpdatedAt, rec.ID,
	)
	return r.checkAffected("update", res, err)
}

// UpdateStatus updates job status
func (r *JobRepository) UpdateStatus(ctx context.Context, id, status string) error {
	res, err := r.db.ExecContext(ctx, "UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?",
		status, time.Now().UTC(), id)
	return r.checkAffected("update_status", res, err)
}

// Delete deletes a job and its fire history
func (r *JobRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM jobs WHERE id = ?", id)
	return r.checkAffected("delete", res, err)
}

func (r *JobRepository) checkAffected(op string, res sql.Result, err error) error {
	if err != nil {
		return wrapErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapErr(op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListFires returns the most recent fires of a job, newest first
func (r *JobRepository) ListFires(ctx context.Context, jobID string, limit int) ([]models.JobFire, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, job_id, fired_at, success, COALESCE(status_code, 0), COALESCE(error, ''), advanced
		FROM job_fires
		WHERE job_id = ?
		ORDER BY fired_at DESC, id DESC
		LIMIT ?`, jobID, limit,
	)
	if err != nil {
		return nil, wrapErr("list_fires", err)
	}
	defer rows.Close()

	fires := []models.JobFire{}
	for rows.Next() {
		var f models.JobFire
		if err := rows.Scan(&f.ID, &f.JobID, &f.FiredAt, &f.Success, &f.StatusCode, &f.Error, &f.Advanced); err != nil {
			return nil, wrapErr("list_fires", err)
		}
		f.FiredAt = f.FiredAt.UTC()
		fires = append(fires, f)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list_fires", err)
	}
	return fires, nil
}

// PruneFires deletes fires older than before
func (r *JobRepository) PruneFires(ctx context.Context, before time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM job_fires WHERE fired_at < ?", before.UTC())
	if err != nil {
		return 0, wrapErr("prune_fires", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapErr("prune_fires", err)
	}
	return int(n), nil
}

// CountByStatus returns the number of jobs per status
func (r *JobRepository) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM jobs GROUP BY status")
	if err != nil {
		return nil, wrapErr("count", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, wrapErr("count", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("count", err)
	}
	return counts, nil
}

// Close is a no-op; the connection belongs to the caller
func (r *JobRepository) Close() error {
	return nil
}
