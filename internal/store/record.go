package store

import (
	"encoding/json"
	"time"

	"github.com/foxzi/hookcron/internal/models"
	"github.com/foxzi/hookcron/internal/schedule"
)

// record is the flat persisted form of a job shared by both backends
type record struct {
	ID string `json:"id"`
	schedule.Fields
	UserID        string          `json:"user_id"`
	CallbackURL   string          `json:"callback_url"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	Status        string          `json:"status"`
	LastTriggered *time.Time      `json:"last_triggered,omitempty"`
	CallCount     int64           `json:"call_count"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func toRecord(job *models.Job) (*record, error) {
	rec := &record{
		ID:            job.ID,
		Fields:        schedule.Encode(job.Spec),
		UserID:        job.UserID,
		CallbackURL:   job.CallbackURL,
		Status:        string(job.Status),
		LastTriggered: job.LastTriggered,
		CallCount:     job.FireCount,
		CreatedAt:     job.CreatedAt,
		UpdatedAt:     job.UpdatedAt,
	}
	if job.Metadata != nil {
		data, err := json.Marshal(job.Metadata)
		if err != nil {
			return nil, err
		}
		rec.Metadata = data
	}
	return rec, nil
}

// toJob rebuilds a job. A definition that no longer parses yields a job with
// a nil Spec, which the evaluator never fires.
func (rec *record) toJob() models.Job {
	job := models.Job{
		ID:            rec.ID,
		UserID:        rec.UserID,
		CallbackURL:   rec.CallbackURL,
		Status:        schedule.Status(rec.Status),
		LastTriggered: rec.LastTriggered,
		FireCount:     rec.CallCount,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}
	if spec, err := schedule.Parse(rec.Fields); err == nil {
		job.Spec = spec
	}
	if len(rec.Metadata) > 0 {
		var md map[string]any
		if err := json.Unmarshal(rec.Metadata, &md); err == nil {
			job.Metadata = md
		}
	}
	return job
}

// inWindow reports whether the stored start/end dates contain today. It works
// on the raw strings so corrupt specs are still filtered like in SQL.
func (rec *record) inWindow(today string) bool {
	if rec.StartDate == nil || *rec.StartDate > today {
		return false
	}
	return rec.EndDate == nil || *rec.EndDate == "" || *rec.EndDate >= today
}

// nullableJSON maps an absent raw value to SQL NULL
func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return string(raw)
}

func nullableString(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}
