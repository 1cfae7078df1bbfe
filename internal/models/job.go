package models

import (
	"time"

	"github.com/foxzi/hookcron/internal/schedule"
)

// Job is a scheduled webhook
type Job struct {
	ID            string
	UserID        string        // owner, the API key name
	Spec          schedule.Spec // nil when the stored definition is corrupt
	CallbackURL   string
	Metadata      map[string]any
	Status        schedule.Status
	LastTriggered *time.Time
	FireCount     int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// State returns the part of the job the evaluator reads
func (j *Job) State() schedule.State {
	return schedule.State{Status: j.Status, LastTriggered: j.LastTriggered}
}

// Freq returns the recurrence kind, or "" for a job without a valid spec
func (j *Job) Freq() string {
	if j.Spec == nil {
		return ""
	}
	return string(j.Spec.Kind())
}

// JobFire is one entry of a job's fire history
type JobFire struct {
	ID         int64     `json:"id"`
	JobID      string    `json:"job_id"`
	FiredAt    time.Time `json:"fired_at"`
	Success    bool      `json:"success"`
	StatusCode int       `json:"status_code,omitempty"`
	Error      string    `json:"error,omitempty"`
	Advanced   bool      `json:"advanced"`
}

// JobListFilter for filtering jobs
type JobListFilter struct {
	UserID string
	Status string
	Freq   string
	Limit  int
	Offset int
}
