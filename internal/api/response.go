package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/foxzi/hookcron/internal/models"
	"github.com/foxzi/hookcron/internal/schedule"
)

// APIErrorResponse represents an API error
type APIErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// ValidationErrorResponse lists every problem with a job definition
type ValidationErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details"`
}

// JobResponse is the external view of a job
type JobResponse struct {
	ID             string          `json:"id"`
	StartDate      *string         `json:"start_date"`
	EndDate        *string         `json:"end_date"`
	TriggerTimings json.RawMessage `json:"trigger_timings"`
	Freq           string          `json:"freq"`
	RuleType       *string         `json:"rule_type"`
	RuleValue      json.RawMessage `json:"rule_value"`
	OverrideDates  json.RawMessage `json:"override_dates"`
	CallbackURL    string          `json:"callback_url"`
	Metadata       map[string]any  `json:"metadata"`
	Status         string          `json:"status"`
	LastTriggered  *time.Time      `json:"last_triggered"`
	CallCount      int64           `json:"call_count"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// JobEnvelope wraps a single job
type JobEnvelope struct {
	Message string       `json:"message,omitempty"`
	Job     *JobResponse `json:"job"`
}

// JobListResponse is returned by GET /jobs
type JobListResponse struct {
	Jobs   []*JobResponse `json:"jobs"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// FireListResponse is returned by GET /jobs/{id}/fires
type FireListResponse struct {
	Fires []models.JobFire `json:"fires"`
}

// MessageResponse carries a plain confirmation
type MessageResponse struct {
	Message string `json:"message"`
}

// HealthResponse is returned by the public health endpoint
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// HealthCheckResponse is returned by the authenticated health check
type HealthCheckResponse struct {
	Status        string            `json:"status"`
	APIVersion    string            `json:"api_version"`
	Authenticated bool              `json:"authenticated"`
	Timestamp     time.Time         `json:"timestamp"`
	Auth          map[string]string `json:"auth"`
}

func newJobResponse(job *models.Job) *JobResponse {
	f := schedule.Encode(job.Spec)
	return &JobResponse{
		ID:             job.ID,
		StartDate:      f.StartDate,
		EndDate:        f.EndDate,
		TriggerTimings: f.TriggerTimings,
		Freq:           f.Freq,
		RuleType:       f.RuleType,
		RuleValue:      f.RuleValue,
		OverrideDates:  f.OverrideDates,
		CallbackURL:    job.CallbackURL,
		Metadata:       job.Metadata,
		Status:         string(job.Status),
		LastTriggered:  job.LastTriggered,
		CallCount:      job.FireCount,
		CreatedAt:      job.CreatedAt,
		UpdatedAt:      job.UpdatedAt,
	}
}

// apiJSON sends a JSON response
func (s *Server) apiJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON", "error", err)
	}
}

// apiError sends an error response
func (s *Server) apiError(w http.ResponseWriter, status int, message, code string) {
	s.apiJSON(w, status, APIErrorResponse{
		Error: message,
		Code:  code,
	})
}

// apiValidationError sends the collected validation messages
func (s *Server) apiValidationError(w http.ResponseWriter, details []string) {
	s.apiJSON(w, http.StatusBadRequest, ValidationErrorResponse{
		Error:   "Invalid input data",
		Details: details,
	})
}
