package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/hookcron/internal/metrics"
	"github.com/foxzi/hookcron/internal/models"
	"github.com/foxzi/hookcron/internal/schedule"
	"github.com/foxzi/hookcron/internal/store"
)

const maxBodyBytes = 1 << 20

// restrictedFields are maintained by the service and cannot be written
var restrictedFields = []string{"id", "user_id", "call_count", "fire_count", "last_triggered", "created_at", "updated_at"}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.apiJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: Version,
		Uptime:  time.Since(s.startTime).Round(time.Second).String(),
	})
}

// handleHealthCheck handles GET /api/v1/health-check
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	s.apiJSON(w, http.StatusOK, HealthCheckResponse{
		Status:        "healthy",
		APIVersion:    "1.0",
		Authenticated: true,
		Timestamp:     s.now().UTC(),
		Auth:          map[string]string{"user_id": ownerFromContext(r.Context())},
	})
}

// handleTrigger handles GET|POST /api/v1/trigger
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	// A sweep runs to completion even if the caller hangs up
	ctx := context.WithoutCancel(r.Context())

	res, err := s.sweeper.Tick(ctx, s.now())
	if err != nil {
		s.logger.Error("sweep failed", "error", err)
		metrics.IncAPIErrors("sweep")
		s.apiError(w, http.StatusInternalServerError, "Internal server error", "SWEEP_FAILED")
		return
	}

	s.apiJSON(w, http.StatusOK, res)
}

// handleCreateJob handles POST /api/v1/jobs
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var in schedule.Input
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.apiError(w, http.StatusBadRequest, "Invalid request body", "INVALID_JSON")
		return
	}

	def, ok := s.parseDefinition(w, in, false)
	if !ok {
		return
	}

	job := &models.Job{
		UserID:      ownerFromContext(r.Context()),
		Spec:        def.Spec,
		CallbackURL: def.CallbackURL,
		Metadata:    def.Metadata,
		Status:      def.Status,
	}
	if err := s.store.Create(r.Context(), job); err != nil {
		s.internalError(w, "failed to create job", err)
		return
	}

	s.logger.Info("job created", "job_id", job.ID, "user_id", job.UserID, "freq", job.Freq())
	s.apiJSON(w, http.StatusCreated, JobEnvelope{
		Message: "Job created successfully",
		Job:     newJobResponse(job),
	})
}

// handleListJobs handles GET /api/v1/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	filter := models.JobListFilter{
		UserID: ownerFromContext(r.Context()),
		Status: r.URL.Query().Get("status"),
		Freq:   r.URL.Query().Get("freq"),
		Limit:  queryInt(r, "limit", 100, 500),
		Offset: queryInt(r, "offset", 0, -1),
	}

	jobs, total, err := s.store.List(r.Context(), filter)
	if err != nil {
		s.internalError(w, "failed to list jobs", err)
		return
	}

	resp := JobListResponse{
		Jobs:   make([]*JobResponse, 0, len(jobs)),
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}
	for i := range jobs {
		resp.Jobs = append(resp.Jobs, newJobResponse(&jobs[i]))
	}
	s.apiJSON(w, http.StatusOK, resp)
}

// handleGetJob handles GET /api/v1/jobs/{id}
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadOwnedJob(w, r)
	if !ok {
		return
	}
	s.apiJSON(w, http.StatusOK, JobEnvelope{Job: newJobResponse(job)})
}

// handleReplaceJob handles PUT /api/v1/jobs/{id}. The body is a complete
// definition; an omitted status keeps the current one.
func (s *Server) handleReplaceJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadOwnedJob(w, r)
	if !ok {
		return
	}
	updates, ok := s.decodeUpdate(w, r)
	if !ok {
		return
	}

	base := map[string]json.RawMessage{}
	if _, has := updates["status"]; !has {
		base["status"] = mustJSON(job.Status)
	}
	s.applyUpdate(w, r, job, base, updates)
}

// handlePatchJob handles PATCH /api/v1/jobs/{id}. The given fields are laid
// over the current definition and the result is validated as a whole.
func (s *Server) handlePatchJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadOwnedJob(w, r)
	if !ok {
		return
	}
	updates, ok := s.decodeUpdate(w, r)
	if !ok {
		return
	}

	s.applyUpdate(w, r, job, currentDefinition(job), updates)
}

// handleDeleteJob handles DELETE /api/v1/jobs/{id}
func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadOwnedJob(w, r)
	if !ok {
		return
	}

	if err := s.store.Delete(r.Context(), job.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.apiError(w, http.StatusNotFound, "Job not found or access denied", "NOT_FOUND")
			return
		}
		s.internalError(w, "failed to delete job", err)
		return
	}

	s.logger.Info("job deleted", "job_id", job.ID)
	s.apiJSON(w, http.StatusOK, MessageResponse{Message: "Job deleted successfully"})
}

// handlePauseJob handles POST /api/v1/jobs/{id}/pause
func (s *Server) handlePauseJob(w http.ResponseWriter, r *http.Request) {
	s.setStatus(w, r, schedule.StatusPaused, "Job paused")
}

// handleResumeJob handles POST /api/v1/jobs/{id}/resume
func (s *Server) handleResumeJob(w http.ResponseWriter, r *http.Request) {
	s.setStatus(w, r, schedule.StatusActive, "Job resumed")
}

// handleListFires handles GET /api/v1/jobs/{id}/fires
func (s *Server) handleListFires(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadOwnedJob(w, r)
	if !ok {
		return
	}

	fires, err := s.store.ListFires(r.Context(), job.ID, queryInt(r, "limit", 50, 500))
	if err != nil {
		s.internalError(w, "failed to list fires", err)
		return
	}
	s.apiJSON(w, http.StatusOK, FireListResponse{Fires: fires})
}

func (s *Server) setStatus(w http.ResponseWriter, r *http.Request, status schedule.Status, message string) {
	job, ok := s.loadOwnedJob(w, r)
	if !ok {
		return
	}

	if err := s.store.UpdateStatus(r.Context(), job.ID, string(status)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.apiError(w, http.StatusNotFound, "Job not found or update failed", "NOT_FOUND")
			return
		}
		s.internalError(w, "failed to update job status", err)
		return
	}
	job.Status = status

	s.logger.Info("job status changed", "job_id", job.ID, "status", status)
	s.apiJSON(w, http.StatusOK, JobEnvelope{Message: message, Job: newJobResponse(job)})
}

// loadOwnedJob fetches the job named in the URL. Jobs of other owners are
// reported as missing.
func (s *Server) loadOwnedJob(w http.ResponseWriter, r *http.Request) (*models.Job, bool) {
	id := chi.URLParam(r, "id")

	job, err := s.store.GetByID(r.Context(), id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.internalError(w, "failed to get job", err)
		return nil, false
	}
	if err != nil || job.UserID != ownerFromContext(r.Context()) {
		s.apiError(w, http.StatusNotFound, "Job not found or access denied", "NOT_FOUND")
		return nil, false
	}
	return job, true
}

// decodeUpdate reads an update body and rejects service maintained fields
func (s *Server) decodeUpdate(w http.ResponseWriter, r *http.Request) (map[string]json.RawMessage, bool) {
	var updates map[string]json.RawMessage
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil || updates == nil {
		s.apiError(w, http.StatusBadRequest, "Invalid request body", "INVALID_JSON")
		return nil, false
	}

	for _, field := range restrictedFields {
		if _, ok := updates[field]; ok {
			s.apiError(w, http.StatusBadRequest, fmt.Sprintf("Field %s cannot be updated", field), "RESTRICTED_FIELD")
			return nil, false
		}
	}
	return updates, true
}

// applyUpdate merges updates over base, validates and stores the result
func (s *Server) applyUpdate(w http.ResponseWriter, r *http.Request, job *models.Job, base, updates map[string]json.RawMessage) {
	for k, v := range updates {
		base[k] = v
	}

	var in schedule.Input
	if err := json.Unmarshal(mustJSON(base), &in); err != nil {
		s.apiValidationError(w, []string{"Invalid input data"})
		return
	}

	def, ok := s.parseDefinition(w, in, true)
	if !ok {
		return
	}

	job.Spec = def.Spec
	job.CallbackURL = def.CallbackURL
	job.Metadata = def.Metadata
	job.Status = def.Status

	if err := s.store.Update(r.Context(), job); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.apiError(w, http.StatusNotFound, "Job not found or update failed", "NOT_FOUND")
			return
		}
		s.internalError(w, "failed to update job", err)
		return
	}

	s.logger.Info("job updated", "job_id", job.ID, "freq", job.Freq())
	s.apiJSON(w, http.StatusOK, JobEnvelope{
		Message: "Job updated successfully",
		Job:     newJobResponse(job),
	})
}

// parseDefinition validates in and writes the 400 response on failure. New
// jobs cannot start paused.
func (s *Server) parseDefinition(w http.ResponseWriter, in schedule.Input, allowPaused bool) (*schedule.Definition, bool) {
	def, err := schedule.ParseInput(in)

	var details []string
	var verr *schedule.ValidationError
	if errors.As(err, &verr) {
		details = append(details, verr.Details...)
	} else if err != nil {
		s.internalError(w, "failed to parse job", err)
		return nil, false
	}
	if !allowPaused && in.Status != nil && schedule.Status(*in.Status) == schedule.StatusPaused {
		details = append(details, "Invalid status")
	}

	if len(details) > 0 {
		metrics.IncAPIErrors("validation")
		s.apiValidationError(w, details)
		return nil, false
	}
	return def, true
}

func (s *Server) internalError(w http.ResponseWriter, msg string, err error) {
	s.logger.Error(msg, "error", err)
	metrics.IncAPIErrors("internal")
	s.apiError(w, http.StatusInternalServerError, "Internal server error", "INTERNAL_ERROR")
}

// currentDefinition returns the external form of job's definition
func currentDefinition(job *models.Job) map[string]json.RawMessage {
	f := schedule.Encode(job.Spec)
	def := map[string]json.RawMessage{
		"freq":       mustJSON(f.Freq),
		"start_date": mustJSON(f.StartDate),
		"end_date":   mustJSON(f.EndDate),
		"rule_type":  mustJSON(f.RuleType),
	}
	for name, raw := range map[string]json.RawMessage{
		"trigger_timings": f.TriggerTimings,
		"rule_value":      f.RuleValue,
		"override_dates":  f.OverrideDates,
	} {
		if len(raw) > 0 {
			def[name] = raw
		}
	}
	def["callback_url"] = mustJSON(job.CallbackURL)
	def["metadata"] = mustJSON(job.Metadata)
	def["status"] = mustJSON(job.Status)
	return def
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

// queryInt reads a non-negative integer query parameter. upper < 0 means no
// upper bound.
func queryInt(r *http.Request, name string, def, upper int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v < 0 {
		return def
	}
	if upper >= 0 && v > upper {
		return upper
	}
	if v == 0 && def > 0 {
		return def
	}
	return v
}
