package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/foxzi/hookcron/internal/config"
	"github.com/foxzi/hookcron/internal/db"
	"github.com/foxzi/hookcron/internal/ipfilter"
	"github.com/foxzi/hookcron/internal/ratelimit"
	"github.com/foxzi/hookcron/internal/runner"
	"github.com/foxzi/hookcron/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	aliceKey = "alice-key"
	bobKey   = "bob-key"
	tickKey  = "tick-secret"
)

type fakeSweeper struct {
	calls int
	at    time.Time
	res   *runner.SweepResult
	err   error
}

func (f *fakeSweeper) Tick(ctx context.Context, now time.Time) (*runner.SweepResult, error) {
	f.calls++
	f.at = now
	return f.res, f.err
}

type testServer struct {
	srv     *Server
	store   store.Store
	sweeper *fakeSweeper
}

func testConfig() *config.Config {
	return &config.Config{
		Auth: config.AuthConfig{
			TriggerToken: tickKey,
			APIKeys: []config.APIKey{
				{Name: "alice", Key: aliceKey},
				{Name: "bob", Key: bobKey},
			},
		},
	}
}

func newTestServer(t *testing.T, limiter *ratelimit.Limiter) *testServer {
	t.Helper()

	conn, err := db.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, conn.Migrate())
	t.Cleanup(func() { conn.Close() })

	s := store.NewJobRepository(conn.DB)
	sw := &fakeSweeper{res: &runner.SweepResult{Message: "Job processing completed", TriggeredJobs: []runner.JobResult{}}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	srv := NewServer(s, sw, testConfig(), limiter, logger)
	srv.now = func() time.Time { return time.Date(2024, 2, 1, 9, 0, 30, 0, time.UTC) }
	return &testServer{srv: srv, store: s, sweeper: sw}
}

func (ts *testServer) do(t *testing.T, method, path, key string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func dailyBody() map[string]any {
	return map[string]any{
		"freq":            "daily",
		"start_date":      "2024-01-01",
		"trigger_timings": []string{"09:00", "17:30"},
		"callback_url":    "https://example.com/hook",
		"metadata":        map[string]any{"team": "ops"},
	}
}

func (ts *testServer) createJob(t *testing.T, key string, body any) *JobResponse {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/v1/jobs", key, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[JobEnvelope](t, rec).Job
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[HealthResponse](t, rec).Status)
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/api/v1/jobs", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Unauthorized", decode[APIErrorResponse](t, rec).Error)

	rec = ts.do(t, http.MethodGet, "/api/v1/jobs", "wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health-check", nil)
	req.Header.Set("Authorization", "Bearer "+bobKey)
	rec = httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	hc := decode[HealthCheckResponse](t, rec)
	assert.Equal(t, "healthy", hc.Status)
	assert.True(t, hc.Authenticated)
	assert.Equal(t, "bob", hc.Auth["user_id"])
}

func TestCreateJob(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/api/v1/jobs", aliceKey, dailyBody())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	env := decode[JobEnvelope](t, rec)
	assert.Equal(t, "Job created successfully", env.Message)
	job := env.Job
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, "daily", job.Freq)
	assert.Equal(t, "2024-01-01", *job.StartDate)
	assert.Nil(t, job.EndDate)
	assert.JSONEq(t, `["09:00","17:30"]`, string(job.TriggerTimings))
	assert.Equal(t, "active", job.Status)
	assert.Zero(t, job.CallCount)
	assert.Nil(t, job.LastTriggered)
	assert.Equal(t, map[string]any{"team": "ops"}, job.Metadata)

	stored, err := ts.store.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", stored.UserID)
}

func TestCreateJobValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	body := map[string]any{
		"freq":            "recurring",
		"start_date":      "2024-02-30",
		"trigger_timings": []string{"09:00"},
		"rule_type":       "hours",
		"rule_value":      25,
		"callback_url":    "ftp://example.com",
	}
	rec := ts.do(t, http.MethodPost, "/api/v1/jobs", aliceKey, body)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decode[ValidationErrorResponse](t, rec)
	assert.Equal(t, "Invalid input data", resp.Error)
	assert.Contains(t, resp.Details, "Invalid or missing start_date")
	assert.Contains(t, resp.Details, "trigger_timings should not be provided for recurring frequency")
	assert.Contains(t, resp.Details, "Invalid rule_value for hours")
	assert.Contains(t, resp.Details, "Invalid or missing callback_url")

	paused := dailyBody()
	paused["status"] = "paused"
	rec = ts.do(t, http.MethodPost, "/api/v1/jobs", aliceKey, paused)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, []string{"Invalid status"}, decode[ValidationErrorResponse](t, rec).Details)

	rec = ts.do(t, http.MethodPost, "/api/v1/jobs", aliceKey, "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_JSON", decode[APIErrorResponse](t, rec).Code)
}

func TestCreateJobWrongTypes(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/api/v1/jobs", aliceKey, `{
		"freq": "custom",
		"start_date": 20240101,
		"trigger_timings": ["09:00"],
		"rule_type": "fortnightly",
		"rule_value": [1],
		"callback_url": "not a url"
	}`)
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	resp := decode[ValidationErrorResponse](t, rec)
	assert.ElementsMatch(t, []string{
		"Invalid or missing start_date",
		"Invalid rule_type or rule_value for custom frequency",
		"Invalid or missing callback_url",
	}, resp.Details)

	rec = ts.do(t, http.MethodPost, "/api/v1/jobs", aliceKey, `{"freq":"daily","start_date":"2024-01-01","trigger_timings":["09:00"],"callback_url":42}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, []string{"Invalid or missing callback_url"}, decode[ValidationErrorResponse](t, rec).Details)

	rec = ts.do(t, http.MethodPost, "/api/v1/jobs", aliceKey, `["daily"]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_JSON", decode[APIErrorResponse](t, rec).Code)
}

func TestPatchJobWrongTypes(t *testing.T) {
	ts := newTestServer(t, nil)
	job := ts.createJob(t, aliceKey, dailyBody())

	rec := ts.do(t, http.MethodPatch, "/api/v1/jobs/"+job.ID, aliceKey, `{"end_date":20241231,"callback_url":false}`)
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.ElementsMatch(t, []string{"Invalid end_date", "Invalid or missing callback_url"},
		decode[ValidationErrorResponse](t, rec).Details)
}

func TestOwnerScoping(t *testing.T) {
	ts := newTestServer(t, nil)
	job := ts.createJob(t, aliceKey, dailyBody())
	ts.createJob(t, bobKey, dailyBody())

	rec := ts.do(t, http.MethodGet, "/api/v1/jobs/"+job.ID, bobKey, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Job not found or access denied", decode[APIErrorResponse](t, rec).Error)

	rec = ts.do(t, http.MethodDelete, "/api/v1/jobs/"+job.ID, bobKey, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/jobs", aliceKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[JobListResponse](t, rec)
	require.Len(t, list.Jobs, 1)
	assert.Equal(t, job.ID, list.Jobs[0].ID)
	assert.Equal(t, 1, list.Total)

	rec = ts.do(t, http.MethodGet, "/api/v1/jobs/"+job.ID, aliceKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, job.ID, decode[JobEnvelope](t, rec).Job.ID)
}

func TestPatchJob(t *testing.T) {
	ts := newTestServer(t, nil)
	job := ts.createJob(t, aliceKey, dailyBody())
	path := "/api/v1/jobs/" + job.ID

	rec := ts.do(t, http.MethodPatch, path, aliceKey, map[string]any{
		"end_date":        "2024-12-31",
		"trigger_timings": []string{"06:15"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[JobEnvelope](t, rec).Job
	assert.Equal(t, "2024-12-31", *got.EndDate)
	assert.JSONEq(t, `["06:15"]`, string(got.TriggerTimings))
	assert.Equal(t, "https://example.com/hook", got.CallbackURL, "untouched fields are kept")
	assert.Equal(t, map[string]any{"team": "ops"}, got.Metadata)

	// Switching kind requires clearing fields that are illegal for the new one
	rec = ts.do(t, http.MethodPatch, path, aliceKey, map[string]any{
		"freq":       "recurring",
		"rule_type":  "minutes",
		"rule_value": 30,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[ValidationErrorResponse](t, rec).Details,
		"trigger_timings should not be provided for recurring frequency")

	rec = ts.do(t, http.MethodPatch, path, aliceKey, map[string]any{
		"freq":            "recurring",
		"rule_type":       "minutes",
		"rule_value":      30,
		"trigger_timings": nil,
		"status":          "paused",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got = decode[JobEnvelope](t, rec).Job
	assert.Equal(t, "recurring", got.Freq)
	assert.Equal(t, "paused", got.Status)
	assert.JSONEq(t, `30`, string(got.RuleValue))
}

func TestUpdateRestrictedFields(t *testing.T) {
	ts := newTestServer(t, nil)
	job := ts.createJob(t, aliceKey, dailyBody())

	for _, field := range []string{"call_count", "fire_count", "last_triggered", "created_at", "user_id", "id"} {
		for _, method := range []string{http.MethodPatch, http.MethodPut} {
			rec := ts.do(t, method, "/api/v1/jobs/"+job.ID, aliceKey, map[string]any{field: 1})
			require.Equal(t, http.StatusBadRequest, rec.Code, "%s %s", method, field)
			assert.Equal(t, "Field "+field+" cannot be updated", decode[APIErrorResponse](t, rec).Error)
		}
	}
}

func TestReplaceJob(t *testing.T) {
	ts := newTestServer(t, nil)
	job := ts.createJob(t, aliceKey, dailyBody())
	path := "/api/v1/jobs/" + job.ID

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, path+"/pause", aliceKey, nil).Code)

	rec := ts.do(t, http.MethodPut, path, aliceKey, map[string]any{
		"freq":            "custom",
		"start_date":      "2024-03-01",
		"trigger_timings": []string{"08:00"},
		"rule_type":       "weekly",
		"rule_value":      []string{"mon", "thu"},
		"callback_url":    "https://example.com/other",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[JobEnvelope](t, rec).Job
	assert.Equal(t, "custom", got.Freq)
	assert.Nil(t, got.Metadata, "replace drops omitted fields")
	assert.Equal(t, "paused", got.Status, "omitted status is kept")

	rec = ts.do(t, http.MethodPut, path, aliceKey, map[string]any{"callback_url": "https://example.com"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[ValidationErrorResponse](t, rec).Details, "Invalid or missing start_date")
}

func TestPauseResumeDeleteAndFires(t *testing.T) {
	ts := newTestServer(t, nil)
	job := ts.createJob(t, aliceKey, dailyBody())
	path := "/api/v1/jobs/" + job.ID
	ctx := context.Background()

	rec := ts.do(t, http.MethodPost, path+"/pause", aliceKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "paused", decode[JobEnvelope](t, rec).Job.Status)

	rec = ts.do(t, http.MethodPost, path+"/resume", aliceKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "active", decode[JobEnvelope](t, rec).Job.Status)

	firedAt := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, ts.store.RecordFire(ctx, job.ID, firedAt, store.FireOutcome{Success: true, StatusCode: 200}, true))

	rec = ts.do(t, http.MethodGet, path+"/fires", aliceKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	fires := decode[FireListResponse](t, rec).Fires
	require.Len(t, fires, 1)
	assert.Equal(t, 200, fires[0].StatusCode)

	rec = ts.do(t, http.MethodGet, path, aliceKey, nil)
	assert.EqualValues(t, 1, decode[JobEnvelope](t, rec).Job.CallCount)

	rec = ts.do(t, http.MethodDelete, path, aliceKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Job deleted successfully", decode[MessageResponse](t, rec).Message)

	_, err := ts.store.GetByID(ctx, job.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTrigger(t *testing.T) {
	ts := newTestServer(t, nil)
	status := 204
	ts.sweeper.res = &runner.SweepResult{
		Message:        "Job processing completed",
		TriggeredCount: 1,
		TriggeredJobs:  []runner.JobResult{{JobID: "j1", Success: true, Status: &status}},
	}

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		req := httptest.NewRequest(method, "/api/v1/trigger", nil)
		req.Header.Set("X-Auth-Token", tickKey)
		rec := httptest.NewRecorder()
		ts.srv.Handler().ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{
			"message": "Job processing completed",
			"triggered_count": 1,
			"triggered_jobs": [{"job_id": "j1", "success": true, "status": 204}]
		}`, rec.Body.String())
	}
	assert.Equal(t, 2, ts.sweeper.calls)
	assert.True(t, ts.sweeper.at.Equal(time.Date(2024, 2, 1, 9, 0, 30, 0, time.UTC)))
}

func TestTriggerUnauthorized(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, token := range []string{"", "wrong"} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/trigger", nil)
		if token != "" {
			req.Header.Set("X-Auth-Token", token)
		}
		rec := httptest.NewRecorder()
		ts.srv.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	// API keys do not grant access to the trigger
	rec := ts.do(t, http.MethodPost, "/api/v1/trigger", aliceKey, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, ts.sweeper.calls)
}

func TestTriggerIPAllowlist(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.srv.triggerIPs = ipfilter.New([]string{"10.0.0.0/8"}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	tests := []struct {
		remoteAddr string
		wantStatus int
	}{
		{"10.1.2.3:4000", http.StatusOK},
		{"192.168.1.10:4000", http.StatusForbidden},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/trigger", nil)
		req.RemoteAddr = tt.remoteAddr
		req.Header.Set("X-Auth-Token", tickKey)
		rec := httptest.NewRecorder()
		ts.srv.Handler().ServeHTTP(rec, req)
		assert.Equal(t, tt.wantStatus, rec.Code, tt.remoteAddr)
	}
	assert.Equal(t, 1, ts.sweeper.calls)
}

func TestTriggerSweepFailure(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.sweeper.err = errors.New("database is locked")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/trigger", nil)
	req.Header.Set("X-Auth-Token", tickKey)
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "SWEEP_FAILED", decode[APIErrorResponse](t, rec).Code)
}

func TestRateLimit(t *testing.T) {
	limiter := ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: 1, Burst: 2})
	defer limiter.Stop()
	ts := newTestServer(t, limiter)

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/v1/jobs", aliceKey, nil).Code)
	}
	rec := ts.do(t, http.MethodGet, "/api/v1/jobs", aliceKey, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/v1/jobs", bobKey, nil).Code)
}

func TestQueryInt(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", 100},
		{"limit=10", 10},
		{"limit=0", 100},
		{"limit=-5", 100},
		{"limit=abc", 100},
		{"limit=9999", 500},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/?"+tt.query, nil)
		if got := queryInt(r, "limit", 100, 500); got != tt.want {
			t.Errorf("queryInt(%q) = %d, want %d", tt.query, got, tt.want)
		}
	}
}
