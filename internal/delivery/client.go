// Package delivery posts fire notifications to job callback URLs.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/foxzi/hookcron/internal/metrics"
	"golang.org/x/time/rate"
)

const (
	HeaderJobID     = "X-Hookcron-Job-Id"
	HeaderTimestamp = "X-Hookcron-Timestamp"
	HeaderSignature = "X-Hookcron-Signature"
)

// Payload is the JSON body posted to a callback URL
type Payload struct {
	JobID       string         `json:"job_id"`
	TriggeredAt string         `json:"triggered_at"`
	Metadata    map[string]any `json:"metadata"`
}

// Outcome of one delivery. Transport failures and non-2xx answers are
// outcomes, not errors.
type Outcome struct {
	Success    bool
	StatusCode int
	Error      string
}

// Deliverer sends a payload to a callback URL
type Deliverer interface {
	Send(ctx context.Context, url string, payload Payload) Outcome
}

// Config for the HTTP client
type Config struct {
	Timeout       time.Duration
	UserAgent     string
	SigningSecret string
	// RatePerSecond caps outbound requests across all jobs; zero disables it
	RatePerSecond float64
	Burst         int
}

// Client delivers payloads over HTTP
type Client struct {
	httpClient *http.Client
	cfg        Config
	limiter    *rate.Limiter
}

// NewClient creates a delivery client
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "hookcron"
	}

	c := &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
	}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return c
}

// Send posts payload to url and reports the outcome
func (c *Client) Send(ctx context.Context, url string, payload Payload) Outcome {
	if payload.Metadata == nil {
		payload.Metadata = map[string]any{}
	}

	start := time.Now()
	out := c.send(ctx, url, payload)
	metrics.ObserveDelivery(time.Since(start).Seconds(), out.Success)
	return out
}

func (c *Client) send(ctx context.Context, url string, payload Payload) Outcome {
	body, err := json.Marshal(payload)
	if err != nil {
		return Outcome{Error: "marshal payload: " + err.Error()}
	}

	if err := c.wait(ctx); err != nil {
		return Outcome{Error: "rate limit wait: " + err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Outcome{Error: "create request: " + err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set(HeaderJobID, payload.JobID)

	if c.cfg.SigningSecret != "" {
		ts := strconv.FormatInt(time.Now().UTC().Unix(), 10)
		req.Header.Set(HeaderTimestamp, ts)
		req.Header.Set(HeaderSignature, "v1="+Sign(c.cfg.SigningSecret, ts, body))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Outcome{Error: err.Error()}
	}
	defer resp.Body.Close()
	// Drain a bounded amount so the connection can be reused
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return Outcome{
		Success:    resp.StatusCode >= 200 && resp.StatusCode < 300,
		StatusCode: resp.StatusCode,
	}
}

// wait blocks until the limiter admits one request or ctx is done
func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if c.limiter.Tokens() < 1 {
		metrics.IncRateLimitExceeded("delivery")
	}
	return c.limiter.Wait(ctx)
}
