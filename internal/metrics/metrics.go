package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for hookcron
type Metrics struct {
	// Sweep metrics
	SweepsTotal          *prometheus.CounterVec
	SweepDurationSeconds prometheus.Histogram
	Candidates           prometheus.Gauge

	// Fire and delivery metrics
	FiresTotal              *prometheus.CounterVec
	DeliveriesTotal         *prometheus.CounterVec
	DeliveryDurationSeconds prometheus.Histogram

	// Store metrics
	StoreErrorsTotal *prometheus.CounterVec
	Jobs             *prometheus.GaugeVec

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	// Rate limiting
	RateLimitExceededTotal *prometheus.CounterVec

	// System metrics
	UptimeSeconds    prometheus.Gauge
	Goroutines       prometheus.Gauge
	StorageUsedBytes prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		SweepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hookcron_sweeps_total",
				Help: "Total number of trigger sweeps",
			},
			[]string{"result"},
		),
		SweepDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "hookcron_sweep_duration_seconds",
				Help:    "Trigger sweep duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		Candidates: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "hookcron_candidates",
				Help: "Number of candidate jobs evaluated in the last sweep",
			},
		),

		FiresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hookcron_fires_total",
				Help: "Total number of job fires",
			},
			[]string{"freq"},
		),
		DeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hookcron_deliveries_total",
				Help: "Total number of webhook deliveries",
			},
			[]string{"result"},
		),
		DeliveryDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "hookcron_delivery_duration_seconds",
				Help:    "Webhook delivery duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),

		StoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hookcron_store_errors_total",
				Help: "Total number of job store errors",
			},
			[]string{"op"},
		),
		Jobs: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hookcron_jobs",
				Help: "Number of stored jobs by status",
			},
			[]string{"status"},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hookcron_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hookcron_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hookcron_api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"error_type"},
		),

		RateLimitExceededTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hookcron_ratelimit_exceeded_total",
				Help: "Total number of rate limit exceeded events",
			},
			[]string{"scope"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "hookcron_uptime_seconds",
				Help: "Server uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "hookcron_goroutines",
				Help: "Number of active goroutines",
			},
		),
		StorageUsedBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "hookcron_storage_used_bytes",
				Help: "Database file size in bytes",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.SweepsTotal,
		m.SweepDurationSeconds,
		m.Candidates,
		m.FiresTotal,
		m.DeliveriesTotal,
		m.DeliveryDurationSeconds,
		m.StoreErrorsTotal,
		m.Jobs,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
		m.RateLimitExceededTotal,
		m.UptimeSeconds,
		m.Goroutines,
		m.StorageUsedBytes,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// ObserveSweep records a finished sweep
func ObserveSweep(seconds float64, candidates int, err error) {
	m := Global()
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.SweepsTotal.WithLabelValues(result).Inc()
	m.SweepDurationSeconds.Observe(seconds)
	if err == nil {
		m.Candidates.Set(float64(candidates))
	}
}

// IncFires increments the fire counter for a recurrence kind
func IncFires(freq string) {
	m := Global()
	if m != nil {
		m.FiresTotal.WithLabelValues(freq).Inc()
	}
}

// ObserveDelivery records a webhook delivery attempt
func ObserveDelivery(seconds float64, success bool) {
	m := Global()
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.DeliveriesTotal.WithLabelValues(result).Inc()
	m.DeliveryDurationSeconds.Observe(seconds)
}

// IncStoreErrors increments the store error counter for an operation
func IncStoreErrors(op string) {
	m := Global()
	if m != nil {
		m.StoreErrorsTotal.WithLabelValues(op).Inc()
	}
}

// IncRateLimitExceeded increments rate limit exceeded counter
func IncRateLimitExceeded(scope string) {
	m := Global()
	if m != nil {
		m.RateLimitExceededTotal.WithLabelValues(scope).Inc()
	}
}

// IncAPIErrors increments API error counter
func IncAPIErrors(errorType string) {
	m := Global()
	if m != nil {
		m.APIErrorsTotal.WithLabelValues(errorType).Inc()
	}
}
