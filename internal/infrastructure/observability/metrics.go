package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all application metrics. Every recording method is safe to
// call on a nil *Metrics so components can run without a registry in tests.
type Metrics struct {
	// Refund metrics
	RefundsTotal       *prometheus.CounterVec
	NotificationsTotal *prometheus.CounterVec

	// Chain metrics
	VerificationsTotal *prometheus.CounterVec
	RPCDuration        *prometheus.HistogramVec
	RPCErrors          *prometheus.CounterVec
	ProviderFailures   *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Circuit breaker metrics
	CircuitBreakerState    *prometheus.GaugeVec
	CircuitBreakerRequests *prometheus.CounterVec

	// Worker metrics
	WorkerTicks        *prometheus.CounterVec
	WorkerBatchItems   *prometheus.CounterVec
	WorkerHeartbeat    prometheus.Gauge
	WorkerTickDuration prometheus.Histogram
}

// NewMetrics creates and registers all metrics against the given registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := prometheus.WrapRegistererWith(nil, reg)

	m := &Metrics{
		RefundsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refunds_total",
				Help:      "Refund lifecycle events by event and resulting status",
			},
			[]string{"event", "status"},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Webhook notifications queued by event type and result",
			},
			[]string{"event", "result"},
		),
		VerificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "verifications_total",
				Help:      "Payment transaction verifications by network and result",
			},
			[]string{"network", "result"},
		),
		RPCDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rpc_duration_seconds",
				Help:      "Blockchain RPC call duration in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
			},
			[]string{"network", "method"},
		),
		RPCErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rpc_errors_total",
				Help:      "Blockchain RPC call failures, timeouts included",
			},
			[]string{"network", "method"},
		),
		ProviderFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_failures_total",
				Help:      "RPC endpoints marked unhealthy",
			},
			[]string{"network"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"name"},
		),
		CircuitBreakerRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_requests_total",
				Help:      "Total number of circuit breaker requests",
			},
			[]string{"name", "result"},
		),
		WorkerTicks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "worker_ticks_total",
				Help:      "Refund worker ticks by outcome",
			},
			[]string{"outcome"},
		),
		WorkerBatchItems: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "worker_batch_items_total",
				Help:      "Refunds handled by the worker by result",
			},
			[]string{"result"},
		),
		WorkerHeartbeat: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_last_heartbeat_timestamp_seconds",
				Help:      "Unix time of the last completed worker tick",
			},
		),
		WorkerTickDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "worker_tick_duration_seconds",
				Help:      "Refund worker tick duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		),
	}

	// Register all collectors
	factory.MustRegister(
		m.RefundsTotal,
		m.NotificationsTotal,
		m.VerificationsTotal,
		m.RPCDuration,
		m.RPCErrors,
		m.ProviderFailures,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CircuitBreakerState,
		m.CircuitBreakerRequests,
		m.WorkerTicks,
		m.WorkerBatchItems,
		m.WorkerHeartbeat,
		m.WorkerTickDuration,
	)

	return m
}

func (m *Metrics) RecordRefund(event, status string) {
	if m == nil {
		return
	}
	m.RefundsTotal.WithLabelValues(event, status).Inc()
}

func (m *Metrics) RecordNotification(event string, err error) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(event, result(err)).Inc()
}

func (m *Metrics) RecordVerification(network, outcome string) {
	if m == nil {
		return
	}
	m.VerificationsTotal.WithLabelValues(network, outcome).Inc()
}

// ObserveRPC records the latency of one RPC call and counts it as an error
// when err is non-nil.
func (m *Metrics) ObserveRPC(network, method string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.RPCDuration.WithLabelValues(network, method).Observe(d.Seconds())
	if err != nil {
		m.RPCErrors.WithLabelValues(network, method).Inc()
	}
}

func (m *Metrics) RecordProviderFailure(network string) {
	if m == nil {
		return
	}
	m.ProviderFailures.WithLabelValues(network).Inc()
}

func (m *Metrics) ObserveHTTP(method, path, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

func (m *Metrics) SetBreakerState(name string, state float64) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(state)
}

func (m *Metrics) RecordBreakerRequest(name string, err error) {
	if m == nil {
		return
	}
	m.CircuitBreakerRequests.WithLabelValues(name, result(err)).Inc()
}

// RecordWorkerTick counts a tick outcome (processed, idle, skipped, error) and its duration.
func (m *Metrics) RecordWorkerTick(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.WorkerTicks.WithLabelValues(outcome).Inc()
	m.WorkerTickDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordBatchItem(outcome string) {
	if m == nil {
		return
	}
	m.WorkerBatchItems.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetWorkerHeartbeat(t time.Time) {
	if m == nil {
		return
	}
	m.WorkerHeartbeat.Set(float64(t.Unix()))
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
