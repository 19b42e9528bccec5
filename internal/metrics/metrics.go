package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds all Prometheus metric collectors for the peage orchestrator.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Policy decision metrics.
	DecisionsTotal *prometheus.CounterVec

	// Paid call metrics.
	PaymentsTotal       *prometheus.CounterVec
	PaymentAmountUSD    *prometheus.CounterVec
	UpstreamDuration    *prometheus.HistogramVec
	UpstreamErrorsTotal *prometheus.CounterVec

	// Rejection metrics.
	BudgetRejectionsTotal    *prometheus.CounterVec
	RateLimitRejectionsTotal prometheus.Counter

	// Server lifecycle.
	ServerStartTime prometheus.Gauge
}

// New creates and registers all Prometheus metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "peage_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "peage_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path_pattern"}),

		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "peage_policy_decisions_total",
			Help: "Total number of policy decisions by outcome and reason code.",
		}, []string{"decision", "code"}),

		PaymentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "peage_payments_total",
			Help: "Total number of executed paid calls by settlement status.",
		}, []string{"agent_id", "status"}),

		PaymentAmountUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "peage_payment_amount_usd_total",
			Help: "Cumulative settled USD amount per agent.",
		}, []string{"agent_id"}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "peage_upstream_duration_seconds",
			Help:    "Paid call upstream duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"agent_id"}),

		UpstreamErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "peage_upstream_errors_total",
			Help: "Total number of upstream request errors by error type.",
		}, []string{"error_type", "agent_id"}),

		BudgetRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "peage_budget_rejections_total",
			Help: "Total number of budget rejections by scope.",
		}, []string{"scope"}),

		RateLimitRejectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "peage_ratelimit_rejections_total",
			Help: "Total number of rate limit rejections.",
		}),

		ServerStartTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "peage_server_start_time_seconds",
			Help: "Unix timestamp when the server started.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.DecisionsTotal,
		m.PaymentsTotal,
		m.PaymentAmountUSD,
		m.UpstreamDuration,
		m.UpstreamErrorsTotal,
		m.BudgetRejectionsTotal,
		m.RateLimitRejectionsTotal,
		m.ServerStartTime,
	)

	m.ServerStartTime.Set(float64(time.Now().Unix()))

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry returns the private Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterDBPoolCollector registers a custom DB pool stats collector.
func (m *Metrics) RegisterDBPoolCollector(statFunc DBPoolStatFunc) {
	m.registry.MustRegister(NewDBPoolCollector(statFunc))
}

// IncHTTPRequest increments the HTTP request counter.
func (m *Metrics) IncHTTPRequest(method, pathPattern string, statusCode int) {
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, fmt.Sprintf("%d", statusCode)).Inc()
}

// ObserveHTTPDuration records an HTTP request duration.
func (m *Metrics) ObserveHTTPDuration(method, pathPattern string, seconds float64) {
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(seconds)
}

// IncDecision increments the policy decision counter.
func (m *Metrics) IncDecision(decision, code string) {
	m.DecisionsTotal.WithLabelValues(decision, code).Inc()
}

// RecordPayment records one executed paid call.
func (m *Metrics) RecordPayment(agentID string, amountUSD float64, success bool, seconds float64) {
	status := "failed"
	if success {
		status = "settled"
		m.PaymentAmountUSD.WithLabelValues(agentID).Add(amountUSD)
	}
	m.PaymentsTotal.WithLabelValues(agentID, status).Inc()
	m.UpstreamDuration.WithLabelValues(agentID).Observe(seconds)
}

// IncUpstreamError increments the upstream error counter.
func (m *Metrics) IncUpstreamError(errorType, agentID string) {
	m.UpstreamErrorsTotal.WithLabelValues(errorType, agentID).Inc()
}

// IncBudgetRejection increments the budget rejection counter for a scope
// ("session" or "daily").
func (m *Metrics) IncBudgetRejection(scope string) {
	m.BudgetRejectionsTotal.WithLabelValues(scope).Inc()
}

// IncRateLimitRejection increments the rate limit rejection counter.
func (m *Metrics) IncRateLimitRejection() {
	m.RateLimitRejectionsTotal.Inc()
}
