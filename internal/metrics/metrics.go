package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "d2d_build_info",
			Help: "Build information of the d2d client",
		},
		[]string{"version", "commit"},
	)

	BackendRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "d2d_backend_requests_total",
			Help: "Total number of deployment backend requests",
		},
		[]string{"endpoint", "status"},
	)

	BackendRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "d2d_backend_request_duration_seconds",
			Help:    "Duration of deployment backend requests in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
		[]string{"endpoint"},
	)

	PaymentSubmitAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "d2d_payment_submit_attempts_total",
			Help: "Total number of signed payment submission attempts",
		},
		[]string{"result"},
	)

	PaymentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "d2d_payments_total",
			Help: "Total number of payment outcomes by kind",
		},
		[]string{"outcome"},
	)

	PhaseTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "d2d_orchestrator_phase_transitions_total",
			Help: "Total number of orchestrator phase transitions",
		},
		[]string{"to"},
	)

	JobPollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "d2d_job_polls_total",
			Help: "Total number of job status fetches by result",
		},
		[]string{"kind", "result"},
	)

	JobTerminalTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "d2d_job_terminal_total",
			Help: "Total number of observed terminal job transitions",
		},
		[]string{"status"},
	)

	PollersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "d2d_job_pollers_active",
			Help: "Number of job status pollers currently running",
		},
	)
)
