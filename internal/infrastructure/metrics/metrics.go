package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Ledger operation metrics
	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	OperationAmount   *prometheus.HistogramVec
	ConflictRetries   *prometheus.CounterVec
	Compensations     *prometheus.CounterVec
	DoubleFaults      *prometheus.CounterVec

	// Confirmation metrics
	ConfirmationEvents *prometheus.CounterVec
	DeadLettered       *prometheus.CounterVec

	// Outbox metrics
	OutboxPublished prometheus.Counter
	OutboxFailures  prometheus.Counter

	// API metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
	HTTPInFlight prometheus.Gauge

	// Cache metrics
	CacheLookups *prometheus.CounterVec

	// Authentication metrics
	AuthFailures *prometheus.CounterVec

	// Rate limiting metrics
	RateLimitHits *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics on the default registerer.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates all metrics on reg.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Ledger operation metrics
		Operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptoledger_operations_total",
				Help: "Total ledger operations by operation and outcome code",
			},
			[]string{"operation", "outcome"},
		),
		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cryptoledger_operation_duration_seconds",
				Help:    "Duration of ledger operations including retries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		OperationAmount: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cryptoledger_operation_amount",
				Help:    "Amounts of successful ledger operations",
				Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1, 10, 100, 1000, 10000},
			},
			[]string{"operation", "currency"},
		),
		ConflictRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptoledger_conflict_retries_total",
				Help: "Attempts repeated after a transient write conflict",
			},
			[]string{"operation"},
		),
		Compensations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptoledger_compensations_total",
				Help: "Reservations released after a failed settlement",
			},
			[]string{"operation"},
		),
		DoubleFaults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptoledger_compensation_failures_total",
				Help: "Compensations that failed and need manual reconciliation",
			},
			[]string{"operation"},
		),

		// Confirmation metrics
		ConfirmationEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptoledger_confirmation_events_total",
				Help: "Confirmation events processed by kind and outcome code",
			},
			[]string{"kind", "outcome"},
		),
		DeadLettered: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptoledger_dead_lettered_total",
				Help: "Messages routed to the dead letter topic",
			},
			[]string{"reason"},
		),

		// Outbox metrics
		OutboxPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "cryptoledger_outbox_published_total",
			Help: "Outbox events published",
		}),
		OutboxFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "cryptoledger_outbox_failures_total",
			Help: "Outbox events that failed to publish",
		}),

		// API metrics
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptoledger_http_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cryptoledger_http_duration_seconds",
				Help:    "HTTP request duration",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cryptoledger_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		}),

		// Cache metrics
		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptoledger_cache_lookups_total",
				Help: "Balance cache lookups by result",
			},
			[]string{"result"},
		),

		// Authentication metrics
		AuthFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptoledger_auth_failures_total",
				Help: "Total authentication failures",
			},
			[]string{"reason"},
		),

		// Rate limiting metrics
		RateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptoledger_rate_limit_hits_total",
				Help: "Requests rejected by the rate limiter",
			},
			[]string{"operation"},
		),
	}
}
