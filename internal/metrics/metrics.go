package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics
	LinesRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "microbit_lines_read_total",
			Help: "Total transport lines read",
		},
	)

	RecordsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "microbit_records_completed_total",
			Help: "Total records handed to the distribution channel",
		},
		[]string{"source"}, // "serial", "pty", "stdin" or "web"
	)

	PendingAuthors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "microbit_pending_authors",
			Help: "Authors with an unterminated continuation sequence",
		},
	)

	SendFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "microbit_send_failures_total",
			Help: "Total failed sends to the distribution channel",
		},
		[]string{"source"},
	)

	// Sink metrics
	SinkMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "microbit_sink_messages_total",
			Help: "Total messages consumed per sink",
		},
		[]string{"sink"},
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "microbit_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "microbit_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method"},
	)
)
