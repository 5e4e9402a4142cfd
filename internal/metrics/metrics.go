package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "huddle_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	RoomsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_rooms_created_total",
			Help: "Total rooms created",
		},
		[]string{"type"}, // "direct", "group" or "team"
	)

	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_messages_sent_total",
			Help: "Total messages sent",
		},
		[]string{"kind"}, // "root" or "reply"
	)

	MessagesDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "huddle_messages_deleted_total",
			Help: "Total messages deleted",
		},
	)

	ReactionsToggled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_reactions_toggled_total",
			Help: "Total reaction add/remove operations",
		},
		[]string{"op"}, // "add" or "remove"
	)

	ReceiptsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "huddle_read_receipts_written_total",
			Help: "Total read-receipt batch writes",
		},
	)

	TypingSignals = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "huddle_typing_signals_total",
			Help: "Total typing set/clear signals",
		},
	)

	SearchQueries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "huddle_search_queries_total",
			Help: "Total search queries",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)
)
