// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	BackfillsStarted   prometheus.Counter
	BackfillsCompleted prometheus.Counter
	BackfillsFailed    prometheus.Counter
	PagesFetched       prometheus.Counter
	MessagesDelivered  prometheus.Counter
	LiveEvents         prometheus.Counter
	EventsDropped      prometheus.Counter

	// Histograms (seconds)
	BackfillDuration prometheus.Observer

	// Gauges
	ActiveSessionsGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		BackfillsStarted = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_backfills_started_total", Help: "Number of room backfills started"})
		BackfillsCompleted = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_backfills_completed_total", Help: "Number of room backfills that drained to completion"})
		BackfillsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_backfills_failed_total", Help: "Number of room backfills stalled by a fetch error"})
		PagesFetched = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_pages_fetched_total", Help: "Number of history pages fetched"})
		MessagesDelivered = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_messages_delivered_total", Help: "Number of messages delivered to conversation views"})
		LiveEvents = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_live_events_total", Help: "Number of push events received on room channels"})
		EventsDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_events_dropped_total", Help: "Number of events or records dropped for missing fields"})
		BackfillDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chat_backfill_duration_seconds", Help: "Backfill duration seconds", Buckets: prometheus.DefBuckets})
		ActiveSessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "chat_active_sessions", Help: "Current number of joined rooms"})
	})
}

// SessionOpened bumps the active-session gauge.
func SessionOpened() {
	if ActiveSessionsGauge != nil {
		ActiveSessionsGauge.Inc()
	}
}

// SessionClosed drops the active-session gauge.
func SessionClosed() {
	if ActiveSessionsGauge != nil {
		ActiveSessionsGauge.Dec()
	}
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
