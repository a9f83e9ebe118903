// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	FramesReceived      prometheus.Counter
	FramesDiscarded     *prometheus.CounterVec // reason
	EventsEmitted       *prometheus.CounterVec // kind
	CredentialRefreshes *prometheus.CounterVec // stage, result
	APIRequests         *prometheus.CounterVec // op, class
	SessionReconnects   prometheus.Counter

	// Histograms (seconds)
	APIRequestDuration *prometheus.HistogramVec // op

	// Gauges
	PendingMeetingsGauge  prometheus.Gauge
	SessionConnectedGauge prometheus.Gauge // 1=connected,0=not
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		FramesReceived = promauto.NewCounter(prometheus.CounterOpts{Name: "classbot_frames_received_total", Help: "Socket frames captured from the devtools session"})
		FramesDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{Name: "classbot_frames_discarded_total", Help: "Frames dropped before classification"}, []string{"reason"})
		EventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{Name: "classbot_events_emitted_total", Help: "Typed events delivered to subscribers"}, []string{"kind"})
		CredentialRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "classbot_credential_refreshes_total", Help: "Credential extraction and exchange attempts"}, []string{"stage", "result"})
		APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{Name: "classbot_api_requests_total", Help: "Outbound chat service calls by outcome"}, []string{"op", "class"})
		SessionReconnects = promauto.NewCounter(prometheus.CounterOpts{Name: "classbot_session_reconnects_total", Help: "Devtools socket reconnect attempts"})
		APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "classbot_api_request_duration_seconds", Help: "Outbound chat service call duration seconds", Buckets: prometheus.DefBuckets}, []string{"op"})
		PendingMeetingsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "classbot_pending_meetings", Help: "Meetings waiting for call detail"})
		SessionConnectedGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "classbot_session_connected", Help: "Devtools session connected=1 disconnected=0"})
	})
}

// IncFrame counts one captured frame.
func IncFrame() {
	if FramesReceived != nil {
		FramesReceived.Inc()
	}
}

// IncDiscarded counts a frame dropped for reason (e.g. "malformed").
func IncDiscarded(reason string) {
	if FramesDiscarded != nil {
		FramesDiscarded.WithLabelValues(reason).Inc()
	}
}

// IncEvent counts one emitted event of the given kind.
func IncEvent(kind string) {
	if EventsEmitted != nil {
		EventsEmitted.WithLabelValues(kind).Inc()
	}
}

// IncCredentialRefresh records one extraction or exchange outcome.
func IncCredentialRefresh(stage string, err error) {
	if CredentialRefreshes == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	CredentialRefreshes.WithLabelValues(stage, result).Inc()
}

// ObserveAPIRequest records an outbound call's outcome class and duration.
func ObserveAPIRequest(op, class string, d time.Duration) {
	if APIRequests != nil {
		APIRequests.WithLabelValues(op, class).Inc()
	}
	if APIRequestDuration != nil {
		APIRequestDuration.WithLabelValues(op).Observe(d.Seconds())
	}
}

// IncReconnect counts a reconnect attempt.
func IncReconnect() {
	if SessionReconnects != nil {
		SessionReconnects.Inc()
	}
}

// SetSessionConnected sets gauge to 1 if connected else 0.
func SetSessionConnected(connected bool) {
	if SessionConnectedGauge != nil {
		if connected {
			SessionConnectedGauge.Set(1)
		} else {
			SessionConnectedGauge.Set(0)
		}
	}
}

// SetPendingMeetings records the current number of pending meetings.
func SetPendingMeetings(n int) {
	if PendingMeetingsGauge != nil {
		PendingMeetingsGauge.Set(float64(n))
	}
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
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
