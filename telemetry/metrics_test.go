package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsInitialized(t *testing.T) {
	// Ensure Init is called
	Init()
	Init()

	if FramesReceived == nil || FramesDiscarded == nil || EventsEmitted == nil {
		t.Error("frame/event counters not initialized")
	}
	if CredentialRefreshes == nil || APIRequests == nil || APIRequestDuration == nil {
		t.Error("credential/api metrics not initialized")
	}
	if PendingMeetingsGauge == nil || SessionConnectedGauge == nil {
		t.Error("gauges not initialized")
	}
}

func TestCounterHelpers(t *testing.T) {
	Init()

	before := promtest.ToFloat64(EventsEmitted.WithLabelValues("NEW_MEETING"))
	IncEvent("NEW_MEETING")
	if got := promtest.ToFloat64(EventsEmitted.WithLabelValues("NEW_MEETING")); got != before+1 {
		t.Errorf("events counter = %v, want %v", got, before+1)
	}

	beforeErr := promtest.ToFloat64(CredentialRefreshes.WithLabelValues("extract", "error"))
	IncCredentialRefresh("extract", errors.New("timeout"))
	if got := promtest.ToFloat64(CredentialRefreshes.WithLabelValues("extract", "error")); got != beforeErr+1 {
		t.Errorf("credential error counter = %v, want %v", got, beforeErr+1)
	}

	beforeAPI := promtest.ToFloat64(APIRequests.WithLabelValues("send", "ok"))
	ObserveAPIRequest("send", "ok", 120*time.Millisecond)
	if got := promtest.ToFloat64(APIRequests.WithLabelValues("send", "ok")); got != beforeAPI+1 {
		t.Errorf("api counter = %v, want %v", got, beforeAPI+1)
	}

	IncFrame()
	IncDiscarded("malformed")
	IncReconnect()
}

func TestGauges(t *testing.T) {
	Init()

	SetSessionConnected(true)
	if got := promtest.ToFloat64(SessionConnectedGauge); got != 1 {
		t.Errorf("connected gauge = %v, want 1", got)
	}
	SetSessionConnected(false)
	if got := promtest.ToFloat64(SessionConnectedGauge); got != 0 {
		t.Errorf("connected gauge = %v, want 0", got)
	}

	for _, n := range []int{0, 3, 10} {
		SetPendingMeetings(n)
		if got := promtest.ToFloat64(PendingMeetingsGauge); got != float64(n) {
			t.Errorf("pending gauge = %v, want %d", got, n)
		}
	}
}

func TestCorrelation(t *testing.T) {
	ctx := context.Background()
	if GetCorrelation(ctx) != "" {
		t.Error("expected empty correlation id")
	}
	ctx = WithCorrelation(ctx, "abc-123")
	if got := GetCorrelation(ctx); got != "abc-123" {
		t.Errorf("GetCorrelation() = %q, want abc-123", got)
	}
	if LoggerWithCorr(ctx) == nil {
		t.Error("LoggerWithCorr returned nil")
	}
}
