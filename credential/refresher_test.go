package credential

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestStartRefresher_RenewsNearExpiry(t *testing.T) {
	clock := newClock()
	var extracts, exchanges atomic.Int32
	ext, exch := countingPair(clock, &extracts, &exchanges)
	m := NewManager(Options{Extractor: ext, Exchanger: exch, Now: clock.Now})

	if _, err := m.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	// Two minutes left: still valid for callers, but inside the refresh window.
	clock.Advance(58 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartRefresher(ctx, m, 10*time.Millisecond, 5*time.Minute)

	deadline := time.Now().Add(2 * time.Second)
	for exchanges.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("refresher did not renew: exchanges=%d", exchanges.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The renewed credential is good for an hour, so the loop goes quiet.
	time.Sleep(50 * time.Millisecond)
	if n := exchanges.Load(); n != 2 {
		t.Errorf("exchanges = %d after renewal, want 2", n)
	}
	if n := extracts.Load(); n != 1 {
		t.Errorf("extracts = %d, want 1 (refresh credential still valid)", n)
	}
	c, err := m.Ensure(context.Background())
	if err != nil || c.Token != "api-token-2" {
		t.Errorf("Ensure() = %+v, %v; want api-token-2", c, err)
	}
}

func TestStartRefresher_StopsOnCancel(t *testing.T) {
	clock := newClock()
	var extracts, exchanges atomic.Int32
	ext, exch := countingPair(clock, &extracts, &exchanges)
	m := NewManager(Options{Extractor: ext, Exchanger: exch, Now: clock.Now})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	StartRefresher(ctx, m, 10*time.Millisecond, 5*time.Minute)
	time.Sleep(50 * time.Millisecond)
	if extracts.Load() != 0 || exchanges.Load() != 0 {
		t.Errorf("cancelled refresher made calls: extracts=%d exchanges=%d", extracts.Load(), exchanges.Load())
	}
}
