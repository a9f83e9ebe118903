package credential

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// StartRefresher launches a goroutine that periodically checks the API
// credential and renews it when it expires within
// window, so an idle bot still holds a usable credential.
// interval: how often to wake up and check.
// window: refresh when remaining lifetime <= window.
func StartRefresher(ctx context.Context, mgr *Manager, interval, window time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	go func() {
		for {
			// Per-iteration jitter (±20% of interval) so several bots do not refresh in lockstep.
			jitterRange := int64(interval / 5)
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
			jitter := time.Duration(rand.Int63n(jitterRange*2+1) - jitterRange)
			select {
			case <-ctx.Done():
				return
			case <-time.After(interval + jitter):
			}
			if !mgr.ExpiresWithin(window) {
				continue
			}
			ctx2, cancel := context.WithTimeout(ctx, 30*time.Second)
			_, err := mgr.Renew(ctx2)
			cancel()
			if err != nil {
				slog.Warn("background credential refresh failed", slog.Any("err", err))
				continue
			}
			slog.Debug("background credential refresh done")
		}
	}()
}
