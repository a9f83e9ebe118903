package server

import (
	"errors"
	"net/http"
	"time"
)

// HandleHealthz responds to liveness probes. The process is alive as long as
// it can answer.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz reports ready once the debugger session is connected and an
// API credential is held.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	st := h.provider.Status()
	checks := []struct {
		name string
		fn   func() error
	}{
		{"session", func() error {
			if !st.Connected {
				return errors.New("session " + st.Session)
			}
			return nil
		}},
		{"credential", func() error {
			if !st.Credential.APIValid {
				return errors.New("no valid api credential")
			}
			return nil
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// HandleStatus returns the client snapshot plus process uptime.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"client":         h.provider.Status(),
		"ready":          h.provider.Ready(),
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	})
}
