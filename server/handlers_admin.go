package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/teams-classbot/credential"
	"github.com/onnwee/teams-classbot/gateway"
	"github.com/onnwee/teams-classbot/telemetry"
)

// HandleAdminCredentialRefresh forces a new API credential exchange.
func (h *Handlers) HandleAdminCredentialRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	c, err := h.provider.RenewCredential(r.Context())
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Warn("admin credential refresh failed", slog.Any("err", err))
		writeJSON(w, http.StatusBadGateway, map[string]string{"status": "error", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "expires_at": c.ExpiresAt.UTC()})
}

type sendRequest struct {
	Channel string `json:"channel"`
	HTML    string `json:"html"`
}

// HandleAdminSend posts a message on behalf of an operator.
func (h *Handlers) HandleAdminSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req sendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.Channel == "" || req.HTML == "" {
		http.Error(w, "channel and html are required", http.StatusBadRequest)
		return
	}
	sent, err := h.provider.SendMessage(r.Context(), req.Channel, req.HTML)
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Warn("admin send failed", slog.String("channel", req.Channel), slog.Any("err", err))
		writeJSON(w, statusFor(err), map[string]string{"status": "error", "class": gateway.Classify(err).String(), "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, sent)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, credential.ErrCredentialUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, gateway.ErrRequestTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
