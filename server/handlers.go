package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/onnwee/teams-classbot/credential"
	"github.com/onnwee/teams-classbot/gateway"
	"github.com/onnwee/teams-classbot/teams"
)

// Provider is the part of the client the HTTP surface reads and drives.
type Provider interface {
	Status() teams.Status
	Ready() bool
	RenewCredential(ctx context.Context) (credential.Credential, error)
	SendMessage(ctx context.Context, channelID, html string) (gateway.SentMessage, error)
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	provider Provider
	started  time.Time
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(provider Provider) *Handlers {
	return &Handlers{provider: provider, started: time.Now()}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // client went away
}
