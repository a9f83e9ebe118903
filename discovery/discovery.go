// Package discovery lists the debuggable targets exposed by a running client
// on its remote debugging port.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

const (
	DefaultBaseURL = "http://127.0.0.1:9222"
	DefaultType    = "shared_worker"
	DefaultMarker  = "trouter"
)

// ErrNoTarget is returned when no listed target matches.
var ErrNoTarget = errors.New("discovery: no matching target")

// Target is one entry of the /json/list response.
type Target struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// Client queries the discovery endpoint.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// List returns every debuggable target.
func (c *Client) List(ctx context.Context) ([]Target, error) {
	base := strings.TrimRight(c.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/json/list", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512)) //nolint:errcheck // best-effort error detail
		return nil, fmt.Errorf("discovery: list targets: %s: %s", resp.Status, string(b))
	}
	var targets []Target
	if err := json.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return nil, fmt.Errorf("discovery: decode targets: %w", err)
	}
	return targets, nil
}

// Select picks the first target of type typ whose url contains marker.
func Select(targets []Target, typ, marker string) (Target, bool) {
	for _, t := range targets {
		if t.Type == typ && strings.Contains(t.URL, marker) && t.WebSocketDebuggerURL != "" {
			return t, true
		}
	}
	return Target{}, false
}

// Resolve returns the debugger socket URL of the matching target.
func (c *Client) Resolve(ctx context.Context, typ, marker string) (string, error) {
	targets, err := c.List(ctx)
	if err != nil {
		return "", err
	}
	t, ok := Select(targets, typ, marker)
	if !ok {
		return "", fmt.Errorf("%w: type=%s marker=%s among %d targets", ErrNoTarget, typ, marker, len(targets))
	}
	return t.WebSocketDebuggerURL, nil
}
