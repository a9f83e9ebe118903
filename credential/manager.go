// Package credential owns the two-tier token pair used for outbound calls:
// a long-lived refresh credential extracted out of band from the running
// client, and a short-lived API credential exchanged for it over HTTP.
//
// Manager.Ensure is the single entry point. Concurrent callers share one
// in-flight refresh, and a cached API credential that is still valid for
// the configured margin is returned without any I/O.
package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/onnwee/teams-classbot/telemetry"
)

// ErrCredentialUnavailable is returned when extraction or exchange fails.
var ErrCredentialUnavailable = errors.New("credential unavailable")

const (
	DefaultMargin         = 60 * time.Second
	DefaultExtractTimeout = 5 * time.Second
	defaultRefreshTimeout = 30 * time.Second

	flightKey = "credential"
)

// Credential is a bearer token with an absolute expiry (second precision).
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// FromEpoch builds a Credential expiring at the given unix second.
func FromEpoch(token string, expiresAt int64) Credential {
	return Credential{Token: token, ExpiresAt: time.Unix(expiresAt, 0)}
}

// ValidAt reports whether the credential is still usable for at least margin after now.
func (c Credential) ValidAt(now time.Time, margin time.Duration) bool {
	return c.Token != "" && c.ExpiresAt.Sub(now) >= margin
}

// Masked returns the token tail suitable for logs.
func (c Credential) Masked() string {
	if len(c.Token) <= 6 {
		return "***"
	}
	return "***" + c.Token[len(c.Token)-6:]
}

// Extractor obtains a fresh refresh credential from the running client.
type Extractor interface {
	Extract(ctx context.Context) (Credential, error)
}

// Exchanger trades a refresh credential for an API credential.
type Exchanger interface {
	Exchange(ctx context.Context, refresh Credential) (Credential, error)
}

// Options configures a Manager.
type Options struct {
	Extractor Extractor
	Exchanger Exchanger
	// Margin is the minimum remaining lifetime for a cached credential to be reused.
	Margin time.Duration
	// ExtractTimeout bounds the out-of-band extraction round trip.
	ExtractTimeout time.Duration
	// RefreshTimeout bounds a whole refresh (extraction plus exchange).
	RefreshTimeout time.Duration
	Now            func() time.Time
	Logger         *slog.Logger
}

// Manager holds the credential pair. No other component mutates it.
type Manager struct {
	extractor      Extractor
	exchanger      Exchanger
	margin         time.Duration
	extractTimeout time.Duration
	refreshTimeout time.Duration
	now            func() time.Time
	logger         *slog.Logger

	mu       sync.Mutex
	refresh  Credential
	api      Credential
	inflight bool

	group singleflight.Group
}

// NewManager returns a Manager with defaults applied.
func NewManager(opts Options) *Manager {
	m := &Manager{
		extractor:      opts.Extractor,
		exchanger:      opts.Exchanger,
		margin:         opts.Margin,
		extractTimeout: opts.ExtractTimeout,
		refreshTimeout: opts.RefreshTimeout,
		now:            opts.Now,
		logger:         opts.Logger,
	}
	if m.margin <= 0 {
		m.margin = DefaultMargin
	}
	if m.extractTimeout <= 0 {
		m.extractTimeout = DefaultExtractTimeout
	}
	if m.refreshTimeout <= 0 {
		m.refreshTimeout = defaultRefreshTimeout
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With(slog.String("component", "credential"))
	return m
}

// Ensure returns a valid API credential, refreshing it when needed.
//
// The refresh runs detached from the first caller's cancellation so that
// one impatient caller cannot fail the others; each caller's ctx still
// bounds its own wait.
func (m *Manager) Ensure(ctx context.Context) (Credential, error) {
	m.mu.Lock()
	if !m.inflight && m.api.ValidAt(m.now(), m.margin) {
		c := m.api
		m.mu.Unlock()
		return c, nil
	}
	m.mu.Unlock()
	return m.join(ctx, false)
}

// Renew refreshes the API credential even when the cached one is still
// valid. It shares the in-flight refresh with Ensure.
func (m *Manager) Renew(ctx context.Context) (Credential, error) {
	return m.join(ctx, true)
}

// Reextract drops the refresh credential and runs a full refresh, so the
// next token comes out of the client as it is now. Used after the client
// connection is re-established, when a restarted client may have rotated it.
func (m *Manager) Reextract(ctx context.Context) (Credential, error) {
	m.mu.Lock()
	m.refresh = Credential{}
	m.mu.Unlock()
	return m.join(ctx, true)
}

func (m *Manager) join(ctx context.Context, force bool) (Credential, error) {
	ch := m.group.DoChan(flightKey, func() (any, error) {
		return m.refreshPair(context.WithoutCancel(ctx), force)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return Credential{}, res.Err
		}
		return res.Val.(Credential), nil
	case <-ctx.Done():
		return Credential{}, fmt.Errorf("%w: %w", ErrCredentialUnavailable, ctx.Err())
	}
}

func (m *Manager) refreshPair(ctx context.Context, force bool) (Credential, error) {
	m.setInflight(true)
	defer m.setInflight(false)

	ctx, cancel := context.WithTimeout(ctx, m.refreshTimeout)
	defer cancel()

	ctx, span := telemetry.StartSpan(ctx, "credential", "credential.refresh", attribute.Bool("force", force))
	defer span.End()

	c, err := m.doRefresh(ctx, force)
	if err != nil {
		telemetry.RecordError(span, err)
		return Credential{}, err
	}
	telemetry.SetSpanSuccess(span)
	return c, nil
}

func (m *Manager) doRefresh(ctx context.Context, force bool) (Credential, error) {
	m.mu.Lock()
	api, refresh := m.api, m.refresh
	m.mu.Unlock()

	// A refresh may have completed between the caller's check and this call.
	if !force && api.ValidAt(m.now(), m.margin) {
		return api, nil
	}

	if !refresh.ValidAt(m.now(), m.margin) {
		r, err := m.extract(ctx)
		telemetry.IncCredentialRefresh("extract", err)
		if err != nil {
			m.logger.Warn("refresh credential extraction failed", slog.Any("err", err))
			return Credential{}, fmt.Errorf("%w: extract refresh credential: %w", ErrCredentialUnavailable, err)
		}
		if !r.ValidAt(m.now(), m.margin) {
			telemetry.IncCredentialRefresh("validate", errors.New("expired"))
			return Credential{}, fmt.Errorf("%w: extracted refresh credential expires at %s", ErrCredentialUnavailable, r.ExpiresAt.UTC().Format(time.RFC3339))
		}
		m.mu.Lock()
		m.refresh = r
		m.mu.Unlock()
		refresh = r
		m.logger.Info("refresh credential extracted", slog.String("tail", r.Masked()), slog.Time("expires_at", r.ExpiresAt))
	}

	a, err := m.exchanger.Exchange(ctx, refresh)
	telemetry.IncCredentialRefresh("exchange", err)
	if err != nil {
		m.logger.Warn("api credential exchange failed", slog.Any("err", err))
		return Credential{}, fmt.Errorf("%w: exchange: %w", ErrCredentialUnavailable, err)
	}
	m.mu.Lock()
	m.api = a
	m.mu.Unlock()
	m.logger.Info("api credential acquired", slog.String("tail", a.Masked()), slog.Time("expires_at", a.ExpiresAt))
	return a, nil
}

// extract races the extractor against ExtractTimeout. A late result is
// dropped; the underlying round trip cannot be aborted.
func (m *Manager) extract(ctx context.Context) (Credential, error) {
	if m.extractor == nil {
		return Credential{}, errors.New("no extractor configured")
	}
	ctx, cancel := context.WithTimeout(ctx, m.extractTimeout)
	defer cancel()

	type result struct {
		c   Credential
		err error
	}
	done := make(chan result, 1)
	go func() {
		c, err := m.extractor.Extract(ctx)
		done <- result{c, err}
	}()
	select {
	case r := <-done:
		return r.c, r.err
	case <-ctx.Done():
		return Credential{}, fmt.Errorf("extraction timed out after %s: %w", m.extractTimeout, ctx.Err())
	}
}

func (m *Manager) setInflight(v bool) {
	m.mu.Lock()
	m.inflight = v
	m.mu.Unlock()
}

// Invalidate drops the cached API credential so the next Ensure exchanges
// a new one. The refresh credential is kept.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.api = Credential{}
	m.mu.Unlock()
}

// Status is a token-free view of the credential pair.
type Status struct {
	RefreshExpiresAt time.Time `json:"refresh_expires_at,omitzero"`
	APIExpiresAt     time.Time `json:"api_expires_at,omitzero"`
	APIValid         bool      `json:"api_valid"`
	Refreshing       bool      `json:"refreshing"`
}

// Snapshot reports expiry times without exposing tokens.
func (m *Manager) Snapshot() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		RefreshExpiresAt: m.refresh.ExpiresAt,
		APIExpiresAt:     m.api.ExpiresAt,
		APIValid:         m.api.ValidAt(m.now(), m.margin),
		Refreshing:       m.inflight,
	}
}

// ExpiresWithin reports whether the API credential is missing or expires within d.
func (m *Manager) ExpiresWithin(d time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.api.ValidAt(m.now(), d)
}
