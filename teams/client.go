// Package teams wires the capture pipeline and the outbound gateway into a
// single client: frames captured from the running chat client flow through
// the decoder, classifier and meeting correlator into typed events, while
// SendMessage and EditMessage go out through the credential-backed gateway.
package teams

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/teams-classbot/cdp"
	"github.com/onnwee/teams-classbot/config"
	"github.com/onnwee/teams-classbot/credential"
	"github.com/onnwee/teams-classbot/discovery"
	"github.com/onnwee/teams-classbot/envelope"
	"github.com/onnwee/teams-classbot/events"
	"github.com/onnwee/teams-classbot/frame"
	"github.com/onnwee/teams-classbot/gateway"
	"github.com/onnwee/teams-classbot/meeting"
	"github.com/onnwee/teams-classbot/telemetry"
)

const refreshWindow = 5 * time.Minute

// Client is the bot-facing surface. Event handlers are registered through
// the embedded Dispatcher before Run is called.
type Client struct {
	*events.Dispatcher

	cfg        *config.Config
	logger     *slog.Logger
	now        func() time.Time
	httpClient *http.Client

	discovery  *discovery.Client
	session    *cdp.Session
	decoder    frame.Decoder
	correlator *meeting.Correlator
	classifier *envelope.Classifier
	creds      *credential.Manager
	gateway    *gateway.Gateway
	frames     *frameQueue
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

// WithClock replaces time.Now for correlation and credential expiry.
func WithClock(now func() time.Time) Option { return func(c *Client) { c.now = now } }

// WithHTTPClient sets the client used for discovery, exchange and gateway calls.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.httpClient = hc } }

// New builds a Client from cfg. Nothing connects until Run.
func New(cfg *config.Config, opts ...Option) *Client {
	c := &Client{cfg: cfg, logger: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}

	c.Dispatcher = events.NewDispatcher(c.logger)
	c.frames = newFrameQueue()
	c.decoder = DecoderFor(cfg)
	c.correlator = meeting.NewCorrelator(cfg.MeetingWindow, c.now, c.logger)
	c.classifier = envelope.NewClassifier(c.correlator, cfg.BotIDPrefix, c.logger)
	c.discovery = &discovery.Client{BaseURL: cfg.DiscoveryURL, HTTPClient: c.httpClient}

	c.session = cdp.NewSession(cdp.Options{
		Resolve: func(ctx context.Context) (string, error) {
			return c.discovery.Resolve(ctx, cfg.TargetType, cfg.TargetURLMarker)
		},
		WarmupDelay: cfg.WarmupDelay,
		MaxBackoff:  cfg.ReconnectMaxBackoff,
		OnReady:     c.onReady,
		OnFrame:     c.frames.push,
		Logger:      c.logger,
	})

	c.creds = credential.NewManager(credential.Options{
		Extractor:      &cdp.TokenExtractor{Session: c.session, Expression: cfg.TokenExpression},
		Exchanger:      &credential.HTTPExchanger{URL: cfg.AuthzURL, HTTPClient: c.httpClient, Now: c.now},
		Margin:         cfg.CredentialMargin,
		ExtractTimeout: cfg.ExtractTimeout,
		Now:            c.now,
		Logger:         c.logger,
	})
	c.gateway = gateway.New(gateway.Options{
		BaseURL:     cfg.ChatServiceURL,
		Credentials: c.creds,
		HTTPClient:  c.httpClient,
		Timeout:     cfg.APITimeout,
		Logger:      c.logger,
	})
	return c
}

// DecoderFor builds the frame decoder from the FRAME_* settings, keeping defaults for unset fields.
func DecoderFor(cfg *config.Config) frame.Decoder {
	d := frame.DefaultDecoder()
	if len(cfg.FrameMarker) == 1 {
		d.Marker = cfg.FrameMarker[0]
	}
	if len(cfg.FrameDelimiter) == 1 {
		d.Delimiter = cfg.FrameDelimiter[0]
	}
	if cfg.FrameDelimiterCount > 0 {
		d.DelimiterCount = cfg.FrameDelimiterCount
	}
	if cfg.FrameBodyField != "" {
		d.BodyField = cfg.FrameBodyField
	}
	return d
}

// Run keeps the session connected and the credential fresh until ctx is done.
// Handlers run on a single event goroutine in frame order; a handler may call
// back into the Client (SendMessage included) while later frames queue up.
func (c *Client) Run(ctx context.Context) error {
	credential.StartRefresher(ctx, c.creds, c.cfg.CredentialCheckInterval, refreshWindow)
	go c.processFrames(ctx)
	return c.session.Run(ctx)
}

// onReady pulls a fresh refresh credential out of the client each time the
// worker has warmed up, first connect and reconnects alike.
func (c *Client) onReady(ctx context.Context) {
	if _, err := c.creds.Reextract(ctx); err != nil {
		c.logger.Warn("credential extraction after connect failed", slog.Any("err", err))
	}
}

// processFrames drains the frame queue. The session's read goroutine only
// enqueues, so replies to calls made from event handlers keep arriving.
func (c *Client) processFrames(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.frames.ready:
		}
		for {
			raw, ok := c.frames.pop()
			if !ok {
				break
			}
			c.handleFrame(raw)
		}
	}
}

func (c *Client) handleFrame(raw string) {
	telemetry.IncFrame()
	env, ok, err := c.decoder.Decode(raw)
	if err != nil {
		telemetry.IncDiscarded("malformed")
		c.logger.Debug("discarding malformed frame", slog.Any("err", err), slog.Int("len", len(raw)))
		return
	}
	if !ok {
		telemetry.IncDiscarded("not_payload")
		return
	}
	ev, ok := c.classifier.Classify(env)
	c.correlator.Sweep()
	telemetry.SetPendingMeetings(c.correlator.Pending())
	if !ok {
		telemetry.IncDiscarded("unclassified")
		return
	}
	telemetry.IncEvent(ev.Kind().String())
	c.Emit(ev)
}

// SendMessage posts html to channelID.
func (c *Client) SendMessage(ctx context.Context, channelID, html string) (gateway.SentMessage, error) {
	return c.gateway.SendMessage(ctx, channelID, html)
}

// EditMessage replaces the content of a message previously sent.
func (c *Client) EditMessage(ctx context.Context, channelID, messageID, clientMessageID, html string) error {
	return c.gateway.EditMessage(ctx, channelID, messageID, clientMessageID, html)
}

// EnsureCredential returns a valid API credential.
func (c *Client) EnsureCredential(ctx context.Context) (credential.Credential, error) {
	return c.creds.Ensure(ctx)
}

// RenewCredential exchanges a new API credential even if the cached one is valid.
func (c *Client) RenewCredential(ctx context.Context) (credential.Credential, error) {
	return c.creds.Renew(ctx)
}

// Status is a point-in-time view for health endpoints.
type Status struct {
	Session         string            `json:"session"`
	Connected       bool              `json:"connected"`
	PendingMeetings int               `json:"pending_meetings"`
	QueuedFrames    int               `json:"queued_frames"`
	Credential      credential.Status `json:"credential"`
}

// Status reports connection and credential state.
func (c *Client) Status() Status {
	st := c.session.State()
	return Status{
		Session:         st.String(),
		Connected:       st == cdp.Ready,
		PendingMeetings: c.correlator.Pending(),
		QueuedFrames:    c.frames.size(),
		Credential:      c.creds.Snapshot(),
	}
}

// Ready reports whether the session is connected and a credential is held.
func (c *Client) Ready() bool {
	st := c.Status()
	return st.Connected && st.Credential.APIValid
}
