// Package gateway issues authenticated calls against the chat service on
// behalf of the bot. Calls are never retried here; callers decide.
package gateway

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/onnwee/teams-classbot/credential"
	"github.com/onnwee/teams-classbot/telemetry"
)

const (
	DefaultBaseURL = "https://teams.microsoft.com/api/chatsvc/amer/v1"
	DefaultTimeout = 4 * time.Second

	messageTypeHTML = "RichText/Html"
	tracerName      = "gateway"
)

// Credentials is the slice of credential.Manager the gateway needs.
type Credentials interface {
	Ensure(ctx context.Context) (credential.Credential, error)
	Invalidate()
}

// Options configures a Gateway.
type Options struct {
	BaseURL     string
	Credentials Credentials
	HTTPClient  *http.Client
	Timeout     time.Duration
	Logger      *slog.Logger
}

// Gateway sends and edits chat messages.
type Gateway struct {
	baseURL string
	creds   Credentials
	hc      *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

// SentMessage identifies a message created by SendMessage.
type SentMessage struct {
	ID              string `json:"id"`
	ClientMessageID string `json:"clientMessageId"`
}

// New returns a Gateway with defaults applied.
func New(opts Options) *Gateway {
	g := &Gateway{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		creds:   opts.Credentials,
		hc:      opts.HTTPClient,
		timeout: opts.Timeout,
		logger:  opts.Logger,
	}
	if g.baseURL == "" {
		g.baseURL = DefaultBaseURL
	}
	if g.hc == nil {
		g.hc = http.DefaultClient
	}
	if g.timeout <= 0 {
		g.timeout = DefaultTimeout
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	g.logger = g.logger.With(slog.String("component", "gateway"))
	return g
}

type messageBody struct {
	Content         string `json:"content"`
	MessageType     string `json:"messagetype"`
	ContentType     string `json:"contenttype"`
	ClientMessageID string `json:"clientmessageid"`
}

// SendMessage posts html to channelID.
func (g *Gateway) SendMessage(ctx context.Context, channelID, html string) (SentMessage, error) {
	if channelID == "" {
		return SentMessage{}, fmt.Errorf("%w: empty channel id", ErrRequestFailed)
	}
	cmid := NewClientMessageID()
	body := messageBody{Content: html, MessageType: messageTypeHTML, ContentType: "text", ClientMessageID: cmid}
	resp, err := g.do(ctx, "send_message", http.MethodPost, channelID, messagesPath(channelID), body)
	if err != nil {
		return SentMessage{}, err
	}
	sent := SentMessage{ID: gjson.GetBytes(resp, "OriginalArrivalTime").String(), ClientMessageID: cmid}
	g.logger.Debug("message sent", slog.String("channel", channelID), slog.String("id", sent.ID), slog.String("client_message_id", cmid))
	return sent, nil
}

// EditMessage replaces the content of an existing message.
func (g *Gateway) EditMessage(ctx context.Context, channelID, messageID, clientMessageID, html string) error {
	if channelID == "" || messageID == "" {
		return fmt.Errorf("%w: empty channel or message id", ErrRequestFailed)
	}
	body := messageBody{Content: html, MessageType: messageTypeHTML, ContentType: "text", ClientMessageID: clientMessageID}
	_, err := g.do(ctx, "edit_message", http.MethodPut, channelID, messagesPath(channelID)+"/"+url.PathEscape(messageID), body)
	return err
}

func messagesPath(channelID string) string {
	return "/users/ME/conversations/" + url.PathEscape(channelID) + "/messages"
}

func (g *Gateway) do(ctx context.Context, op, method, channelID, path string, body any) (out []byte, err error) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, tracerName, "gateway."+op,
		telemetry.HTTPMethodAttr(method), telemetry.ChannelAttr(channelID))
	defer func() {
		telemetry.ObserveAPIRequest(op, Classify(err).String(), time.Since(start))
		if err != nil {
			telemetry.RecordError(span, err)
		} else {
			telemetry.SetSpanSuccess(span)
		}
		span.End()
	}()

	if g.creds == nil {
		return nil, fmt.Errorf("%w: no credential source", credential.ErrCredentialUnavailable)
	}
	cred, err := g.creds.Ensure(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: encode body: %w", ErrRequestFailed, err)
	}
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(callCtx, method, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authentication", "skypetoken="+cred.Token)
	if corr := telemetry.GetCorrelation(ctx); corr != "" {
		req.Header.Set("X-Correlation-ID", corr)
	}

	resp, err := g.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var nerr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &nerr) && nerr.Timeout()) {
			return nil, fmt.Errorf("%w: %s after %s", ErrRequestTimeout, op, g.timeout)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrRequestFailed, op, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			g.logger.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	telemetry.SetSpanHTTPStatus(span, resp.StatusCode)
	out, err = io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		if callCtx.Err() != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: %s after %s", ErrRequestTimeout, op, g.timeout)
		}
		return nil, fmt.Errorf("%w: read body: %w", ErrRequestFailed, err)
	}
	if resp.StatusCode >= 300 {
		serr := &StatusError{Op: op, StatusCode: resp.StatusCode, Body: truncate(string(out), 256)}
		if errors.Is(serr, ErrUnauthorized) {
			g.creds.Invalidate()
			g.logger.Warn("api credential rejected, dropped cached credential", slog.String("op", op), slog.Int("status", resp.StatusCode))
		}
		return nil, serr
	}
	return out, nil
}

// NewClientMessageID returns a random decimal id for correlating an
// outbound message with its inbound echo.
func NewClientMessageID() string {
	u := uuid.New()
	return strconv.FormatUint(binary.BigEndian.Uint64(u[:8])&(1<<63-1), 10)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
