// Package cdp speaks the Chrome DevTools Protocol to the chat client's
// shared worker: it keeps one socket open, correlates requests with their
// responses, and hands captured network frames to a callback.
package cdp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/onnwee/teams-classbot/telemetry"
)

var (
	// ErrConnectionLost rejects calls that were outstanding when the socket closed.
	ErrConnectionLost = errors.New("cdp: connection lost")
	// ErrNotConnected is returned by Call while no socket is open.
	ErrNotConnected = errors.New("cdp: not connected")
)

// ProtocolError is an error object returned by the remote end for a call.
type ProtocolError struct {
	Method  string
	Code    int64
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("cdp: %s failed: %s (code %d)", e.Method, e.Message, e.Code)
}

// State is the connection state of a Session.
type State int32

const (
	Disconnected State = iota
	Connecting
	Ready
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	default:
		return "disconnected"
	}
}

const (
	DefaultWarmupDelay    = 5 * time.Second
	DefaultMaxBackoff     = 30 * time.Second
	defaultInitialBackoff = 250 * time.Millisecond

	methodFrameReceived = "Network.webSocketFrameReceived"
)

// Options configures a Session.
type Options struct {
	// Resolve returns the debugger websocket URL to dial. It is called on
	// every connection attempt since the target can change after a restart.
	Resolve func(ctx context.Context) (string, error)
	Dialer  *websocket.Dialer
	// WarmupDelay separates Network.enable from OnReady.
	WarmupDelay    time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// OnReady runs once per connection after the warm-up delay. Its ctx is
	// cancelled when that connection closes.
	OnReady func(ctx context.Context)
	// OnFrame receives captured websocket payloads in arrival order. It runs
	// on the read goroutine and must not call Session.Call synchronously.
	OnFrame func(payload string)
	Logger  *slog.Logger
}

type response struct {
	result gjson.Result
	err    error
}

type request struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// Session owns the protocol socket and the pending-request table.
type Session struct {
	opts   Options
	logger *slog.Logger

	state  atomic.Int32
	nextID atomic.Int64

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[int64]chan response

	writeMu sync.Mutex
}

// NewSession returns a Session with defaults applied. Call Run to connect.
func NewSession(opts Options) *Session {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.WarmupDelay < 0 {
		opts.WarmupDelay = 0
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = defaultInitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = DefaultMaxBackoff
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		opts:    opts,
		logger:  logger.With(slog.String("component", "cdp")),
		pending: make(map[int64]chan response),
	}
}

// State reports the current connection state.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	telemetry.SetSessionConnected(st == Ready)
}

// Run connects and keeps reconnecting until ctx is cancelled, waiting a
// capped exponential backoff between attempts. The backoff resets after
// any attempt that reached Ready.
func (s *Session) Run(ctx context.Context) error {
	if s.opts.Resolve == nil {
		return errors.New("cdp: no target resolver configured")
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.InitialBackoff
	b.MaxInterval = s.opts.MaxBackoff

	for {
		connected, err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			b.Reset()
		}
		wait := b.NextBackOff()
		s.logger.Warn("session disconnected, reconnecting",
			slog.Any("err", err), slog.Bool("was_ready", connected), slog.Duration("backoff", wait))
		telemetry.IncReconnect()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// runOnce performs a single connect-read cycle. connected reports whether
// the session reached Ready.
func (s *Session) runOnce(ctx context.Context) (connected bool, err error) {
	s.setState(Connecting)
	url, err := s.opts.Resolve(ctx)
	if err != nil {
		s.setState(Disconnected)
		return false, fmt.Errorf("resolve target: %w", err)
	}
	conn, _, err := s.opts.Dialer.DialContext(ctx, url, nil)
	if err != nil {
		s.setState(Disconnected)
		return false, fmt.Errorf("dial %s: %w", url, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.setState(Ready)
	s.logger.Info("session ready", slog.String("url", url))

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-connCtx.Done()
		_ = conn.Close() //nolint:errcheck // unblocks the read loop
	}()
	go s.prepare(connCtx)

	err = s.readLoop(conn)
	s.teardown(conn)
	return true, err
}

// prepare enables network capture and fires OnReady after the warm-up delay.
func (s *Session) prepare(ctx context.Context) {
	if _, err := s.Call(ctx, "Network.enable", nil); err != nil {
		s.logger.Warn("Network.enable failed", slog.Any("err", err))
	}
	if s.opts.WarmupDelay > 0 {
		t := time.NewTimer(s.opts.WarmupDelay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
	if ctx.Err() == nil && s.opts.OnReady != nil {
		s.opts.OnReady(ctx)
	}
}

func (s *Session) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.dispatch(gjson.ParseBytes(data))
	}
}

func (s *Session) dispatch(msg gjson.Result) {
	if id := msg.Get("id"); id.Exists() {
		s.resolve(id.Int(), msg)
		return
	}
	if msg.Get("method").String() != methodFrameReceived || s.opts.OnFrame == nil {
		return
	}
	payload := msg.Get("params.response.payloadData")
	if !payload.Exists() {
		return
	}
	s.opts.OnFrame(payload.String())
}

func (s *Session) resolve(id int64, msg gjson.Result) {
	s.mu.Lock()
	ch, ok := s.pending[id]
	delete(s.pending, id)
	s.mu.Unlock()
	if !ok {
		s.logger.Debug("response for unknown request", slog.Int64("id", id))
		return
	}
	if e := msg.Get("error"); e.Exists() {
		ch <- response{err: &ProtocolError{Code: e.Get("code").Int(), Message: e.Get("message").String()}}
		return
	}
	ch <- response{result: msg.Get("result")}
}

// teardown clears the socket and rejects every outstanding call.
func (s *Session) teardown(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	pending := s.pending
	s.pending = make(map[int64]chan response)
	s.mu.Unlock()

	for _, ch := range pending {
		ch <- response{err: ErrConnectionLost}
	}
	if n := len(pending); n > 0 {
		s.logger.Warn("rejected pending calls", slog.Int("count", n))
	}
	s.setState(Disconnected)
}

// Call sends a protocol request and waits for its response. The returned
// result is the response's "result" object.
func (s *Session) Call(ctx context.Context, method string, params any) (gjson.Result, error) {
	s.mu.Lock()
	conn := s.conn
	if conn == nil {
		s.mu.Unlock()
		return gjson.Result{}, ErrNotConnected
	}
	id := s.nextID.Add(1)
	ch := make(chan response, 1)
	s.pending[id] = ch
	s.mu.Unlock()

	s.writeMu.Lock()
	err := conn.WriteJSON(request{ID: id, Method: method, Params: params})
	s.writeMu.Unlock()
	if err != nil {
		s.drop(id)
		return gjson.Result{}, fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}

	select {
	case r := <-ch:
		var pe *ProtocolError
		if errors.As(r.err, &pe) {
			pe.Method = method
		}
		return r.result, r.err
	case <-ctx.Done():
		s.drop(id)
		return gjson.Result{}, ctx.Err()
	}
}

func (s *Session) drop(id int64) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

// Pending reports the number of calls awaiting a response.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
