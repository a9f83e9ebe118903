package testutil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// WorkerPath is the debugger socket path of the shared worker target
// advertised by CDPServer.
const WorkerPath = "/devtools/page/worker1"

// ErrNoReply makes a CDPServer handler leave the request unanswered.
var ErrNoReply = errors.New("no reply")

// CDPHandler answers one protocol method. A non-nil error other than
// ErrNoReply is sent back as a protocol error object.
type CDPHandler func(params json.RawMessage) (any, error)

// Target mirrors one entry of the /json/list discovery response.
type Target struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// CDPServer is a minimal DevTools endpoint: it serves /json/list and
// accepts debugger sockets on WorkerPath.
type CDPServer struct {
	*httptest.Server
	t *testing.T

	mu       sync.Mutex
	handlers map[string]CDPHandler
	methods  []string
	conns    []*cdpConn
	targets  []Target
	accepted chan struct{}
	upgrader websocket.Upgrader
}

type cdpConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *cdpConn) write(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

// NewCDPServer starts a DevTools endpoint advertising a page and a shared
// worker whose URL contains "trouter".
func NewCDPServer(t *testing.T) *CDPServer {
	t.Helper()
	s := &CDPServer{
		t:        t,
		handlers: make(map[string]CDPHandler),
		accepted: make(chan struct{}, 16),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/json/list", s.serveList)
	mux.HandleFunc(WorkerPath, s.serveSocket)
	s.Server = httptest.NewServer(mux)
	ws := s.WSURL()
	s.targets = []Target{
		{ID: "page1", Type: "page", Title: "Microsoft Teams", URL: "https://teams.microsoft.com/v2/", WebSocketDebuggerURL: ws + "/devtools/page/page1"},
		{ID: "worker1", Type: "shared_worker", Title: "trouter", URL: "https://teams.microsoft.com/v2/worker/precompiled-trouter-worker.js", WebSocketDebuggerURL: ws + WorkerPath},
	}
	t.Cleanup(s.Close)
	return s
}

// WSURL returns the server base URL with a websocket scheme.
func (s *CDPServer) WSURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

// SetTargets replaces the advertised target list.
func (s *CDPServer) SetTargets(targets []Target) {
	s.mu.Lock()
	s.targets = targets
	s.mu.Unlock()
}

// Handle registers a handler for method. Methods without a handler are
// answered with an empty result.
func (s *CDPServer) Handle(method string, h CDPHandler) {
	s.mu.Lock()
	s.handlers[method] = h
	s.mu.Unlock()
}

// HandleToken answers Runtime.evaluate with a token object.
func (s *CDPServer) HandleToken(token string, expiresOn int64) {
	s.Handle("Runtime.evaluate", func(json.RawMessage) (any, error) {
		return map[string]any{
			"result": map[string]any{
				"type":  "object",
				"value": map[string]any{"token": token, "expiresOn": expiresOn},
			},
		}, nil
	})
}

// Methods returns the methods received so far across all connections.
func (s *CDPServer) Methods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.methods...)
}

// Count returns how many times method was received.
func (s *CDPServer) Count(method string) int {
	n := 0
	for _, m := range s.Methods() {
		if m == method {
			n++
		}
	}
	return n
}

// WaitConnection blocks until a new socket is accepted or timeout elapses.
func (s *CDPServer) WaitConnection(timeout time.Duration) bool {
	select {
	case <-s.accepted:
		return true
	case <-time.After(timeout):
		return false
	}
}

// PushFrame sends a Network.webSocketFrameReceived notification carrying
// payload on every open socket.
func (s *CDPServer) PushFrame(payload string) {
	s.Push("Network.webSocketFrameReceived", map[string]any{
		"requestId": "1000.1",
		"timestamp": 1.0,
		"response":  map[string]any{"opcode": 1, "mask": false, "payloadData": payload},
	})
}

// Push sends a notification on every open socket.
func (s *CDPServer) Push(method string, params any) {
	s.mu.Lock()
	conns := append([]*cdpConn(nil), s.conns...)
	s.mu.Unlock()
	for _, c := range conns {
		if err := c.write(map[string]any{"method": method, "params": params}); err != nil {
			s.t.Logf("push %s: %v", method, err)
		}
	}
}

// DropConnections closes every open socket.
func (s *CDPServer) DropConnections() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.ws.Close() //nolint:errcheck // test teardown
	}
}

func (s *CDPServer) serveList(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	targets := s.targets
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(targets) //nolint:errcheck // test mock response
}

func (s *CDPServer) serveSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.t.Logf("upgrade: %v", err)
		return
	}
	c := &cdpConn{ws: ws}
	s.mu.Lock()
	s.conns = append(s.conns, c)
	s.mu.Unlock()
	select {
	case s.accepted <- struct{}{}:
	default:
	}
	defer ws.Close()

	for {
		var req struct {
			ID     int64           `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := ws.ReadJSON(&req); err != nil {
			return
		}
		s.mu.Lock()
		s.methods = append(s.methods, req.Method)
		h := s.handlers[req.Method]
		s.mu.Unlock()

		var result any = map[string]any{}
		var herr error
		if h != nil {
			result, herr = h(req.Params)
		}
		if errors.Is(herr, ErrNoReply) {
			continue
		}
		msg := map[string]any{"id": req.ID}
		if herr != nil {
			msg["error"] = map[string]any{"code": -32000, "message": herr.Error()}
		} else {
			msg["result"] = result
		}
		if err := c.write(msg); err != nil {
			return
		}
	}
}
