package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// AuthzPath is the token exchange path served by MockTeamsServer.
const AuthzPath = "/api/authsvc/v1.0/authz"

// RecordedRequest is a request captured by MockTeamsServer.
type RecordedRequest struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// MockTeamsServer is a test server standing in for the authz and chat services.
type MockTeamsServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu       sync.Mutex
	requests []RecordedRequest
}

// NewMockTeamsServer creates a new mock chat service server.
func NewMockTeamsServer(t *testing.T) *MockTeamsServer {
	t.Helper()
	m := &MockTeamsServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body) //nolint:errcheck // test mock
		m.mu.Lock()
		m.requests = append(m.requests, RecordedRequest{Method: r.Method, Path: r.URL.Path, Header: r.Header.Clone(), Body: body})
		handler, ok := m.Handlers[r.URL.Path]
		m.mu.Unlock()
		if ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// Handle registers handler for path.
func (m *MockTeamsServer) Handle(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	m.Handlers[path] = handler
	m.mu.Unlock()
}

// Requests returns the requests received so far.
func (m *MockTeamsServer) Requests() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RecordedRequest(nil), m.requests...)
}

// MockAuthzResponse adds a handler for the token exchange endpoint.
func (m *MockTeamsServer) MockAuthzResponse(skypeToken string, expiresIn int) {
	m.Handle(AuthzPath, func(w http.ResponseWriter, r *http.Request) {
		response := map[string]any{
			"tokens": map[string]any{
				"skypeToken": skypeToken,
				"expiresIn":  expiresIn,
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	})
}

// MessagesPath is the send-message path for channelID.
func MessagesPath(channelID string) string {
	return "/v1/users/ME/conversations/" + channelID + "/messages"
}

// MockSendMessageResponse answers sends to channelID with a 201 carrying
// the given server-side arrival time, which doubles as the message id.
func (m *MockTeamsServer) MockSendMessageResponse(channelID string, arrivalTime int64) {
	m.Handle(MessagesPath(channelID), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"OriginalArrivalTime": arrivalTime}) //nolint:errcheck // test mock response
	})
}

// MockEditMessageResponse answers edits of messageID in channelID with status.
func (m *MockTeamsServer) MockEditMessageResponse(channelID, messageID string, status int) {
	m.Handle(MessagesPath(channelID)+"/"+messageID, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})
}

// MockStatus answers path with a bare status code.
func (m *MockTeamsServer) MockStatus(path string, status int) {
	m.Handle(path, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})
}
