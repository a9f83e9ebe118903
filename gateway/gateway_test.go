package gateway

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"github.com/onnwee/teams-classbot/credential"
	"github.com/onnwee/teams-classbot/testutil"
)

const channel = "19:classchan@thread.tacv2"

type fakeCreds struct {
	token       string
	err         error
	ensures     atomic.Int32
	invalidated atomic.Int32
}

func (f *fakeCreds) Ensure(ctx context.Context) (credential.Credential, error) {
	f.ensures.Add(1)
	if f.err != nil {
		return credential.Credential{}, f.err
	}
	return credential.Credential{Token: f.token, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (f *fakeCreds) Invalidate() { f.invalidated.Add(1) }

func newGateway(srv *testutil.MockTeamsServer, creds Credentials) *Gateway {
	return New(Options{BaseURL: srv.URL + "/v1", Credentials: creds, Timeout: 200 * time.Millisecond})
}

func TestSendMessage(t *testing.T) {
	srv := testutil.NewMockTeamsServer(t)
	srv.MockSendMessageResponse(channel, 1700000000123)
	creds := &fakeCreds{token: "skype-abc"}
	g := newGateway(srv, creds)

	sent, err := g.SendMessage(context.Background(), channel, "<p>Class starts</p>")
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if sent.ID != "1700000000123" {
		t.Errorf("ID = %q, want 1700000000123", sent.ID)
	}
	if _, err := strconv.ParseUint(sent.ClientMessageID, 10, 64); err != nil {
		t.Errorf("ClientMessageID %q is not numeric: %v", sent.ClientMessageID, err)
	}

	reqs := srv.Requests()
	if len(reqs) != 1 {
		t.Fatalf("got %d requests, want 1", len(reqs))
	}
	r := reqs[0]
	if r.Method != http.MethodPost {
		t.Errorf("method = %s, want POST", r.Method)
	}
	if got := r.Header.Get("Authentication"); got != "skypetoken=skype-abc" {
		t.Errorf("Authentication = %q", got)
	}
	body := gjson.ParseBytes(r.Body)
	if body.Get("content").String() != "<p>Class starts</p>" ||
		body.Get("messagetype").String() != "RichText/Html" ||
		body.Get("contenttype").String() != "text" ||
		body.Get("clientmessageid").String() != sent.ClientMessageID {
		t.Errorf("body = %s", r.Body)
	}
}

func TestEditMessage(t *testing.T) {
	srv := testutil.NewMockTeamsServer(t)
	srv.MockEditMessageResponse(channel, "1700000000123", http.StatusOK)
	g := newGateway(srv, &fakeCreds{token: "skype-abc"})

	if err := g.EditMessage(context.Background(), channel, "1700000000123", "42", "<p>Ended</p>"); err != nil {
		t.Fatalf("EditMessage() error = %v", err)
	}
	r := srv.Requests()[0]
	if r.Method != http.MethodPut {
		t.Errorf("method = %s, want PUT", r.Method)
	}
	if got := gjson.GetBytes(r.Body, "clientmessageid").String(); got != "42" {
		t.Errorf("clientmessageid = %q, want 42", got)
	}
}

func TestStatusErrors(t *testing.T) {
	tests := []struct {
		name           string
		status         int
		want           error
		wantClass      ErrorClass
		wantInvalidate int32
	}{
		{"unauthorized", http.StatusUnauthorized, ErrUnauthorized, ClassUnauthorized, 1},
		{"forbidden", http.StatusForbidden, ErrUnauthorized, ClassUnauthorized, 1},
		{"server error", http.StatusInternalServerError, ErrRequestFailed, ClassRequestFailed, 0},
		{"not found", http.StatusNotFound, ErrRequestFailed, ClassRequestFailed, 0},
		{"redirect", http.StatusMultipleChoices, ErrRequestFailed, ClassRequestFailed, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testutil.NewMockTeamsServer(t)
			srv.MockStatus(testutil.MessagesPath(channel), tt.status)
			creds := &fakeCreds{token: "t"}
			g := newGateway(srv, creds)

			_, err := g.SendMessage(context.Background(), channel, "hi")
			if !errors.Is(err, tt.want) {
				t.Fatalf("SendMessage() error = %v, want %v", err, tt.want)
			}
			var serr *StatusError
			if !errors.As(err, &serr) || serr.StatusCode != tt.status {
				t.Errorf("error = %v, want *StatusError with %d", err, tt.status)
			}
			if got := Classify(err); got != tt.wantClass {
				t.Errorf("Classify() = %v, want %v", got, tt.wantClass)
			}
			if got := creds.invalidated.Load(); got != tt.wantInvalidate {
				t.Errorf("Invalidate called %d times, want %d", got, tt.wantInvalidate)
			}
			if len(srv.Requests()) != 1 {
				t.Errorf("got %d requests, want exactly 1 (no retry)", len(srv.Requests()))
			}
		})
	}
}

func TestTimeout(t *testing.T) {
	srv := testutil.NewMockTeamsServer(t)
	release := make(chan struct{})
	defer close(release)
	srv.Handle(testutil.MessagesPath(channel), func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	g := New(Options{BaseURL: srv.URL + "/v1", Credentials: &fakeCreds{token: "t"}, Timeout: 30 * time.Millisecond})

	_, err := g.SendMessage(context.Background(), channel, "hi")
	if !errors.Is(err, ErrRequestTimeout) {
		t.Fatalf("SendMessage() error = %v, want ErrRequestTimeout", err)
	}
	if Classify(err) != ClassTimeout {
		t.Errorf("Classify() = %v, want timeout", Classify(err))
	}
}

func TestCredentialFailurePassesThrough(t *testing.T) {
	srv := testutil.NewMockTeamsServer(t)
	creds := &fakeCreds{err: credential.ErrCredentialUnavailable}
	g := newGateway(srv, creds)

	_, err := g.SendMessage(context.Background(), channel, "hi")
	if !errors.Is(err, credential.ErrCredentialUnavailable) {
		t.Fatalf("SendMessage() error = %v, want ErrCredentialUnavailable", err)
	}
	if len(srv.Requests()) != 0 {
		t.Errorf("got %d requests without a credential, want 0", len(srv.Requests()))
	}
}

func TestEmptyChannel(t *testing.T) {
	g := New(Options{Credentials: &fakeCreds{token: "t"}})
	if _, err := g.SendMessage(context.Background(), "", "hi"); !errors.Is(err, ErrRequestFailed) {
		t.Errorf("SendMessage(\"\") error = %v, want ErrRequestFailed", err)
	}
	if err := g.EditMessage(context.Background(), channel, "", "1", "hi"); !errors.Is(err, ErrRequestFailed) {
		t.Errorf("EditMessage(no id) error = %v, want ErrRequestFailed", err)
	}
}

func TestNewClientMessageID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewClientMessageID()
		if _, err := strconv.ParseInt(id, 10, 64); err != nil {
			t.Fatalf("NewClientMessageID() = %q, not an int64: %v", id, err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}
