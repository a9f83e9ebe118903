package credential

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
)

// DefaultAuthzURL is the service that trades the refresh credential for the
// chat service token.
const DefaultAuthzURL = "https://teams.microsoft.com/api/authsvc/v1.0/authz"

// HTTPExchanger exchanges a refresh credential at an authz endpoint that
// answers {"tokens":{"skypeToken":"...","expiresIn":86399}}.
type HTTPExchanger struct {
	URL        string
	HTTPClient *http.Client
	Now        func() time.Time
}

// Exchange implements Exchanger.
func (e *HTTPExchanger) Exchange(ctx context.Context, refresh Credential) (Credential, error) {
	if refresh.Token == "" {
		return Credential{}, errors.New("missing refresh credential")
	}
	u := e.URL
	if u == "" {
		u = DefaultAuthzURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader("{}"))
	if err != nil {
		return Credential{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	(&oauth2.Token{AccessToken: refresh.Token, TokenType: "Bearer"}).SetAuthHeader(req)

	hc := e.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return Credential{}, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Credential{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Credential{}, fmt.Errorf("authz exchange failed: %s: %s", resp.Status, string(b))
	}
	token := gjson.GetBytes(b, "tokens.skypeToken").String()
	if token == "" {
		return Credential{}, errors.New("empty skypeToken in authz response")
	}
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	return Credential{Token: token, ExpiresAt: ComputeExpiry(now(), gjson.GetBytes(b, "tokens.expiresIn").Int())}, nil
}

// ComputeExpiry returns absolute expiry from a lifetime in seconds, defaulting to +60m when unknown.
func ComputeExpiry(now time.Time, seconds int64) time.Time {
	if seconds <= 0 {
		return now.Add(60 * time.Minute).Truncate(time.Second)
	}
	return now.Add(time.Duration(seconds) * time.Second).Truncate(time.Second)
}
