package cdp

import (
	"context"
	"errors"
	"fmt"

	"github.com/onnwee/teams-classbot/credential"
)

// DefaultTokenExpression asks the worker's auth service for a chat-service
// token and reduces it to {token, expiresOn} with expiresOn in epoch seconds.
const DefaultTokenExpression = `(async () => {
  const svc = self.authenticationService ?? self.authService;
  const t = await svc.getToken("https://api.spaces.skype.com");
  return { token: t.token, expiresOn: Math.floor(new Date(t.expiresOn).getTime() / 1000) };
})()`

// TokenExtractor pulls the refresh credential out of the running client by
// evaluating an expression in the shared worker.
type TokenExtractor struct {
	Session    *Session
	Expression string
}

// Extract implements credential.Extractor.
func (e *TokenExtractor) Extract(ctx context.Context) (credential.Credential, error) {
	expr := e.Expression
	if expr == "" {
		expr = DefaultTokenExpression
	}
	res, err := e.Session.Call(ctx, "Runtime.evaluate", map[string]any{
		"expression":    expr,
		"returnByValue": true,
		"awaitPromise":  true,
	})
	if err != nil {
		return credential.Credential{}, err
	}
	if ex := res.Get("exceptionDetails"); ex.Exists() {
		msg := ex.Get("exception.description").String()
		if msg == "" {
			msg = ex.Get("text").String()
		}
		return credential.Credential{}, fmt.Errorf("token expression threw: %s", msg)
	}
	v := res.Get("result.value")
	token := v.Get("token").String()
	if token == "" {
		return credential.Credential{}, errors.New("token expression returned no token")
	}
	return credential.FromEpoch(token, v.Get("expiresOn").Int()), nil
}
