package reactions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultTokenEndpoint exchanges a stored giscus session for a bearer
	// token usable against the GitHub API.
	DefaultTokenEndpoint = "https://giscus.app/api/oauth/token"

	// DefaultAuthorizeEndpoint is where anonymous viewers are sent when
	// they click a heart button.
	DefaultAuthorizeEndpoint = "https://giscus.app/api/oauth/authorize"
)

// SessionStore abstracts the storage slot the companion comment widget
// writes its OAuth session into.
type SessionStore interface {
	// Session returns the stored session string, if any.
	Session() (string, bool)
	// ClearSession drops the stored session, for sign-out.
	ClearSession()
}

// Exchanger converts an opaque session string into a bearer token.
type Exchanger interface {
	Exchange(ctx context.Context, session string) (string, error)
}

// TokenExchanger talks to the OAuth provider's token endpoint.
type TokenExchanger struct {
	endpoint string
	client   *http.Client
}

// ExchangeOption configures a TokenExchanger.
type ExchangeOption func(*TokenExchanger)

// WithTokenEndpoint overrides the token endpoint (tests, relays).
func WithTokenEndpoint(endpoint string) ExchangeOption {
	return func(t *TokenExchanger) { t.endpoint = endpoint }
}

// WithExchangeHTTPClient overrides the HTTP client.
func WithExchangeHTTPClient(client *http.Client) ExchangeOption {
	return func(t *TokenExchanger) { t.client = client }
}

// NewTokenExchanger creates an exchanger against the default endpoint.
func NewTokenExchanger(opts ...ExchangeOption) *TokenExchanger {
	t := &TokenExchanger{
		endpoint: DefaultTokenEndpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Exchange posts the session as a form body. The request deliberately
// carries no Authorization header and no custom headers at all, so
// browsers issue it without a CORS preflight.
func (t *TokenExchanger) Exchange(ctx context.Context, session string) (string, error) {
	form := url.Values{"session": {session}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token exchange: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", fmt.Errorf("token exchange: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token exchange: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("token exchange: decode: %w", err)
	}
	if payload.Token == "" {
		return "", fmt.Errorf("token exchange: empty token in response")
	}
	return payload.Token, nil
}

// AuthorizeURL builds the login redirect target carrying the current page
// as the post-auth return destination.
func AuthorizeURL(endpoint, returnTo string) string {
	if endpoint == "" {
		endpoint = DefaultAuthorizeEndpoint
	}
	return endpoint + "?redirect_uri=" + url.QueryEscape(returnTo)
}
