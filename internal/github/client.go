// Package github is a minimal GraphQL client for the GitHub Discussions API,
// covering exactly the queries and mutations the reconciler and the reaction
// client need.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultEndpoint is GitHub's GraphQL API endpoint.
const DefaultEndpoint = "https://api.github.com/graphql"

// maxPages bounds cursor pagination against a stalled or malicious server.
const maxPages = 1000

// RateObserver receives the x-ratelimit-remaining value seen on each
// response. The executor's budget implements this.
type RateObserver interface {
	Observe(remaining int)
}

// Client issues GraphQL requests against one endpoint with one credential.
type Client struct {
	httpClient *http.Client
	endpoint   string
	// token is intentionally unexported. NEVER add String(), MarshalJSON(),
	// or any method that could expose this value in logs or serialized output.
	token    string
	observer RateObserver
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client (tests, relay transports).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithEndpoint overrides the GraphQL endpoint (tests, CORS relay).
func WithEndpoint(endpoint string) Option {
	return func(c *Client) { c.endpoint = endpoint }
}

// WithRateObserver registers an observer for rate-limit headers.
func WithRateObserver(o RateObserver) Option {
	return func(c *Client) { c.observer = o }
}

// NewClient creates a client. An empty token yields unauthenticated reads,
// which is all the anonymous reaction path needs.
func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		endpoint:   DefaultEndpoint,
		token:      token,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type request struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type response struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"errors"`
}

// do executes one GraphQL request and decodes the data payload into out.
func (c *Client) do(ctx context.Context, query string, variables map[string]any, out any) error {
	payload, err := json.Marshal(request{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("marshal graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create graphql request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute graphql request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	c.observeRateLimit(resp)

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
			RetryAfter: parseRetryAfter(resp),
		}
	}

	var envelope response
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode graphql response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    envelope.Errors[0].Message,
			RetryAfter: parseRetryAfter(resp),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decode graphql data: %w", err)
	}
	return nil
}

func (c *Client) observeRateLimit(resp *http.Response) {
	if c.observer == nil {
		return
	}
	remaining := resp.Header.Get("X-RateLimit-Remaining")
	if remaining == "" {
		return
	}
	if n, err := strconv.Atoi(remaining); err == nil {
		c.observer.Observe(n)
	}
}

func parseRetryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

type pageInfo struct {
	HasNextPage bool   `json:"hasNextPage"`
	EndCursor   string `json:"endCursor"`
}

// paginate runs a cursor query until the handler reports no further pages.
// The handler returns the pageInfo of the connection it consumed.
func (c *Client) paginate(ctx context.Context, query string, variables map[string]any, handler func(page json.RawMessage) (pageInfo, error)) error {
	vars := make(map[string]any, len(variables)+1)
	for k, v := range variables {
		vars[k] = v
	}

	previousCursor := ""
	for page := 0; ; page++ {
		if page >= maxPages {
			return fmt.Errorf("pagination exceeded %d pages", maxPages)
		}

		var raw json.RawMessage
		if err := c.do(ctx, query, vars, &raw); err != nil {
			return err
		}

		info, err := handler(raw)
		if err != nil {
			return err
		}
		if !info.HasNextPage {
			return nil
		}
		if info.EndCursor == "" || info.EndCursor == previousCursor {
			return fmt.Errorf("pagination cursor stalled at %q", info.EndCursor)
		}
		vars["after"] = info.EndCursor
		previousCursor = info.EndCursor
	}
}
