package relay

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newUpstream(t *testing.T, capture *http.Request, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*capture = *r
		data, _ := io.ReadAll(r.Body)
		capture.Body = io.NopCloser(strings.NewReader(string(data)))
		w.Header().Set("X-RateLimit-Remaining", "37")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
}

func TestGraphQLProxyForwardsAuth(t *testing.T) {
	var got http.Request
	upstream := newUpstream(t, &got, `{"data":{}}`)
	defer upstream.Close()

	h := Handler(Config{
		Origins:         []string{"https://photos.example.com"},
		GraphQLUpstream: upstream.URL,
	})

	req := httptest.NewRequest(http.MethodPost, "/api/graphql", strings.NewReader(`{"query":"{viewer{login}}"}`))
	req.Header.Set("Authorization", "Bearer tok")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got.Header.Get("Authorization") != "Bearer tok" {
		t.Errorf("Authorization not forwarded: %q", got.Header.Get("Authorization"))
	}
	body, _ := io.ReadAll(got.Body)
	if !strings.Contains(string(body), "viewer") {
		t.Errorf("body not forwarded: %s", body)
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "37" {
		t.Errorf("rate header not passed through: %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestTokenProxyStripsAuth(t *testing.T) {
	var got http.Request
	upstream := newUpstream(t, &got, `{"token":"gho_x"}`)
	defer upstream.Close()

	h := Handler(Config{TokenUpstream: upstream.URL})

	req := httptest.NewRequest(http.MethodPost, "/api/oauth/token", strings.NewReader("session=abc"))
	req.Header.Set("Authorization", "Bearer should-not-pass")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if auth := got.Header.Get("Authorization"); auth != "" {
		t.Errorf("Authorization leaked to token endpoint: %q", auth)
	}
}

func TestCORSPreflightForWhitelistedOrigin(t *testing.T) {
	h := Handler(Config{Origins: []string{"https://photos.example.com"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/graphql", nil)
	req.Header.Set("Origin", "https://photos.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://photos.example.com" {
		t.Errorf("Allow-Origin = %q", got)
	}

	// An origin outside the whitelist gets no CORS grant.
	req = httptest.NewRequest(http.MethodOptions, "/api/graphql", nil)
	req.Header.Set("Origin", "https://evil.example.net")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("unexpected Allow-Origin for foreign origin: %q", got)
	}
}

func TestUnreachableUpstreamIsBadGateway(t *testing.T) {
	h := Handler(Config{GraphQLUpstream: "http://127.0.0.1:1"})

	req := httptest.NewRequest(http.MethodPost, "/api/graphql", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	h := Handler(Config{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}
