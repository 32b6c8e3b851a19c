// Package relay is a small same-origin proxy in front of the GraphQL read
// API and the OAuth token endpoint, for sites whose viewers cannot reach
// the upstreams cross-origin. Deployed by the site operator next to the
// generated pages; mutation traffic is deliberately not proxied.
package relay

import (
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/gallerist/gallerist/internal/log"
)

const (
	defaultGraphQLUpstream = "https://api.github.com/graphql"
	defaultTokenUpstream   = "https://giscus.app/api/oauth/token"
)

// Config describes one relay deployment.
type Config struct {
	// Origins whitelists the site's own origin(s). Empty means same-host
	// deployments only; no wildcard default.
	Origins []string
	// GraphQLUpstream and TokenUpstream override the proxied endpoints.
	GraphQLUpstream string
	TokenUpstream   string
	// Timeout bounds each proxied call.
	Timeout time.Duration
}

// Handler builds the relay's HTTP surface:
//
//	POST /api/graphql      -> GraphQL upstream (reads only; the viewer's
//	                          own bearer token is forwarded when present)
//	POST /api/oauth/token  -> session-to-token exchange
//	GET  /healthz
func Handler(cfg Config) http.Handler {
	if cfg.GraphQLUpstream == "" {
		cfg.GraphQLUpstream = defaultGraphQLUpstream
	}
	if cfg.TokenUpstream == "" {
		cfg.TokenUpstream = defaultTokenUpstream
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	client := &http.Client{Timeout: cfg.Timeout}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Post("/api/graphql", proxy(client, cfg.GraphQLUpstream, true))
	r.Post("/api/oauth/token", proxy(client, cfg.TokenUpstream, false))

	return r
}

// proxy forwards the request body to the upstream and copies the response
// back. forwardAuth controls whether the viewer's Authorization header is
// passed through; the token exchange must never carry one.
func proxy(client *http.Client, upstream string, forwardAuth bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, upstream, r.Body)
		if err != nil {
			http.Error(w, "bad upstream", http.StatusInternalServerError)
			return
		}
		if ct := r.Header.Get("Content-Type"); ct != "" {
			req.Header.Set("Content-Type", ct)
		}
		if forwardAuth {
			if auth := r.Header.Get("Authorization"); auth != "" {
				req.Header.Set("Authorization", auth)
			}
		}

		resp, err := client.Do(req)
		if err != nil {
			log.Warn("relay upstream failed", "upstream", upstreamHost(upstream), "error", err)
			http.Error(w, "upstream unreachable", http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()

		// Pass the rate-limit header through so relayed clients can still
		// observe their remaining quota.
		if remaining := resp.Header.Get("X-RateLimit-Remaining"); remaining != "" {
			w.Header().Set("X-RateLimit-Remaining", remaining)
		}
		if ct := resp.Header.Get("Content-Type"); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		w.WriteHeader(resp.StatusCode)
		if _, err := io.Copy(w, resp.Body); err != nil {
			log.Debug("relay response copy failed", "error", err)
		}
	}
}

func upstreamHost(upstream string) string {
	u, err := url.Parse(upstream)
	if err != nil {
		return upstream
	}
	return u.Host
}

// ListenAndServe runs the relay until the listener fails.
func ListenAndServe(addr string, cfg Config) error {
	log.Info("relay listening", "addr", addr, "origins", strings.Join(cfg.Origins, ","))
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(cfg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv.ListenAndServe()
}
