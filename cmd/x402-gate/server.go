package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mark3labs/x402-gate/coinbase"
	"github.com/mark3labs/x402-gate/config"
	"github.com/mark3labs/x402-gate/facilitator"
	httpx402 "github.com/mark3labs/x402-gate/http"
	"github.com/mark3labs/x402-gate/metrics"
	"github.com/mark3labs/x402-gate/retry"
)

// Environment variables holding CDP facilitator credentials.
const (
	cdpKeyIDEnv     = "CDP_API_KEY_ID"
	cdpKeySecretEnv = "CDP_API_KEY_SECRET"
)

// newRouter serves health and metrics endpoints and proxies everything else
// to upstream behind the gate.
func newRouter(gate *httpx402.Gate, locs []config.Location, upstream *url.URL, prom *metrics.Prometheus) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	if prom != nil {
		r.Method(http.MethodGet, "/metrics", prom.Handler())
	}

	proxy := httputil.NewSingleHostReverseProxy(upstream)
	r.Handle("/*", gate.Middleware(httpx402.LocationConfig(locs))(proxy))
	return r
}

// storeURL returns the first store URL configured on an enabled location.
func storeURL(locs []config.Location) string {
	for _, l := range locs {
		if l.Config.Enabled && l.Config.StoreURL != "" {
			return l.Config.StoreURL
		}
	}
	return ""
}

// facilitatorURLs lists each distinct facilitator of the enabled locations
// with the timeout of the first location naming it.
func facilitatorURLs(locs []config.Location) map[string]time.Duration {
	out := make(map[string]time.Duration)
	for _, l := range locs {
		c := l.Config
		if !c.Enabled || c.FacilitatorURL == "" {
			continue
		}
		if _, ok := out[c.FacilitatorURL]; !ok {
			out[c.FacilitatorURL] = c.EffectiveTimeout()
		}
	}
	return out
}

// checkFacilitators asks every facilitator for its supported kinds at startup.
// Failures are logged; the gate falls back per location at request time.
func checkFacilitators(ctx context.Context, registry *httpx402.FacilitatorRegistry, locs []config.Location, logger *slog.Logger) {
	for u, timeout := range facilitatorURLs(locs) {
		client := registry.Client(u)
		resp, err := retry.WithRetry(ctx, retry.DefaultConfig, httpx402.IsRetryableFacilitatorError,
			func(ctx context.Context, _ int) (*facilitator.SupportedResponse, error) {
				return client.Supported(ctx, timeout)
			})
		if err != nil {
			logger.Warn("facilitator check failed", "facilitator", u, "error", err)
			continue
		}
		logger.Info("facilitator reachable", "facilitator", u, "kinds", len(resp.Kinds))
	}
}

// cdpAuthFromEnv returns CDP request signing when both credentials are set.
func cdpAuthFromEnv() (httpx402.AuthorizationProvider, error) {
	id, secret := os.Getenv(cdpKeyIDEnv), os.Getenv(cdpKeySecretEnv)
	if id == "" || secret == "" {
		return nil, nil
	}
	auth, err := coinbase.NewCDPAuth(id, secret)
	if err != nil {
		return nil, err
	}
	return auth, nil
}
