// Package http provides the x402 payment gate and its net/http middleware.
package http

import (
	"log/slog"
	"net/http"

	"github.com/mark3labs/x402-gate/config"
	"github.com/mark3labs/x402-gate/metrics"
	"github.com/mark3labs/x402-gate/store"
)

// Config holds the configuration for the x402 middleware.
type Config struct {
	// Payment is the resolved payment configuration for every request.
	Payment *config.Config

	// FacilitatorAuthorization is a static Authorization header value.
	// Example: "Bearer your-api-key"
	FacilitatorAuthorization string

	// FacilitatorAuthorizationProvider computes the Authorization header per
	// call. If set, it takes precedence over FacilitatorAuthorization.
	FacilitatorAuthorizationProvider AuthorizationProvider

	// HTTPClient is shared by all facilitator calls. Optional.
	HTTPClient *http.Client

	// Store backs replay protection and dynamic pricing. Optional; when nil
	// and Payment names a store URL, the middleware opens it.
	Store store.Store

	Metrics metrics.Recorder
	Logger  *slog.Logger
}

// ConfigResolver selects the payment configuration for a request. A nil
// result means the request is not gated.
type ConfigResolver func(r *http.Request) *config.Config

// StaticConfig resolves every request to cfg.
func StaticConfig(cfg *config.Config) ConfigResolver {
	return func(*http.Request) *config.Config { return cfg }
}

// LocationConfig resolves a request by longest-prefix match over locs.
func LocationConfig(locs []config.Location) ConfigResolver {
	return func(r *http.Request) *config.Config {
		loc, ok := config.Match(locs, r.URL.Path)
		if !ok {
			return nil
		}
		return loc.Config
	}
}

// NewGateFromConfig builds the Gate described by cfg.
func NewGateFromConfig(cfg *Config) *Gate {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	registry := NewFacilitatorRegistry(cfg.HTTPClient)
	switch {
	case cfg.FacilitatorAuthorizationProvider != nil:
		registry.Auth = cfg.FacilitatorAuthorizationProvider
	case cfg.FacilitatorAuthorization != "":
		registry.Auth = StaticAuthorization(cfg.FacilitatorAuthorization)
	}

	s := cfg.Store
	if s == nil && cfg.Payment != nil && cfg.Payment.StoreURL != "" {
		opened, err := store.Open(cfg.Payment.StoreURL)
		if err != nil {
			// Replay protection stays off; requests are still gated.
			logger.Warn("failed to open payment store", "error", err)
		} else {
			s = opened
		}
	}

	m := cfg.Metrics
	if m == nil {
		m = metrics.Nop{}
	}

	return &Gate{
		Facilitators: registry,
		Guard:        store.NewGuard(s, logger),
		Metrics:      m,
		Logger:       logger,
	}
}

// NewX402Middleware creates a new x402 payment middleware.
// It returns a middleware function that wraps HTTP handlers with payment gating.
func NewX402Middleware(cfg *Config) func(http.Handler) http.Handler {
	return NewGateFromConfig(cfg).Middleware(StaticConfig(cfg.Payment))
}

// Middleware wraps handlers with the gate, resolving each request's
// configuration through resolve.
func (g *Gate) Middleware(resolve ConfigResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r, ok := g.Serve(w, r, resolve(r))
			if !ok {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
