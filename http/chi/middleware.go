// Package chi provides Chi-compatible middleware for x402 payment gating.
// Chi uses the stdlib http.Handler interface, so this package is a thin layer
// over the gate in the http package.
package chi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/x402-gate/config"
	httpx402 "github.com/mark3labs/x402-gate/http"
)

// NewChiX402Middleware creates a new x402 payment middleware for Chi.
//
// The middleware:
//   - Bypasses OPTIONS, HEAD, TRACE and WebSocket upgrades
//   - Checks for the Payment-Signature (or X-PAYMENT) header
//   - Returns 402 Payment Required if missing or invalid
//   - Verifies and settles payments with the facilitator
//   - Stores the settled payment in the request context via httpx402.PaymentContextKey
//
// Example usage:
//
//	r := chi.NewRouter()
//	r.Use(NewChiX402Middleware(&httpx402.Config{Payment: cfg}))
//	r.Get("/protected", func(w http.ResponseWriter, r *http.Request) {
//	    payment, _ := httpx402.PaymentFromContext(r.Context())
//	    w.Write([]byte("Access granted! Payer: " + payment.Payer))
//	})
func NewChiX402Middleware(cfg *httpx402.Config) func(http.Handler) http.Handler {
	return httpx402.NewX402Middleware(cfg)
}

// Paid mounts h at method and pattern behind the gate with its own price.
// Other routes on r stay free.
func Paid(r chi.Router, gate *httpx402.Gate, cfg *config.Config, method, pattern string, h http.HandlerFunc) {
	r.With(gate.Middleware(httpx402.StaticConfig(cfg))).Method(method, pattern, h)
}

// Mount gates every route of sub with locs and mounts it at pattern.
func Mount(r chi.Router, pattern string, gate *httpx402.Gate, locs []config.Location, sub http.Handler) {
	r.Mount(pattern, gate.Middleware(httpx402.LocationConfig(locs))(sub))
}
