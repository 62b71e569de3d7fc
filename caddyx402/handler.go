// Package caddyx402 registers the x402 payment gate as a Caddy HTTP handler.
package caddyx402

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/caddyserver/caddy/v2"
	"github.com/caddyserver/caddy/v2/caddyconfig/caddyfile"
	"github.com/caddyserver/caddy/v2/modules/caddyhttp"
	"go.uber.org/zap"

	"github.com/mark3labs/x402-gate/config"
	httpx402 "github.com/mark3labs/x402-gate/http"
	"github.com/mark3labs/x402-gate/metrics"
	"github.com/mark3labs/x402-gate/store"
)

func init() {
	caddy.RegisterModule(Handler{})
}

// facilitators is shared by every handler instance so that all sites talking
// to one facilitator reuse its connections.
var facilitators = httpx402.NewFacilitatorRegistry(nil)

// Handler gates requests behind an x402 payment.
type Handler struct {
	// Directives are the raw x402 settings for this route.
	Directives config.RawConfig `json:"directives,omitempty"`

	cfg    *config.Config
	gate   *httpx402.Gate
	store  store.Store
	logger *zap.Logger
}

// CaddyModule returns the Caddy module information.
func (Handler) CaddyModule() caddy.ModuleInfo {
	return caddy.ModuleInfo{
		ID:  "http.handlers.x402",
		New: func() caddy.Module { return new(Handler) },
	}
}

// Provision resolves the directives and builds the gate.
func (h *Handler) Provision(ctx caddy.Context) error {
	return h.setup(ctx.Logger(), ctx.Slogger())
}

func (h *Handler) setup(logger *zap.Logger, slogger *slog.Logger) error {
	h.logger = logger

	cfg, err := h.Directives.Resolve()
	if err != nil {
		return fmt.Errorf("x402: %w", err)
	}
	h.cfg = cfg

	if cfg.Enabled && cfg.StoreURL != "" {
		s, err := store.Open(cfg.StoreURL)
		if err != nil {
			return fmt.Errorf("x402: opening store: %w", err)
		}
		h.store = s
	}

	h.gate = &httpx402.Gate{
		Facilitators: facilitators,
		Guard:        store.NewGuard(h.store, slogger),
		Metrics:      metrics.Nop{},
		Logger:       slogger,
	}

	amount := ""
	if cfg.Amount != nil {
		amount = cfg.Amount.String()
	}
	logger.Info("provisioned x402 handler",
		zap.Bool("enabled", cfg.Enabled),
		zap.String("amount", amount),
		zap.String("facilitator", cfg.FacilitatorURL),
		zap.Bool("replay_protection", h.store != nil),
	)
	return nil
}

// Validate rejects an enabled route that can never build a requirement.
func (h *Handler) Validate() error {
	if h.cfg == nil || !h.cfg.Enabled {
		return nil
	}
	var errs []error
	if h.cfg.Amount == nil {
		errs = append(errs, errors.New("amount is required"))
	}
	if h.cfg.PayTo == "" {
		errs = append(errs, errors.New("pay_to is required"))
	}
	if h.cfg.FacilitatorURL == "" {
		errs = append(errs, errors.New("facilitator_url is required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("x402: %w", errors.Join(errs...))
	}
	return nil
}

// Cleanup closes the replay store.
func (h *Handler) Cleanup() error {
	if h.store == nil {
		return nil
	}
	return h.store.Close()
}

// ServeHTTP implements caddyhttp.MiddlewareHandler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request, next caddyhttp.Handler) error {
	d, payment := h.gate.EvaluatePayment(r.Context(), httpx402.NewRequestExchange(w, r), h.cfg)
	switch d {
	case httpx402.PaymentValid:
		if payment != nil {
			caddyhttp.SetVar(r.Context(), "x402.payer", payment.Payer)
			caddyhttp.SetVar(r.Context(), "x402.transaction", payment.Settlement.Transaction)
		}
		return next.ServeHTTP(w, r)
	case httpx402.ResponseSent:
		return nil
	default:
		return caddyhttp.Error(http.StatusInternalServerError, errors.New("x402: payment gate could not evaluate request"))
	}
}

// Interface guards
var (
	_ caddy.Provisioner           = (*Handler)(nil)
	_ caddy.Validator             = (*Handler)(nil)
	_ caddy.CleanerUpper          = (*Handler)(nil)
	_ caddyhttp.MiddlewareHandler = (*Handler)(nil)
	_ caddyfile.Unmarshaler       = (*Handler)(nil)
)
