package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/x402-gate"
	"github.com/mark3labs/x402-gate/config"
	"github.com/mark3labs/x402-gate/encoding"
	"github.com/mark3labs/x402-gate/facilitator"
	"github.com/mark3labs/x402-gate/metrics"
	"github.com/mark3labs/x402-gate/requirements"
	"github.com/mark3labs/x402-gate/store"
	"github.com/mark3labs/x402-gate/validation"
)

// Disposition is the outcome of evaluating one request.
type Disposition int

const (
	// PaymentValid lets the request continue to the protected handler.
	PaymentValid Disposition = iota
	// ResponseSent means the gate already answered the client.
	ResponseSent
	// Error means the gate could not decide; the host answers 500.
	Error
)

func (d Disposition) String() string {
	switch d {
	case PaymentValid:
		return "payment_valid"
	case ResponseSent:
		return "response_sent"
	default:
		return "error"
	}
}

// Payment describes a settled payment. It is attached to the request context
// of the protected handler.
type Payment struct {
	Requirement x402.PaymentRequirement
	Payer       string
	Settlement  x402.SettlementResponse
}

// Gate evaluates requests against a location's payment configuration.
// A Gate holds no per-request state and is safe for concurrent use.
type Gate struct {
	Facilitators *FacilitatorRegistry
	Guard        *store.Guard
	Metrics      metrics.Recorder
	Logger       *slog.Logger
}

// NewGate returns a gate with a fresh facilitator registry, no store and no metrics.
func NewGate(logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		Facilitators: NewFacilitatorRegistry(nil),
		Metrics:      metrics.Nop{},
		Logger:       logger,
	}
}

func (g *Gate) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}

func (g *Gate) metrics() metrics.Recorder {
	if g.Metrics != nil {
		return g.Metrics
	}
	return metrics.Nop{}
}

// sharedFacilitators serves gates built without a registry.
var sharedFacilitators = &FacilitatorRegistry{}

func (g *Gate) facilitator(baseURL string) facilitator.Interface {
	if g.Facilitators == nil {
		return sharedFacilitators.Client(baseURL)
	}
	return g.Facilitators.Client(baseURL)
}

// Evaluate runs the payment state machine for one request.
func (g *Gate) Evaluate(ctx context.Context, ex Exchange, cfg *config.Config) Disposition {
	d, _ := g.EvaluatePayment(ctx, ex, cfg)
	return d
}

// EvaluatePayment is Evaluate that also returns the settled payment. The
// payment is nil unless a proof was settled during this evaluation.
func (g *Gate) EvaluatePayment(ctx context.Context, ex Exchange, cfg *config.Config) (Disposition, *Payment) {
	if cfg == nil || !cfg.Enabled || ShouldSkip(ex) {
		return PaymentValid, nil
	}

	logger := g.logger().With("eval_id", uuid.NewString(), "path", ex.Path())
	m := g.metrics()
	m.Request()

	cfg = g.applyDynamicPrice(ctx, logger, ex.Path(), cfg)

	resource := cfg.Resource
	if resource == "" {
		resource = FullURL(ex)
	}
	if resource == "" {
		resource = ex.Path()
	}
	mimeType := InferMimeType(ex)

	req, err := requirements.Create(cfg, resource, mimeType)
	if err != nil {
		logger.Error("failed to create payment requirement", "error", err)
		return Error, nil
	}
	logger.Debug("evaluating payment", "resource", resource, "mime", mimeType, "amount", req.Amount)
	if cfg.Amount != nil {
		m.PaymentAmount(cfg.Amount.InexactFloat64())
	}

	proof := PaymentHeader(ex)
	if proof == "" {
		logger.Info("no payment header provided")
		return g.paymentRequired(ex, logger, req, ""), nil
	}

	if len(proof) > MaxPaymentHeaderSize {
		err := fmt.Errorf("%w: header is %d bytes, limit %d", x402.ErrInvalidPayment, len(proof), MaxPaymentHeaderSize)
		return g.reject(ex, logger, req, x402.NewPaymentError(x402.ErrCodeInvalidPayment, "payment header too large", err), ""), nil
	}

	payload, err := encoding.DecodeProof(proof)
	if err != nil {
		return g.reject(ex, logger, req, x402.NewPaymentError(x402.ErrCodeInvalidPayment, "invalid payment header", err), ""), nil
	}

	replayID := encoding.CanonicalProof(payload)
	if g.Guard.IsUsed(ctx, replayID) {
		return g.reject(ex, logger, req, x402.NewPaymentError(x402.ErrCodeReplayDetected, "proof already settled", x402.ErrReplayDetected), ""), nil
	}

	if cfg.FacilitatorURL == "" {
		logger.Error("facilitator URL not configured", "error", x402.ErrInvalidConfig)
		return Error, nil
	}
	client := g.facilitator(cfg.FacilitatorURL)
	timeout := cfg.EffectiveTimeout()

	m.VerificationAttempt()
	start := time.Now()
	verdict, err := client.Verify(ctx, payload, req, timeout)
	m.VerificationDuration(time.Since(start))
	if err != nil {
		m.FacilitatorError()
		logger.Error("facilitator verify failed", "error", err, "fallback", cfg.FacilitatorFallback.String())
		if cfg.FacilitatorFallback == config.FallbackPass {
			logger.Warn("facilitator unavailable, passing request through")
			return PaymentValid, nil
		}
		if err := WriteInternalError(ex); err != nil {
			logger.Error("failed to write error response", "error", err)
			return Error, nil
		}
		return ResponseSent, nil
	}

	if !verdict.IsValid {
		m.VerificationFailed()
		perr := x402.NewPaymentError(x402.ErrCodeVerificationFailed, verdict.InvalidReason, x402.ErrVerificationFailed)
		return g.reject(ex, logger.With("payer", verdict.Payer), req, perr, ""), nil
	}
	logger.Info("payment verified", "payer", verdict.Payer)

	settled, err := client.Settle(ctx, payload, req, timeout)
	if err != nil {
		m.FacilitatorError()
		m.VerificationFailed()
		perr := x402.NewPaymentError(x402.ErrCodeSettlementFailed, "settle call failed", err)
		return g.reject(ex, logger, req, perr, "Facilitator error: "+x402.UserMessage(err)), nil
	}
	if !settled.Success {
		m.VerificationFailed()
		detail := settled.FailureDetail()
		perr := x402.NewPaymentError(x402.ErrCodeSettlementFailed, detail, x402.ErrSettlementFailed)
		note := ""
		if detail != "" {
			note = "Facilitator: " + detail
		}
		return g.reject(ex, logger.With("transaction", settled.TxID()), req, perr, note), nil
	}

	m.VerificationSuccess()
	logger.Info("payment settled", "transaction", settled.TxID(), "payer", settled.Payer)

	if err := g.Guard.MarkUsed(ctx, replayID, cfg.EffectiveReplayTTL()); err != nil && !errors.Is(err, store.ErrDisabled) {
		logger.Warn("failed to record payment as used", "error", err)
	}

	receipt := settled.Settlement()
	if receipt.Network == "" {
		receipt.Network = req.Network
	}
	if receipt.Payer == "" {
		receipt.Payer = verdict.Payer
	}
	if encoded, err := encoding.EncodeSettlement(receipt); err != nil {
		logger.Warn("failed to encode payment response", "error", err)
	} else {
		ex.SetHeader(PaymentResponseHeader, encoded)
	}

	return PaymentValid, &Payment{Requirement: req, Payer: receipt.Payer, Settlement: receipt}
}

// applyDynamicPrice returns cfg with its amount replaced by the price stored
// under path, if one exists and is usable. cfg itself is never modified.
func (g *Gate) applyDynamicPrice(ctx context.Context, logger *slog.Logger, path string, cfg *config.Config) *config.Config {
	raw, ok := g.Guard.DynamicPrice(ctx, path)
	if !ok {
		return cfg
	}
	price, err := validation.ParseAmount(raw)
	if err == nil {
		err = validation.ValidateAmount(price)
	}
	if err == nil {
		_, err = x402.AmountToBaseUnits(price, cfg.EffectiveAssetDecimals())
	}
	if err != nil {
		logger.Warn("ignoring dynamic price", "price", raw, "error", err)
		return cfg
	}
	logger.Debug("using dynamic price", "price", price.String())
	override := *cfg
	override.Amount = &price
	return &override
}

// reject logs a classified failure and answers 402 with its catalog message.
// note, when set, is appended in parentheses.
func (g *Gate) reject(ex Exchange, logger *slog.Logger, req x402.PaymentRequirement, perr *x402.PaymentError, note string) Disposition {
	logger.Warn("payment rejected", "code", string(perr.Code), "error", perr)
	msg := x402.UserMessage(perr)
	if note != "" {
		msg = fmt.Sprintf("%s (%s)", msg, note)
	}
	return g.paymentRequired(ex, logger, req, msg)
}

func (g *Gate) paymentRequired(ex Exchange, logger *slog.Logger, req x402.PaymentRequirement, msg string) Disposition {
	g.metrics().PaymentRequired()
	env := requirements.NewPaymentRequired(envelopeMessage(msg, req), req)
	if err := WritePaymentRequired(ex, env); err != nil {
		logger.Error("failed to send payment required response", "error", err)
		return Error
	}
	return ResponseSent
}

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// PaymentContextKey is the context key for storing settled payment information.
const PaymentContextKey = contextKey("x402_payment")

// PaymentFromContext returns the payment settled for this request, if any.
func PaymentFromContext(ctx context.Context) (*Payment, bool) {
	p, ok := ctx.Value(PaymentContextKey).(*Payment)
	return p, ok && p != nil
}

// Serve evaluates r and reports whether the protected handler should run. When
// it returns true the returned request carries the payment in its context.
// When it returns false a response has been written.
func (g *Gate) Serve(w http.ResponseWriter, r *http.Request, cfg *config.Config) (*http.Request, bool) {
	d, payment := g.EvaluatePayment(r.Context(), NewRequestExchange(w, r), cfg)
	switch d {
	case PaymentValid:
		if payment != nil {
			r = r.WithContext(context.WithValue(r.Context(), PaymentContextKey, payment))
		}
		return r, true
	case ResponseSent:
		return r, false
	default:
		http.Error(w, x402.MsgInternalServerError, http.StatusInternalServerError)
		return r, false
	}
}

// IsRetryableFacilitatorError reports whether a facilitator call may succeed
// if repeated: timeouts, connection failures, 429 and 5xx answers.
func IsRetryableFacilitatorError(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
	}
	return errors.Is(err, x402.ErrTimeout) || errors.Is(err, x402.ErrFacilitatorUnavailable)
}
