// Package facilitator defines the contract between the payment gate and a
// remote x402 facilitator service.
package facilitator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mark3labs/x402-gate"
)

// Interface defines the facilitator contract used by the gate.
// A negative verdict (isValid:false, success:false) is a successful call; only
// transport failures, non-2xx answers and undecodable bodies are errors.
type Interface interface {
	// Verify checks a payment proof against a requirement without settling it.
	Verify(ctx context.Context, payload json.RawMessage, requirement x402.PaymentRequirement, timeout time.Duration) (*VerifyResponse, error)

	// Settle executes a verified payment.
	Settle(ctx context.Context, payload json.RawMessage, requirement x402.PaymentRequirement, timeout time.Duration) (*SettleResponse, error)
}

// Request is the body POSTed to /verify and /settle.
type Request struct {
	X402Version         int                     `json:"x402Version"`
	PaymentPayload      json.RawMessage         `json:"paymentPayload"`
	PaymentRequirements x402.PaymentRequirement `json:"paymentRequirements"`
}

// VerifyResponse contains the payment verification result from the facilitator.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleResponse contains the settlement result from the facilitator.
// Facilitators report the transaction hash as either txHash or transaction.
type SettleResponse struct {
	Success      bool   `json:"success"`
	TxHash       string `json:"txHash,omitempty"`
	Transaction  string `json:"transaction,omitempty"`
	Network      string `json:"network,omitempty"`
	Payer        string `json:"payer,omitempty"`
	ErrorReason  string `json:"errorReason,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// TxID returns the settlement transaction hash under either field name.
func (r *SettleResponse) TxID() string {
	if r.TxHash != "" {
		return r.TxHash
	}
	return r.Transaction
}

// FailureDetail joins errorReason and errorMessage with "; ", skipping empty parts.
func (r *SettleResponse) FailureDetail() string {
	switch {
	case r.ErrorReason != "" && r.ErrorMessage != "":
		return r.ErrorReason + "; " + r.ErrorMessage
	case r.ErrorReason != "":
		return r.ErrorReason
	default:
		return r.ErrorMessage
	}
}

// Settlement converts a successful settle result into the client-facing receipt.
func (r *SettleResponse) Settlement() x402.SettlementResponse {
	return x402.SettlementResponse{
		Success:     r.Success,
		Transaction: r.TxID(),
		Network:     r.Network,
		Payer:       r.Payer,
	}
}

// SupportedKind describes a supported payment type with its configuration.
type SupportedKind struct {
	X402Version int            `json:"x402Version"`
	Scheme      string         `json:"scheme"`
	Network     string         `json:"network"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// SupportedResponse lists all payment types supported by the facilitator.
type SupportedResponse struct {
	Kinds []SupportedKind `json:"kinds"`
}

// Supports reports whether the facilitator advertises the scheme on the network.
func (r *SupportedResponse) Supports(scheme, network string) bool {
	for _, k := range r.Kinds {
		if k.Scheme == scheme && k.Network == network {
			return true
		}
	}
	return false
}
