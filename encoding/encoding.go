// Package encoding provides the base64 JSON codecs used in x402 headers.
package encoding

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/x402-gate"
)

// DecodeProof decodes a payment proof header into the JSON document it carries.
// The document is returned verbatim; its structure belongs to the facilitator.
// Standard and URL-safe alphabets are accepted, padded or not.
func DecodeProof(encoded string) (json.RawMessage, error) {
	decoded, err := decodeBase64(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode base64: %v", x402.ErrMalformedHeader, err)
	}
	if !json.Valid(decoded) {
		return nil, fmt.Errorf("%w: payload is not valid JSON", x402.ErrMalformedHeader)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(decoded, &obj); err != nil {
		return nil, fmt.Errorf("%w: payload must be a JSON object", x402.ErrMalformedHeader)
	}
	return json.RawMessage(decoded), nil
}

func decodeBase64(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("empty value")
	}
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}
	var firstErr error
	for _, enc := range encodings {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

// CanonicalProof re-encodes a decoded proof as padded standard base64 over
// compact JSON. Every accepted spelling of one proof maps to the same string,
// so replay keys must be derived from it rather than from the raw header.
func CanonicalProof(payload json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, payload); err != nil {
		return base64.StdEncoding.EncodeToString(payload)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// EncodeProof is the inverse of DecodeProof. Used by clients and tests.
func EncodeProof(payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// EncodeSettlement converts a SettlementResponse to base64-encoded JSON string.
// This is used for the PAYMENT-RESPONSE header.
func EncodeSettlement(settlement x402.SettlementResponse) (string, error) {
	settlementJSON, err := json.Marshal(settlement)
	if err != nil {
		return "", fmt.Errorf("failed to marshal settlement: %w", err)
	}
	return base64.StdEncoding.EncodeToString(settlementJSON), nil
}

// DecodeSettlement converts a base64-encoded JSON string to SettlementResponse.
func DecodeSettlement(encoded string) (x402.SettlementResponse, error) {
	var settlement x402.SettlementResponse

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return settlement, fmt.Errorf("failed to decode base64: %w", err)
	}
	if err := json.Unmarshal(decoded, &settlement); err != nil {
		return settlement, fmt.Errorf("failed to unmarshal settlement: %w", err)
	}
	return settlement, nil
}

// EncodePaymentRequired converts a 402 envelope to base64-encoded JSON for the
// PAYMENT-REQUIRED header.
func EncodePaymentRequired(env x402.PaymentRequired) (string, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to marshal requirements: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodePaymentRequired reverses EncodePaymentRequired.
func DecodePaymentRequired(encoded string) (x402.PaymentRequired, error) {
	var env x402.PaymentRequired

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return env, fmt.Errorf("failed to decode base64: %w", err)
	}
	if err := json.Unmarshal(decoded, &env); err != nil {
		return env, fmt.Errorf("failed to unmarshal requirements: %w", err)
	}
	return env, nil
}
