package x402

import (
	"errors"
	"fmt"
)

// Standard x402 gate error definitions

var (
	// ErrInvalidPayment indicates the payment proof could not be decoded or exceeded size limits.
	ErrInvalidPayment = errors.New("x402: invalid payment payload")

	// ErrReplayDetected indicates the payment proof was already settled.
	ErrReplayDetected = errors.New("x402: payment replay detected")

	// ErrVerificationFailed indicates the facilitator rejected the payment.
	ErrVerificationFailed = errors.New("x402: payment verification failed")

	// ErrSettlementFailed indicates the facilitator could not settle the payment.
	ErrSettlementFailed = errors.New("x402: payment settlement failed")

	// ErrFacilitatorUnavailable indicates the facilitator could not be reached or answered badly.
	ErrFacilitatorUnavailable = errors.New("x402: facilitator service unavailable")

	// ErrTimeout indicates a facilitator call exceeded its deadline.
	ErrTimeout = errors.New("x402: operation timed out")

	// ErrInvalidConfig indicates a directive failed validation.
	ErrInvalidConfig = errors.New("x402: invalid configuration")

	// ErrInvalidAmount indicates an amount that cannot be represented in base units.
	ErrInvalidAmount = errors.New("x402: invalid amount")

	// ErrInvalidNetwork indicates an unknown or malformed network identifier.
	ErrInvalidNetwork = errors.New("x402: invalid or unsupported network")

	// ErrMalformedHeader indicates the payment header is not valid base64 JSON.
	ErrMalformedHeader = errors.New("x402: malformed payment header")
)

// User-facing messages. Only these strings reach clients; causes are logged.
const (
	MsgInvalidPayment      = "Invalid payment payload"
	MsgVerificationFailed  = "Payment verification failed"
	MsgConfigurationError  = "Server configuration error"
	MsgTimeout             = "Payment verification timed out"
	MsgReplayDetected      = "Payment replay detected"
	MsgFacilitatorDown     = "Facilitator service unavailable"
	MsgInternalServerError = "Internal server error"
)

// ErrorCode classifies a PaymentError.
type ErrorCode string

const (
	ErrCodeInvalidPayment         ErrorCode = "INVALID_PAYMENT"
	ErrCodeReplayDetected         ErrorCode = "REPLAY_DETECTED"
	ErrCodeVerificationFailed     ErrorCode = "VERIFICATION_FAILED"
	ErrCodeSettlementFailed       ErrorCode = "SETTLEMENT_FAILED"
	ErrCodeFacilitatorUnavailable ErrorCode = "FACILITATOR_UNAVAILABLE"
	ErrCodeTimeout                ErrorCode = "TIMEOUT"
	ErrCodeConfiguration          ErrorCode = "CONFIGURATION"
)

// PaymentError is a classified gate failure carrying its underlying cause.
type PaymentError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// NewPaymentError creates a PaymentError.
func NewPaymentError(code ErrorCode, message string, err error) *PaymentError {
	return &PaymentError{Code: code, Message: message, Err: err}
}

func (e *PaymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

// UserMessage maps an error to the catalog string a client may see.
func UserMessage(err error) string {
	var pe *PaymentError
	if errors.As(err, &pe) {
		switch pe.Code {
		case ErrCodeInvalidPayment:
			return MsgInvalidPayment
		case ErrCodeReplayDetected:
			return MsgReplayDetected
		case ErrCodeConfiguration:
			return MsgConfigurationError
		case ErrCodeTimeout:
			return MsgTimeout
		case ErrCodeFacilitatorUnavailable:
			return MsgFacilitatorDown
		case ErrCodeVerificationFailed, ErrCodeSettlementFailed:
			return MsgVerificationFailed
		}
	}
	switch {
	case errors.Is(err, ErrTimeout):
		return MsgTimeout
	case errors.Is(err, ErrInvalidConfig), errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidNetwork):
		return MsgConfigurationError
	case errors.Is(err, ErrReplayDetected):
		return MsgReplayDetected
	case errors.Is(err, ErrInvalidPayment), errors.Is(err, ErrMalformedHeader):
		return MsgInvalidPayment
	case errors.Is(err, ErrFacilitatorUnavailable):
		return MsgFacilitatorDown
	default:
		return MsgVerificationFailed
	}
}
