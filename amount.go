package x402

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MaxAmountScale is the largest number of fractional digits accepted in a configured amount.
const MaxAmountScale = 18

// MaxAssetDecimals is the largest asset precision the gate converts to.
const MaxAssetDecimals = 28

// DefaultAssetDecimals is the precision assumed when none is configured (USDC).
const DefaultAssetDecimals = 6

// ParseAmount parses a human amount such as "0.001" or "$0.001".
// Exponent notation is rejected.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	if s == "" {
		return decimal.Decimal{}, fmt.Errorf("Invalid amount: empty")
	}
	if strings.ContainsAny(s, "eE") {
		return decimal.Decimal{}, fmt.Errorf("Invalid amount: exponent notation is not allowed: %q", s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("Invalid amount: %v", err)
	}
	return d, nil
}

// AmountScale returns the number of fractional digits the amount was written with.
// "0.10" has scale 2.
func AmountScale(d decimal.Decimal) int {
	if exp := d.Exponent(); exp < 0 {
		return int(-exp)
	}
	return 0
}

// AmountToBaseUnits converts a decimal amount to an integer string in the
// asset's smallest unit by shifting the decimal point. The conversion is exact;
// amounts more precise than the asset are rejected rather than rounded.
// For example, "1.5" with 6 decimals becomes "1500000".
func AmountToBaseUnits(amount decimal.Decimal, decimals uint8) (string, error) {
	if amount.IsNegative() {
		return "", fmt.Errorf("%w: amount cannot be negative", ErrInvalidAmount)
	}
	if decimals > MaxAssetDecimals {
		return "", fmt.Errorf("%w: asset decimals %d exceed %d", ErrInvalidAmount, decimals, MaxAssetDecimals)
	}
	shifted := amount.Shift(int32(decimals))
	if !shifted.IsInteger() {
		return "", fmt.Errorf("%w: %s has more precision than %d decimals", ErrInvalidAmount, amount.String(), decimals)
	}
	return shifted.BigInt().String(), nil
}

// BaseUnitsToAmount converts an integer string in base units back to a decimal amount.
func BaseUnitsToAmount(units string, decimals uint8) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(units)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	if !d.IsInteger() {
		return decimal.Decimal{}, fmt.Errorf("%w: %s is not an integer", ErrInvalidAmount, units)
	}
	return d.Shift(-int32(decimals)), nil
}
