// Package validation holds the pure checks applied to configuration directives
// before a payment requirement can be built.
package validation

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/mark3labs/x402-gate"
)

// ValidateAmount validates a decimal amount in human units.
// Returns an error if the amount is negative or written with more than 18 fractional digits.
func ValidateAmount(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("Amount cannot be negative")
	}
	if scale := x402.AmountScale(amount); scale > x402.MaxAmountScale {
		return fmt.Errorf("Amount has %d decimal places, maximum is %d", scale, x402.MaxAmountScale)
	}
	return nil
}

// ValidateEthereumAddress validates a 0x-prefixed 20-byte hex address.
// Hex digits are accepted in either case; no checksum is enforced.
func ValidateEthereumAddress(address string) error {
	addr := strings.TrimSpace(address)
	if !strings.HasPrefix(addr, "0x") && !strings.HasPrefix(addr, "0X") {
		return fmt.Errorf("Ethereum address must start with 0x")
	}
	if len(addr) != 2+2*common.AddressLength {
		return fmt.Errorf("Ethereum address must be 42 characters, got %d", len(addr))
	}
	if !common.IsHexAddress(addr) {
		return fmt.Errorf("Ethereum address contains invalid hex characters")
	}
	return nil
}

// ValidateNetwork accepts a namespace:reference pair or a known friendly network name.
func ValidateNetwork(network string) error {
	net := strings.TrimSpace(network)
	if net == "" {
		return fmt.Errorf("Network cannot be empty")
	}
	if namespace, reference, ok := strings.Cut(net, ":"); ok {
		if namespace == "" || reference == "" {
			return fmt.Errorf("Invalid CAIP-2 network format: %s", net)
		}
		return nil
	}
	if _, ok := x402.ChainByName(net); !ok {
		return fmt.Errorf("Unsupported network: %s", net)
	}
	return nil
}

// ValidateURL validates a facilitator base URL.
func ValidateURL(raw string) error {
	u := strings.TrimSpace(raw)
	if u == "" {
		return fmt.Errorf("URL cannot be empty")
	}
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		return fmt.Errorf("URL must start with http:// or https://")
	}
	parsed, err := url.Parse(u)
	if err != nil {
		return fmt.Errorf("Invalid URL: %v", err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL must include a host")
	}
	return nil
}

// ValidateResourcePath validates a resource override and returns it trimmed.
// Both absolute paths and full URLs are accepted as long as no segment is "..".
func ValidateResourcePath(path string) (string, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return "", fmt.Errorf("Resource path cannot be empty")
	}
	if hasDotDotSegment(p) {
		return "", fmt.Errorf("Resource path cannot contain '..'")
	}
	return p, nil
}

func hasDotDotSegment(p string) bool {
	// Query and fragment are not part of the path.
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	for _, seg := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return true
		}
		if decoded, err := url.PathUnescape(seg); err == nil && decoded == ".." {
			return true
		}
	}
	return false
}

// ChainIDToNetwork maps a numeric chain id to its friendly network name.
func ChainIDToNetwork(id uint64) (string, error) {
	return x402.ChainIDToNetwork(id)
}

// NetworkToChainID maps a friendly network name to its numeric chain id.
func NetworkToChainID(name string) (uint64, error) {
	return x402.NetworkToChainID(name)
}

// ParseAmount parses a human amount, accepting an optional leading "$".
func ParseAmount(s string) (decimal.Decimal, error) {
	return x402.ParseAmount(s)
}
