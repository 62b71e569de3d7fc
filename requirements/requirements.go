// Package requirements derives the payment requirement advertised for a request
// from its resolved location configuration.
package requirements

import (
	"fmt"
	"strings"

	"github.com/mark3labs/x402-gate"
	"github.com/mark3labs/x402-gate/config"
	"github.com/mark3labs/x402-gate/validation"
)

// DefaultMimeType is advertised when the caller cannot infer one.
const DefaultMimeType = "application/json"

// Create builds the requirement for a single request. It is pure: the same
// configuration and resource always produce the same requirement.
func Create(cfg *config.Config, resource, mimeType string) (x402.PaymentRequirement, error) {
	if cfg.Amount == nil {
		return x402.PaymentRequirement{}, fmt.Errorf("%w: Amount not configured", x402.ErrInvalidConfig)
	}
	if cfg.Amount.IsNegative() {
		return x402.PaymentRequirement{}, fmt.Errorf("%w: Amount cannot be negative", x402.ErrInvalidConfig)
	}
	if cfg.PayTo == "" {
		return x402.PaymentRequirement{}, fmt.Errorf("%w: pay_to address not configured", x402.ErrInvalidConfig)
	}

	network, err := ResolveNetwork(cfg)
	if err != nil {
		return x402.PaymentRequirement{}, err
	}

	amount, err := x402.AmountToBaseUnits(*cfg.Amount, cfg.EffectiveAssetDecimals())
	if err != nil {
		return x402.PaymentRequirement{}, err
	}

	resource, err = validation.ValidateResourcePath(resource)
	if err != nil {
		return x402.PaymentRequirement{}, fmt.Errorf("%w: %v", x402.ErrInvalidConfig, err)
	}

	if mimeType == "" {
		mimeType = DefaultMimeType
	}

	req := x402.PaymentRequirement{
		Scheme:            x402.SchemeExact,
		Network:           network,
		Amount:            amount,
		Resource:          resource,
		Description:       cfg.Description,
		MimeType:          mimeType,
		PayTo:             strings.ToLower(cfg.PayTo),
		MaxTimeoutSeconds: cfg.EffectiveTTL(),
		Asset:             ResolveAsset(cfg, network),
	}
	if domain, ok := x402.AssetDomainFor(req.Asset); ok {
		req.Extra = domain
	}
	return req, nil
}

// ResolveNetwork returns the CAIP-2 network for a configuration: network id
// first, then the configured network, then Base mainnet.
func ResolveNetwork(cfg *config.Config) (string, error) {
	if cfg.NetworkID != nil {
		if _, err := x402.ChainIDToNetwork(*cfg.NetworkID); err != nil {
			return "", fmt.Errorf("%w: %w: %v", x402.ErrInvalidConfig, x402.ErrInvalidNetwork, err)
		}
		return x402.FormatCAIP2(*cfg.NetworkID), nil
	}
	if cfg.Network != "" {
		return x402.NormalizeNetwork(cfg.Network), nil
	}
	return x402.DefaultNetwork, nil
}

// ResolveAsset returns the configured asset, else the network's USDC, else "".
func ResolveAsset(cfg *config.Config, network string) string {
	if cfg.Asset != "" {
		return cfg.Asset
	}
	if asset, ok := x402.DefaultAsset(network); ok {
		return asset
	}
	return ""
}

// NewPaymentRequired wraps a requirement in the 402 envelope. msg is empty when
// no proof was presented.
func NewPaymentRequired(msg string, req x402.PaymentRequirement) x402.PaymentRequired {
	return x402.PaymentRequired{
		X402Version: x402.X402Version,
		Error:       msg,
		Resource: x402.ResourceInfo{
			URL:         req.Resource,
			Description: req.Description,
			MimeType:    req.MimeType,
		},
		Accepts: []x402.PaymentRequirement{req},
	}
}
