// Package config resolves per-location x402 directives into a validated,
// immutable configuration snapshot.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mark3labs/x402-gate"
	"github.com/mark3labs/x402-gate/validation"
)

// StoreURLEnv names the environment variable consulted when no store URL is configured.
const StoreURLEnv = "X402_REDIS_URL"

const (
	// DefaultTimeout bounds each facilitator call when x402_timeout is unset.
	DefaultTimeout = 10 * time.Second

	// DefaultTTL is the requirement maxTimeoutSeconds when x402_ttl is unset.
	DefaultTTL = 60

	// DefaultReplayTTL is how long a settled proof is remembered, in seconds.
	DefaultReplayTTL = 86400
)

// FallbackPolicy decides what happens when the facilitator cannot be reached.
type FallbackPolicy int

const (
	// FallbackError answers 500 when the facilitator fails.
	FallbackError FallbackPolicy = iota

	// FallbackPass lets the request through unpaid when the facilitator fails.
	FallbackPass
)

func (p FallbackPolicy) String() string {
	if p == FallbackPass {
		return "pass"
	}
	return "error"
}

// Error is a directive that failed validation.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *Error) Unwrap() error {
	return x402.ErrInvalidConfig
}

func fieldErr(field, format string, args ...any) *Error {
	return &Error{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// RawConfig holds directive values exactly as written. An empty string means
// the directive was not set at this level.
type RawConfig struct {
	Enabled             string `yaml:"x402" json:"x402,omitempty"`
	Amount              string `yaml:"x402_amount" json:"x402_amount,omitempty"`
	PayTo               string `yaml:"x402_pay_to" json:"x402_pay_to,omitempty"`
	FacilitatorURL      string `yaml:"x402_facilitator_url" json:"x402_facilitator_url,omitempty"`
	Description         string `yaml:"x402_description" json:"x402_description,omitempty"`
	Network             string `yaml:"x402_network" json:"x402_network,omitempty"`
	NetworkID           string `yaml:"x402_network_id" json:"x402_network_id,omitempty"`
	Resource            string `yaml:"x402_resource" json:"x402_resource,omitempty"`
	Asset               string `yaml:"x402_asset" json:"x402_asset,omitempty"`
	AssetDecimals       string `yaml:"x402_asset_decimals" json:"x402_asset_decimals,omitempty"`
	Timeout             string `yaml:"x402_timeout" json:"x402_timeout,omitempty"`
	FacilitatorFallback string `yaml:"x402_facilitator_fallback" json:"x402_facilitator_fallback,omitempty"`
	TTL                 string `yaml:"x402_ttl" json:"x402_ttl,omitempty"`
	StoreURL            string `yaml:"x402_redis_url" json:"x402_redis_url,omitempty"`
	ReplayTTL           string `yaml:"x402_replay_ttl" json:"x402_replay_ttl,omitempty"`
}

// Config is a resolved location configuration. Pointer and empty-string fields
// are unset.
type Config struct {
	Enabled bool

	// Amount is the price in human units (e.g. 0.001 USDC).
	Amount *decimal.Decimal

	// PayTo is the lowercase recipient address.
	PayTo string

	FacilitatorURL string
	Description    string

	// Network is a friendly name or CAIP-2 identifier. Always empty when NetworkID is set.
	Network   string
	NetworkID *uint64

	Resource      string
	Asset         string
	AssetDecimals *uint8

	// Timeout bounds each facilitator call. Zero means DefaultTimeout.
	Timeout time.Duration

	FacilitatorFallback FallbackPolicy

	// TTL is the requirement maxTimeoutSeconds. Zero means DefaultTTL.
	TTL int

	StoreURL string

	// ReplayTTL is in seconds. Zero means DefaultReplayTTL.
	ReplayTTL int64
}

// EffectiveTimeout returns the configured timeout or the default.
func (c *Config) EffectiveTimeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

// EffectiveTTL returns the requirement validity window in seconds.
func (c *Config) EffectiveTTL() int {
	if c.TTL > 0 {
		return c.TTL
	}
	return DefaultTTL
}

// EffectiveReplayTTL returns how long a settled proof is remembered.
func (c *Config) EffectiveReplayTTL() time.Duration {
	if c.ReplayTTL > 0 {
		return time.Duration(c.ReplayTTL) * time.Second
	}
	return DefaultReplayTTL * time.Second
}

// EffectiveAssetDecimals returns the asset precision, defaulting to USDC's 6.
func (c *Config) EffectiveAssetDecimals() uint8 {
	if c.AssetDecimals != nil {
		return *c.AssetDecimals
	}
	return x402.DefaultAssetDecimals
}

// Merge fills every directive unset at this level from parent.
func (r RawConfig) Merge(parent RawConfig) RawConfig {
	inherit := func(child *string, p string) {
		if *child == "" {
			*child = p
		}
	}
	inherit(&r.Enabled, parent.Enabled)
	inherit(&r.Amount, parent.Amount)
	inherit(&r.PayTo, parent.PayTo)
	inherit(&r.FacilitatorURL, parent.FacilitatorURL)
	inherit(&r.Description, parent.Description)
	inherit(&r.Network, parent.Network)
	inherit(&r.NetworkID, parent.NetworkID)
	inherit(&r.Resource, parent.Resource)
	inherit(&r.Asset, parent.Asset)
	inherit(&r.AssetDecimals, parent.AssetDecimals)
	inherit(&r.Timeout, parent.Timeout)
	inherit(&r.FacilitatorFallback, parent.FacilitatorFallback)
	inherit(&r.TTL, parent.TTL)
	inherit(&r.StoreURL, parent.StoreURL)
	inherit(&r.ReplayTTL, parent.ReplayTTL)
	return r
}

// Resolve validates every set directive and returns the typed configuration.
// The only side effect is reading StoreURLEnv when no store URL is set.
func (r RawConfig) Resolve() (*Config, error) {
	cfg := &Config{}

	enabled, err := parseSwitch(r.Enabled)
	if err != nil {
		return nil, fieldErr("x402", "%v", err)
	}
	cfg.Enabled = enabled

	if s := r.Amount; s != "" {
		amount, err := validation.ParseAmount(s)
		if err != nil {
			return nil, fieldErr("x402_amount", "%v", err)
		}
		if err := validation.ValidateAmount(amount); err != nil {
			return nil, fieldErr("x402_amount", "%v", err)
		}
		cfg.Amount = &amount
	}

	if s := strings.TrimSpace(r.PayTo); s != "" {
		if err := validation.ValidateEthereumAddress(s); err != nil {
			return nil, fieldErr("x402_pay_to", "%v", err)
		}
		cfg.PayTo = strings.ToLower(s)
	}

	if s := strings.TrimSpace(r.FacilitatorURL); s != "" {
		if err := validation.ValidateURL(s); err != nil {
			return nil, fieldErr("x402_facilitator_url", "%v", err)
		}
		cfg.FacilitatorURL = s
	}

	cfg.Description = r.Description

	if s := strings.TrimSpace(r.NetworkID); s != "" {
		id, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return nil, fieldErr("x402_network_id", "Invalid network_id: %v", errors.Unwrap(err))
		}
		if _, err := validation.ChainIDToNetwork(id); err != nil {
			return nil, fieldErr("x402_network_id", "%v", err)
		}
		cfg.NetworkID = &id
	} else if s := strings.TrimSpace(r.Network); s != "" {
		if err := validation.ValidateNetwork(s); err != nil {
			return nil, fieldErr("x402_network", "%v", err)
		}
		cfg.Network = s
	}

	if s := r.Resource; s != "" {
		p, err := validation.ValidateResourcePath(s)
		if err != nil {
			return nil, fieldErr("x402_resource", "%v", err)
		}
		cfg.Resource = p
	}

	if s := strings.TrimSpace(r.Asset); s != "" {
		if err := validation.ValidateEthereumAddress(s); err != nil {
			return nil, fieldErr("x402_asset", "%v", err)
		}
		cfg.Asset = s
	}

	if s := strings.TrimSpace(r.AssetDecimals); s != "" {
		d, err := strconv.ParseUint(s, 10, 8)
		if err != nil {
			return nil, fieldErr("x402_asset_decimals", "Invalid asset_decimals: %v", errors.Unwrap(err))
		}
		if d > x402.MaxAssetDecimals {
			return nil, fieldErr("x402_asset_decimals", "asset_decimals must be at most %d", x402.MaxAssetDecimals)
		}
		decimals := uint8(d)
		cfg.AssetDecimals = &decimals
	}

	if cfg.Amount != nil {
		if _, err := x402.AmountToBaseUnits(*cfg.Amount, cfg.EffectiveAssetDecimals()); err != nil {
			return nil, fieldErr("x402_amount", "amount %s does not fit %d asset decimals: %v",
				cfg.Amount.String(), cfg.EffectiveAssetDecimals(), err)
		}
	}

	if s := strings.TrimSpace(r.Timeout); s != "" {
		secs, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return nil, fieldErr("x402_timeout", "Invalid timeout: %v", errors.Unwrap(err))
		}
		if secs < 1 || secs > 300 {
			return nil, fieldErr("x402_timeout", "Timeout must be between 1 and 300 seconds")
		}
		cfg.Timeout = time.Duration(secs) * time.Second
	}

	if s := strings.TrimSpace(r.FacilitatorFallback); s != "" {
		switch strings.ToLower(s) {
		case "error", "500":
			cfg.FacilitatorFallback = FallbackError
		case "pass", "bypass", "through":
			cfg.FacilitatorFallback = FallbackPass
		default:
			return nil, fieldErr("x402_facilitator_fallback", "facilitator_fallback must be 'error' or 'pass'")
		}
	}

	if s := strings.TrimSpace(r.TTL); s != "" {
		ttl, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return nil, fieldErr("x402_ttl", "Invalid ttl: %v", errors.Unwrap(err))
		}
		if ttl < 1 || ttl > 3600 {
			return nil, fieldErr("x402_ttl", "ttl must be between 1 and 3600 seconds")
		}
		cfg.TTL = int(ttl)
	}

	if s := strings.TrimSpace(r.StoreURL); s != "" {
		cfg.StoreURL = s
	} else {
		cfg.StoreURL = os.Getenv(StoreURLEnv)
	}

	if s := strings.TrimSpace(r.ReplayTTL); s != "" {
		ttl, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fieldErr("x402_replay_ttl", "Invalid replay_ttl: %v", errors.Unwrap(err))
		}
		if ttl < 0 {
			return nil, fieldErr("x402_replay_ttl", "replay_ttl cannot be negative")
		}
		cfg.ReplayTTL = ttl
	}

	return cfg, nil
}

func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "off", "false", "0", "no":
		return false, nil
	case "on", "true", "1", "yes":
		return true, nil
	default:
		return false, fmt.Errorf("must be 'on' or 'off', got %q", s)
	}
}
