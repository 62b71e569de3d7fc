package caddyx402

import (
	"github.com/caddyserver/caddy/v2/caddyconfig/caddyfile"
	"github.com/caddyserver/caddy/v2/caddyconfig/httpcaddyfile"
	"github.com/caddyserver/caddy/v2/modules/caddyhttp"
)

func init() {
	httpcaddyfile.RegisterHandlerDirective("x402", parseCaddyfile)
	httpcaddyfile.RegisterDirectiveOrder("x402", httpcaddyfile.Before, "reverse_proxy")
}

func parseCaddyfile(h httpcaddyfile.Helper) (caddyhttp.MiddlewareHandler, error) {
	m := new(Handler)
	err := m.UnmarshalCaddyfile(h.Dispenser)
	return m, err
}

// UnmarshalCaddyfile sets up the handler from Caddyfile tokens:
//
//	x402 [on|off] {
//	    amount            0.01
//	    pay_to            0x...
//	    facilitator_url   https://x402.org/facilitator
//	    description       "Premium API"
//	    network           base-sepolia
//	    network_id        84532
//	    resource          /api/premium
//	    asset             0x...
//	    asset_decimals    6
//	    timeout           10
//	    fallback          error|pass
//	    ttl               60
//	    redis_url         redis://localhost:6379
//	    replay_ttl        86400
//	}
//
// The handler is on unless the first argument turns it off.
func (h *Handler) UnmarshalCaddyfile(d *caddyfile.Dispenser) error {
	d.Next() // consume directive name

	if d.NextArg() {
		h.Directives.Enabled = d.Val()
	}
	if d.NextArg() {
		return d.ArgErr()
	}
	if h.Directives.Enabled == "" {
		h.Directives.Enabled = "on"
	}

	for d.NextBlock(0) {
		key := d.Val()
		var value string
		if !d.Args(&value) {
			return d.ArgErr()
		}
		if d.NextArg() {
			return d.ArgErr()
		}

		target := h.field(key)
		if target == nil {
			return d.Errf("unrecognized x402 option '%s'", key)
		}
		*target = value
	}
	return nil
}

func (h *Handler) field(key string) *string {
	c := &h.Directives
	switch key {
	case "amount":
		return &c.Amount
	case "pay_to":
		return &c.PayTo
	case "facilitator_url":
		return &c.FacilitatorURL
	case "description":
		return &c.Description
	case "network":
		return &c.Network
	case "network_id":
		return &c.NetworkID
	case "resource":
		return &c.Resource
	case "asset":
		return &c.Asset
	case "asset_decimals":
		return &c.AssetDecimals
	case "timeout":
		return &c.Timeout
	case "fallback", "facilitator_fallback":
		return &c.FacilitatorFallback
	case "ttl":
		return &c.TTL
	case "redis_url":
		return &c.StoreURL
	case "replay_ttl":
		return &c.ReplayTTL
	}
	return nil
}
