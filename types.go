package x402

// X402Version is the protocol version emitted in 402 envelopes and facilitator requests.
const X402Version = 2

// SchemeExact is the only payment scheme the gate advertises.
const SchemeExact = "exact"

// PaymentRequirement describes a single payment option offered in a 402 response.
type PaymentRequirement struct {
	// Scheme is the payment scheme identifier (always "exact").
	Scheme string `json:"scheme"`

	// Network is the CAIP-2 network identifier (e.g., "eip155:8453").
	Network string `json:"network"`

	// Amount is the payment amount in the asset's smallest unit.
	Amount string `json:"amount"`

	// Resource is the URL or path of the protected resource.
	Resource string `json:"resource"`

	// Description is a human-readable payment description.
	Description string `json:"description"`

	// MimeType is the content type of the protected resource.
	MimeType string `json:"mimeType"`

	// PayTo is the lowercase recipient address.
	PayTo string `json:"payTo"`

	// MaxTimeoutSeconds is the validity period for the payment authorization.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds"`

	// Asset is the token contract address. Empty when it could not be resolved.
	Asset string `json:"asset,omitempty"`

	// Extra carries the EIP-712 signing domain for recognised stablecoins.
	Extra *AssetDomain `json:"extra,omitempty"`
}

// AssetDomain is the EIP-712 domain name/version pair of a token contract.
type AssetDomain struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ResourceInfo describes the resource being sold.
type ResourceInfo struct {
	URL         string `json:"url"`
	Description string `json:"description"`
	MimeType    string `json:"mimeType"`
}

// PaymentRequired is the 402 envelope sent in the PAYMENT-REQUIRED header and,
// for API clients, as the response body.
type PaymentRequired struct {
	X402Version int                  `json:"x402Version"`
	Error       string               `json:"error"`
	Resource    ResourceInfo         `json:"resource"`
	Accepts     []PaymentRequirement `json:"accepts"`
}

// SettlementResponse is returned to the client in the PAYMENT-RESPONSE header
// after a successful settlement.
type SettlementResponse struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network,omitempty"`
	Payer       string `json:"payer,omitempty"`
}
