// Package coinbase signs facilitator requests for the Coinbase Developer
// Platform (CDP) hosted x402 facilitator.
//
// CDP authenticates each call with a short-lived ES256 or EdDSA JWT bound to
// the request method and path:
//
//	auth, err := coinbase.NewCDPAuth(os.Getenv("CDP_API_KEY_ID"), os.Getenv("CDP_API_KEY_SECRET"))
//	mw := httpx402.NewX402Middleware(&httpx402.Config{
//	    Payment:                          cfg,
//	    FacilitatorAuthorizationProvider: auth,
//	})
package coinbase

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

const (
	// DefaultHost is the CDP API host embedded in the uri claim.
	DefaultHost = "api.cdp.coinbase.com"

	// FacilitatorURL is the base URL of the CDP hosted facilitator.
	FacilitatorURL = "https://api.cdp.coinbase.com/platform/v2/x402"

	issuer   = "cdp"
	tokenTTL = 2 * time.Minute
)

// ErrEmptyKeyName is returned when no API key identifier is configured.
var ErrEmptyKeyName = errors.New("coinbase: API key name must not be empty")

// Claims is the CDP JWT claim set.
type Claims struct {
	*jwt.Claims
	URIs []string `json:"uris"`
}

// CDPAuth produces Authorization headers for CDP API calls.
type CDPAuth struct {
	// Host is the API host bound into each token. Defaults to DefaultHost.
	Host string

	keyName    string
	privateKey crypto.Signer
	alg        jose.SignatureAlgorithm
	now        func() time.Time
}

// NewCDPAuth parses a PEM-encoded EC (SEC1 or PKCS8) or Ed25519 key.
func NewCDPAuth(keyName, keySecret string) (*CDPAuth, error) {
	if keyName == "" {
		return nil, ErrEmptyKeyName
	}

	block, _ := pem.Decode([]byte(keySecret))
	if block == nil {
		return nil, errors.New("coinbase: API key secret is not PEM encoded")
	}

	var key any
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("coinbase: parsing private key: %w", err)
		}
	}

	a := &CDPAuth{Host: DefaultHost, keyName: keyName, now: time.Now}
	switch k := key.(type) {
	case *ecdsa.PrivateKey:
		a.privateKey, a.alg = k, jose.ES256
	case ed25519.PrivateKey:
		a.privateKey, a.alg = k, jose.EdDSA
	default:
		return nil, fmt.Errorf("coinbase: unsupported private key type %T", key)
	}
	return a, nil
}

// BearerToken signs a JWT for one request.
func (a *CDPAuth) BearerToken(method, path string) (string, error) {
	host := a.Host
	if host == "" {
		host = DefaultHost
	}

	opts := (&jose.SignerOptions{}).
		WithType("JWT").
		WithHeader("kid", a.keyName).
		WithHeader("nonce", uuid.NewString())
	sig, err := jose.NewSigner(jose.SigningKey{Algorithm: a.alg, Key: a.privateKey}, opts)
	if err != nil {
		return "", fmt.Errorf("coinbase: creating signer: %w", err)
	}

	now := a.now()
	claims := Claims{
		Claims: &jwt.Claims{
			Subject:   a.keyName,
			Issuer:    issuer,
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
			Expiry:    jwt.NewNumericDate(now.Add(tokenTTL)),
		},
		URIs: []string{fmt.Sprintf("%s %s%s", method, host, path)},
	}

	token, err := jwt.Signed(sig).Claims(claims).CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("coinbase: signing token: %w", err)
	}
	return token, nil
}

// Authorization returns "Bearer <jwt>" for the facilitator request.
func (a *CDPAuth) Authorization(_ context.Context, method, path string) (string, error) {
	token, err := a.BearerToken(method, path)
	if err != nil {
		return "", err
	}
	return "Bearer " + token, nil
}
