// Package store records consumed payment proofs and serves per-path price
// overrides from a keyed TTL store.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Result is the outcome of a lookup. Unavailable means the store could not be
// asked, which is distinct from the key being absent.
type Result int

const (
	NotFound Result = iota
	Found
	Unavailable
)

func (r Result) String() string {
	switch r {
	case Found:
		return "found"
	case NotFound:
		return "not_found"
	default:
		return "unavailable"
	}
}

// Store is the minimal keyed TTL store the gate needs.
type Store interface {
	Get(ctx context.Context, key string) (string, Result, error)
	Exists(ctx context.Context, key string) (Result, error)
	SetEX(ctx context.Context, key, value string, ttl time.Duration) error
	Close() error
}

// ReplayKeyPrefix namespaces consumed proofs.
const ReplayKeyPrefix = "x402:payment_sig:"

const usedMarker = "used"

// ProofHash is the hex SHA-256 of an encoded proof. Callers pass the
// canonical encoding (encoding.CanonicalProof), not the raw header.
func ProofHash(proof string) string {
	sum := sha256.Sum256([]byte(proof))
	return hex.EncodeToString(sum[:])
}

// ReplayKey is the store key recording that proof was settled.
func ReplayKey(proof string) string {
	return ReplayKeyPrefix + ProofHash(proof)
}

// Open connects to the store named by rawURL: redis:// and rediss:// use Redis,
// memory:// keeps state in process.
func Open(rawURL string) (Store, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("invalid store url: %w", err)
	}
	switch u.Scheme {
	case "redis", "rediss":
		s, err := NewRedisStore(rawURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported store scheme %q", u.Scheme)
	}
}
