package store

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

// ErrDisabled is returned by MarkUsed when no store is configured.
var ErrDisabled = errors.New("store: not configured")

// Guard applies the gate's replay and pricing policy on top of a Store.
// A nil Guard, or one with a nil Store, behaves as a disabled store.
type Guard struct {
	Store  Store
	Logger *slog.Logger
}

// NewGuard wraps s. s may be nil.
func NewGuard(s Store, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{Store: s, Logger: logger}
}

func (g *Guard) enabled() bool {
	return g != nil && g.Store != nil
}

func (g *Guard) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}

// Lookup reports the raw replay state of proof.
func (g *Guard) Lookup(ctx context.Context, proof string) Result {
	if !g.enabled() {
		return Unavailable
	}
	res, err := g.Store.Exists(ctx, ReplayKey(proof))
	if err != nil {
		g.logger().Warn("replay store lookup failed", "error", err)
		return Unavailable
	}
	return res
}

// IsUsed reports whether proof was already settled.
//
// An unavailable store answers false: the replay check fails open so a store
// outage does not block paid traffic. Replays are possible during an outage.
func (g *Guard) IsUsed(ctx context.Context, proof string) bool {
	return g.Lookup(ctx, proof) == Found
}

// MarkUsed records proof as settled for ttl.
func (g *Guard) MarkUsed(ctx context.Context, proof string, ttl time.Duration) error {
	if !g.enabled() {
		return ErrDisabled
	}
	return g.Store.SetEX(ctx, ReplayKey(proof), usedMarker, ttl)
}

// DynamicPrice returns the price override stored under the request path.
func (g *Guard) DynamicPrice(ctx context.Context, path string) (string, bool) {
	if !g.enabled() {
		return "", false
	}
	v, res, err := g.Store.Get(ctx, path)
	if err != nil {
		g.logger().Debug("dynamic price lookup failed", "path", path, "error", err)
	}
	if res != Found {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}
