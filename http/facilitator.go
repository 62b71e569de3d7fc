package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/x402-gate"
	"github.com/mark3labs/x402-gate/facilitator"
)

// maxFacilitatorResponse caps how much of a facilitator answer is read.
const maxFacilitatorResponse = 1 << 20

// AuthorizationProvider supplies the Authorization header for facilitator calls.
type AuthorizationProvider interface {
	Authorization(ctx context.Context, method, path string) (string, error)
}

// StaticAuthorization sends a fixed Authorization header value.
type StaticAuthorization string

// Authorization implements AuthorizationProvider.
func (s StaticAuthorization) Authorization(context.Context, string, string) (string, error) {
	return string(s), nil
}

// FacilitatorClient is a client for communicating with x402 facilitator services.
type FacilitatorClient struct {
	BaseURL string
	Client  *http.Client

	// Auth, when set, signs every request.
	Auth AuthorizationProvider
}

var _ facilitator.Interface = (*FacilitatorClient)(nil)

// NewFacilitatorClient returns a client for baseURL. A trailing slash is trimmed.
func NewFacilitatorClient(baseURL string, client *http.Client) *FacilitatorClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &FacilitatorClient{BaseURL: normalizeBaseURL(baseURL), Client: client}
}

// Verify verifies a payment authorization without executing the transaction.
func (c *FacilitatorClient) Verify(ctx context.Context, payload json.RawMessage, requirement x402.PaymentRequirement, timeout time.Duration) (*facilitator.VerifyResponse, error) {
	return callWithTimeout(ctx, timeout, func(ctx context.Context) (*facilitator.VerifyResponse, error) {
		var resp facilitator.VerifyResponse
		if err := c.post(ctx, "/verify", payload, requirement, &resp); err != nil {
			return nil, err
		}
		return &resp, nil
	})
}

// Settle executes a verified payment. success:false is returned as a response, not an error.
func (c *FacilitatorClient) Settle(ctx context.Context, payload json.RawMessage, requirement x402.PaymentRequirement, timeout time.Duration) (*facilitator.SettleResponse, error) {
	return callWithTimeout(ctx, timeout, func(ctx context.Context) (*facilitator.SettleResponse, error) {
		var resp facilitator.SettleResponse
		if err := c.post(ctx, "/settle", payload, requirement, &resp); err != nil {
			return nil, err
		}
		return &resp, nil
	})
}

// Supported queries the facilitator for supported payment types.
func (c *FacilitatorClient) Supported(ctx context.Context, timeout time.Duration) (*facilitator.SupportedResponse, error) {
	return callWithTimeout(ctx, timeout, func(ctx context.Context) (*facilitator.SupportedResponse, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/supported", nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		var resp facilitator.SupportedResponse
		if err := c.do(httpReq, "/supported", &resp); err != nil {
			return nil, err
		}
		return &resp, nil
	})
}

func (c *FacilitatorClient) post(ctx context.Context, path string, payload json.RawMessage, requirement x402.PaymentRequirement, out any) error {
	data, err := json.Marshal(facilitator.Request{
		X402Version:         x402.X402Version,
		PaymentPayload:      payload,
		PaymentRequirements: requirement,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return c.do(httpReq, path, out)
}

func (c *FacilitatorClient) do(httpReq *http.Request, path string, out any) error {
	httpReq.Header.Set("Accept", "application/json")
	if c.Auth != nil {
		value, err := c.Auth.Authorization(httpReq.Context(), httpReq.Method, httpReq.URL.Path)
		if err != nil {
			return fmt.Errorf("%w: authorization: %v", x402.ErrFacilitatorUnavailable, err)
		}
		if value != "" {
			httpReq.Header.Set("Authorization", value)
		}
	}

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		// Context errors pass through so callWithTimeout can classify them.
		if ctxErr := httpReq.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %s request failed: %v", x402.ErrFacilitatorUnavailable, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFacilitatorResponse))
	if err != nil {
		if ctxErr := httpReq.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: reading %s response: %v", x402.ErrFacilitatorUnavailable, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Path: path, StatusCode: resp.StatusCode, Body: truncate(string(body), 256)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: failed to decode %s response: %v", x402.ErrFacilitatorUnavailable, path, err)
	}
	return nil
}

// StatusError is a non-2xx facilitator answer.
type StatusError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("facilitator %s returned status %d: %s", e.Path, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error {
	return x402.ErrFacilitatorUnavailable
}

// callWithTimeout runs fn under a deadline and reports expiry as x402.ErrTimeout.
// It is the only place a facilitator deadline is translated.
func callWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		timeout = DefaultFacilitatorTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := fn(ctx)
	if err != nil {
		var zero T
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w after %s: %v", x402.ErrTimeout, timeout, err)
		}
		return zero, err
	}
	return result, nil
}

// DefaultFacilitatorTimeout bounds a facilitator call when no timeout is given.
const DefaultFacilitatorTimeout = 10 * time.Second

func normalizeBaseURL(u string) string {
	return strings.TrimRight(strings.TrimSpace(u), "/")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// FacilitatorRegistry hands out one FacilitatorClient per base URL. All clients
// share a single *http.Client. The zero value is ready to use.
type FacilitatorRegistry struct {
	// HTTPClient is shared by every client. Defaults to a client with no
	// overall timeout; each call is bounded by its own deadline.
	HTTPClient *http.Client

	// Auth is attached to every client the registry creates.
	Auth AuthorizationProvider

	once    sync.Once
	mu      sync.Mutex
	clients map[string]*FacilitatorClient
}

// NewFacilitatorRegistry creates a registry sharing client across facilitators.
func NewFacilitatorRegistry(client *http.Client) *FacilitatorRegistry {
	return &FacilitatorRegistry{HTTPClient: client}
}

func (r *FacilitatorRegistry) init() {
	r.once.Do(func() {
		if r.HTTPClient == nil {
			r.HTTPClient = &http.Client{
				Transport: &http.Transport{
					Proxy:               http.ProxyFromEnvironment,
					MaxIdleConns:        100,
					MaxIdleConnsPerHost: 16,
					IdleConnTimeout:     90 * time.Second,
				},
			}
		}
		r.clients = make(map[string]*FacilitatorClient)
	})
}

// Client returns the cached client for baseURL, creating it on first use.
func (r *FacilitatorRegistry) Client(baseURL string) *FacilitatorClient {
	r.init()
	key := normalizeBaseURL(baseURL)

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[key]; ok {
		return c
	}
	c := &FacilitatorClient{BaseURL: key, Client: r.HTTPClient, Auth: r.Auth}
	r.clients[key] = c
	return c
}

// Len reports how many distinct facilitators have been resolved.
func (r *FacilitatorRegistry) Len() int {
	r.init()
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
