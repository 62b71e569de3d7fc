package http

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"

	"github.com/mark3labs/x402-gate"
	"github.com/mark3labs/x402-gate/config"
	"github.com/mark3labs/x402-gate/encoding"
	"github.com/mark3labs/x402-gate/facilitator"
	"github.com/mark3labs/x402-gate/store"
)

const testPayTo = "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"

// fakeFacilitator answers /verify and /settle with canned responses.
type fakeFacilitator struct {
	mu           sync.Mutex
	verify       facilitator.VerifyResponse
	settle       facilitator.SettleResponse
	verifyStatus int
	settleStatus int
	delay        time.Duration
	verifyCalls  int
	settleCalls  int
	lastRequest  facilitator.Request
}

func newFakeFacilitator(t *testing.T) (*fakeFacilitator, *httptest.Server) {
	t.Helper()
	f := &fakeFacilitator{
		verify: facilitator.VerifyResponse{IsValid: true, Payer: "0x857b06519e91e3a54538791bdbb0e22373e36b66"},
		settle: facilitator.SettleResponse{Success: true, TxHash: "0xabc123", Network: "eip155:8453"},
	}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeFacilitator) serve(w http.ResponseWriter, r *http.Request) {
	var req facilitator.Request
	_ = json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	f.lastRequest = req
	delay := f.delay
	status, body := http.StatusOK, any(nil)
	switch r.URL.Path {
	case "/verify":
		f.verifyCalls++
		body = f.verify
		if f.verifyStatus != 0 {
			status = f.verifyStatus
		}
	case "/settle":
		f.settleCalls++
		body = f.settle
		if f.settleStatus != 0 {
			status = f.settleStatus
		}
	default:
		status = http.StatusNotFound
	}
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (f *fakeFacilitator) calls() (verify, settle int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.verifyCalls, f.settleCalls
}

func gateConfig(t *testing.T, facilitatorURL string, mutate func(*config.RawConfig)) *config.Config {
	t.Helper()
	t.Setenv(config.StoreURLEnv, "")
	raw := config.RawConfig{
		Enabled:        "on",
		Amount:         "0.001",
		PayTo:          testPayTo,
		FacilitatorURL: facilitatorURL,
		NetworkID:      "8453",
	}
	if mutate != nil {
		mutate(&raw)
	}
	cfg, err := raw.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	return cfg
}

func testProof(t *testing.T) string {
	t.Helper()
	return base64.StdEncoding.EncodeToString(testPayload)
}

func newTestGate(s store.Store) *Gate {
	g := NewGate(nil)
	g.Guard = store.NewGuard(s, nil)
	return g
}

func paymentRequest(proof string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/premium", nil)
	r.Header.Set("Accept", "application/json")
	if proof != "" {
		r.Header.Set(PaymentSignatureHeader, proof)
	}
	return r
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) x402.PaymentRequired {
	t.Helper()
	header := rec.Header().Get(PaymentRequiredHeader)
	if header == "" {
		t.Fatal("PAYMENT-REQUIRED header missing")
	}
	env, err := encoding.DecodePaymentRequired(header)
	if err != nil {
		t.Fatalf("DecodePaymentRequired: %v", err)
	}
	var body x402.PaymentRequired
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("402 body is not JSON: %v", err)
	}
	if body.Error != env.Error || len(body.Accepts) != len(env.Accepts) {
		t.Errorf("body %+v disagrees with header %+v", body, env)
	}
	return env
}

func TestGate_Disabled(t *testing.T) {
	fac, srv := newFakeFacilitator(t)
	cfg := gateConfig(t, srv.URL, func(r *config.RawConfig) { r.Enabled = "off" })

	rec := httptest.NewRecorder()
	d := newTestGate(nil).Evaluate(context.Background(), NewRequestExchange(rec, paymentRequest("")), cfg)
	if d != PaymentValid {
		t.Fatalf("disposition = %v, want PaymentValid", d)
	}
	if v, s := fac.calls(); v+s != 0 {
		t.Errorf("facilitator called %d times", v+s)
	}
	if d := newTestGate(nil).Evaluate(context.Background(), NewRequestExchange(rec, paymentRequest("")), nil); d != PaymentValid {
		t.Errorf("nil config disposition = %v", d)
	}
}

func TestGate_NoProof(t *testing.T) {
	fac, srv := newFakeFacilitator(t)
	cfg := gateConfig(t, srv.URL, nil)

	rec := httptest.NewRecorder()
	d := newTestGate(nil).Evaluate(context.Background(), NewRequestExchange(rec, paymentRequest("")), cfg)
	if d != ResponseSent {
		t.Fatalf("disposition = %v, want ResponseSent", d)
	}
	if rec.Code != http.StatusPaymentRequired {
		t.Errorf("status = %d, want 402", rec.Code)
	}
	if v, _ := fac.calls(); v != 0 {
		t.Errorf("verify called %d times", v)
	}

	env := decodeEnvelope(t, rec)
	if env.X402Version != 2 {
		t.Errorf("x402Version = %d", env.X402Version)
	}
	if env.Error != DefaultPaymentMessage {
		t.Errorf("error = %q, want %q", env.Error, DefaultPaymentMessage)
	}
	if env.Resource.URL != "http://example.com/api/premium" {
		t.Errorf("resource url = %q", env.Resource.URL)
	}
	if len(env.Accepts) != 1 {
		t.Fatalf("accepts = %d", len(env.Accepts))
	}
	req := env.Accepts[0]
	if req.Amount != "1000" || req.Network != "eip155:8453" || req.Asset != x402.BaseMainnet.USDCAddress {
		t.Errorf("requirement = %+v", req)
	}
	if req.PayTo != strings.ToLower(testPayTo) {
		t.Errorf("payTo = %q, want lowercase", req.PayTo)
	}
	if req.Extra == nil || req.Extra.Name != "USD Coin" {
		t.Errorf("extra = %+v", req.Extra)
	}
}

func TestGate_NoProofUsesDescription(t *testing.T) {
	_, srv := newFakeFacilitator(t)
	cfg := gateConfig(t, srv.URL, func(r *config.RawConfig) { r.Description = "Premium weather" })

	rec := httptest.NewRecorder()
	newTestGate(nil).Evaluate(context.Background(), NewRequestExchange(rec, paymentRequest("")), cfg)
	env := decodeEnvelope(t, rec)
	if env.Error != "Premium weather" || env.Resource.Description != "Premium weather" {
		t.Errorf("envelope = %+v", env)
	}
}

func TestGate_SkippedRequests(t *testing.T) {
	fac, srv := newFakeFacilitator(t)
	cfg := gateConfig(t, srv.URL, nil)

	tests := []struct {
		name  string
		build func() *http.Request
	}{
		{"options", func() *http.Request { return httptest.NewRequest(http.MethodOptions, "/api/premium", nil) }},
		{"head", func() *http.Request { return httptest.NewRequest(http.MethodHead, "/api/premium", nil) }},
		{"trace", func() *http.Request { return httptest.NewRequest(http.MethodTrace, "/api/premium", nil) }},
		{"websocket", func() *http.Request {
			r := httptest.NewRequest(http.MethodGet, "/api/premium", nil)
			r.Header.Set("Upgrade", "websocket")
			r.Header.Set("Connection", "keep-alive, Upgrade")
			return r
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			if d := newTestGate(nil).Evaluate(context.Background(), NewRequestExchange(rec, tt.build()), cfg); d != PaymentValid {
				t.Errorf("disposition = %v, want PaymentValid", d)
			}
			if rec.Header().Get(PaymentRequiredHeader) != "" {
				t.Error("skipped request got a 402 envelope")
			}
		})
	}
	if v, s := fac.calls(); v+s != 0 {
		t.Errorf("facilitator called %d times", v+s)
	}
}

func TestGate_InvalidProof(t *testing.T) {
	tests := []struct {
		name  string
		proof string
	}{
		{"oversized", strings.Repeat("A", MaxPaymentHeaderSize+1)},
		{"not base64", "%%%not-base64%%%"},
		{"not json", base64.StdEncoding.EncodeToString([]byte("hello"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fac, srv := newFakeFacilitator(t)
			cfg := gateConfig(t, srv.URL, nil)

			rec := httptest.NewRecorder()
			d := newTestGate(nil).Evaluate(context.Background(), NewRequestExchange(rec, paymentRequest(tt.proof)), cfg)
			if d != ResponseSent || rec.Code != http.StatusPaymentRequired {
				t.Fatalf("disposition = %v status = %d", d, rec.Code)
			}
			if env := decodeEnvelope(t, rec); env.Error != x402.MsgInvalidPayment {
				t.Errorf("error = %q", env.Error)
			}
			if v, _ := fac.calls(); v != 0 {
				t.Errorf("verify called %d times", v)
			}
		})
	}
}

func TestGate_SettledPayment(t *testing.T) {
	fac, srv := newFakeFacilitator(t)
	cfg := gateConfig(t, srv.URL, nil)
	mem := store.NewMemoryStore()
	g := newTestGate(mem)
	proof := testProof(t)

	rec := httptest.NewRecorder()
	d := g.Evaluate(context.Background(), NewRequestExchange(rec, paymentRequest(proof)), cfg)
	if d != PaymentValid {
		t.Fatalf("disposition = %v, want PaymentValid", d)
	}
	if v, s := fac.calls(); v != 1 || s != 1 {
		t.Errorf("calls verify=%d settle=%d, want 1/1", v, s)
	}
	fac.mu.Lock()
	last := fac.lastRequest
	fac.mu.Unlock()
	if string(last.PaymentPayload) != string(testPayload) {
		t.Errorf("payload forwarded as %s", last.PaymentPayload)
	}
	if last.PaymentRequirements.Amount != "1000" {
		t.Errorf("requirement amount = %q", last.PaymentRequirements.Amount)
	}

	receipt, err := encoding.DecodeSettlement(rec.Header().Get(PaymentResponseHeader))
	if err != nil {
		t.Fatalf("PAYMENT-RESPONSE: %v", err)
	}
	if !receipt.Success || receipt.Transaction != "0xabc123" || receipt.Payer == "" {
		t.Errorf("receipt = %+v", receipt)
	}

	res, err := mem.Exists(context.Background(), store.ReplayKey(proof))
	if err != nil || res != store.Found {
		t.Fatalf("proof not recorded: %v %v", res, err)
	}

	// The same proof is now rejected before the facilitator is consulted.
	rec = httptest.NewRecorder()
	d = g.Evaluate(context.Background(), NewRequestExchange(rec, paymentRequest(proof)), cfg)
	if d != ResponseSent {
		t.Fatalf("replay disposition = %v", d)
	}
	if env := decodeEnvelope(t, rec); env.Error != x402.MsgReplayDetected {
		t.Errorf("error = %q", env.Error)
	}
	if v, _ := fac.calls(); v != 1 {
		t.Errorf("verify called %d times, want 1", v)
	}
}

func TestGate_ReplayInOtherEncoding(t *testing.T) {
	fac, srv := newFakeFacilitator(t)
	cfg := gateConfig(t, srv.URL, nil)
	g := newTestGate(store.NewMemoryStore())

	first := base64.StdEncoding.EncodeToString(testPayload)
	rec := httptest.NewRecorder()
	if d := g.Evaluate(context.Background(), NewRequestExchange(rec, paymentRequest(first)), cfg); d != PaymentValid {
		t.Fatalf("first disposition = %v", d)
	}

	respellings := map[string]string{
		"unpadded": base64.RawStdEncoding.EncodeToString(testPayload),
		"url safe": base64.URLEncoding.EncodeToString(testPayload),
		"indented": base64.StdEncoding.EncodeToString([]byte(strings.ReplaceAll(string(testPayload), ",", ", "))),
	}
	for name, proof := range respellings {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			d := g.Evaluate(context.Background(), NewRequestExchange(rec, paymentRequest(proof)), cfg)
			if d != ResponseSent {
				t.Fatalf("disposition = %v, want ResponseSent", d)
			}
			if env := decodeEnvelope(t, rec); env.Error != x402.MsgReplayDetected {
				t.Errorf("error = %q, want %q", env.Error, x402.MsgReplayDetected)
			}
		})
	}
	if v, s := fac.calls(); v != 1 || s != 1 {
		t.Errorf("calls verify=%d settle=%d, want 1/1", v, s)
	}
}

func TestGate_LegacyHeader(t *testing.T) {
	fac, srv := newFakeFacilitator(t)
	cfg := gateConfig(t, srv.URL, nil)

	r := paymentRequest("")
	r.Header.Set(LegacyPaymentHeader, testProof(t))
	rec := httptest.NewRecorder()
	if d := newTestGate(nil).Evaluate(context.Background(), NewRequestExchange(rec, r), cfg); d != PaymentValid {
		t.Fatalf("disposition = %v", d)
	}
	if v, _ := fac.calls(); v != 1 {
		t.Errorf("verify calls = %d", v)
	}
}

func TestGate_ReplayFromRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	fac, srv := newFakeFacilitator(t)
	cfg := gateConfig(t, srv.URL, nil)
	proof := testProof(t)
	if err := mr.Set(store.ReplayKey(proof), "used"); err != nil {
		t.Fatal(err)
	}

	rs, err := store.NewRedisStore("redis://" + mr.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer rs.Close()

	rec := httptest.NewRecorder()
	d := newTestGate(rs).Evaluate(context.Background(), NewRequestExchange(rec, paymentRequest(proof)), cfg)
	if d != ResponseSent || rec.Code != http.StatusPaymentRequired {
		t.Fatalf("disposition = %v status = %d", d, rec.Code)
	}
	if v, _ := fac.calls(); v != 0 {
		t.Errorf("verify called %d times", v)
	}
}

func TestGate_VerificationRejected(t *testing.T) {
	fac, srv := newFakeFacilitator(t)
	fac.verify = facilitator.VerifyResponse{IsValid: false, InvalidReason: "invalid_signature"}
	cfg := gateConfig(t, srv.URL, nil)

	rec := httptest.NewRecorder()
	d := newTestGate(nil).Evaluate(context.Background(), NewRequestExchange(rec, paymentRequest(testProof(t))), cfg)
	if d != ResponseSent || rec.Code != http.StatusPaymentRequired {
		t.Fatalf("disposition = %v status = %d", d, rec.Code)
	}
	if env := decodeEnvelope(t, rec); env.Error != x402.MsgVerificationFailed {
		t.Errorf("error = %q", env.Error)
	}
	if _, s := fac.calls(); s != 0 {
		t.Errorf("settle called %d times", s)
	}
}

func TestGate_RejectionCodes(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(f *fakeFacilitator, mem *store.MemoryStore)
		proof   string
		code    x402.ErrorCode
		wantMsg string
	}{
		{
			name:    "undecodable header",
			proof:   "%%%",
			code:    x402.ErrCodeInvalidPayment,
			wantMsg: x402.MsgInvalidPayment,
		},
		{
			name: "replay",
			setup: func(_ *fakeFacilitator, mem *store.MemoryStore) {
				_ = store.NewGuard(mem, nil).MarkUsed(context.Background(), base64.StdEncoding.EncodeToString(testPayload), time.Hour)
			},
			code:    x402.ErrCodeReplayDetected,
			wantMsg: x402.MsgReplayDetected,
		},
		{
			name: "verification rejected",
			setup: func(f *fakeFacilitator, _ *store.MemoryStore) {
				f.verify = facilitator.VerifyResponse{IsValid: false, InvalidReason: "invalid_signature"}
			},
			code:    x402.ErrCodeVerificationFailed,
			wantMsg: x402.MsgVerificationFailed,
		},
		{
			name: "settlement unsuccessful",
			setup: func(f *fakeFacilitator, _ *store.MemoryStore) {
				f.settle = facilitator.SettleResponse{Success: false, ErrorReason: "insufficient_funds"}
			},
			code:    x402.ErrCodeSettlementFailed,
			wantMsg: x402.MsgVerificationFailed + " (Facilitator: insufficient_funds)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fac, srv := newFakeFacilitator(t)
			mem := store.NewMemoryStore()
			if tt.setup != nil {
				tt.setup(fac, mem)
			}
			cfg := gateConfig(t, srv.URL, nil)

			var logs bytes.Buffer
			g := newTestGate(mem)
			g.Logger = slog.New(slog.NewJSONHandler(&logs, nil))

			proof := tt.proof
			if proof == "" {
				proof = testProof(t)
			}
			rec := httptest.NewRecorder()
			if d := g.Evaluate(context.Background(), NewRequestExchange(rec, paymentRequest(proof)), cfg); d != ResponseSent {
				t.Fatalf("disposition = %v, want ResponseSent", d)
			}
			if env := decodeEnvelope(t, rec); env.Error != tt.wantMsg {
				t.Errorf("error = %q, want %q", env.Error, tt.wantMsg)
			}
			if want := `"code":"` + string(tt.code) + `"`; !strings.Contains(logs.String(), want) {
				t.Errorf("logs missing %s:\n%s", want, logs.String())
			}
		})
	}
}

func TestGate_FacilitatorFallback(t *testing.T) {
	tests := []struct {
		name       string
		fallback   string
		want       Disposition
		wantStatus int
	}{
		{"pass", "pass", PaymentValid, http.StatusOK},
		{"error", "error", ResponseSent, http.StatusInternalServerError},
		{"default", "", ResponseSent, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fac, srv := newFakeFacilitator(t)
			fac.verifyStatus = http.StatusBadGateway
			cfg := gateConfig(t, srv.URL, func(r *config.RawConfig) { r.FacilitatorFallback = tt.fallback })

			rec := httptest.NewRecorder()
			d := newTestGate(nil).Evaluate(context.Background(), NewRequestExchange(rec, paymentRequest(testProof(t))), cfg)
			if d != tt.want {
				t.Fatalf("disposition = %v, want %v", d, tt.want)
			}
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusInternalServerError && !strings.Contains(rec.Body.String(), x402.MsgInternalServerError) {
				t.Errorf("body = %q", rec.Body.String())
			}
			if _, s := fac.calls(); s != 0 {
				t.Errorf("settle called %d times", s)
			}
		})
	}
}

func TestGate_FacilitatorUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	cfg := gateConfig(t, url, func(r *config.RawConfig) { r.FacilitatorFallback = "pass" })
	rec := httptest.NewRecorder()
	if d := newTestGate(nil).Evaluate(context.Background(), NewRequestExchange(rec, paymentRequest(testProof(t))), cfg); d != PaymentValid {
		t.Errorf("disposition = %v, want PaymentValid", d)
	}
}

func TestGate_VerifyTimeout(t *testing.T) {
	tests := []struct {
		name     string
		fallback config.FallbackPolicy
		want     Disposition
	}{
		{"pass", config.FallbackPass, PaymentValid},
		{"error", config.FallbackError, ResponseSent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fac, srv := newFakeFacilitator(t)
			fac.delay = time.Second
			cfg := gateConfig(t, srv.URL, nil)
			cfg.Timeout = 50 * time.Millisecond
			cfg.FacilitatorFallback = tt.fallback

			rec := httptest.NewRecorder()
			start := time.Now()
			d := newTestGate(nil).Evaluate(context.Background(), NewRequestExchange(rec, paymentRequest(testProof(t))), cfg)
			if d != tt.want {
				t.Errorf("disposition = %v, want %v", d, tt.want)
			}
			if elapsed := time.Since(start); elapsed > 900*time.Millisecond {
				t.Errorf("evaluation took %v, timeout not applied", elapsed)
			}
		})
	}
}

func TestGate_SettlementFailures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(f *fakeFacilitator)
		wantMsg string
	}{
		{
			name:    "transport error",
			setup:   func(f *fakeFacilitator) { f.settleStatus = http.StatusServiceUnavailable },
			wantMsg: "Payment verification failed (Facilitator error: Facilitator service unavailable)",
		},
		{
			name: "reason and message",
			setup: func(f *fakeFacilitator) {
				f.settle = facilitator.SettleResponse{Success: false, ErrorReason: "insufficient_funds", ErrorMessage: "balance too low"}
			},
			wantMsg: "Payment verification failed (Facilitator: insufficient_funds; balance too low)",
		},
		{
			name:    "no detail",
			setup:   func(f *fakeFacilitator) { f.settle = facilitator.SettleResponse{Success: false} },
			wantMsg: x402.MsgVerificationFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fac, srv := newFakeFacilitator(t)
			tt.setup(fac)
			cfg := gateConfig(t, srv.URL, nil)
			mem := store.NewMemoryStore()
			proof := testProof(t)

			rec := httptest.NewRecorder()
			d := newTestGate(mem).Evaluate(context.Background(), NewRequestExchange(rec, paymentRequest(proof)), cfg)
			if d != ResponseSent || rec.Code != http.StatusPaymentRequired {
				t.Fatalf("disposition = %v status = %d", d, rec.Code)
			}
			if env := decodeEnvelope(t, rec); env.Error != tt.wantMsg {
				t.Errorf("error = %q, want %q", env.Error, tt.wantMsg)
			}
			if mem.Len() != 0 {
				t.Error("failed settlement recorded the proof as used")
			}
			if rec.Header().Get(PaymentResponseHeader) != "" {
				t.Error("PAYMENT-RESPONSE set on failure")
			}
		})
	}
}

func TestGate_ConfigurationErrors(t *testing.T) {
	t.Run("missing facilitator", func(t *testing.T) {
		cfg := gateConfig(t, "", nil)
		rec := httptest.NewRecorder()
		if d := newTestGate(nil).Evaluate(context.Background(), NewRequestExchange(rec, paymentRequest(testProof(t))), cfg); d != Error {
			t.Errorf("disposition = %v, want Error", d)
		}
	})

	t.Run("amount too precise for asset", func(t *testing.T) {
		// Resolve rejects this; a hand-built Config can still carry it.
		_, srv := newFakeFacilitator(t)
		cfg := gateConfig(t, srv.URL, nil)
		tiny := decimal.RequireFromString("0.0000001")
		cfg.Amount = &tiny
		rec := httptest.NewRecorder()
		if d := newTestGate(nil).Evaluate(context.Background(), NewRequestExchange(rec, paymentRequest("")), cfg); d != Error {
			t.Errorf("disposition = %v, want Error", d)
		}
	})

	t.Run("missing pay_to", func(t *testing.T) {
		_, srv := newFakeFacilitator(t)
		cfg := gateConfig(t, srv.URL, func(r *config.RawConfig) { r.PayTo = "" })
		rec := httptest.NewRecorder()
		if d := newTestGate(nil).Evaluate(context.Background(), NewRequestExchange(rec, paymentRequest("")), cfg); d != Error {
			t.Errorf("disposition = %v, want Error", d)
		}
	})
}

func TestGate_DynamicPrice(t *testing.T) {
	tests := []struct {
		name  string
		price string
		want  string
	}{
		{"override", "0.5", "500000"},
		{"dollar sign", "$2", "2000000"},
		{"unparseable", "abc", "1000"},
		{"negative", "-1", "1000"},
		{"too precise for asset", "0.0000001", "1000"},
		{"exponent notation", "1e3", "1000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, srv := newFakeFacilitator(t)
			cfg := gateConfig(t, srv.URL, nil)
			mem := store.NewMemoryStore()
			mem.Set("/api/premium", tt.price)

			rec := httptest.NewRecorder()
			newTestGate(mem).Evaluate(context.Background(), NewRequestExchange(rec, paymentRequest("")), cfg)
			env := decodeEnvelope(t, rec)
			if got := env.Accepts[0].Amount; got != tt.want {
				t.Errorf("amount = %q, want %q", got, tt.want)
			}
			if cfg.Amount.String() != "0.001" {
				t.Errorf("configured amount mutated to %s", cfg.Amount)
			}
		})
	}
}

func TestGate_Resource(t *testing.T) {
	_, srv := newFakeFacilitator(t)

	t.Run("forwarded proto", func(t *testing.T) {
		cfg := gateConfig(t, srv.URL, nil)
		r := paymentRequest("")
		r.Header.Set("X-Forwarded-Proto", "https")
		rec := httptest.NewRecorder()
		newTestGate(nil).Evaluate(context.Background(), NewRequestExchange(rec, r), cfg)
		if got := decodeEnvelope(t, rec).Resource.URL; got != "https://example.com/api/premium" {
			t.Errorf("resource = %q", got)
		}
	})

	t.Run("configured override", func(t *testing.T) {
		cfg := gateConfig(t, srv.URL, func(r *config.RawConfig) { r.Resource = "/v1/weather" })
		rec := httptest.NewRecorder()
		newTestGate(nil).Evaluate(context.Background(), NewRequestExchange(rec, paymentRequest("")), cfg)
		env := decodeEnvelope(t, rec)
		if env.Resource.URL != "/v1/weather" || env.Accepts[0].Resource != "/v1/weather" {
			t.Errorf("resource = %q", env.Resource.URL)
		}
	})
}

func TestGate_BrowserPaywall(t *testing.T) {
	_, srv := newFakeFacilitator(t)
	cfg := gateConfig(t, srv.URL, nil)

	r := httptest.NewRequest(http.MethodGet, "/api/premium", nil)
	r.Header.Set("Accept", "text/html,application/xhtml+xml")
	rec := httptest.NewRecorder()
	if d := newTestGate(nil).Evaluate(context.Background(), NewRequestExchange(rec, r), cfg); d != ResponseSent {
		t.Fatalf("disposition = %v", d)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("content type = %q", ct)
	}
	body := rec.Body.String()
	for _, want := range []string{"Payment Required", "eip155:8453", "1000", strings.ToLower(testPayTo)} {
		if !strings.Contains(body, want) {
			t.Errorf("paywall missing %q", want)
		}
	}
	if rec.Header().Get(PaymentRequiredHeader) == "" {
		t.Error("paywall response lacks PAYMENT-REQUIRED header")
	}
}

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *countingRecorder) inc(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = map[string]int{}
	}
	c.counts[name]++
}

func (c *countingRecorder) get(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[name]
}

func (c *countingRecorder) Request()                           { c.inc("request") }
func (c *countingRecorder) VerificationAttempt()               { c.inc("attempt") }
func (c *countingRecorder) VerificationSuccess()               { c.inc("success") }
func (c *countingRecorder) VerificationFailed()                { c.inc("failed") }
func (c *countingRecorder) PaymentRequired()                   { c.inc("402") }
func (c *countingRecorder) FacilitatorError()                  { c.inc("facilitator_error") }
func (c *countingRecorder) VerificationDuration(time.Duration) { c.inc("duration") }
func (c *countingRecorder) PaymentAmount(float64)              { c.inc("amount") }

func TestGate_Metrics(t *testing.T) {
	fac, srv := newFakeFacilitator(t)
	cfg := gateConfig(t, srv.URL, nil)
	rec := &countingRecorder{}
	g := newTestGate(nil)
	g.Metrics = rec

	g.Evaluate(context.Background(), NewRequestExchange(httptest.NewRecorder(), paymentRequest("")), cfg)
	g.Evaluate(context.Background(), NewRequestExchange(httptest.NewRecorder(), paymentRequest(testProof(t))), cfg)
	fac.mu.Lock()
	fac.verify = facilitator.VerifyResponse{IsValid: false}
	fac.mu.Unlock()
	g.Evaluate(context.Background(), NewRequestExchange(httptest.NewRecorder(), paymentRequest(testProof(t))), cfg)

	want := map[string]int{
		"request":  3,
		"attempt":  2,
		"duration": 2,
		"success":  1,
		"failed":   1,
		"402":      2,
		"amount":   3,
	}
	for name, n := range want {
		if got := rec.get(name); got != n {
			t.Errorf("%s = %d, want %d", name, got, n)
		}
	}
}

func TestX402Middleware(t *testing.T) {
	_, srv := newFakeFacilitator(t)
	cfg := gateConfig(t, srv.URL, nil)

	var seen *Payment
	handler := NewX402Middleware(&Config{Payment: cfg, Store: store.NewMemoryStore()})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen, _ = PaymentFromContext(r.Context())
			_, _ = w.Write([]byte("protected content"))
		}),
	)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, paymentRequest(""))
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("without payment: status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, paymentRequest(testProof(t)))
	if rec.Code != http.StatusOK || rec.Body.String() != "protected content" {
		t.Fatalf("with payment: status = %d body = %q", rec.Code, rec.Body.String())
	}
	if seen == nil || seen.Settlement.Transaction != "0xabc123" {
		t.Errorf("payment in context = %+v", seen)
	}
	if rec.Header().Get(PaymentResponseHeader) == "" {
		t.Error("PAYMENT-RESPONSE header missing")
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, paymentRequest(testProof(t)))
	if rec.Code != http.StatusPaymentRequired {
		t.Errorf("replayed payment: status = %d", rec.Code)
	}
}

func TestX402Middleware_ErrorIs500(t *testing.T) {
	cfg := gateConfig(t, "", nil)
	called := false
	handler := NewX402Middleware(&Config{Payment: cfg})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, paymentRequest(testProof(t)))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if called {
		t.Error("next handler ran after a gate error")
	}
}

func TestLocationConfig(t *testing.T) {
	_, srv := newFakeFacilitator(t)
	paid := gateConfig(t, srv.URL, nil)
	locs := []config.Location{
		{Path: "/api/premium", Config: paid},
		{Path: "/", Config: &config.Config{}},
	}
	g := newTestGate(nil)
	handler := g.Middleware(LocationConfig(locs))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		path string
		want int
	}{
		{"/api/premium", http.StatusPaymentRequired},
		{"/api/premium/forecast", http.StatusPaymentRequired},
		{"/api/premiumx", http.StatusNoContent},
		{"/free", http.StatusNoContent},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, tt.path, nil)
		r.Header.Set("Accept", "application/json")
		handler.ServeHTTP(rec, r)
		if rec.Code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.path, rec.Code, tt.want)
		}
	}
}

func TestIsRetryableFacilitatorError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"timeout", x402.ErrTimeout, true},
		{"unavailable", x402.ErrFacilitatorUnavailable, true},
		{"429", &StatusError{Path: "/supported", StatusCode: 429}, true},
		{"503", &StatusError{Path: "/supported", StatusCode: 503}, true},
		{"401", &StatusError{Path: "/supported", StatusCode: 401}, false},
		{"other", context.Canceled, false},
	}
	for _, tt := range tests {
		if got := IsRetryableFacilitatorError(tt.err); got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}
