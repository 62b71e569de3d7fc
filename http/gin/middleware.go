// Package gin adapts the x402 payment gate to Gin.
package gin

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mark3labs/x402-gate"
	"github.com/mark3labs/x402-gate/config"
	httpx402 "github.com/mark3labs/x402-gate/http"
)

// PaymentKey is the Gin context key holding the settled *httpx402.Payment.
const PaymentKey = "x402_payment"

// Exchange adapts a Gin context to the gate.
type Exchange struct {
	C *gin.Context
}

var _ httpx402.Exchange = Exchange{}

func (e Exchange) Method() string { return e.C.Request.Method }

func (e Exchange) Path() string {
	if p := e.C.Request.URL.Path; p != "" {
		return p
	}
	return "/"
}

func (e Exchange) Host() string                 { return e.C.Request.Host }
func (e Exchange) TLS() bool                    { return e.C.Request.TLS != nil }
func (e Exchange) Header(name string) string    { return e.C.GetHeader(name) }
func (e Exchange) SetHeader(name, value string) { e.C.Header(name, value) }

// WriteResponse writes the body and aborts the handler chain.
func (e Exchange) WriteResponse(status int, contentType string, body []byte) error {
	e.C.Data(status, contentType, body)
	e.C.Abort()
	return nil
}

// NewGinX402Middleware creates a new x402 payment middleware for Gin.
//
// Example usage:
//
//	cfg, _ := config.RawConfig{
//	    Enabled:        "on",
//	    Amount:         "0.01",
//	    PayTo:          "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
//	    FacilitatorURL: "https://x402.org/facilitator",
//	    Network:        "base-sepolia",
//	}.Resolve()
//	r := gin.Default()
//	r.Use(NewGinX402Middleware(&httpx402.Config{Payment: cfg}))
func NewGinX402Middleware(cfg *httpx402.Config) gin.HandlerFunc {
	return Middleware(httpx402.NewGateFromConfig(cfg), cfg.Payment)
}

// Middleware runs gate against every request using cfg.
func Middleware(gate *httpx402.Gate, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		d, payment := gate.EvaluatePayment(c.Request.Context(), Exchange{C: c}, cfg)
		switch d {
		case httpx402.PaymentValid:
			if payment != nil {
				c.Set(PaymentKey, payment)
				ctx := context.WithValue(c.Request.Context(), httpx402.PaymentContextKey, payment)
				c.Request = c.Request.WithContext(ctx)
			}
			c.Next()
		case httpx402.ResponseSent:
			c.Abort()
		default:
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"x402Version": x402.X402Version,
				"error":       x402.MsgInternalServerError,
			})
		}
	}
}
