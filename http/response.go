package http

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"

	"github.com/mark3labs/x402-gate"
	"github.com/mark3labs/x402-gate/encoding"
)

const paywallTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>402 Payment Required</title>
<style>
body{font-family:system-ui,-apple-system,sans-serif;display:flex;justify-content:center;align-items:center;min-height:100vh;margin:0;background:#f5f5f5;color:#333}
.card{background:#fff;border-radius:12px;padding:2rem;max-width:480px;width:90%;box-shadow:0 2px 12px rgba(0,0,0,.1);text-align:center}
h1{font-size:1.5rem;margin:0 0 .5rem}
.code{font-size:3rem;font-weight:700;color:#6366f1;margin:.5rem 0}
p{color:#666;line-height:1.5}
.info{background:#f8f9fa;border-radius:8px;padding:1rem;margin:1rem 0;font-size:.875rem;text-align:left}
.info dt{font-weight:600;margin-top:.5rem}
.info dd{margin:0 0 .25rem;font-family:monospace;word-break:break-all}
</style>
</head>
<body>
<div class="card">
<div class="code">402</div>
<h1>Payment Required</h1>
<p>{{MESSAGE}}</p>
<div class="info">
<dl>
<dt>Network</dt><dd>{{NETWORK}}</dd>
<dt>Amount</dt><dd>{{AMOUNT}}</dd>
<dt>Pay To</dt><dd>{{PAY_TO}}</dd>
</dl>
</div>
<p style="font-size:.8rem;color:#999">Powered by x402 protocol</p>
</div>
</body>
</html>`

// DefaultPaymentMessage is the envelope error when neither a failure message
// nor a description is available.
const DefaultPaymentMessage = "Payment required"

// PaywallHTML renders the browser paywall for the first accepted requirement.
func PaywallHTML(message string, accepts []x402.PaymentRequirement) string {
	network, amount, payTo := "unknown", "0", "unknown"
	if len(accepts) > 0 {
		network = accepts[0].Network
		amount = accepts[0].Amount
		payTo = accepts[0].PayTo
	}
	return strings.NewReplacer(
		"{{MESSAGE}}", html.EscapeString(message),
		"{{NETWORK}}", html.EscapeString(network),
		"{{AMOUNT}}", html.EscapeString(amount),
		"{{PAY_TO}}", html.EscapeString(payTo),
	).Replace(paywallTemplate)
}

// envelopeMessage picks the envelope error: the failure message, else the
// description, else DefaultPaymentMessage.
func envelopeMessage(message string, req x402.PaymentRequirement) string {
	if message != "" {
		return message
	}
	if req.Description != "" {
		return req.Description
	}
	return DefaultPaymentMessage
}

// WritePaymentRequired sends a 402 carrying the envelope in the
// PAYMENT-REQUIRED header and as the body: JSON for API clients, the HTML
// paywall for browsers.
func WritePaymentRequired(ex Exchange, env x402.PaymentRequired) error {
	encoded, err := encoding.EncodePaymentRequired(env)
	if err != nil {
		return err
	}
	ex.SetHeader(PaymentRequiredHeader, encoded)

	if IsBrowserRequest(ex) {
		return ex.WriteResponse(http.StatusPaymentRequired, "text/html; charset=utf-8",
			[]byte(PaywallHTML(env.Error, env.Accepts)))
	}

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal payment requirements: %w", err)
	}
	return ex.WriteResponse(http.StatusPaymentRequired, "application/json; charset=utf-8", body)
}

// WriteInternalError sends the generic 500 used when the facilitator is
// unreachable and the location does not fall back to pass-through.
func WriteInternalError(ex Exchange) error {
	return ex.WriteResponse(http.StatusInternalServerError, "text/plain; charset=utf-8",
		[]byte(x402.MsgInternalServerError+"\n"))
}
