package http

import (
	"net/http"
	"strings"
)

// Header names used on the wire.
const (
	PaymentSignatureHeader = "Payment-Signature"
	LegacyPaymentHeader    = "X-PAYMENT"
	PaymentRequiredHeader  = "PAYMENT-REQUIRED"
	PaymentResponseHeader  = "PAYMENT-RESPONSE"
)

// MaxPaymentHeaderSize is the largest proof header the gate will decode.
const MaxPaymentHeaderSize = 64 * 1024

// Exchange is the gate's view of one request/response pair. Host servers
// implement it so the gate never depends on a particular server API.
type Exchange interface {
	Method() string
	// Path is the request path without query string.
	Path() string
	Host() string
	// TLS reports whether the connection to this server is encrypted.
	TLS() bool
	Header(name string) string
	SetHeader(name, value string)
	// WriteResponse sends a complete response. It is called at most once.
	WriteResponse(status int, contentType string, body []byte) error
}

// RequestExchange adapts a net/http request and response writer.
type RequestExchange struct {
	W http.ResponseWriter
	R *http.Request
}

var _ Exchange = (*RequestExchange)(nil)

// NewRequestExchange wraps w and r.
func NewRequestExchange(w http.ResponseWriter, r *http.Request) *RequestExchange {
	return &RequestExchange{W: w, R: r}
}

func (e *RequestExchange) Method() string { return e.R.Method }

func (e *RequestExchange) Path() string {
	if e.R.URL == nil || e.R.URL.Path == "" {
		return "/"
	}
	return e.R.URL.Path
}

func (e *RequestExchange) Host() string { return e.R.Host }

func (e *RequestExchange) TLS() bool { return e.R.TLS != nil }

func (e *RequestExchange) Header(name string) string { return e.R.Header.Get(name) }

func (e *RequestExchange) SetHeader(name, value string) { e.W.Header().Set(name, value) }

func (e *RequestExchange) WriteResponse(status int, contentType string, body []byte) error {
	e.W.Header().Set("Content-Type", contentType)
	e.W.WriteHeader(status)
	_, err := e.W.Write(body)
	return err
}

// PaymentHeader returns the presented proof, preferring Payment-Signature
// over the legacy X-PAYMENT header.
func PaymentHeader(ex Exchange) string {
	if v := ex.Header(PaymentSignatureHeader); v != "" {
		return v
	}
	return ex.Header(LegacyPaymentHeader)
}

// ShouldSkip reports whether a request bypasses payment entirely:
// OPTIONS, HEAD and TRACE requests, and WebSocket upgrades.
func ShouldSkip(ex Exchange) bool {
	switch ex.Method() {
	case http.MethodOptions, http.MethodHead, http.MethodTrace:
		return true
	}
	return IsWebSocketRequest(ex)
}

// IsWebSocketRequest reports an Upgrade: websocket handshake.
func IsWebSocketRequest(ex Exchange) bool {
	return strings.EqualFold(ex.Header("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(ex.Header("Connection")), "upgrade")
}

var apiAgents = []string{"curl", "wget", "python-requests", "go-http-client", "postman"}

// IsBrowserRequest guesses whether the client wants an HTML paywall.
func IsBrowserRequest(ex Exchange) bool {
	if strings.HasPrefix(strings.ToLower(ex.Header("Content-Type")), "application/json") {
		return false
	}

	if accept := strings.ToLower(ex.Header("Accept")); accept != "" {
		if strings.Contains(accept, "text/html") {
			return true
		}
		if strings.Contains(accept, "application/json") {
			return false
		}
	}

	ua := strings.ToLower(ex.Header("User-Agent"))
	if ua == "" || !strings.Contains(ua, "mozilla") {
		return false
	}
	if !strings.Contains(ua, "chrome") && !strings.Contains(ua, "safari") &&
		!strings.Contains(ua, "firefox") && !strings.Contains(ua, "edge") {
		return false
	}
	for _, a := range apiAgents {
		if strings.Contains(ua, a) {
			return false
		}
	}
	return true
}

// InferMimeType picks the MIME type advertised in the requirement.
func InferMimeType(ex Exchange) string {
	if ct := ex.Header("Content-Type"); ct != "" {
		if base := strings.TrimSpace(strings.SplitN(ct, ";", 2)[0]); base != "" {
			return base
		}
	}
	accept := strings.ToLower(ex.Header("Accept"))
	switch {
	case strings.Contains(accept, "application/json"):
		return "application/json"
	case strings.Contains(accept, "text/html"):
		return "text/html"
	}
	return "application/json"
}

// FullURL rebuilds the absolute request URL. The scheme comes from
// X-Forwarded-Proto when it names http or https, otherwise from the
// connection. It returns "" when the request carries no Host.
func FullURL(ex Exchange) string {
	host := ex.Host()
	if host == "" {
		return ""
	}
	scheme := "http"
	if ex.TLS() {
		scheme = "https"
	}
	switch p := strings.ToLower(strings.TrimSpace(ex.Header("X-Forwarded-Proto"))); p {
	case "http", "https":
		scheme = p
	}
	path := ex.Path()
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return scheme + "://" + host + path
}
