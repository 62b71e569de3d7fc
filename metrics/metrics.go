// Package metrics exports payment gate counters in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder receives gate events. Implementations must be safe for concurrent use.
type Recorder interface {
	Request()
	VerificationAttempt()
	VerificationSuccess()
	VerificationFailed()
	PaymentRequired()
	FacilitatorError()
	VerificationDuration(d time.Duration)
	PaymentAmount(amount float64)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Request()                           {}
func (Nop) VerificationAttempt()               {}
func (Nop) VerificationSuccess()               {}
func (Nop) VerificationFailed()                {}
func (Nop) PaymentRequired()                   {}
func (Nop) FacilitatorError()                  {}
func (Nop) VerificationDuration(time.Duration) {}
func (Nop) PaymentAmount(float64)              {}

// Prometheus is a Recorder backed by Prometheus collectors.
type Prometheus struct {
	registry *prometheus.Registry

	requests             prometheus.Counter
	verifications        prometheus.Counter
	verificationsSuccess prometheus.Counter
	verificationsFailed  prometheus.Counter
	responses402         prometheus.Counter
	facilitatorErrors    prometheus.Counter
	verificationDuration prometheus.Histogram
	paymentAmount        prometheus.Histogram
}

// NewPrometheus registers the gate collectors on a fresh registry.
func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Prometheus{
		registry: reg,
		requests: factory.NewCounter(prometheus.CounterOpts{
			Name: "x402_requests_total",
			Help: "Total requests processed",
		}),
		verifications: factory.NewCounter(prometheus.CounterOpts{
			Name: "x402_payment_verifications_total",
			Help: "Verification attempts",
		}),
		verificationsSuccess: factory.NewCounter(prometheus.CounterOpts{
			Name: "x402_payment_verifications_success_total",
			Help: "Successful verifications",
		}),
		verificationsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "x402_payment_verifications_failed_total",
			Help: "Failed verifications",
		}),
		responses402: factory.NewCounter(prometheus.CounterOpts{
			Name: "x402_responses_402_total",
			Help: "402 responses sent",
		}),
		facilitatorErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "x402_facilitator_errors_total",
			Help: "Facilitator errors",
		}),
		verificationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "x402_verification_duration_seconds",
			Help:    "Verification latency",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		paymentAmount: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "x402_payment_amount",
			Help:    "Payment amount",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1, 10, 100},
		}),
	}
}

func (p *Prometheus) Request()             { p.requests.Inc() }
func (p *Prometheus) VerificationAttempt() { p.verifications.Inc() }
func (p *Prometheus) VerificationSuccess() { p.verificationsSuccess.Inc() }
func (p *Prometheus) VerificationFailed()  { p.verificationsFailed.Inc() }
func (p *Prometheus) PaymentRequired()     { p.responses402.Inc() }
func (p *Prometheus) FacilitatorError()    { p.facilitatorErrors.Inc() }

func (p *Prometheus) VerificationDuration(d time.Duration) {
	p.verificationDuration.Observe(d.Seconds())
}

func (p *Prometheus) PaymentAmount(amount float64) {
	p.paymentAmount.Observe(amount)
}

// Registry exposes the underlying registry, e.g. to add process collectors.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the text exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
