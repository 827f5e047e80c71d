package transport

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"go.appsonar.dev/telemetry/internal/model"
)

// Options configures New.
type Options struct {
	ServerURL             string
	RequestTimeout        time.Duration
	RetryDelays           []time.Duration
	CircuitBreakerEnabled bool
	// MaxSendsPerSecond limits outbound batch sends across all groups via
	// a token-bucket limiter. Zero disables limiting.
	MaxSendsPerSecond rate.Limit
}

// New assembles the full decorator stack: HTTPSender, optionally circuit
// breaker, then Retryer for backoff, then an optional rate limiter, then
// NetworkStateGate for offline deferral. Returns the gate (the outermost
// Transport) and the Retryer (for Close to cancel in-flight backoffs).
func New(opts Options) (*NetworkStateGate, *Retryer) {
	sender := NewHTTPSender(opts.ServerURL, opts.RequestTimeout)

	var inner syncSender = sender
	if opts.CircuitBreakerEnabled {
		inner = NewCircuitBreakerTransport(sender)
	}

	retryer := NewRetryer(inner, opts.RetryDelays)

	var rl Transport = retryer
	if opts.MaxSendsPerSecond > 0 {
		rl = &rateLimitedTransport{inner: retryer, limiter: rate.NewLimiter(opts.MaxSendsPerSecond, 1)}
	}

	gate := NewNetworkStateGate(rl)
	return gate, retryer
}

// rateLimitedTransport blocks Send on a token-bucket limiter before handing
// off, bounding how fast the channel can push batches at the ingestion
// endpoint regardless of how many groups are independently ready to flush.
type rateLimitedTransport struct {
	inner   Transport
	limiter *rate.Limiter
}

func (r *rateLimitedTransport) SetServerURL(u string) { r.inner.SetServerURL(u) }
func (r *rateLimitedTransport) Close()                { r.inner.Close() }

func (r *rateLimitedTransport) Send(appSecret, installID string, logs []model.LogRecord, callback func(error)) {
	go func() {
		if err := r.limiter.Wait(context.Background()); err != nil {
			callback(model.Cancelled())
			return
		}
		r.inner.Send(appSecret, installID, logs, callback)
	}()
}
