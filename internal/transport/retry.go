package transport

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"go.appsonar.dev/telemetry/internal/model"
	"go.appsonar.dev/telemetry/internal/telemetrymetrics"
)

// jitterFraction is the maximum fraction of a backoff delay added as
// jitter, so that multiple devices retrying the same recoverable failure
// on the same schedule don't all hammer the endpoint at once (§4.C, §6:
// "jittered").
const jitterFraction = 0.2

func jittered(delay time.Duration) time.Duration {
	if delay <= 0 {
		return delay
	}
	maxJitter := time.Duration(float64(delay) * jitterFraction)
	if maxJitter <= 0 {
		return delay
	}
	return delay + time.Duration(rand.Int63n(int64(maxJitter)))
}

// syncSender is the synchronous core one retry attempt calls: either an
// HTTPSender directly or a CircuitBreakerTransport wrapping one.
type syncSender interface {
	Send(ctx context.Context, appSecret, installID string, logs []model.LogRecord) error
	SetServerURL(u string)
}

// Retryer decorates a syncSender with the three-attempt exponential backoff
// of §6 (10s, 5min, 20min by default, configurable), retrying only
// RecoverableTransportError results. It is the async boundary: Send returns
// immediately and the callback fires from a dedicated goroutine per batch,
// so the channel lock is never held across a network round trip.
type Retryer struct {
	inner  syncSender
	delays []time.Duration

	closing   chan struct{}
	closeOnce sync.Once
}

// NewRetryer wraps inner with the given per-attempt delays. len(delays) is
// the number of retries after the first attempt; the first attempt is
// always immediate.
func NewRetryer(inner syncSender, delays []time.Duration) *Retryer {
	return &Retryer{inner: inner, delays: delays, closing: make(chan struct{})}
}

func (r *Retryer) SetServerURL(u string) { r.inner.SetServerURL(u) }

func (r *Retryer) Send(appSecret, installID string, logs []model.LogRecord, callback func(error)) {
	go r.run(appSecret, installID, logs, callback)
}

func (r *Retryer) run(appSecret, installID string, logs []model.LogRecord, callback func(error)) {
	var lastErr error
	attempts := len(r.delays) + 1

	for attempt := 0; attempt < attempts; attempt++ {
		select {
		case <-r.closing:
			callback(model.Cancelled())
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		err := r.inner.Send(ctx, appSecret, installID, logs)
		cancel()

		if err == nil {
			callback(nil)
			return
		}
		lastErr = err

		if !model.IsRecoverable(err) {
			callback(err)
			return
		}
		if attempt < len(r.delays) {
			telemetrymetrics.TransportRetries.Inc()
			delay := jittered(r.delays[attempt])
			slog.Debug("ingestion transport retrying", "attempt", attempt+1, "delay", delay)
			select {
			case <-time.After(delay):
			case <-r.closing:
				callback(model.Cancelled())
				return
			}
		}
	}
	callback(lastErr)
}

// Close cancels any in-flight backoff waits; batches already past their
// final attempt still resolve with their last error.
func (r *Retryer) Close() { r.closeOnce.Do(func() { close(r.closing) }) }
