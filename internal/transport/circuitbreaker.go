package transport

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"go.appsonar.dev/telemetry/internal/model"
	"go.appsonar.dev/telemetry/internal/telemetrymetrics"
)

// CircuitBreakerTransport wraps a syncSender with sony/gobreaker: it trips
// open after a failure ratio across a request window, so a dead ingestion
// endpoint stops costing every group a full retry cycle before the
// channel's own suspend logic (§4.E) even gets a chance to react.
type CircuitBreakerTransport struct {
	inner syncSender
	cb    *gobreaker.CircuitBreaker
}

func NewCircuitBreakerTransport(inner syncSender) *CircuitBreakerTransport {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ingestion-transport",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			var v float64
			switch to {
			case gobreaker.StateClosed:
				v = telemetrymetrics.CircuitBreakerClosed
			case gobreaker.StateOpen:
				v = telemetrymetrics.CircuitBreakerOpen
			case gobreaker.StateHalfOpen:
				v = telemetrymetrics.CircuitBreakerHalfOpen
			}
			telemetrymetrics.TransportCircuitBreakerState.Set(v)
		},
	})
	return &CircuitBreakerTransport{inner: inner, cb: cb}
}

func (c *CircuitBreakerTransport) SetServerURL(u string) { c.inner.SetServerURL(u) }

func (c *CircuitBreakerTransport) Send(ctx context.Context, appSecret, installID string, logs []model.LogRecord) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		sendErr := c.inner.Send(ctx, appSecret, installID, logs)
		return nil, sendErr
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return model.Recoverable(err)
	}
	return err
}
