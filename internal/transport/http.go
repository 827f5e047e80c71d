package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.appsonar.dev/telemetry/internal/model"
	"go.appsonar.dev/telemetry/internal/telemetrymetrics"
)

// HTTPSender is the innermost transport: one Send issues exactly one HTTP
// request and classifies the result. It carries no retry or circuit-breaker
// logic of its own — those are decorators (Retryer, CircuitBreakerTransport,
// NetworkStateGate) wrapped around it, so each concern can be tested and
// reasoned about independently.
type HTTPSender struct {
	client    *http.Client
	serverURL string
}

// NewHTTPSender builds a sender with connection-pooling transport settings
// tuned for a long-lived client reused across many short batch requests.
func NewHTTPSender(serverURL string, timeout time.Duration) *HTTPSender {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
	return &HTTPSender{
		client:    &http.Client{Timeout: timeout, Transport: transport},
		serverURL: serverURL,
	}
}

func (s *HTTPSender) SetServerURL(u string) { s.serverURL = u }

// Send POSTs logs to {server_url}/logs?api_version=1 per §6 and classifies
// the response or error into a model.Error. A nil return means success.
func (s *HTTPSender) Send(ctx context.Context, appSecret, installID string, logs []model.LogRecord) error {
	container := LogContainer{Logs: make([]model.RawPayload, len(logs))}
	for i, l := range logs {
		raw, ok := l.Payload.(model.RawPayload)
		if !ok {
			return model.Fatal(fmt.Errorf("payload for group %q is not pre-serialized", l.Group))
		}
		container.Logs[i] = raw
	}

	body, err := json.Marshal(container)
	if err != nil {
		return model.Fatal(fmt.Errorf("marshal log container: %w", err))
	}

	endpoint := s.serverURL + "/logs?api_version=1"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return model.Fatal(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("App-Secret", appSecret)
	req.Header.Set("Install-ID", installID)

	start := time.Now()
	resp, err := s.client.Do(req)
	duration := time.Since(start)
	telemetrymetrics.TransportRequestDuration.Observe(duration.Seconds())

	if err != nil {
		return classifyRequestError(err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	return classifyStatusCode(resp.StatusCode, respBody)
}

func classifyRequestError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		telemetrymetrics.TransportRequests.WithLabelValues("recoverable").Inc()
		return model.Recoverable(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		telemetrymetrics.TransportRequests.WithLabelValues("recoverable").Inc()
		return model.Recoverable(err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		telemetrymetrics.TransportRequests.WithLabelValues("recoverable").Inc()
		return model.Recoverable(err)
	}
	slog.Warn("ingestion transport request failed", "error", err)
	telemetrymetrics.TransportRequests.WithLabelValues("recoverable").Inc()
	return model.Recoverable(err)
}

// classifyStatusCode implements §6/§7: 2xx succeeds; 408/429/5xx are
// recoverable (retried, batch retained); other non-2xx are fatal (batch
// discarded).
func classifyStatusCode(code int, body []byte) error {
	switch {
	case code >= 200 && code < 300:
		telemetrymetrics.TransportRequests.WithLabelValues("success").Inc()
		return nil
	case code == 408, code == 429, code >= 500:
		telemetrymetrics.TransportRequests.WithLabelValues("recoverable").Inc()
		return model.Recoverable(fmt.Errorf("http %d: %s", code, truncate(body)))
	default:
		telemetrymetrics.TransportRequests.WithLabelValues("fatal").Inc()
		return model.Fatal(fmt.Errorf("http %d: %s", code, truncate(body)))
	}
}

func truncate(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
