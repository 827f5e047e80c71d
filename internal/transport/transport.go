// Package transport implements the ingestion transport of §6: batching the
// channel hands it one group's worth of logs and a completion callback, and
// the transport resolves that callback with success, a RecoverableTransportError,
// or a FatalTransportError per the classification rules in §6/§7.
package transport

import (
	"go.appsonar.dev/telemetry/internal/model"
)

// Transport is the ingestion transport surface the channel core drives. A
// single Send call carries one batch; the callback is invoked exactly once,
// from a transport-owned goroutine, never synchronously from inside Send.
type Transport interface {
	Send(appSecret, installID string, logs []model.LogRecord, callback func(error))
	SetServerURL(url string)
	Close()
}

// LogContainer is the wire envelope POSTed to {server_url}/logs (§6).
type LogContainer struct {
	Logs []model.RawPayload `json:"logs"`
}
