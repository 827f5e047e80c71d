package transport

import (
	"sync"

	"go.appsonar.dev/telemetry/internal/model"
	"go.appsonar.dev/telemetry/internal/telemetrymetrics"
)

// NetworkStateGate defers Send while the host reports no connectivity,
// releasing deferred batches in FIFO order once connectivity returns. §6
// calls this out as a required decorator: a mobile SDK must not burn the
// retry budget hammering a host that is simply offline.
type NetworkStateGate struct {
	inner Transport

	mu      sync.Mutex
	online  bool
	waiting []func()
}

// NewNetworkStateGate wraps inner, starting in the online state; call
// SetOnline(false) once the host signals a connectivity loss.
func NewNetworkStateGate(inner Transport) *NetworkStateGate {
	return &NetworkStateGate{inner: inner, online: true}
}

func (g *NetworkStateGate) SetServerURL(u string) { g.inner.SetServerURL(u) }

func (g *NetworkStateGate) Send(appSecret, installID string, logs []model.LogRecord, callback func(error)) {
	g.mu.Lock()
	if !g.online {
		telemetrymetrics.TransportDeferredByOffline.Inc()
		g.waiting = append(g.waiting, func() { g.inner.Send(appSecret, installID, logs, callback) })
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()
	g.inner.Send(appSecret, installID, logs, callback)
}

// SetOnline updates connectivity state. Transitioning to online releases
// every deferred batch, oldest first.
func (g *NetworkStateGate) SetOnline(online bool) {
	g.mu.Lock()
	g.online = online
	var toRun []func()
	if online {
		toRun = g.waiting
		g.waiting = nil
		telemetrymetrics.TransportDeferredByOffline.Set(0)
	}
	g.mu.Unlock()

	for _, run := range toRun {
		run()
	}
}

func (g *NetworkStateGate) Close() { g.inner.Close() }
