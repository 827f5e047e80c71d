package channel

import (
	"log/slog"

	"go.appsonar.dev/telemetry/internal/model"
	"go.appsonar.dev/telemetry/internal/telemetrymetrics"
)

// SetEnabled implements the enable/disable state machine of §4.E. Writes
// through to the preference store before mutating in-memory state, so a
// crash between the two leaves the durable preference authoritative for
// the next process.
func (c *Channel) SetEnabled(enabled bool) {
	if c.prefs != nil {
		if err := c.prefs.SetEnabled(enabled); err != nil {
			slog.Warn("persist enabled preference failed", "error", err)
		}
	}

	if enabled {
		c.resume()
		return
	}

	c.mu.Lock()
	alreadySuspended := !c.enabled
	c.mu.Unlock()
	if alreadySuspended {
		return // idempotent: stays suspended-retain or suspended-discard, whichever it already was
	}
	c.suspend(false, model.Cancelled())
}

// resume implements the set_enabled(true) transitions: from
// suspended-retain, re-enable and re-check every group; from
// suspended-discard, clear discard_mode and re-enable (no pending rows
// remain to flush, by construction of the discard drain). From enabled, a
// no-op.
func (c *Channel) resume() {
	c.mu.Lock()
	if c.enabled {
		c.mu.Unlock()
		return
	}
	c.enabled = true
	c.discardMode = false
	names := make([]string, 0, len(c.groups))
	for name := range c.groups {
		names = append(names, name)
	}
	telemetrymetrics.ChannelEnabledState.Set(c.enabledStateGauge())
	c.mu.Unlock()

	c.mu.Lock()
	for _, name := range names {
		c.checkPendingLogsLocked(name)
	}
	c.mu.Unlock()
}

// suspend implements §4.E suspend(delete_logs, err).
func (c *Channel) suspend(deleteLogs bool, err *model.Error) {
	c.mu.Lock()
	c.enabled = false
	c.discardMode = deleteLogs
	telemetrymetrics.ChannelEnabledState.Set(c.enabledStateGauge())

	type abandoned struct {
		listener model.GroupListener
		logs     []model.PersistedLog
	}
	var toFail []abandoned
	groupNames := make([]string, 0, len(c.groups))

	for name, g := range c.groups {
		g.CancelTimer()
		for _, logs := range g.InFlight {
			if deleteLogs {
				toFail = append(toFail, abandoned{listener: g.Config.Listener, logs: logs})
			}
		}
		g.InFlight = make(map[model.BatchID][]model.PersistedLog)
		telemetrymetrics.GroupInFlightBatches.WithLabelValues(name).Set(0)
		groupNames = append(groupNames, name)
	}
	c.mu.Unlock()

	c.transport.Close()

	for _, a := range toFail {
		for i := range a.logs {
			a.listener.OnFailure(&a.logs[i].Record, err)
		}
	}

	if deleteLogs {
		for _, name := range groupNames {
			c.drainGroupStore(name)
		}
		return
	}

	c.store.ClearPendingState(func(err error) {
		if err != nil {
			slog.Warn("clear pending state failed", "error", err)
		}
	})
}

// drainGroupStore implements §4.E step 4: drain rows for name in chunks of
// drainChunk, reporting on_before_sending/on_failure(Cancelled) per row,
// then delete whatever remains once a chunk comes back short. Entirely
// asynchronous: each GetLogs completion (running on the Async Store
// Facade's worker goroutine) decides whether to issue the next chunk or
// call DeleteAll and stop, rather than the caller blocking between rounds
// (§5: suspend must never block on I/O).
func (c *Channel) drainGroupStore(name string) {
	c.mu.Lock()
	g, ok := c.groups[name]
	c.mu.Unlock()
	if !ok {
		return
	}
	listener := g.Config.Listener
	chunk := c.drainChunk

	var drainNextChunk func()
	drainNextChunk = func() {
		c.store.GetLogs(name, chunk, func(_ model.BatchID, logs []model.PersistedLog, err error) {
			if err != nil {
				slog.Warn("drain get_logs failed", "group", name, "error", err)
				return
			}
			for i := range logs {
				listener.OnBeforeSending(&logs[i].Record)
				listener.OnFailure(&logs[i].Record, model.Cancelled())
			}
			if len(logs) < chunk {
				c.store.DeleteAll(name, func(err error) {
					if err != nil {
						slog.Warn("drain delete_all failed", "group", name, "error", err)
					}
				})
				return
			}
			drainNextChunk()
		})
	}
	drainNextChunk()
}
