package channel

import (
	"log/slog"

	"go.appsonar.dev/telemetry/internal/model"
	"go.appsonar.dev/telemetry/internal/telemetrymetrics"
)

// checkPendingLogsLocked implements §4.E check_pending_logs. Caller must
// hold c.mu.
func (c *Channel) checkPendingLogsLocked(name string) {
	g, ok := c.groups[name]
	if !ok {
		return
	}
	switch {
	case g.PendingCount >= g.Config.MaxLogsPerBatch:
		g.CancelTimer()
		c.triggerIngestionLocked(name)
	case g.PendingCount > 0 && !g.TimerArmed:
		g.ArmTimer(c.clock, func() { c.onTimerFired(name) })
	}
}

// onTimerFired is the group timer runnable of §4.D: it re-enters the
// channel lock, clears timer_armed, and calls trigger_ingestion.
func (c *Channel) onTimerFired(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.groups[name]
	if !ok {
		return
	}
	g.TimerArmed = false
	c.triggerIngestionLocked(name)
}

// triggerIngestionLocked implements §4.E trigger_ingestion. Caller must
// hold c.mu; it releases nothing itself, but the get_logs completion
// re-acquires the lock from the store worker's goroutine.
func (c *Channel) triggerIngestionLocked(name string) {
	if !c.enabled {
		return
	}
	g, ok := c.groups[name]
	if !ok {
		return
	}
	g.CancelTimer()

	if g.InFlightCount() >= g.Config.MaxParallelBatches {
		return
	}

	limit := g.Config.MaxLogsPerBatch
	c.store.GetLogs(name, limit, func(batchID model.BatchID, logs []model.PersistedLog, err error) {
		c.mu.Lock()
		defer c.mu.Unlock()

		if err != nil {
			slog.Warn("get_logs failed", "group", name, "error", err)
			return
		}
		if len(logs) == 0 {
			return
		}
		g, ok := c.groups[name]
		if !ok {
			return
		}

		for i := range logs {
			g.Config.Listener.OnBeforeSending(&logs[i].Record)
		}

		g.PendingCount -= len(logs)
		g.InFlight[batchID] = logs
		telemetrymetrics.GroupPendingCount.WithLabelValues(name).Set(float64(g.PendingCount))
		telemetrymetrics.GroupInFlightBatches.WithLabelValues(name).Set(float64(g.InFlightCount()))

		records := make([]model.LogRecord, len(logs))
		for i, l := range logs {
			records[i] = l.Record
		}

		c.transport.Send(c.appSecret, c.installID, records, func(sendErr error) {
			if sendErr == nil {
				c.handleSuccess(name, batchID)
				return
			}
			c.handleFailure(name, batchID, sendErr)
		})

		c.checkPendingLogsLocked(name)
	})
}

// handleSuccess implements §4.E handle_success.
func (c *Channel) handleSuccess(name string, batchID model.BatchID) {
	c.mu.Lock()
	g, ok := c.groups[name]
	if !ok {
		c.mu.Unlock()
		return
	}
	logs, ok := g.InFlight[batchID]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(g.InFlight, batchID)
	telemetrymetrics.GroupInFlightBatches.WithLabelValues(name).Set(float64(g.InFlightCount()))
	telemetrymetrics.GroupBatchesSent.WithLabelValues(name, "success").Inc()
	listener := g.Config.Listener
	c.mu.Unlock()

	c.store.Delete(name, batchID, func(err error) {
		if err != nil {
			slog.Warn("delete sent batch failed", "group", name, "batch", batchID, "error", err)
		}
	})
	for i := range logs {
		listener.OnSuccess(&logs[i].Record)
	}

	c.mu.Lock()
	c.checkPendingLogsLocked(name)
	c.mu.Unlock()
}

// handleFailure implements §4.E handle_failure.
func (c *Channel) handleFailure(name string, batchID model.BatchID, sendErr error) {
	c.mu.Lock()
	g, ok := c.groups[name]
	if !ok {
		c.mu.Unlock()
		return
	}
	logs, ok := g.InFlight[batchID]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(g.InFlight, batchID)
	telemetrymetrics.GroupInFlightBatches.WithLabelValues(name).Set(float64(g.InFlightCount()))

	merr, _ := sendErr.(*model.Error)
	if merr == nil {
		merr = model.Fatal(sendErr)
	}

	if model.IsRecoverable(merr) {
		g.PendingCount += len(logs)
		telemetrymetrics.GroupPendingCount.WithLabelValues(name).Set(float64(g.PendingCount))
		telemetrymetrics.GroupBatchesSent.WithLabelValues(name, "recoverable_failure").Inc()
		c.mu.Unlock()
		c.suspend(false, merr)
		return
	}

	telemetrymetrics.GroupBatchesSent.WithLabelValues(name, "fatal_failure").Inc()
	listener := g.Config.Listener
	c.mu.Unlock()

	for i := range logs {
		listener.OnFailure(&logs[i].Record, merr)
	}
	c.suspend(true, merr)
}
