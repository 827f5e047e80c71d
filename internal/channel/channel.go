// Package channel implements the Channel Core of §4.E: the ingestion
// channel's state machine, owning every group, the enqueue path, and the
// enable/disable/suspend/shutdown transitions. Every mutation of channel or
// group state happens under a single lock (§5); store and transport I/O
// always happens outside it, with their completions re-acquiring the lock
// before touching state.
package channel

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.appsonar.dev/telemetry/internal/clock"
	"go.appsonar.dev/telemetry/internal/device"
	"go.appsonar.dev/telemetry/internal/group"
	"go.appsonar.dev/telemetry/internal/model"
	"go.appsonar.dev/telemetry/internal/store"
	"go.appsonar.dev/telemetry/internal/telemetrymetrics"
	"go.appsonar.dev/telemetry/internal/transport"
)

// SuspendDrainChunk is the default number of rows drained per get_logs call
// when discarding a group's store on a fatal suspend (§4.E step 4, §6 Defaults).
const SuspendDrainChunk = 100

// Deps are the external collaborators the channel core is wired to. None of
// them are owned by this package: construction, lifecycle, and
// configuration of each live in the packages that implement them.
type Deps struct {
	Store             *store.AsyncStoreFacade
	Transport         transport.Transport
	DeviceProvider    device.Provider
	PreferenceStore   store.PreferenceStore
	Clock             clock.Clock
	InstallID         string
	SessionID         string
	AppSecret         string
	ShutdownTimeout   time.Duration
	SuspendDrainChunk int
}

// Channel is the process-wide ingestion channel singleton (§9: constructed
// explicitly per SDK configuration, torn down explicitly via Shutdown — no
// hidden global state).
type Channel struct {
	mu sync.Mutex

	store     *store.AsyncStoreFacade
	transport transport.Transport
	device    device.Provider
	prefs     store.PreferenceStore
	clock     clock.Clock

	installID  string
	appSecret  string
	sessionID  string
	serverURL  string
	shutdownTO time.Duration
	drainChunk int

	enabled        bool
	discardMode    bool
	deviceSnapshot *model.DeviceSnapshot
	listeners      []model.GlobalListener
	groups         map[string]*group.State
}

// New constructs a Channel, reading the persisted enabled preference
// (§6 Persisted state: "enabled" at key allowedNetworkRequests).
func New(deps Deps) (*Channel, error) {
	if deps.ShutdownTimeout == 0 {
		deps.ShutdownTimeout = 5000 * time.Millisecond
	}
	if deps.SuspendDrainChunk == 0 {
		deps.SuspendDrainChunk = SuspendDrainChunk
	}
	enabled := true
	if deps.PreferenceStore != nil {
		var err error
		enabled, err = deps.PreferenceStore.IsEnabled()
		if err != nil {
			return nil, fmt.Errorf("read enabled preference: %w", err)
		}
	}
	c := &Channel{
		store:      deps.Store,
		transport:  deps.Transport,
		device:     deps.DeviceProvider,
		prefs:      deps.PreferenceStore,
		clock:      deps.Clock,
		installID:  deps.InstallID,
		sessionID:  deps.SessionID,
		appSecret:  deps.AppSecret,
		shutdownTO: deps.ShutdownTimeout,
		drainChunk: deps.SuspendDrainChunk,
		enabled:    enabled,
		groups:     make(map[string]*group.State),
	}
	if c.clock == nil {
		c.clock = clock.Real{}
	}
	telemetrymetrics.ChannelEnabledState.Set(c.enabledStateGauge())
	return c, nil
}

func (c *Channel) enabledStateGauge() float64 {
	switch {
	case c.enabled:
		return telemetrymetrics.ChannelEnabled
	case c.discardMode:
		return telemetrymetrics.ChannelSuspendedDiscard
	default:
		return telemetrymetrics.ChannelSuspendedRetain
	}
}

// AddGroup registers name, overwriting any previous registration of the
// same name (§4.E: "Idempotency is not guaranteed; duplicate registration
// overwrites"). It then asks the store for the current pending count so a
// group surviving a process restart resumes flushing rows it already had.
func (c *Channel) AddGroup(cfg group.Config) {
	c.mu.Lock()
	c.groups[cfg.Name] = group.NewState(cfg)
	c.mu.Unlock()

	c.store.Count(cfg.Name, func(n int, err error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		g, ok := c.groups[cfg.Name]
		if !ok {
			return
		}
		if err != nil {
			slog.Warn("count pending logs failed", "group", cfg.Name, "error", err)
			return
		}
		g.PendingCount = n
		c.checkPendingLogsLocked(cfg.Name)
	})
}

// RemoveGroup cancels the group's timer and drops its entry. In-flight
// batches are abandoned: their eventual transport callbacks will find no
// group and return silently (§7 Orphan callbacks).
func (c *Channel) RemoveGroup(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.groups[name]
	if !ok {
		return
	}
	g.CancelTimer()
	delete(c.groups, name)
}

// RemoveGroupAndDrain is a supplemented, opt-in variant of RemoveGroup for
// callers (e.g. a host tearing down a feature module deliberately) that
// want to wait for the group's in-flight batches to resolve before the
// entry disappears, instead of accepting the standard orphan-callback
// behavior (§7). The timer is cancelled immediately, same as RemoveGroup;
// only removal of the map entry is deferred. Returns once drained or once
// cancel fires, whichever first.
func (c *Channel) RemoveGroupAndDrain(name string, cancel <-chan struct{}) {
	c.mu.Lock()
	g, ok := c.groups[name]
	if !ok {
		c.mu.Unlock()
		return
	}
	g.CancelTimer()
	c.mu.Unlock()

	for {
		c.mu.Lock()
		g, ok := c.groups[name]
		if !ok {
			c.mu.Unlock()
			return
		}
		drained := g.InFlightCount() == 0
		c.mu.Unlock()
		if drained {
			break
		}
		select {
		case <-cancel:
			return
		case <-time.After(20 * time.Millisecond):
		}
	}

	c.mu.Lock()
	delete(c.groups, name)
	c.mu.Unlock()
}

// Enqueue runs the enqueue path of §4.E. Steps 1-5 run under the channel
// lock; the lock is released before the discard-mode listener callbacks
// and before the put of step 6 is submitted to the store. Step 7 (the
// store completion callback) re-acquires the lock.
func (c *Channel) Enqueue(log *model.LogRecord, groupName string) {
	c.mu.Lock()

	g, ok := c.groups[groupName]
	if !ok {
		c.mu.Unlock()
		slog.Warn("enqueue to unknown group", "group", groupName)
		telemetrymetrics.ChannelLogsEnqueued.WithLabelValues(groupName, "dropped_unknown_group").Inc()
		return
	}

	if c.discardMode {
		listener := g.Config.Listener
		c.mu.Unlock()
		listener.OnBeforeSending(log)
		listener.OnFailure(log, model.Cancelled())
		telemetrymetrics.ChannelLogsEnqueued.WithLabelValues(groupName, "discarded").Inc()
		return
	}

	for _, l := range c.listeners {
		l.OnEnqueuingLog(log, groupName)
	}

	if log.InstallID == "" {
		log.InstallID = c.installID
	}
	if log.SessionID == "" {
		log.SessionID = c.sessionID
	}

	if log.Device == nil {
		if c.deviceSnapshot == nil {
			snap, err := c.device.Collect()
			if err != nil {
				c.mu.Unlock()
				slog.Warn("device snapshot collection failed, dropping log", "group", groupName, "error", err)
				telemetrymetrics.ChannelLogsEnqueued.WithLabelValues(groupName, "dropped_device_info").Inc()
				return
			}
			c.deviceSnapshot = snap
		}
		log.Device = c.deviceSnapshot
	}

	if log.TimestampOffsetMS == 0 {
		log.TimestampOffsetMS = c.clock.Now().UnixMilli()
	}

	c.mu.Unlock()

	c.store.Put(groupName, log, func(err error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if err != nil {
			slog.Warn("persisting log failed", "group", groupName, "error", err)
			return
		}
		telemetrymetrics.ChannelLogsEnqueued.WithLabelValues(groupName, "persisted").Inc()
		g, ok := c.groups[groupName]
		if !ok {
			return
		}
		g.PendingCount++
		telemetrymetrics.GroupPendingCount.WithLabelValues(groupName).Set(float64(g.PendingCount))
		if c.enabled {
			c.checkPendingLogsLocked(groupName)
		}
	})
}

// Clear deletes every row for group asynchronously; it does not touch
// in-flight batches (§4.E).
func (c *Channel) Clear(groupName string) {
	c.store.DeleteAll(groupName, func(err error) {
		if err != nil {
			slog.Warn("clear group failed", "group", groupName, "error", err)
		}
	})
}

// IsEnabled reports the channel's current enabled state.
func (c *Channel) IsEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// SetServerURL forwards the override to the transport.
func (c *Channel) SetServerURL(url string) {
	c.mu.Lock()
	c.transport.SetServerURL(url)
	c.serverURL = url
	c.mu.Unlock()
}

// InvalidateDeviceCache drops the cached device snapshot; the next enqueue
// rebuilds it.
func (c *Channel) InvalidateDeviceCache() {
	c.mu.Lock()
	c.deviceSnapshot = nil
	c.mu.Unlock()
}

func (c *Channel) AddListener(l model.GlobalListener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
}

func (c *Channel) RemoveListener(l model.GlobalListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.listeners {
		if existing == l {
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			return
		}
	}
}

// Shutdown suspends the channel (retaining rows) and waits up to the
// configured shutdown timeout for the store worker to drain (§4.E).
func (c *Channel) Shutdown() {
	c.suspend(false, model.Cancelled())
	if !c.store.WaitForCurrentTasksToComplete(c.shutdownTO) {
		slog.Warn("shutdown timed out waiting for store drain", "timeout", c.shutdownTO)
	}
}
