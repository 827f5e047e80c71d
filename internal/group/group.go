// Package group holds the per-group configuration and mutable state the
// channel core owns (§3 Group Configuration / Group State, §4.D).
package group

import (
	"time"

	"go.appsonar.dev/telemetry/internal/clock"
	"go.appsonar.dev/telemetry/internal/model"
)

// Config is immutable after AddGroup registers it.
type Config struct {
	Name               string
	MaxLogsPerBatch    int
	BatchTimeInterval  int64 // milliseconds
	MaxParallelBatches int
	Listener           model.GroupListener
}

// State is the mutable state the channel core mutates under its single
// lock; State itself holds no lock of its own.
type State struct {
	Config Config

	PendingCount int
	InFlight     map[model.BatchID][]model.PersistedLog
	TimerArmed   bool
	Timer        clock.Timer
	timerCancel  chan struct{}
}

// NewState returns a freshly registered group with no pending work.
func NewState(cfg Config) *State {
	if cfg.Listener == nil {
		cfg.Listener = model.NoopGroupListener{}
	}
	return &State{
		Config:   cfg,
		InFlight: make(map[model.BatchID][]model.PersistedLog),
	}
}

// InFlightCount returns the number of currently open batches, i.e. |in_flight|.
func (s *State) InFlightCount() int { return len(s.InFlight) }

// CancelTimer stops any armed timer and clears TimerArmed. Safe to call
// whether or not a timer is armed.
func (s *State) CancelTimer() {
	if s.Timer != nil {
		s.Timer.Stop()
	}
	if s.timerCancel != nil {
		close(s.timerCancel)
		s.timerCancel = nil
	}
	s.TimerArmed = false
}

// ArmTimer starts a new timer for the group's batch_time_interval via clk,
// replacing any previously armed timer. onFire runs on its own goroutine,
// outside the channel lock; the caller re-acquires it.
func (s *State) ArmTimer(clk clock.Clock, onFire func()) {
	s.CancelTimer()
	s.Timer = clk.NewTimer(msToDuration(s.Config.BatchTimeInterval))
	s.TimerArmed = true
	cancel := make(chan struct{})
	s.timerCancel = cancel
	go func(t clock.Timer) {
		select {
		case <-t.C():
			onFire()
		case <-cancel:
		}
	}(s.Timer)
}

func msToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
