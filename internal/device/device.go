// Package device provides the device-info gathering collaborator the
// channel spec calls out as external (§1 Out of scope). The channel only
// ever calls Provider.Collect synchronously from inside the channel lock,
// so implementations must not block on network I/O.
package device

import "go.appsonar.dev/telemetry/internal/model"

// Provider builds a device snapshot on demand. The channel caches the
// result and only calls Collect again after InvalidateDeviceCache.
type Provider interface {
	Collect() (*model.DeviceSnapshot, error)
}

// Static always returns the same pre-built snapshot. Useful for hosts that
// assemble device info themselves and for tests.
type Static struct {
	Snapshot *model.DeviceSnapshot
}

func (s Static) Collect() (*model.DeviceSnapshot, error) {
	return s.Snapshot, nil
}
