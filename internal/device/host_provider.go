package device

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/host"

	"go.appsonar.dev/telemetry/internal/model"
)

// HostProvider builds a DeviceSnapshot from the host operating system via
// gopsutil. It is the concrete, non-stub implementation of the device-info
// collaborator (§1: left external): a real SDK still needs a default for
// process-local host telemetry (platform name, version, hostname) even
// though richer mobile device info (carrier, model, screen size) is left
// to the host application via Static or a custom Provider.
type HostProvider struct {
	SDKName      string
	SDKVersion   string
	AppVersion   string
	AppBuild     string
	CollectTimeout time.Duration
}

// NewHostProvider returns a HostProvider with a conservative collection
// timeout; gopsutil's host.InfoWithContext can block briefly on some
// platforms reading /proc or registry state.
func NewHostProvider(sdkName, sdkVersion string) *HostProvider {
	return &HostProvider{
		SDKName:        sdkName,
		SDKVersion:     sdkVersion,
		CollectTimeout: 2 * time.Second,
	}
}

func (p *HostProvider) Collect() (*model.DeviceSnapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.CollectTimeout)
	defer cancel()

	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("collect host info: %w", err)
	}

	_, offset := time.Now().Zone()

	return &model.DeviceSnapshot{
		SDKName:               p.SDKName,
		SDKVersion:            p.SDKVersion,
		OSName:                info.OS,
		OSVersion:             info.PlatformVersion,
		OSBuild:               info.KernelVersion,
		Model:                 runtime.GOARCH,
		Hostname:              info.Hostname,
		Locale:                "en-US",
		TimeZoneOffsetMinutes: offset / 60,
		AppVersion:            p.AppVersion,
		AppBuild:              p.AppBuild,
	}, nil
}
