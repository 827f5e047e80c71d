// Package config loads the telemetry channel's TOML configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// TOMLConfig is the on-disk shape of the channel configuration file.
type TOMLConfig struct {
	Channel TOMLChannelConfig  `toml:"channel"`
	Groups  []TOMLGroupConfig  `toml:"groups"`
}

// TOMLChannelConfig configures the channel core and its transport.
type TOMLChannelConfig struct {
	ServerURL            string `toml:"server_url"`
	ShutdownTimeoutMS    int64  `toml:"shutdown_timeout_ms"`
	SuspendDrainChunk    int    `toml:"suspend_drain_chunk"`
	AppSecret            string `toml:"app_secret"`
	RetryBaseDelayMS     int64  `toml:"retry_base_delay_ms"`
	RetrySecondDelayMS   int64  `toml:"retry_second_delay_ms"`
	RetryThirdDelayMS    int64  `toml:"retry_third_delay_ms"`
	CircuitBreakerEnabled *bool `toml:"circuit_breaker_enabled"`
}

// TOMLGroupConfig is one `[[groups]]` table: a static group registration.
type TOMLGroupConfig struct {
	Name               string `toml:"name"`
	MaxLogsPerBatch    int    `toml:"max_logs_per_batch"`
	BatchTimeIntervalMS int64 `toml:"batch_time_interval_ms"`
	MaxParallelBatches int    `toml:"max_parallel_batches"`
}

// ChannelConfig is the runtime configuration consumed by internal/channel.
type ChannelConfig struct {
	ServerURL             string
	ShutdownTimeout       time.Duration
	SuspendDrainChunk     int
	AppSecret             string
	RetryDelays           [3]time.Duration
	CircuitBreakerEnabled bool
	Groups                []GroupConfig
}

// GroupConfig mirrors config.TOMLGroupConfig in runtime units.
type GroupConfig struct {
	Name               string
	MaxLogsPerBatch    int
	BatchTimeInterval  time.Duration
	MaxParallelBatches int
}

// DefaultChannelConfig returns sensible defaults per §6: 5000ms shutdown
// timeout, 100-row suspend-drain chunks, and a retry schedule of
// ~10s / ~5min / ~20min.
func DefaultChannelConfig() *ChannelConfig {
	return &ChannelConfig{
		ShutdownTimeout:       5000 * time.Millisecond,
		SuspendDrainChunk:     100,
		CircuitBreakerEnabled: true,
		RetryDelays: [3]time.Duration{
			10 * time.Second,
			5 * time.Minute,
			20 * time.Minute,
		},
	}
}

// Load reads a TOML configuration file and merges it over the defaults.
func Load(path string) (*ChannelConfig, error) {
	var doc TOMLConfig
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, fmt.Errorf("decode channel config %q: %w", path, err)
	}
	return fromTOML(&doc), nil
}

// LoadBytes reads a TOML document already in memory (used by tests and by
// hosts that fetch configuration from somewhere other than the filesystem).
func LoadBytes(data []byte) (*ChannelConfig, error) {
	var doc TOMLConfig
	if _, err := toml.Decode(string(data), &doc); err != nil {
		return nil, fmt.Errorf("decode channel config: %w", err)
	}
	return fromTOML(&doc), nil
}

func fromTOML(doc *TOMLConfig) *ChannelConfig {
	cfg := DefaultChannelConfig()

	if doc.Channel.ServerURL != "" {
		cfg.ServerURL = doc.Channel.ServerURL
	}
	if doc.Channel.AppSecret != "" {
		cfg.AppSecret = doc.Channel.AppSecret
	}
	if doc.Channel.ShutdownTimeoutMS > 0 {
		cfg.ShutdownTimeout = time.Duration(doc.Channel.ShutdownTimeoutMS) * time.Millisecond
	}
	if doc.Channel.SuspendDrainChunk > 0 {
		cfg.SuspendDrainChunk = doc.Channel.SuspendDrainChunk
	}
	if doc.Channel.CircuitBreakerEnabled != nil {
		cfg.CircuitBreakerEnabled = *doc.Channel.CircuitBreakerEnabled
	}
	if doc.Channel.RetryBaseDelayMS > 0 {
		cfg.RetryDelays[0] = time.Duration(doc.Channel.RetryBaseDelayMS) * time.Millisecond
	}
	if doc.Channel.RetrySecondDelayMS > 0 {
		cfg.RetryDelays[1] = time.Duration(doc.Channel.RetrySecondDelayMS) * time.Millisecond
	}
	if doc.Channel.RetryThirdDelayMS > 0 {
		cfg.RetryDelays[2] = time.Duration(doc.Channel.RetryThirdDelayMS) * time.Millisecond
	}

	for _, g := range doc.Groups {
		cfg.Groups = append(cfg.Groups, GroupConfig{
			Name:               g.Name,
			MaxLogsPerBatch:    g.MaxLogsPerBatch,
			BatchTimeInterval:  time.Duration(g.BatchTimeIntervalMS) * time.Millisecond,
			MaxParallelBatches: g.MaxParallelBatches,
		})
	}

	return cfg
}

// EnabledPreferencePath returns the on-disk path used to persist the
// "allowedNetworkRequests" preference, rooted under the SDK's data
// directory. Kept as a helper rather than a hardcoded constant in
// internal/channel so hosts can relocate the data directory.
func EnabledPreferencePath(dataDir string) string {
	if dataDir == "" {
		dataDir = "."
	}
	return dataDir + string(os.PathSeparator) + "telemetry-enabled.pref"
}
