// Package model holds the data types shared across the ingestion channel,
// its log store, and its transport: the Log Record, the device snapshot,
// and the channel-internal error taxonomy (§3, §7 of the channel spec).
package model

import "time"

// Payload is the opaque, serializable domain value a log producer attaches
// to a Log Record. Serialization is performed by a pluggable serializer
// external to this module; the channel only ever treats it as an opaque
// value with a type discriminator for the wire format.
type Payload interface {
	// LogType is the wire-format "type" discriminator.
	LogType() string
}

// DeviceSnapshot is an immutable value describing the device at the time a
// log was enqueued. Built lazily by the external device-info collaborator
// (internal/device) and shared by reference across logs that did not
// pre-set their own (invariant 6).
type DeviceSnapshot struct {
	SDKName      string
	SDKVersion   string
	OSName       string
	OSVersion    string
	OSBuild      string
	Model        string
	Hostname     string
	Locale       string
	TimeZoneOffsetMinutes int
	ScreenSize   string
	AppVersion   string
	AppBuild     string
	CarrierName  string
}

// LogRecord is one unit accepted by the channel via Enqueue. InstallID and
// SessionID are process-lifetime-stable UUIDs; TimestampOffsetMS is
// milliseconds since epoch, assigned at enqueue if left zero.
type LogRecord struct {
	Group             string
	Payload           Payload
	InstallID         string
	SessionID         string
	Device            *DeviceSnapshot
	TimestampOffsetMS int64
}

// Timestamp returns the record's timestamp as a time.Time for convenience.
func (l *LogRecord) Timestamp() time.Time {
	return time.UnixMilli(l.TimestampOffsetMS)
}

// BatchID uniquely identifies a contiguous persisted slice claimed for
// transmission (invariant 3). Never reused.
type BatchID string

// PersistedLog is a LogRecord as returned from the store, carrying the
// store-assigned row identity needed to issue a delete after a successful
// or fatally-failed send.
type PersistedLog struct {
	RowID int64
	Record LogRecord
}
