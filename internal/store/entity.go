// Package store implements the Log Store and Async Store Facade of the
// ingestion channel (§4.A, §4.B): durable persistence for enqueued logs and
// a single-worker façade that serializes all access to it.
package store

import "time"

// logRow is the persisted form of a model.LogRecord. Payload is the
// serializer's output, stored opaque; the store never interprets it.
//
// ClaimedBatchID reduces to the two states the channel actually needs:
// unclaimed (NULL) or claimed by a specific in-flight batch_id. A
// fetch-then-claim two-step is safe here because exactly one worker (the
// Async Store Facade's single goroutine) ever touches this table, so there
// is no concurrent claimant to race against.
type logRow struct {
	ID                int64     `gorm:"primaryKey;autoIncrement"`
	GroupName         string    `gorm:"column:group_name;index:idx_logs_group_claim"`
	Payload           []byte    `gorm:"column:payload"`
	InstallID         string    `gorm:"column:install_id"`
	SessionID         string    `gorm:"column:session_id"`
	TimestampOffsetMS int64     `gorm:"column:timestamp_offset_ms"`
	DeviceJSON        []byte    `gorm:"column:device_json"`
	ClaimedBatchID    *string   `gorm:"column:claimed_batch_id;index:idx_logs_group_claim"`
	CreatedAt         time.Time `gorm:"column:created_at"`
}

func (logRow) TableName() string { return "channel_logs" }
