package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"go.appsonar.dev/telemetry/internal/model"
	"go.appsonar.dev/telemetry/internal/telemetrymetrics"
)

// LogStore is the durable append/query/delete surface of §4.A. Every method
// is synchronous and not required to be safe for concurrent use; the Async
// Store Facade is the only caller and serializes all access itself.
type LogStore interface {
	// Put serializes and persists one record under group. Returns a
	// model.Error of KindSerialization or KindStore on failure.
	Put(group string, log *model.LogRecord) error
	// Count returns the number of unclaimed (not in-flight) rows for group.
	Count(group string) (int, error)
	// GetLogs claims up to limit of the oldest unclaimed rows for group
	// under a freshly generated batch_id and returns them in enqueue order.
	// Returns an empty, non-nil slice if there is nothing unclaimed.
	GetLogs(group string, limit int) (model.BatchID, []model.PersistedLog, error)
	// Delete removes every row previously claimed under batchID.
	Delete(group string, batchID model.BatchID) error
	// DeleteAll removes every row — claimed or not — belonging to group.
	DeleteAll(group string) error
	// ClearPendingState un-claims every row in the store, returning claimed
	// rows to the unclaimed pool. Called at startup (§4.A) to recover from a
	// process crash that left a batch claimed but never resolved, and by the
	// channel on every suspend that retains rows.
	ClearPendingState() error
	Close() error
}

// GormLogStore is the concrete LogStore: a pure-Go SQLite driver needs no
// cgo, which matters for a mobile SDK cross-compiled to Android/iOS
// targets.
type GormLogStore struct {
	db         *gorm.DB
	serializer model.Serializer
}

// OpenGormLogStore opens (creating if absent) a SQLite database at path,
// migrates the schema, and performs the startup ClearPendingState recovery
// required after an unclean shutdown. A nil serializer defaults to
// model.JSONSerializer.
func OpenGormLogStore(path string, serializer model.Serializer) (*GormLogStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open log store: %w", err)
	}
	if err := db.AutoMigrate(&logRow{}); err != nil {
		return nil, fmt.Errorf("migrate log store: %w", err)
	}
	if serializer == nil {
		serializer = model.JSONSerializer{}
	}
	s := &GormLogStore{db: db, serializer: serializer}
	if err := s.ClearPendingState(); err != nil {
		return nil, fmt.Errorf("recover log store: %w", err)
	}
	return s, nil
}

func (s *GormLogStore) Put(group string, log *model.LogRecord) error {
	start := time.Now()
	defer func() { telemetrymetrics.StoreOperationDuration.WithLabelValues("put").Observe(time.Since(start).Seconds()) }()

	var deviceJSON []byte
	if log.Device != nil {
		b, err := json.Marshal(log.Device)
		if err != nil {
			return &model.Error{Kind: model.KindSerialization, Cause: fmt.Errorf("marshal device snapshot: %w", err)}
		}
		deviceJSON = b
	}

	payload, err := s.serializer.Serialize(log.Payload)
	if err != nil {
		return &model.Error{Kind: model.KindSerialization, Cause: err}
	}

	row := &logRow{
		GroupName:         group,
		Payload:           payload,
		InstallID:         log.InstallID,
		SessionID:         log.SessionID,
		TimestampOffsetMS: log.TimestampOffsetMS,
		DeviceJSON:        deviceJSON,
		CreatedAt:         time.Now(),
	}
	if err := s.db.Create(row).Error; err != nil {
		return &model.Error{Kind: model.KindStore, Cause: err}
	}
	return nil
}

func (s *GormLogStore) Count(group string) (int, error) {
	start := time.Now()
	defer func() { telemetrymetrics.StoreOperationDuration.WithLabelValues("count").Observe(time.Since(start).Seconds()) }()

	var n int64
	err := s.db.Model(&logRow{}).
		Where("group_name = ? AND claimed_batch_id IS NULL", group).
		Count(&n).Error
	if err != nil {
		return 0, &model.Error{Kind: model.KindStore, Cause: err}
	}
	return int(n), nil
}

// GetLogs claims rows with a two-step fetch-then-mark, not a locking
// UPDATE ... RETURNING: safe because the Async Store Facade is the only
// worker that ever calls into a LogStore, so there is never a second
// claimant to race.
func (s *GormLogStore) GetLogs(group string, limit int) (model.BatchID, []model.PersistedLog, error) {
	start := time.Now()
	defer func() { telemetrymetrics.StoreOperationDuration.WithLabelValues("get_logs").Observe(time.Since(start).Seconds()) }()

	var rows []logRow
	err := s.db.
		Where("group_name = ? AND claimed_batch_id IS NULL", group).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return "", nil, &model.Error{Kind: model.KindStore, Cause: err}
	}
	if len(rows) == 0 {
		return "", []model.PersistedLog{}, nil
	}

	batchID := model.BatchID(uuid.NewString())
	ids := make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	batchIDStr := string(batchID)
	err = s.db.Model(&logRow{}).
		Where("id IN ?", ids).
		Update("claimed_batch_id", batchIDStr).Error
	if err != nil {
		return "", nil, &model.Error{Kind: model.KindStore, Cause: err}
	}

	out := make([]model.PersistedLog, len(rows))
	for i, r := range rows {
		var device *model.DeviceSnapshot
		if len(r.DeviceJSON) > 0 {
			device = &model.DeviceSnapshot{}
			_ = json.Unmarshal(r.DeviceJSON, device)
		}
		out[i] = model.PersistedLog{
			RowID: r.ID,
			Record: model.LogRecord{
				Group:             r.GroupName,
				Payload:           model.RawPayload(r.Payload),
				InstallID:         r.InstallID,
				SessionID:         r.SessionID,
				Device:            device,
				TimestampOffsetMS: r.TimestampOffsetMS,
			},
		}
	}
	return batchID, out, nil
}

func (s *GormLogStore) Delete(group string, batchID model.BatchID) error {
	start := time.Now()
	defer func() { telemetrymetrics.StoreOperationDuration.WithLabelValues("delete").Observe(time.Since(start).Seconds()) }()

	err := s.db.
		Where("group_name = ? AND claimed_batch_id = ?", group, string(batchID)).
		Delete(&logRow{}).Error
	if err != nil {
		return &model.Error{Kind: model.KindStore, Cause: err}
	}
	return nil
}

func (s *GormLogStore) DeleteAll(group string) error {
	start := time.Now()
	defer func() { telemetrymetrics.StoreOperationDuration.WithLabelValues("delete_all").Observe(time.Since(start).Seconds()) }()

	err := s.db.Where("group_name = ?", group).Delete(&logRow{}).Error
	if err != nil {
		return &model.Error{Kind: model.KindStore, Cause: err}
	}
	return nil
}

func (s *GormLogStore) ClearPendingState() error {
	start := time.Now()
	defer func() {
		telemetrymetrics.StoreOperationDuration.WithLabelValues("clear_pending_state").Observe(time.Since(start).Seconds())
	}()

	err := s.db.Model(&logRow{}).
		Where("claimed_batch_id IS NOT NULL").
		Update("claimed_batch_id", nil).Error
	if err != nil {
		return &model.Error{Kind: model.KindStore, Cause: err}
	}
	return nil
}

func (s *GormLogStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
