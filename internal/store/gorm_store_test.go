package store

import (
	"testing"

	"go.appsonar.dev/telemetry/internal/model"
)

type stringPayload string

func (stringPayload) LogType() string { return "test" }

func newTestStore(t *testing.T) *GormLogStore {
	t.Helper()
	s, err := OpenGormLogStore(":memory:", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGormLogStorePutCount(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 3; i++ {
		if err := s.Put("analytics", &model.LogRecord{Group: "analytics", Payload: stringPayload("x")}); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	n, err := s.Count("analytics")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Fatalf("count = %d, want 3", n)
	}
	if n, _ := s.Count("crashes"); n != 0 {
		t.Fatalf("count(crashes) = %d, want 0", n)
	}
}

func TestGormLogStoreGetLogsClaimsAndOrders(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 5; i++ {
		if err := s.Put("g", &model.LogRecord{Group: "g", Payload: stringPayload("x")}); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	batchID, logs, err := s.GetLogs("g", 3)
	if err != nil {
		t.Fatalf("get logs: %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("len(logs) = %d, want 3", len(logs))
	}
	if logs[0].RowID >= logs[1].RowID || logs[1].RowID >= logs[2].RowID {
		t.Fatalf("logs not in ascending row-id order: %+v", logs)
	}

	// The claimed rows no longer count as unclaimed.
	if n, _ := s.Count("g"); n != 2 {
		t.Fatalf("count after claim = %d, want 2", n)
	}

	// A second GetLogs must not re-claim the already-claimed rows.
	batchID2, logs2, err := s.GetLogs("g", 10)
	if err != nil {
		t.Fatalf("get logs 2: %v", err)
	}
	if len(logs2) != 2 {
		t.Fatalf("len(logs2) = %d, want 2", len(logs2))
	}
	if batchID == batchID2 {
		t.Fatalf("batch ids must be unique, got %q twice", batchID)
	}
}

func TestGormLogStoreDeleteRemovesOnlyClaimedBatch(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 4; i++ {
		s.Put("g", &model.LogRecord{Group: "g", Payload: stringPayload("x")})
	}

	batchID, logs, err := s.GetLogs("g", 2)
	if err != nil || len(logs) != 2 {
		t.Fatalf("get logs: %v %d", err, len(logs))
	}

	if err := s.Delete("g", batchID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n, _ := s.Count("g"); n != 2 {
		t.Fatalf("count after delete = %d, want 2", n)
	}
}

func TestGormLogStoreClearPendingStateUnclaimsRows(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 3; i++ {
		s.Put("g", &model.LogRecord{Group: "g", Payload: stringPayload("x")})
	}
	if _, _, err := s.GetLogs("g", 10); err != nil {
		t.Fatalf("get logs: %v", err)
	}
	if n, _ := s.Count("g"); n != 0 {
		t.Fatalf("count after claim = %d, want 0", n)
	}

	if err := s.ClearPendingState(); err != nil {
		t.Fatalf("clear pending state: %v", err)
	}
	if n, _ := s.Count("g"); n != 3 {
		t.Fatalf("count after clear = %d, want 3", n)
	}
}

func TestGormLogStoreDeleteAll(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 3; i++ {
		s.Put("g", &model.LogRecord{Group: "g", Payload: stringPayload("x")})
	}
	if err := s.DeleteAll("g"); err != nil {
		t.Fatalf("delete all: %v", err)
	}
	if n, _ := s.Count("g"); n != 0 {
		t.Fatalf("count after delete all = %d, want 0", n)
	}
}
