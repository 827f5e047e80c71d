package channel

import (
	"sync"
	"testing"
	"time"

	"go.appsonar.dev/telemetry/internal/clock"
	"go.appsonar.dev/telemetry/internal/device"
	"go.appsonar.dev/telemetry/internal/group"
	"go.appsonar.dev/telemetry/internal/model"
	"go.appsonar.dev/telemetry/internal/store"
)

type testPayload string

func (testPayload) LogType() string { return "test" }

// fakeTransport lets each test script exactly how Send resolves. The script
// runs on its own goroutine: the Transport contract forbids invoking the
// callback synchronously from inside Send.
type fakeTransport struct {
	mu       sync.Mutex
	sendFunc func(appSecret, installID string, logs []model.LogRecord, callback func(error))
	sent     [][]model.LogRecord
	closed   bool
}

func (f *fakeTransport) SetServerURL(string) {}
func (f *fakeTransport) Close()              { f.mu.Lock(); f.closed = true; f.mu.Unlock() }

func (f *fakeTransport) Send(appSecret, installID string, logs []model.LogRecord, callback func(error)) {
	f.mu.Lock()
	f.sent = append(f.sent, logs)
	fn := f.sendFunc
	f.mu.Unlock()
	go fn(appSecret, installID, logs, callback)
}

func (f *fakeTransport) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// recordingListener captures the callback order/content for assertions.
type recordingListener struct {
	mu        sync.Mutex
	before    []*model.LogRecord
	success   []*model.LogRecord
	failure   []*model.LogRecord
	failureCh chan struct{}
	successCh chan struct{}
}

func newRecordingListener() *recordingListener {
	return &recordingListener{
		failureCh: make(chan struct{}, 64),
		successCh: make(chan struct{}, 64),
	}
}

func (l *recordingListener) OnBeforeSending(log *model.LogRecord) {
	l.mu.Lock()
	l.before = append(l.before, log)
	l.mu.Unlock()
}

func (l *recordingListener) OnSuccess(log *model.LogRecord) {
	l.mu.Lock()
	l.success = append(l.success, log)
	l.mu.Unlock()
	l.successCh <- struct{}{}
}

func (l *recordingListener) OnFailure(log *model.LogRecord, err *model.Error) {
	l.mu.Lock()
	l.failure = append(l.failure, log)
	l.mu.Unlock()
	l.failureCh <- struct{}{}
}

func (l *recordingListener) waitSuccess(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-l.successCh:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for success callback %d/%d", i+1, n)
		}
	}
}

func (l *recordingListener) waitFailure(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-l.failureCh:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for failure callback %d/%d", i+1, n)
		}
	}
}

func newTestChannel(t *testing.T, transport *fakeTransport, clk clock.Clock) *Channel {
	t.Helper()
	s, err := store.OpenGormLogStore(":memory:", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	facade := store.NewAsyncStoreFacade(s, 64)
	t.Cleanup(facade.Close)

	ch, err := New(Deps{
		Store:           facade,
		Transport:       transport,
		DeviceProvider:  device.Static{Snapshot: &model.DeviceSnapshot{SDKName: "test"}},
		PreferenceStore: nil,
		Clock:           clk,
		InstallID:       "install-1",
		AppSecret:       "secret",
		ShutdownTimeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("new channel: %v", err)
	}
	return ch
}

func alwaysSuccess(appSecret, installID string, logs []model.LogRecord, callback func(error)) {
	callback(nil)
}

func TestSizeTriggeredFlush(t *testing.T) {
	ft := &fakeTransport{sendFunc: alwaysSuccess}
	ch := newTestChannel(t, ft, clock.Real{})
	listener := newRecordingListener()
	ch.AddGroup(group.Config{Name: "g", MaxLogsPerBatch: 2, BatchTimeInterval: 60_000, MaxParallelBatches: 1, Listener: listener})

	ch.Enqueue(&model.LogRecord{Payload: testPayload("l1")}, "g")
	ch.Enqueue(&model.LogRecord{Payload: testPayload("l2")}, "g")

	listener.waitSuccess(t, 2)

	if ft.sendCount() != 1 {
		t.Fatalf("sendCount = %d, want 1 (both logs in a single batch)", ft.sendCount())
	}
}

func TestTimeTriggeredFlush(t *testing.T) {
	ft := &fakeTransport{sendFunc: alwaysSuccess}
	fake := clock.NewFake(time.Now())
	ch := newTestChannel(t, ft, fake)
	listener := newRecordingListener()
	ch.AddGroup(group.Config{Name: "g", MaxLogsPerBatch: 10, BatchTimeInterval: 100, MaxParallelBatches: 1, Listener: listener})

	ch.Enqueue(&model.LogRecord{Payload: testPayload("l1")}, "g")

	// Give the async put a moment to land and arm the timer.
	time.Sleep(50 * time.Millisecond)
	if ft.sendCount() != 0 {
		t.Fatalf("sendCount = %d before interval elapses, want 0", ft.sendCount())
	}

	fake.Advance(100 * time.Millisecond)
	listener.waitSuccess(t, 1)

	if ft.sendCount() != 1 {
		t.Fatalf("sendCount = %d, want 1", ft.sendCount())
	}
}

func TestRecoverableFailureSuspendsAndResendsOnReEnable(t *testing.T) {
	var mu sync.Mutex
	first := true
	ft := &fakeTransport{}
	ft.sendFunc = func(appSecret, installID string, logs []model.LogRecord, callback func(error)) {
		mu.Lock()
		wasFirst := first
		first = false
		mu.Unlock()
		if wasFirst {
			callback(model.Recoverable(assertableErr{}))
			return
		}
		callback(nil)
	}
	ch := newTestChannel(t, ft, clock.Real{})
	listener := newRecordingListener()
	ch.AddGroup(group.Config{Name: "g", MaxLogsPerBatch: 1, BatchTimeInterval: 60_000, MaxParallelBatches: 1, Listener: listener})

	ch.Enqueue(&model.LogRecord{Payload: testPayload("l1")}, "g")

	deadline := time.Now().Add(2 * time.Second)
	for ch.IsEnabled() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if ch.IsEnabled() {
		t.Fatalf("channel should have suspended after recoverable failure")
	}

	ch.SetEnabled(true)
	listener.waitSuccess(t, 1)

	if len(listener.failure) != 0 {
		t.Fatalf("recoverable failure must not invoke on_failure, got %d calls", len(listener.failure))
	}
}

type assertableErr struct{}

func (assertableErr) Error() string { return "recoverable boom" }

func TestFatalFailureDrainsAndSuspendsDiscard(t *testing.T) {
	ft := &fakeTransport{}
	ft.sendFunc = func(appSecret, installID string, logs []model.LogRecord, callback func(error)) {
		callback(model.Fatal(assertableErr{}))
	}
	ch := newTestChannel(t, ft, clock.Real{})
	listener := newRecordingListener()
	ch.AddGroup(group.Config{Name: "g", MaxLogsPerBatch: 1, BatchTimeInterval: 60_000, MaxParallelBatches: 1, Listener: listener})

	ch.Enqueue(&model.LogRecord{Payload: testPayload("l1")}, "g")
	listener.waitFailure(t, 1)

	deadline := time.Now().Add(2 * time.Second)
	for ch.IsEnabled() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if ch.IsEnabled() {
		t.Fatalf("channel should have suspended (discard) after fatal failure")
	}

	// Subsequent enqueue is rejected via discard_mode: on_before_sending then on_failure(Cancelled).
	ch.Enqueue(&model.LogRecord{Payload: testPayload("l2")}, "g")
	listener.waitFailure(t, 1)
}

func TestParallelismBound(t *testing.T) {
	var mu sync.Mutex
	inFlight := 0
	maxObserved := 0
	release := make(chan struct{})

	ft := &fakeTransport{}
	ft.sendFunc = func(appSecret, installID string, logs []model.LogRecord, callback func(error)) {
		mu.Lock()
		inFlight++
		if inFlight > maxObserved {
			maxObserved = inFlight
		}
		mu.Unlock()
		go func() {
			<-release
			mu.Lock()
			inFlight--
			mu.Unlock()
			callback(nil)
		}()
	}
	ch := newTestChannel(t, ft, clock.Real{})
	listener := newRecordingListener()
	ch.AddGroup(group.Config{Name: "g", MaxLogsPerBatch: 1, BatchTimeInterval: 60_000, MaxParallelBatches: 3, Listener: listener})

	for i := 0; i < 5; i++ {
		ch.Enqueue(&model.LogRecord{Payload: testPayload("l")}, "g")
	}

	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	observedDuringHold := maxObserved
	mu.Unlock()
	if observedDuringHold > 3 {
		t.Fatalf("observed %d in-flight batches, want <= 3", observedDuringHold)
	}

	close(release)
	listener.waitSuccess(t, 5)
}

func TestShutdownLeavesUnflushedLogsPersisted(t *testing.T) {
	blocked := make(chan struct{})
	ft := &fakeTransport{}
	ft.sendFunc = func(appSecret, installID string, logs []model.LogRecord, callback func(error)) {
		<-blocked // never resolves before shutdown's timeout
	}
	ch := newTestChannel(t, ft, clock.Real{})
	listener := newRecordingListener()
	// N=10 so the enqueued log never size-triggers; it stays pending.
	ch.AddGroup(group.Config{Name: "g", MaxLogsPerBatch: 10, BatchTimeInterval: 60_000, MaxParallelBatches: 1, Listener: listener})

	ch.Enqueue(&model.LogRecord{Payload: testPayload("l1")}, "g")
	time.Sleep(50 * time.Millisecond) // let the put land and pending_count increment

	start := time.Now()
	ch.Shutdown()
	if time.Since(start) > 3*time.Second {
		t.Fatalf("shutdown took too long: %v", time.Since(start))
	}

	counted := make(chan int, 1)
	ch.store.Count("g", func(n int, err error) {
		if err != nil {
			t.Errorf("count: %v", err)
		}
		counted <- n
	})
	select {
	case n := <-counted:
		if n != 1 {
			t.Fatalf("persisted rows after shutdown = %d, want 1", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out counting persisted rows after shutdown")
	}
	close(blocked)
}
