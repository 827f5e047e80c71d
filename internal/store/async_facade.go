package store

import (
	"sync"
	"time"

	"go.appsonar.dev/telemetry/internal/model"
	"go.appsonar.dev/telemetry/internal/telemetrymetrics"
)

// task is one unit of work submitted to the facade's worker: run performs
// the store call, then complete delivers its result to the caller's
// callback. Both run on the worker goroutine, in submission order, so a
// task's callback is invoked only after every task submitted ahead of it
// has both run AND had its callback delivered — the FIFO guarantee of
// §4.B covers callbacks, not just store access.
type task struct {
	run      func()
	complete func()
	done     chan struct{}
}

// AsyncStoreFacade is the Async Store Facade of §4.B: a single dedicated
// worker goroutine that serializes every LogStore call, so the channel
// itself never blocks on disk I/O. A plain FIFO task queue, since the
// facade has exactly one worker and no per-group fan-out of its own.
type AsyncStoreFacade struct {
	store LogStore

	tasks chan task
	wg    sync.WaitGroup

	closeOnce sync.Once
	closed    chan struct{}
}

// NewAsyncStoreFacade starts the worker goroutine and returns the facade.
// queueDepth bounds the number of outstanding submissions before a further
// submission blocks the caller; 0 uses an unbuffered channel.
func NewAsyncStoreFacade(s LogStore, queueDepth int) *AsyncStoreFacade {
	f := &AsyncStoreFacade{
		store:  s,
		tasks:  make(chan task, queueDepth),
		closed: make(chan struct{}),
	}
	go f.run()
	return f
}

func (f *AsyncStoreFacade) run() {
	for t := range f.tasks {
		telemetrymetrics.StoreQueueDepth.Set(float64(len(f.tasks)))
		t.run()
		t.complete()
		close(t.done)
		f.wg.Done()
	}
}

// submit enqueues run and complete to the worker, in that order, and
// returns a channel closed once both have executed. Submissions from the
// same caller goroutine are delivered to the worker in the order submit
// was called; since the worker is single-threaded, every callback it
// invokes observes the same FIFO order (§4.B).
func (f *AsyncStoreFacade) submit(run, complete func()) <-chan struct{} {
	f.wg.Add(1)
	t := task{run: run, complete: complete, done: make(chan struct{})}
	f.tasks <- t
	return t.done
}

// Put persists log under group on the worker, invoking done(err) from the
// worker goroutine once the write completes.
func (f *AsyncStoreFacade) Put(group string, log *model.LogRecord, done func(error)) {
	var err error
	f.submit(func() { err = f.store.Put(group, log) }, func() { done(err) })
}

// Count reports the unclaimed row count for group.
func (f *AsyncStoreFacade) Count(group string, done func(int, error)) {
	var n int
	var err error
	f.submit(func() { n, err = f.store.Count(group) }, func() { done(n, err) })
}

// GetLogs claims up to limit unclaimed rows for group under a new batch id.
func (f *AsyncStoreFacade) GetLogs(group string, limit int, done func(model.BatchID, []model.PersistedLog, error)) {
	var id model.BatchID
	var logs []model.PersistedLog
	var err error
	f.submit(func() { id, logs, err = f.store.GetLogs(group, limit) }, func() { done(id, logs, err) })
}

// Delete removes every row claimed under batchID.
func (f *AsyncStoreFacade) Delete(group string, batchID model.BatchID, done func(error)) {
	var err error
	f.submit(func() { err = f.store.Delete(group, batchID) }, func() { done(err) })
}

// DeleteAll removes every row belonging to group.
func (f *AsyncStoreFacade) DeleteAll(group string, done func(error)) {
	var err error
	f.submit(func() { err = f.store.DeleteAll(group) }, func() { done(err) })
}

// ClearPendingState releases every open batch_id claim so claimed rows
// become eligible for the next GetLogs (§4.A, §4.E suspend step 5).
func (f *AsyncStoreFacade) ClearPendingState(done func(error)) {
	var err error
	f.submit(func() { err = f.store.ClearPendingState() }, func() { done(err) })
}

// WaitForCurrentTasksToComplete blocks until every task submitted before
// this call has completed, or timeout elapses. It queues an empty barrier
// task behind them, so it does not wait for tasks submitted concurrently
// with (or after) the call itself.
func (f *AsyncStoreFacade) WaitForCurrentTasksToComplete(timeout time.Duration) bool {
	done := f.submit(func() {}, func() {})
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Close stops accepting new submissions and waits for the worker to drain
// every task already queued before returning. The underlying LogStore is
// not closed; callers that own it close it themselves after Close returns.
func (f *AsyncStoreFacade) Close() {
	f.closeOnce.Do(func() {
		close(f.tasks)
		f.wg.Wait()
		close(f.closed)
	})
}
