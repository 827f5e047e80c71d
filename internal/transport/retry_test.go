package transport

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.appsonar.dev/telemetry/internal/model"
)

type fakeSyncSender struct {
	calls  int32
	errors []error
}

func (f *fakeSyncSender) SetServerURL(string) {}

func (f *fakeSyncSender) Send(ctx context.Context, appSecret, installID string, logs []model.LogRecord) error {
	i := atomic.AddInt32(&f.calls, 1) - 1
	if int(i) < len(f.errors) {
		return f.errors[i]
	}
	return nil
}

func TestRetryerSucceedsWithoutRetryOnFirstSuccess(t *testing.T) {
	fake := &fakeSyncSender{}
	r := NewRetryer(fake, []time.Duration{time.Millisecond, time.Millisecond})

	done := make(chan error, 1)
	r.Send("s", "i", nil, func(err error) { done <- err })

	if err := <-done; err != nil {
		t.Fatalf("want nil, got %v", err)
	}
	if fake.calls != 1 {
		t.Fatalf("calls = %d, want 1", fake.calls)
	}
}

func TestRetryerRetriesRecoverableThenSucceeds(t *testing.T) {
	fake := &fakeSyncSender{errors: []error{model.Recoverable(errors.New("boom"))}}
	r := NewRetryer(fake, []time.Duration{time.Millisecond, time.Millisecond})

	done := make(chan error, 1)
	r.Send("s", "i", nil, func(err error) { done <- err })

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("want eventual success, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for retry to succeed")
	}
	if fake.calls != 2 {
		t.Fatalf("calls = %d, want 2", fake.calls)
	}
}

func TestRetryerDoesNotRetryFatal(t *testing.T) {
	fake := &fakeSyncSender{errors: []error{model.Fatal(errors.New("bad request"))}}
	r := NewRetryer(fake, []time.Duration{time.Millisecond})

	done := make(chan error, 1)
	r.Send("s", "i", nil, func(err error) { done <- err })

	err := <-done
	if !model.IsFatal(err) {
		t.Fatalf("want fatal, got %v", err)
	}
	if fake.calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retry on fatal)", fake.calls)
	}
}

func TestRetryerExhaustsRetriesAndReturnsLastError(t *testing.T) {
	recov := func() error { return model.Recoverable(errors.New("still down")) }
	fake := &fakeSyncSender{errors: []error{recov(), recov(), recov()}}
	r := NewRetryer(fake, []time.Duration{time.Millisecond, time.Millisecond})

	done := make(chan error, 1)
	r.Send("s", "i", nil, func(err error) { done <- err })

	err := <-done
	if !model.IsRecoverable(err) {
		t.Fatalf("want recoverable after exhausting retries, got %v", err)
	}
	if fake.calls != 3 {
		t.Fatalf("calls = %d, want 3 (1 + 2 retries)", fake.calls)
	}
}
