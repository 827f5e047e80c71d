package group

import (
	"testing"
	"time"

	"go.appsonar.dev/telemetry/internal/clock"
)

func TestArmTimerFiresAfterInterval(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	s := NewState(Config{Name: "g", BatchTimeInterval: 100})

	fired := make(chan struct{})
	s.ArmTimer(fake, func() { close(fired) })

	select {
	case <-fired:
		t.Fatal("timer fired before being advanced")
	default:
	}

	fake.Advance(100 * time.Millisecond)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired after advancing past its interval")
	}
}

func TestCancelTimerPreventsFire(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	s := NewState(Config{Name: "g", BatchTimeInterval: 100})

	fired := make(chan struct{})
	s.ArmTimer(fake, func() { close(fired) })
	s.CancelTimer()

	fake.Advance(time.Second)

	select {
	case <-fired:
		t.Fatal("cancelled timer must not fire")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestReArmReplacesPreviousTimer(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	s := NewState(Config{Name: "g", BatchTimeInterval: 100})

	firstFired := false
	s.ArmTimer(fake, func() { firstFired = true })
	secondFired := make(chan struct{})
	s.ArmTimer(fake, func() { close(secondFired) })

	fake.Advance(200 * time.Millisecond)

	select {
	case <-secondFired:
	case <-time.After(time.Second):
		t.Fatal("second timer never fired")
	}
	if firstFired {
		t.Fatal("first (replaced) timer must not fire")
	}
}
