package mute

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeTimer struct {
	stopped bool
	fire    func()
}

func (f *fakeTimer) Stop() bool {
	if f.stopped {
		return false
	}
	f.stopped = true
	return true
}

type fakeTimerClock struct {
	now    time.Time
	timers []*fakeTimer
	delays []time.Duration
}

func (f *fakeTimerClock) Now() time.Time { return f.now }

func (f *fakeTimerClock) AfterFunc(d time.Duration, fn func()) Timer {
	timer := &fakeTimer{fire: fn}
	f.timers = append(f.timers, timer)
	f.delays = append(f.delays, d)
	return timer
}

// fireAll runs every armed timer that was not stopped.
func (f *fakeTimerClock) fireAll() {
	for _, timer := range f.timers {
		if !timer.stopped {
			timer.stopped = true
			timer.fire()
		}
	}
}

func TestScheduleFiresAtDeadline(t *testing.T) {
	clock := &fakeTimerClock{now: time.Unix(1000, 0)}
	scheduler := NewScheduler(zap.NewNop())
	scheduler.WithClock(clock)

	fired := 0
	scheduler.Schedule(1, clock.now.Add(5*time.Minute), func() { fired++ })

	if len(clock.delays) != 1 || clock.delays[0] != 5*time.Minute {
		t.Fatalf("expected a 5m timer, got %v", clock.delays)
	}
	if scheduler.Pending() != 1 {
		t.Fatalf("expected one pending timer, got %d", scheduler.Pending())
	}

	clock.fireAll()
	if fired != 1 {
		t.Fatalf("callback fired %d times", fired)
	}
	if scheduler.Pending() != 0 {
		t.Fatalf("timer not removed after firing, pending=%d", scheduler.Pending())
	}
}

func TestScheduleReplacesExistingTimer(t *testing.T) {
	clock := &fakeTimerClock{now: time.Unix(1000, 0)}
	scheduler := NewScheduler(zap.NewNop())
	scheduler.WithClock(clock)

	var first, second int
	scheduler.Schedule(1, clock.now.Add(time.Minute), func() { first++ })
	scheduler.Schedule(1, clock.now.Add(2*time.Minute), func() { second++ })

	if !clock.timers[0].stopped {
		t.Fatalf("replaced timer was not stopped")
	}
	if scheduler.Pending() != 1 {
		t.Fatalf("expected one pending timer, got %d", scheduler.Pending())
	}

	clock.fireAll()
	if first != 0 || second != 1 {
		t.Fatalf("expected only the replacement to fire, first=%d second=%d", first, second)
	}
}

func TestSchedulePastDeadlineImmediate(t *testing.T) {
	clock := &fakeTimerClock{now: time.Unix(1000, 0)}
	scheduler := NewScheduler(zap.NewNop())
	scheduler.WithClock(clock)

	scheduler.Schedule(1, clock.now.Add(-time.Minute), func() {})
	if clock.delays[0] != 0 {
		t.Fatalf("expected zero delay for past deadline, got %s", clock.delays[0])
	}
}

func TestCancel(t *testing.T) {
	clock := &fakeTimerClock{now: time.Unix(1000, 0)}
	scheduler := NewScheduler(zap.NewNop())
	scheduler.WithClock(clock)

	fired := false
	scheduler.Schedule(1, clock.now.Add(time.Minute), func() { fired = true })

	if !scheduler.Cancel(1) {
		t.Fatalf("cancel of a pending timer should report true")
	}
	if scheduler.Cancel(1) {
		t.Fatalf("second cancel should report false")
	}

	clock.fireAll()
	if fired {
		t.Fatalf("cancelled timer fired")
	}
}
