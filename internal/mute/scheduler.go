package mute

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

type Timer interface {
	Stop() bool
}

// TimerClock schedules callbacks as well as reading the time.
type TimerClock interface {
	Clock
	AfterFunc(d time.Duration, f func()) Timer
}

type realTimerClock struct{}

type realTimer struct{ t *time.Timer }

func (realTimerClock) Now() time.Time { return time.Now() }

func (realTimerClock) AfterFunc(d time.Duration, f func()) Timer {
	return realTimer{t: time.AfterFunc(d, f)}
}

func (t realTimer) Stop() bool { return t.t.Stop() }

// Scheduler arms one un-mute timer per infraction. Scheduling an id that is
// already armed replaces the previous timer, which covers a mute being
// superseded by a longer one.
type Scheduler struct {
	mu     sync.Mutex
	clock  TimerClock
	logger *zap.Logger
	timers map[int64]Timer
}

func NewScheduler(logger *zap.Logger) *Scheduler {
	return &Scheduler{
		clock:  realTimerClock{},
		logger: logger,
		timers: make(map[int64]Timer),
	}
}

func (s *Scheduler) WithClock(clock TimerClock) {
	s.clock = clock
}

// Schedule runs fn once at the given time; a past deadline fires immediately.
func (s *Scheduler) Schedule(infractionID int64, at time.Time, fn func()) {
	delay := at.Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	if old, ok := s.timers[infractionID]; ok {
		old.Stop()
	}
	s.timers[infractionID] = s.clock.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, infractionID)
		s.mu.Unlock()
		fn()
	})
	s.mu.Unlock()

	s.logger.Debug("unmute scheduled", zap.Int64("infraction_id", infractionID), zap.Time("at", at))
}

// Cancel disarms the timer for an infraction, if still pending.
func (s *Scheduler) Cancel(infractionID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	timer, ok := s.timers[infractionID]
	if !ok {
		return false
	}
	delete(s.timers, infractionID)
	return timer.Stop()
}

// Pending reports how many un-mute timers are armed.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
