package link

import (
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// Scheduler is the timer facility links use for delayed work, mainly the
// one-shot reconnect after a hard I/O failure.
type Scheduler interface {
	// ScheduleOnce runs fn(token) once after delay. It returns false and does
	// nothing when a timer for token is already pending.
	ScheduleOnce(delay time.Duration, token string, fn func(token string)) bool
	// Cancel stops the pending timer for token and reports whether one existed.
	Cancel(token string) bool
}

type pendingTimer struct {
	timer *time.Timer
}

// TimerScheduler is the default Scheduler backed by time.AfterFunc.
// It is safe for concurrent use.
type TimerScheduler struct {
	timers *xsync.MapOf[string, *pendingTimer]
}

var _ Scheduler = (*TimerScheduler)(nil)

// NewTimerScheduler creates an empty TimerScheduler.
func NewTimerScheduler() *TimerScheduler {
	return &TimerScheduler{timers: xsync.NewMapOf[string, *pendingTimer]()}
}

var defaultScheduler = NewTimerScheduler()

// DefaultScheduler returns the process wide TimerScheduler.
func DefaultScheduler() *TimerScheduler {
	return defaultScheduler
}

func (s *TimerScheduler) ScheduleOnce(delay time.Duration, token string, fn func(token string)) bool {
	_, loaded := s.timers.LoadOrCompute(token, func() *pendingTimer {
		p := &pendingTimer{}
		p.timer = time.AfterFunc(delay, func() {
			if s.release(token, p) {
				fn(token)
			}
		})

		return p
	})

	return !loaded
}

// release removes p from the pending set if it is still the timer registered
// for token. A cancelled timer that fired concurrently is not run.
func (s *TimerScheduler) release(token string, p *pendingTimer) bool {
	released := false
	s.timers.Compute(token, func(old *pendingTimer, loaded bool) (*pendingTimer, bool) {
		if loaded && old == p {
			released = true
			return nil, true
		}

		return old, !loaded
	})

	return released
}

func (s *TimerScheduler) Cancel(token string) bool {
	p, ok := s.timers.LoadAndDelete(token)
	if !ok {
		return false
	}
	p.timer.Stop()

	return true
}

// Pending reports whether a timer for token is scheduled.
func (s *TimerScheduler) Pending(token string) bool {
	_, ok := s.timers.Load(token)

	return ok
}

// Stop cancels every pending timer.
func (s *TimerScheduler) Stop() {
	s.timers.Range(func(token string, _ *pendingTimer) bool {
		s.Cancel(token)

		return true
	})
}
