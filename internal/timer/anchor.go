// Package timer derives a drift-free countdown from a wall-clock anchor.
//
// Remaining time is never decremented. Every read recomputes
//
//	remaining = max(0, limit - (now - startedAt))
//
// except while paused, when the captured PausedRemaining is authoritative and
// StartedAt is ignored. Resume moves the anchor so the same formula reproduces
// the paused value.
package timer

import (
	"math"
	"sync/atomic"
	"time"

	"live-session-service/internal/domain"
)

// Anchor is an immutable timer snapshot. Methods return new values.
type Anchor struct {
	StartedAt       time.Time
	Limit           time.Duration
	Paused          bool
	PausedRemaining time.Duration
}

// Start anchors a running countdown of total at now.
func Start(now time.Time, total time.Duration) Anchor {
	return Anchor{StartedAt: now, Limit: total}
}

// Reset anchors total at now but leaves the countdown paused at full time.
func Reset(now time.Time, total time.Duration) Anchor {
	return Anchor{StartedAt: now, Limit: total, Paused: true, PausedRemaining: total}
}

// Remaining recomputes the time left at now.
func (a Anchor) Remaining(now time.Time) time.Duration {
	if a.Paused {
		return clamp(a.PausedRemaining)
	}
	return clamp(a.Limit - now.Sub(a.StartedAt))
}

// Pause captures the instantaneous remaining value. Pausing twice is a no-op.
func (a Anchor) Pause(now time.Time) Anchor {
	if a.Paused {
		return a
	}
	a.PausedRemaining = a.Remaining(now)
	a.Paused = true
	return a
}

// Resume re-anchors so that Remaining(now) equals the paused value.
func (a Anchor) Resume(now time.Time) Anchor {
	if !a.Paused {
		return a
	}
	a.StartedAt = now.Add(-(a.Limit - a.PausedRemaining))
	a.Paused = false
	a.PausedRemaining = 0
	return a
}

// Expired is true once a running countdown reaches zero.
func (a Anchor) Expired(now time.Time) bool {
	return !a.Paused && a.Remaining(now) <= 0
}

// Seconds rounds a remaining duration up to whole seconds for display, so the
// displayed value only reaches 0 when the countdown has actually expired.
func Seconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

func clamp(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

// FromSession reads the anchor fields of a session. ok is false before the
// session has ever been started.
func FromSession(s domain.Session) (Anchor, bool) {
	if s.TimerStartedAt == nil {
		return Anchor{}, false
	}
	return Anchor{
		StartedAt:       *s.TimerStartedAt,
		Limit:           time.Duration(s.SessionTimeLimit) * time.Second,
		Paused:          s.TimerPaused,
		PausedRemaining: time.Duration(s.PausedTimeRemaining * float64(time.Second)),
	}, true
}

// Apply writes every anchor field together onto the session.
func Apply(s *domain.Session, a Anchor) {
	started := a.StartedAt
	s.TimerStartedAt = &started
	s.SessionTimeLimit = int(a.Limit / time.Second)
	s.TimerPaused = a.Paused
	if a.Paused {
		s.PausedTimeRemaining = a.PausedRemaining.Seconds()
	} else {
		s.PausedTimeRemaining = 0
	}
}

// View is the read-only projection clients render on every tick.
type View struct {
	Remaining int  `json:"remaining"`
	Limit     int  `json:"limit"`
	Paused    bool `json:"paused"`
	Running   bool `json:"running"`
}

// ViewOf projects the session's timer at now.
func ViewOf(s domain.Session, now time.Time) View {
	a, ok := FromSession(s)
	if !ok {
		return View{Limit: s.SessionTimeLimit}
	}
	if s.Status == domain.StatusCompleted {
		return View{Limit: s.SessionTimeLimit}
	}
	return View{
		Remaining: Seconds(a.Remaining(now)),
		Limit:     s.SessionTimeLimit,
		Paused:    a.Paused,
		Running:   !a.Paused && s.Status == domain.StatusActive,
	}
}

// Latch fires at most once. It guards the single side effect allowed when a
// periodic read first observes a threshold.
type Latch struct {
	fired atomic.Bool
}

// Fire returns true only for the first caller.
func (l *Latch) Fire() bool {
	return l.fired.CompareAndSwap(false, true)
}

// Fired reports whether Fire has already succeeded.
func (l *Latch) Fired() bool {
	return l.fired.Load()
}
