package domain

import "fmt"

// Status is the session lifecycle state.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusCountdown Status = "countdown"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

var transitions = map[Status][]Status{
	StatusWaiting:   {StatusCountdown},
	StatusCountdown: {StatusActive},
	StatusActive:    {StatusPaused, StatusCompleted},
	StatusPaused:    {StatusActive, StatusCompleted},
}

// CanTransition reports whether the lifecycle allows moving from s to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition returns next or ErrIllegalTransition.
func (s Status) Transition(next Status) (Status, error) {
	if !s.CanTransition(next) {
		return s, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s, next)
	}
	return next, nil
}

// Running is true for statuses in which a timer anchor exists.
func (s Status) Running() bool {
	return s == StatusActive || s == StatusPaused
}

// AcceptsJoins reports whether new participants may join.
func (s Status) AcceptsJoins() bool {
	switch s {
	case StatusWaiting, StatusCountdown, StatusActive:
		return true
	}
	return false
}

func (s Status) rank() int {
	switch s {
	case StatusWaiting:
		return 0
	case StatusCountdown:
		return 1
	case StatusActive, StatusPaused:
		return 2
	case StatusCompleted:
		return 3
	}
	return -1
}

// Follows reports whether an observer that last saw prev may legitimately see next.
// Observations may skip states (a slow reader can miss countdown) but never move backwards.
func (s Status) Follows(prev Status) bool {
	if s.rank() < 0 || prev.rank() < 0 {
		return false
	}
	return s.rank() >= prev.rank()
}
