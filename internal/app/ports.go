package app

import (
	"context"
	"time"

	"live-session-service/internal/domain"
)

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, orgID, quizID string) (domain.Quiz, error)
}

// ResultArchive keeps the frozen results of completed sessions (in-memory, Postgres).
type ResultArchive interface {
	SaveResults(ctx context.Context, results domain.Results) error
	LoadResults(ctx context.Context, sessionID string) (domain.Results, error)
}

// CapacityPolicy supplies the participant cap from the organization's plan.
// Zero means unlimited.
type CapacityPolicy interface {
	ParticipantCap(ctx context.Context, orgID string) (int, error)
}

// StaticCapacity is a CapacityPolicy backed by configuration.
type StaticCapacity struct {
	Default         int
	PerOrganization map[string]int
}

func (c StaticCapacity) ParticipantCap(_ context.Context, orgID string) (int, error) {
	if n, ok := c.PerOrganization[orgID]; ok {
		return n, nil
	}
	return c.Default, nil
}

// Options tunes the session engine.
type Options struct {
	// Countdown is how long a session shows 3-2-1 before play starts.
	Countdown time.Duration
	// CompletionDebounce lets late score writes settle before auto-completion.
	CompletionDebounce time.Duration
	// Tick is the local refresh interval for timers and completion checks.
	Tick time.Duration
	// RetryInitial and RetryMaxElapsed bound backoff on transient store errors.
	RetryInitial    time.Duration
	RetryMaxElapsed time.Duration
}

// DefaultOptions mirrors the timings participants expect on screen.
func DefaultOptions() Options {
	return Options{
		Countdown:          4 * time.Second,
		CompletionDebounce: 3 * time.Second,
		Tick:               time.Second,
		RetryInitial:       100 * time.Millisecond,
		RetryMaxElapsed:    10 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Countdown <= 0 {
		o.Countdown = d.Countdown
	}
	if o.CompletionDebounce <= 0 {
		o.CompletionDebounce = d.CompletionDebounce
	}
	if o.Tick <= 0 {
		o.Tick = d.Tick
	}
	if o.RetryInitial <= 0 {
		o.RetryInitial = d.RetryInitial
	}
	if o.RetryMaxElapsed <= 0 {
		o.RetryMaxElapsed = d.RetryMaxElapsed
	}
	return o
}
