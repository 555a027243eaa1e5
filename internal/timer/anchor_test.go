package timer

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"live-session-service/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestRemainingIsIndependentOfReadFrequency(t *testing.T) {
	a := Start(t0, 300*time.Second)

	for _, elapsed := range []time.Duration{0, time.Second, 17 * time.Second, 299 * time.Second, 300 * time.Second, time.Hour} {
		want := 300*time.Second - elapsed
		if want < 0 {
			want = 0
		}
		assert.Equal(t, want, a.Remaining(t0.Add(elapsed)), "elapsed %s", elapsed)
	}

	// Reading many times does not change the result.
	for i := 0; i < 100; i++ {
		_ = a.Remaining(t0.Add(time.Duration(i) * time.Millisecond))
	}
	assert.Equal(t, 200*time.Second, a.Remaining(t0.Add(100*time.Second)))
}

func TestPauseResumeFixpoint(t *testing.T) {
	a := Start(t0, 300*time.Second)

	paused := a.Pause(t0.Add(40 * time.Second))
	require.True(t, paused.Paused)
	assert.Equal(t, 260*time.Second, paused.PausedRemaining)

	// A long pause must not eat into the remaining time.
	later := t0.Add(40*time.Second + 17*time.Minute)
	assert.Equal(t, 260*time.Second, paused.Remaining(later))

	resumed := paused.Resume(later)
	assert.False(t, resumed.Paused)
	assert.Equal(t, 260*time.Second, resumed.Remaining(later))
	assert.Equal(t, 250*time.Second, resumed.Remaining(later.Add(10*time.Second)))
}

func TestPauseAndResumeAreIdempotent(t *testing.T) {
	a := Start(t0, time.Minute).Pause(t0.Add(10 * time.Second))
	again := a.Pause(t0.Add(30 * time.Second))
	assert.Equal(t, a, again)

	running := Start(t0, time.Minute)
	assert.Equal(t, running, running.Resume(t0.Add(5*time.Second)))
}

func TestPauseThenReset(t *testing.T) {
	a := Start(t0, 300*time.Second).Pause(t0.Add(100 * time.Second))
	require.Equal(t, 200*time.Second, a.Remaining(t0.Add(100*time.Second)))

	reset := Reset(t0.Add(120*time.Second), 300*time.Second)
	assert.True(t, reset.Paused)
	assert.Equal(t, 300*time.Second, reset.Remaining(t0.Add(500*time.Second)))
	assert.False(t, reset.Expired(t0.Add(time.Hour)))
}

func TestExpired(t *testing.T) {
	a := Start(t0, 5*time.Second)
	assert.False(t, a.Expired(t0.Add(4*time.Second)))
	assert.True(t, a.Expired(t0.Add(5*time.Second)))
	assert.True(t, a.Expired(t0.Add(6*time.Second)))
}

func TestSessionRoundTripKeepsFieldsTogether(t *testing.T) {
	var s domain.Session
	_, ok := FromSession(s)
	require.False(t, ok)

	Apply(&s, Start(t0, 90*time.Second).Pause(t0.Add(30*time.Second)))
	assert.True(t, s.TimerPaused)
	assert.Equal(t, 90, s.SessionTimeLimit)
	assert.InDelta(t, 60.0, s.PausedTimeRemaining, 0.001)

	a, ok := FromSession(s)
	require.True(t, ok)
	assert.Equal(t, 60*time.Second, a.Remaining(t0.Add(time.Hour)))

	Apply(&s, a.Resume(t0.Add(time.Hour)))
	assert.False(t, s.TimerPaused)
	assert.Zero(t, s.PausedTimeRemaining)
}

func TestViewRoundsUp(t *testing.T) {
	s := domain.Session{Status: domain.StatusActive}
	Apply(&s, Start(t0, 30*time.Second))

	v := ViewOf(s, t0.Add(500*time.Millisecond))
	assert.Equal(t, 30, v.Remaining)
	assert.True(t, v.Running)

	assert.Equal(t, 0, ViewOf(s, t0.Add(30*time.Second)).Remaining)
}

func TestLatchFiresOnce(t *testing.T) {
	var l Latch
	var fired atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Fire() {
				fired.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), fired.Load())
	assert.True(t, l.Fired())
}
