package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransitionTable(t *testing.T) {
	all := []Status{StatusWaiting, StatusCountdown, StatusActive, StatusPaused, StatusCompleted}
	allowed := map[[2]Status]bool{
		{StatusWaiting, StatusCountdown}: true,
		{StatusCountdown, StatusActive}:  true,
		{StatusActive, StatusPaused}:     true,
		{StatusActive, StatusCompleted}:  true,
		{StatusPaused, StatusActive}:     true,
		{StatusPaused, StatusCompleted}:  true,
	}
	for _, from := range all {
		for _, to := range all {
			got, err := from.Transition(to)
			if allowed[[2]Status{from, to}] {
				assert.NoError(t, err, "%s -> %s", from, to)
				assert.Equal(t, to, got)
				continue
			}
			assert.True(t, errors.Is(err, ErrIllegalTransition), "%s -> %s", from, to)
			assert.Equal(t, from, got)
		}
	}
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, StatusWaiting.AcceptsJoins())
	assert.True(t, StatusCountdown.AcceptsJoins())
	assert.True(t, StatusActive.AcceptsJoins())
	assert.False(t, StatusPaused.AcceptsJoins())
	assert.False(t, StatusCompleted.AcceptsJoins())

	assert.True(t, StatusActive.Running())
	assert.True(t, StatusPaused.Running())
	assert.False(t, StatusCountdown.Running())
}

func TestFollowsRejectsBackwardObservations(t *testing.T) {
	assert.True(t, StatusActive.Follows(StatusWaiting), "a slow reader may skip countdown")
	assert.True(t, StatusPaused.Follows(StatusActive))
	assert.True(t, StatusActive.Follows(StatusPaused))
	assert.False(t, StatusActive.Follows(StatusCompleted))
	assert.False(t, StatusWaiting.Follows(StatusCountdown))
	assert.False(t, Status("bogus").Follows(StatusWaiting))
}
