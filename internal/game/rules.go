// Package game holds the per-game-type scoring, progress, completion and award rules.
package game

import (
	"fmt"
	"sort"
	"time"

	"live-session-service/internal/domain"
)

// Rules is implemented once per game type and dispatched on Session.GameType.
type Rules interface {
	Type() domain.GameType
	// TimeBudget is the total session time published when the session enters active.
	TimeBudget(quiz domain.Quiz, settings domain.Settings) time.Duration
	// NewState is the game state of a participant who just joined.
	NewState(quiz domain.Quiz, settings domain.Settings) domain.GameState
	// Apply mutates p with move. A repeated move returns Outcome.Duplicate and leaves p unchanged.
	Apply(p *domain.Participant, quiz domain.Quiz, settings domain.Settings, move domain.Move, now time.Time) (Outcome, error)
	// Finished reports whether p has nothing left to play.
	Finished(p domain.Participant, quiz domain.Quiz) bool
	// EndsWhenAllFinished reports whether the session may end before timer expiry
	// once every participant is finished.
	EndsWhenAllFinished() bool
	// RankKey orders the leaderboard: score descending, then tiebreak ascending.
	RankKey(p domain.Participant) (score int, tiebreak float64)
	// Awards returns badges over participants given in join order.
	Awards(participants []domain.Participant, quiz domain.Quiz) []domain.Award
}

// Outcome describes what a move did.
type Outcome struct {
	Duplicate bool
	Correct   bool
}

// For returns the rules for a game type.
func For(t domain.GameType) (Rules, error) {
	switch t {
	case domain.GameTypeQuiz:
		return ScoredQuiz{}, nil
	case domain.GameTypeBingo:
		return CellMarking{}, nil
	}
	return nil, fmt.Errorf("unknown game type %q", t)
}

// tiedBest returns the ids of every participant sharing the best value of metric.
// ok filters out participants that do not qualify; better reports whether a beats b.
func tiedBest(participants []domain.Participant, metric func(domain.Participant) (float64, bool), better func(a, b float64) bool) []string {
	var (
		best  float64
		found bool
		ids   []string
	)
	for _, p := range participants {
		v, ok := metric(p)
		if !ok {
			continue
		}
		switch {
		case !found || better(v, best):
			best, found = v, true
			ids = []string{p.ID}
		case v == best:
			ids = append(ids, p.ID)
		}
	}
	return ids
}

func higher(a, b float64) bool { return a > b }
func lower(a, b float64) bool  { return a < b }

// appendAward skips awards with no recipients.
func appendAward(awards []domain.Award, kind string, ids []string) []domain.Award {
	if len(ids) == 0 {
		return awards
	}
	return append(awards, domain.Award{Kind: kind, Recipients: ids})
}

// SortByJoinOrder orders participants by join time, then id.
func SortByJoinOrder(participants []domain.Participant) {
	sort.SliceStable(participants, func(i, j int) bool {
		if !participants[i].JoinedAt.Equal(participants[j].JoinedAt) {
			return participants[i].JoinedAt.Before(participants[j].JoinedAt)
		}
		return participants[i].ID < participants[j].ID
	})
}
