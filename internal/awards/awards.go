// Package awards computes the final leaderboard and badges of a completed session.
//
// Compute is pure: the same frozen participant set always yields the same
// ranking and recipient lists, whichever client asks.
package awards

import (
	"sort"
	"time"

	"live-session-service/internal/domain"
	"live-session-service/internal/game"
)

// Compute ranks participants and collects the game type's awards.
// Ranking is score descending, then the rules' tiebreak ascending, then join order.
// Exactly tied participants share a rank.
func Compute(rules game.Rules, participants []domain.Participant, quiz domain.Quiz, sessionID string, now time.Time) domain.Results {
	joined := make([]domain.Participant, len(participants))
	copy(joined, participants)
	game.SortByJoinOrder(joined)

	ranked := make([]domain.Participant, len(joined))
	copy(ranked, joined)
	sort.SliceStable(ranked, func(i, j int) bool {
		si, ti := rules.RankKey(ranked[i])
		sj, tj := rules.RankKey(ranked[j])
		if si != sj {
			return si > sj
		}
		return ti < tj
	})

	entries := make([]domain.RankEntry, 0, len(ranked))
	for i, p := range ranked {
		score, tiebreak := rules.RankKey(p)
		entry := domain.RankEntry{
			Rank:          i + 1,
			ParticipantID: p.ID,
			DisplayName:   p.DisplayName,
			Score:         score,
			AverageTime:   tiebreak,
		}
		if i > 0 {
			prev := &entries[i-1]
			if prev.Score == score && prev.AverageTime == tiebreak {
				entry.Rank = prev.Rank
				entry.Tied = true
				prev.Tied = true
			}
		}
		entries = append(entries, entry)
	}

	awards := rules.Awards(joined, quiz)
	if awards == nil {
		awards = []domain.Award{}
	}
	return domain.Results{
		SessionID:  sessionID,
		Ranking:    entries,
		Awards:     awards,
		ComputedAt: now,
	}
}

// Recipients returns the ids that hold the given award kind.
func Recipients(results domain.Results, kind string) []string {
	for _, a := range results.Awards {
		if a.Kind == kind {
			return a.Recipients
		}
	}
	return nil
}
