package game

import (
	"fmt"
	"time"

	"live-session-service/internal/domain"
)

// Bingo scoring.
const (
	PointsPerCell     = 10
	PointsPerLine     = 50
	FullCardBonus     = 100
	DefaultBingoLimit = 15 * time.Minute
)

// CellMarking is the bingo-style variant: mark cells, complete lines.
type CellMarking struct{}

func (CellMarking) Type() domain.GameType { return domain.GameTypeBingo }

// TimeBudget is the flat session limit from settings.
func (CellMarking) TimeBudget(_ domain.Quiz, settings domain.Settings) time.Duration {
	if settings.BingoTimeLimit <= 0 {
		return DefaultBingoLimit
	}
	return time.Duration(settings.BingoTimeLimit) * time.Second
}

func (CellMarking) NewState(_ domain.Quiz, settings domain.Settings) domain.GameState {
	size := gridSize(settings)
	return domain.GameState{Bingo: &domain.BingoProgress{Marked: make([]bool, size*size)}}
}

func (r CellMarking) Apply(p *domain.Participant, quiz domain.Quiz, settings domain.Settings, move domain.Move, now time.Time) (Outcome, error) {
	mark, ok := move.(domain.CellMark)
	if !ok {
		return Outcome{}, domain.ErrWrongGameType
	}
	size := gridSize(settings)
	if mark.Cell < 0 || mark.Cell >= size*size {
		return Outcome{}, fmt.Errorf("%w: cell %d outside %dx%d card", domain.ErrInvalidMove, mark.Cell, size, size)
	}

	if p.GameState.Bingo == nil || len(p.GameState.Bingo.Marked) != size*size {
		p.GameState = r.NewState(quiz, settings)
	}
	card := p.GameState.Bingo
	if card.Marked[mark.Cell] == mark.Marked {
		return Outcome{Duplicate: true}, nil
	}

	card.Marked[mark.Cell] = mark.Marked
	if mark.Marked {
		card.Streak++
		if card.Streak > card.BestStreak {
			card.BestStreak = card.Streak
		}
	} else {
		card.Streak = 0
	}

	card.CellsMarked = 0
	for _, m := range card.Marked {
		if m {
			card.CellsMarked++
		}
	}
	card.LinesCompleted = completedLines(card.Marked, size)
	card.FullCardAchieved = card.CellsMarked == size*size
	card.Score = card.CellsMarked*PointsPerCell + card.LinesCompleted*PointsPerLine
	if card.FullCardAchieved {
		card.Score += FullCardBonus
	}
	// A win is never taken back by a later unmark.
	if card.LinesCompleted > 0 {
		card.GameWon = true
	}
	if card.FullCardAchieved && !p.Completed {
		p.Completed = true
		completedAt := now
		p.CompletedAt = &completedAt
	}
	return Outcome{}, nil
}

// completedLines scans rows, columns and both diagonals.
func completedLines(marked []bool, size int) int {
	lines := 0
	full := func(cell func(i int) int) bool {
		for i := 0; i < size; i++ {
			if !marked[cell(i)] {
				return false
			}
		}
		return true
	}
	for r := 0; r < size; r++ {
		if full(func(i int) int { return r*size + i }) {
			lines++
		}
	}
	for c := 0; c < size; c++ {
		if full(func(i int) int { return i*size + c }) {
			lines++
		}
	}
	if full(func(i int) int { return i*size + i }) {
		lines++
	}
	if full(func(i int) int { return i*size + (size - 1 - i) }) {
		lines++
	}
	return lines
}

func gridSize(settings domain.Settings) int {
	if settings.GridSize <= 0 {
		return domain.DefaultGridSize
	}
	return settings.GridSize
}

func (CellMarking) Finished(p domain.Participant, _ domain.Quiz) bool {
	return p.Completed
}

// EndsWhenAllFinished is false: individual wins never end the session for others.
func (CellMarking) EndsWhenAllFinished() bool { return false }

func (CellMarking) RankKey(p domain.Participant) (int, float64) {
	return p.GameState.Score(), 0
}

func (CellMarking) Awards(participants []domain.Participant, _ domain.Quiz) []domain.Award {
	card := func(p domain.Participant) (*domain.BingoProgress, bool) {
		return p.GameState.Bingo, p.GameState.Bingo != nil
	}

	var awards []domain.Award
	awards = appendAward(awards, domain.AwardTopScore, tiedBest(participants, func(p domain.Participant) (float64, bool) {
		c, ok := card(p)
		if !ok || c.Score == 0 {
			return 0, false
		}
		return float64(c.Score), true
	}, higher))
	awards = appendAward(awards, domain.AwardMostCells, tiedBest(participants, func(p domain.Participant) (float64, bool) {
		c, ok := card(p)
		if !ok || c.CellsMarked == 0 {
			return 0, false
		}
		return float64(c.CellsMarked), true
	}, higher))

	var fullCard []string
	for _, p := range participants {
		if c, ok := card(p); ok && c.FullCardAchieved {
			fullCard = append(fullCard, p.ID)
		}
	}
	awards = appendAward(awards, domain.AwardFullCard, fullCard)

	awards = appendAward(awards, domain.AwardLongestStreak, tiedBest(participants, func(p domain.Participant) (float64, bool) {
		c, ok := card(p)
		if !ok || c.BestStreak == 0 {
			return 0, false
		}
		return float64(c.BestStreak), true
	}, higher))
	return awards
}
