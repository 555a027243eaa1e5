package game

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"live-session-service/internal/domain"
)

var now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func fiveQuestionQuiz() domain.Quiz {
	quiz := domain.Quiz{ID: "quiz-1", PassMark: 60}
	for i := 0; i < 5; i++ {
		quiz.Questions = append(quiz.Questions, domain.Question{
			ID:            "q" + string(rune('1'+i)),
			Options:       []domain.Option{{ID: "a"}, {ID: "b"}, {ID: "c"}},
			CorrectAnswer: 1,
			TimeLimit:     20,
		})
	}
	return quiz
}

func TestForDispatchesOnGameType(t *testing.T) {
	r, err := For(domain.GameTypeQuiz)
	require.NoError(t, err)
	assert.Equal(t, domain.GameTypeQuiz, r.Type())

	r, err = For(domain.GameTypeBingo)
	require.NoError(t, err)
	assert.Equal(t, domain.GameTypeBingo, r.Type())

	_, err = For("trivia-royale")
	assert.Error(t, err)
}

func TestQuizTimeBudgetSumsQuestionLimits(t *testing.T) {
	quiz := fiveQuestionQuiz()
	quiz.Questions[0].TimeLimit = 0
	assert.Equal(t, (4*20+domain.DefaultQuestionTime)*time.Second, ScoredQuiz{}.TimeBudget(quiz, domain.Settings{}))
}

func TestQuizAnswerIsIdempotentPerQuestionIndex(t *testing.T) {
	quiz := fiveQuestionQuiz()
	rules := ScoredQuiz{}
	p := domain.Participant{ID: "p1", GameState: rules.NewState(quiz, domain.Settings{})}

	out, err := rules.Apply(&p, quiz, domain.Settings{}, domain.Answer{QuestionIndex: 0, SelectedAnswer: 1, TimeSpent: 3}, now)
	require.NoError(t, err)
	assert.True(t, out.Correct)
	assert.False(t, out.Duplicate)
	assert.Equal(t, 10, p.GameState.Quiz.Score)

	// A retried submission, even with a different choice, is a no-op.
	out, err = rules.Apply(&p, quiz, domain.Settings{}, domain.Answer{QuestionIndex: 0, SelectedAnswer: 2, TimeSpent: 9}, now)
	require.NoError(t, err)
	assert.True(t, out.Duplicate)
	assert.Len(t, p.GameState.Quiz.Answers, 1)
	assert.Equal(t, 10, p.GameState.Quiz.Score)
}

func TestQuizScoreAndStreak(t *testing.T) {
	quiz := fiveQuestionQuiz()
	rules := ScoredQuiz{}
	p := domain.Participant{ID: "p1"}

	choices := []int{1, 1, 0, 1, domain.NoAnswer}
	wantStreak := []int{1, 2, 0, 1, 0}
	for i, choice := range choices {
		_, err := rules.Apply(&p, quiz, domain.Settings{}, domain.Answer{QuestionIndex: i, SelectedAnswer: choice, TimeSpent: 2}, now)
		require.NoError(t, err)
		assert.Equal(t, wantStreak[i], p.GameState.Quiz.Streak, "after question %d", i)
		assert.Len(t, p.GameState.Quiz.Answers, i+1, "answers stay aligned with questionIndex+1")
	}
	assert.Equal(t, 3*domain.PointsPerCorrectAnswer, p.GameState.Quiz.Score)
	assert.Equal(t, 2, p.GameState.Quiz.BestStreak)
	assert.True(t, p.Completed)
	assert.True(t, rules.Finished(p, quiz))
}

func TestQuizOutOfOrderAnswersAreKeptSorted(t *testing.T) {
	quiz := fiveQuestionQuiz()
	rules := ScoredQuiz{}
	p := domain.Participant{ID: "p1"}

	for _, idx := range []int{2, 0, 1} {
		_, err := rules.Apply(&p, quiz, domain.Settings{}, domain.Answer{QuestionIndex: idx, SelectedAnswer: 1}, now)
		require.NoError(t, err)
	}
	for i, a := range p.GameState.Quiz.Answers {
		assert.Equal(t, i, a.QuestionIndex)
	}
	assert.Equal(t, 2, p.GameState.Quiz.Streak, "the run ends at question 1, the last submitted")
	assert.Equal(t, 3, p.GameState.Quiz.BestStreak)
}

func TestQuizStreakEndsAtSubmittedQuestion(t *testing.T) {
	quiz := fiveQuestionQuiz()
	rules := ScoredQuiz{}
	p := domain.Participant{ID: "p1"}

	for _, idx := range []int{2, 3} {
		_, err := rules.Apply(&p, quiz, domain.Settings{}, domain.Answer{QuestionIndex: idx, SelectedAnswer: 1}, now)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, p.GameState.Quiz.Streak)

	// a late wrong answer to an earlier question reports no streak
	_, err := rules.Apply(&p, quiz, domain.Settings{}, domain.Answer{QuestionIndex: 1, SelectedAnswer: 0}, now)
	require.NoError(t, err)
	assert.Zero(t, p.GameState.Quiz.Streak)
	assert.Equal(t, 2, p.GameState.Quiz.BestStreak)

	_, err = rules.Apply(&p, quiz, domain.Settings{}, domain.Answer{QuestionIndex: 0, SelectedAnswer: 1}, now)
	require.NoError(t, err)
	assert.Equal(t, 1, p.GameState.Quiz.Streak)
}

func TestQuizRejectsInvalidAnswers(t *testing.T) {
	quiz := fiveQuestionQuiz()
	rules := ScoredQuiz{}
	p := domain.Participant{ID: "p1"}

	_, err := rules.Apply(&p, quiz, domain.Settings{}, domain.Answer{QuestionIndex: 5, SelectedAnswer: 1}, now)
	assert.True(t, errors.Is(err, domain.ErrQuestionNotFound))

	_, err = rules.Apply(&p, quiz, domain.Settings{}, domain.Answer{QuestionID: "q3", QuestionIndex: 0, SelectedAnswer: 1}, now)
	assert.True(t, errors.Is(err, domain.ErrQuestionNotFound))

	_, err = rules.Apply(&p, quiz, domain.Settings{}, domain.Answer{QuestionIndex: 0, SelectedAnswer: 7}, now)
	assert.True(t, errors.Is(err, domain.ErrInvalidMove))

	_, err = rules.Apply(&p, quiz, domain.Settings{}, domain.CellMark{Cell: 1, Marked: true}, now)
	assert.True(t, errors.Is(err, domain.ErrWrongGameType))
}

func TestQuizCompletedIsMonotonic(t *testing.T) {
	quiz := fiveQuestionQuiz()
	rules := ScoredQuiz{}
	p := domain.Participant{ID: "p1"}
	for i := range quiz.Questions {
		_, err := rules.Apply(&p, quiz, domain.Settings{}, domain.Answer{QuestionIndex: i, SelectedAnswer: 1}, now)
		require.NoError(t, err)
	}
	require.True(t, p.Completed)
	completedAt := *p.CompletedAt

	out, err := rules.Apply(&p, quiz, domain.Settings{}, domain.Answer{QuestionIndex: 4, SelectedAnswer: 0}, now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, out.Duplicate)
	assert.True(t, p.Completed)
	assert.Equal(t, completedAt, *p.CompletedAt)
	assert.Len(t, p.GameState.Quiz.Answers, 5)
}

func TestBingoRowWin(t *testing.T) {
	rules := CellMarking{}
	settings := domain.Settings{GridSize: 5}
	p := domain.Participant{ID: "p1", GameState: rules.NewState(domain.Quiz{}, settings)}

	for cell := 5; cell < 10; cell++ {
		_, err := rules.Apply(&p, domain.Quiz{}, settings, domain.CellMark{Cell: cell, Marked: true}, now)
		require.NoError(t, err)
	}
	card := p.GameState.Bingo
	assert.Equal(t, 1, card.LinesCompleted)
	assert.True(t, card.GameWon)
	assert.Equal(t, 5, card.CellsMarked)
	assert.Equal(t, 5, card.BestStreak)
	assert.Equal(t, 5*PointsPerCell+PointsPerLine, card.Score)
	assert.False(t, card.FullCardAchieved)
	assert.False(t, rules.Finished(p, domain.Quiz{}))
}

func TestBingoMarkIsIdempotentPerCell(t *testing.T) {
	rules := CellMarking{}
	settings := domain.Settings{GridSize: 3}
	p := domain.Participant{ID: "p1"}

	_, err := rules.Apply(&p, domain.Quiz{}, settings, domain.CellMark{Cell: 4, Marked: true}, now)
	require.NoError(t, err)
	out, err := rules.Apply(&p, domain.Quiz{}, settings, domain.CellMark{Cell: 4, Marked: true}, now)
	require.NoError(t, err)
	assert.True(t, out.Duplicate)
	assert.Equal(t, 1, p.GameState.Bingo.CellsMarked)
	assert.Equal(t, 1, p.GameState.Bingo.Streak)

	_, err = rules.Apply(&p, domain.Quiz{}, settings, domain.CellMark{Cell: 4, Marked: false}, now)
	require.NoError(t, err)
	assert.Zero(t, p.GameState.Bingo.CellsMarked)
	assert.Zero(t, p.GameState.Bingo.Streak)

	_, err = rules.Apply(&p, domain.Quiz{}, settings, domain.CellMark{Cell: 9, Marked: true}, now)
	assert.True(t, errors.Is(err, domain.ErrInvalidMove))
}

func TestBingoDiagonalsAndFullCard(t *testing.T) {
	rules := CellMarking{}
	settings := domain.Settings{GridSize: 3}
	p := domain.Participant{ID: "p1"}

	for _, cell := range []int{0, 4, 8} {
		_, err := rules.Apply(&p, domain.Quiz{}, settings, domain.CellMark{Cell: cell, Marked: true}, now)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, p.GameState.Bingo.LinesCompleted)

	for _, cell := range []int{1, 2, 3, 5, 6, 7} {
		_, err := rules.Apply(&p, domain.Quiz{}, settings, domain.CellMark{Cell: cell, Marked: true}, now)
		require.NoError(t, err)
	}
	card := p.GameState.Bingo
	assert.Equal(t, 8, card.LinesCompleted)
	assert.True(t, card.FullCardAchieved)
	assert.True(t, p.Completed)
	assert.Equal(t, 9*PointsPerCell+8*PointsPerLine+FullCardBonus, card.Score)

	// Unmarking after a win keeps the win and completion.
	_, err := rules.Apply(&p, domain.Quiz{}, settings, domain.CellMark{Cell: 0, Marked: false}, now)
	require.NoError(t, err)
	assert.True(t, p.GameState.Bingo.GameWon)
	assert.True(t, p.Completed)
}

func TestBingoNeverEndsSessionEarly(t *testing.T) {
	assert.False(t, CellMarking{}.EndsWhenAllFinished())
	assert.True(t, ScoredQuiz{}.EndsWhenAllFinished())
	assert.Equal(t, DefaultBingoLimit, CellMarking{}.TimeBudget(domain.Quiz{}, domain.Settings{}))
	assert.Equal(t, 90*time.Second, CellMarking{}.TimeBudget(domain.Quiz{}, domain.Settings{BingoTimeLimit: 90}))
}
