package game

import (
	"fmt"
	"sort"
	"time"

	"live-session-service/internal/domain"
)

// ScoredQuiz scores one answer per question with a fixed value per correct answer.
type ScoredQuiz struct{}

func (ScoredQuiz) Type() domain.GameType { return domain.GameTypeQuiz }

// TimeBudget is the sum of per-question time limits.
func (ScoredQuiz) TimeBudget(quiz domain.Quiz, _ domain.Settings) time.Duration {
	var total time.Duration
	for _, q := range quiz.Questions {
		limit := q.TimeLimit
		if limit <= 0 {
			limit = domain.DefaultQuestionTime
		}
		total += time.Duration(limit) * time.Second
	}
	return total
}

func (ScoredQuiz) NewState(domain.Quiz, domain.Settings) domain.GameState {
	return domain.GameState{Quiz: &domain.QuizProgress{Answers: []domain.AnswerRecord{}}}
}

func (r ScoredQuiz) Apply(p *domain.Participant, quiz domain.Quiz, _ domain.Settings, move domain.Move, now time.Time) (Outcome, error) {
	answer, ok := move.(domain.Answer)
	if !ok {
		return Outcome{}, domain.ErrWrongGameType
	}
	if answer.QuestionIndex < 0 || answer.QuestionIndex >= len(quiz.Questions) {
		return Outcome{}, fmt.Errorf("%w: index %d", domain.ErrQuestionNotFound, answer.QuestionIndex)
	}
	question := quiz.Questions[answer.QuestionIndex]
	if answer.QuestionID != "" && answer.QuestionID != question.ID {
		return Outcome{}, fmt.Errorf("%w: %s is not at index %d", domain.ErrQuestionNotFound, answer.QuestionID, answer.QuestionIndex)
	}
	if answer.SelectedAnswer != domain.NoAnswer {
		if answer.SelectedAnswer < 0 || (len(question.Options) > 0 && answer.SelectedAnswer >= len(question.Options)) {
			return Outcome{}, fmt.Errorf("%w: option %d", domain.ErrInvalidMove, answer.SelectedAnswer)
		}
	}

	if p.GameState.Quiz == nil {
		p.GameState = r.NewState(quiz, domain.Settings{})
	}
	progress := p.GameState.Quiz

	for _, existing := range progress.Answers {
		if existing.QuestionIndex == answer.QuestionIndex {
			return Outcome{Duplicate: true, Correct: existing.IsCorrect}, nil
		}
	}

	spent := answer.TimeSpent
	if spent < 0 {
		spent = 0
	}
	record := domain.AnswerRecord{
		QuestionID:     question.ID,
		QuestionIndex:  answer.QuestionIndex,
		SelectedAnswer: answer.SelectedAnswer,
		IsCorrect:      answer.SelectedAnswer != domain.NoAnswer && answer.SelectedAnswer == question.CorrectAnswer,
		TimeSpent:      spent,
		AnsweredAt:     now,
	}
	progress.Answers = append(progress.Answers, record)
	sort.Slice(progress.Answers, func(i, j int) bool {
		return progress.Answers[i].QuestionIndex < progress.Answers[j].QuestionIndex
	})

	progress.Score = progress.CorrectCount() * domain.PointsPerCorrectAnswer
	progress.Streak, progress.BestStreak = streaks(progress.Answers, record.QuestionIndex)

	if !p.Completed && len(progress.Answers) >= len(quiz.Questions) {
		p.Completed = true
		completedAt := now
		p.CompletedAt = &completedAt
	}
	return Outcome{Correct: record.IsCorrect}, nil
}

// streaks returns the run of correct answers ending at question index at and
// the longest run. Answers must be sorted by question index.
func streaks(answers []domain.AnswerRecord, at int) (current, best int) {
	run := 0
	for _, a := range answers {
		if a.IsCorrect {
			run++
			if run > best {
				best = run
			}
		} else {
			run = 0
		}
		if a.QuestionIndex == at {
			current = run
		}
	}
	return current, best
}

func (ScoredQuiz) Finished(p domain.Participant, quiz domain.Quiz) bool {
	if p.Completed {
		return true
	}
	return p.GameState.Quiz != nil && len(p.GameState.Quiz.Answers) >= len(quiz.Questions)
}

func (ScoredQuiz) EndsWhenAllFinished() bool { return true }

// RankKey breaks score ties by lower average answer time.
func (ScoredQuiz) RankKey(p domain.Participant) (int, float64) {
	if p.GameState.Quiz == nil {
		return 0, 0
	}
	return p.GameState.Quiz.Score, p.GameState.Quiz.AverageTime()
}

func (ScoredQuiz) Awards(participants []domain.Participant, quiz domain.Quiz) []domain.Award {
	total := len(quiz.Questions)
	progress := func(p domain.Participant) (*domain.QuizProgress, bool) {
		return p.GameState.Quiz, p.GameState.Quiz != nil && len(p.GameState.Quiz.Answers) > 0
	}

	var awards []domain.Award
	awards = appendAward(awards, domain.AwardTopScore, tiedBest(participants, func(p domain.Participant) (float64, bool) {
		q, ok := progress(p)
		return float64(p.GameState.Score()), ok && q.Score > 0
	}, higher))

	var perfect, passed []string
	for _, p := range participants {
		q, ok := progress(p)
		if !ok || total == 0 {
			continue
		}
		correct := q.CorrectCount()
		if correct == total {
			perfect = append(perfect, p.ID)
		}
		if quiz.PassMark > 0 && correct*100 >= quiz.PassMark*total {
			passed = append(passed, p.ID)
		}
	}
	awards = appendAward(awards, domain.AwardPerfectScore, perfect)

	awards = appendAward(awards, domain.AwardFastestAverage, tiedBest(participants, func(p domain.Participant) (float64, bool) {
		q, ok := progress(p)
		if !ok {
			return 0, false
		}
		return q.AverageTime(), true
	}, lower))

	awards = appendAward(awards, domain.AwardLongestStreak, tiedBest(participants, func(p domain.Participant) (float64, bool) {
		q, ok := progress(p)
		if !ok || q.BestStreak == 0 {
			return 0, false
		}
		return float64(q.BestStreak), true
	}, higher))

	awards = appendAward(awards, domain.AwardPassed, passed)
	return awards
}
