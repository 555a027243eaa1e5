package domain

import "time"

// GameType selects which scoring and progress rules apply to a session.
type GameType string

const (
	GameTypeQuiz  GameType = "quiz"
	GameTypeBingo GameType = "bingo"
)

// PointsPerCorrectAnswer is the fixed value of every correct quiz answer.
const PointsPerCorrectAnswer = 10

// NoAnswer is the selectedAnswer sentinel for a question whose timer ran out.
const NoAnswer = -1

// Settings is game-specific configuration fixed at session creation.
type Settings struct {
	// BingoTimeLimit is the flat session budget in seconds for cell-marking games.
	BingoTimeLimit int `json:"bingoTimeLimit,omitempty"`
	// GridSize is the bingo card edge length; zero means DefaultGridSize.
	GridSize int `json:"gridSize,omitempty"`
}

// DefaultGridSize is used when a bingo session does not configure a card size.
const DefaultGridSize = 5

// Session is the trainer-owned document every client reads.
type Session struct {
	ID             string   `json:"id"`
	JoinCode       string   `json:"joinCode"`
	OrganizationID string   `json:"organizationId"`
	QuizID         string   `json:"quizId"`
	GameType       GameType `json:"gameType"`
	Status         Status   `json:"status"`
	Settings       Settings `json:"settings"`
	TrainerKeyHash string   `json:"trainerKeyHash,omitempty"`

	TimerStartedAt      *time.Time `json:"timerStartedAt,omitempty"`
	SessionTimeLimit    int        `json:"sessionTimeLimit"`
	TimerPaused         bool       `json:"timerPaused"`
	PausedTimeRemaining float64    `json:"pausedTimeRemaining"`

	CreatedAt          time.Time  `json:"createdAt"`
	CountdownStartedAt *time.Time `json:"countdownStartedAt,omitempty"`
	EndTime            *time.Time `json:"endTime,omitempty"`
	CompletionReason   string     `json:"completionReason,omitempty"`
}

// Completion reasons recorded on the session when it ends.
const (
	CompletedByTrainer     = "trainer"
	CompletedByTimer       = "timer"
	CompletedByAllFinished = "all_finished"
)

// Participant is one joined player. Deleting the document is the kick signal.
type Participant struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"sessionId"`
	DisplayName string     `json:"displayName"`
	JoinedAt    time.Time  `json:"joinedAt"`
	IsReady     bool       `json:"isReady"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	GameState   GameState  `json:"gameState"`
}

// GameState carries exactly one variant matching the session's game type.
type GameState struct {
	Quiz  *QuizProgress  `json:"quiz,omitempty"`
	Bingo *BingoProgress `json:"bingo,omitempty"`
}

// Score returns the score of whichever variant is set.
func (g GameState) Score() int {
	switch {
	case g.Quiz != nil:
		return g.Quiz.Score
	case g.Bingo != nil:
		return g.Bingo.Score
	}
	return 0
}

// QuizProgress is the scored-answers variant.
type QuizProgress struct {
	Score      int            `json:"score"`
	Streak     int            `json:"streak"`
	BestStreak int            `json:"bestStreak"`
	Answers    []AnswerRecord `json:"answers"`
}

// CorrectCount counts the correct answers recorded so far.
func (q *QuizProgress) CorrectCount() int {
	n := 0
	for _, a := range q.Answers {
		if a.IsCorrect {
			n++
		}
	}
	return n
}

// AverageTime is the mean timeSpent across recorded answers, zero when none exist.
func (q *QuizProgress) AverageTime() float64 {
	if len(q.Answers) == 0 {
		return 0
	}
	var total float64
	for _, a := range q.Answers {
		total += a.TimeSpent
	}
	return total / float64(len(q.Answers))
}

// AnswerRecord is append-only; a questionIndex appears at most once per participant.
type AnswerRecord struct {
	QuestionID     string    `json:"questionId"`
	QuestionIndex  int       `json:"questionIndex"`
	SelectedAnswer int       `json:"selectedAnswer"`
	IsCorrect      bool      `json:"isCorrect"`
	TimeSpent      float64   `json:"timeSpent"`
	AnsweredAt     time.Time `json:"answeredAt"`
}

// BingoProgress is the cell-marking variant.
type BingoProgress struct {
	Marked           []bool `json:"marked"`
	CellsMarked      int    `json:"cellsMarked"`
	LinesCompleted   int    `json:"linesCompleted"`
	FullCardAchieved bool   `json:"fullCardAchieved"`
	Streak           int    `json:"streak"`
	BestStreak       int    `json:"bestStreak"`
	Score            int    `json:"score"`
	GameWon          bool   `json:"gameWon"`
}

// Option represents a possible answer for a question.
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Question is an MCQ question; CorrectAnswer indexes Options.
type Question struct {
	ID            string   `json:"id"`
	Prompt        string   `json:"prompt"`
	Options       []Option `json:"options"`
	CorrectAnswer int      `json:"correctAnswer"`
	TimeLimit     int      `json:"timeLimit"` // seconds; DefaultQuestionTime if zero
}

// DefaultQuestionTime is the per-question budget when a question sets none.
const DefaultQuestionTime = 30

// Quiz is the immutable question set supplied by the content provider.
type Quiz struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organizationId"`
	Title          string     `json:"title"`
	Questions      []Question `json:"questions"`
	PassMark       int        `json:"passMark"` // percent of correct answers
}

// Answer is the scored-quiz move submitted by a participant.
type Answer struct {
	QuestionID     string  `json:"questionId"`
	QuestionIndex  int     `json:"questionIndex"`
	SelectedAnswer int     `json:"selectedAnswer"`
	TimeSpent      float64 `json:"timeSpent"`
}

// CellMark is the cell-marking move; Marked=false unmarks.
type CellMark struct {
	Cell   int  `json:"cell"`
	Marked bool `json:"marked"`
}

// MoveResult summarizes the outcome of an answer or mark for a single participant.
type MoveResult struct {
	Participant Participant `json:"participant"`
	Duplicate   bool        `json:"duplicate"`
	Correct     bool        `json:"correct"`
}

// RankEntry is one row of the final leaderboard.
type RankEntry struct {
	Rank          int     `json:"rank"`
	ParticipantID string  `json:"participantId"`
	DisplayName   string  `json:"displayName"`
	Score         int     `json:"score"`
	AverageTime   float64 `json:"averageTime"`
	Tied          bool    `json:"tied"`
}

// Award kinds.
const (
	AwardTopScore       = "top_score"
	AwardPerfectScore   = "perfect_score"
	AwardFastestAverage = "fastest_average"
	AwardLongestStreak  = "longest_streak"
	AwardPassed         = "passed"
	AwardMostCells      = "most_cells"
	AwardFullCard       = "full_card"
)

// Award is a badge; every tied participant is a recipient.
type Award struct {
	Kind       string   `json:"kind"`
	Recipients []string `json:"recipients"`
}

// Results is the frozen outcome of a completed session.
type Results struct {
	SessionID  string      `json:"sessionId"`
	Ranking    []RankEntry `json:"ranking"`
	Awards     []Award     `json:"awards"`
	ComputedAt time.Time   `json:"computedAt"`
}

// Roster is the trainer's live view of who is present.
type Roster struct {
	SessionID    string        `json:"sessionId"`
	Participants []Participant `json:"participants"`
	Total        int           `json:"total"`
	Ready        int           `json:"ready"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// Move is an answer or a cell mark. The unexported method seals the set.
type Move interface {
	isMove()
}

func (Answer) isMove()   {}
func (CellMark) isMove() {}
