package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"live-session-service/internal/domain"
)

// QuizLoader loads quiz JSONB from Postgres, scoped to the owning organization.
type QuizLoader struct {
	pool *pgxpool.Pool
}

func NewQuizLoader(pool *pgxpool.Pool) *QuizLoader {
	return &QuizLoader{pool: pool}
}

func (l *QuizLoader) LoadQuiz(ctx context.Context, orgID, quizID string) (domain.Quiz, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx,
		`SELECT data FROM quizzes WHERE id=$1 AND organization_id=$2`, quizID, orgID,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("load quiz: %w", err)
	}
	var quiz domain.Quiz
	if err := json.Unmarshal(raw, &quiz); err != nil {
		return domain.Quiz{}, fmt.Errorf("unmarshal quiz: %w", err)
	}
	quiz.ID = quizID
	quiz.OrganizationID = orgID
	return quiz, nil
}

// SaveQuiz upserts quiz content. Used by seeding and tests.
func (l *QuizLoader) SaveQuiz(ctx context.Context, quiz domain.Quiz) error {
	raw, err := json.Marshal(quiz)
	if err != nil {
		return fmt.Errorf("marshal quiz: %w", err)
	}
	_, err = l.pool.Exec(ctx,
		`INSERT INTO quizzes (id, organization_id, data) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET organization_id = EXCLUDED.organization_id, data = EXCLUDED.data`,
		quiz.ID, quiz.OrganizationID, raw,
	)
	if err != nil {
		return fmt.Errorf("save quiz: %w", err)
	}
	return nil
}
