package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"live-session-service/internal/domain"
)

type sessionResult struct {
	bun.BaseModel `bun:"table:session_results"`

	SessionID  string         `bun:"session_id,pk"`
	Data       domain.Results `bun:"data,type:jsonb"`
	ComputedAt time.Time      `bun:"computed_at"`
}

// ResultArchive persists completed session results with bun.
type ResultArchive struct {
	db *bun.DB
}

func NewResultArchive(db *bun.DB) *ResultArchive {
	return &ResultArchive{db: db}
}

// SaveResults inserts results once; later writes for the same session are ignored.
func (a *ResultArchive) SaveResults(ctx context.Context, results domain.Results) error {
	row := &sessionResult{SessionID: results.SessionID, Data: results, ComputedAt: results.ComputedAt}
	if _, err := a.db.NewInsert().Model(row).On("CONFLICT (session_id) DO NOTHING").Exec(ctx); err != nil {
		return fmt.Errorf("save results: %w", err)
	}
	return nil
}

func (a *ResultArchive) LoadResults(ctx context.Context, sessionID string) (domain.Results, error) {
	row := new(sessionResult)
	err := a.db.NewSelect().Model(row).Where("session_id = ?", sessionID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Results{}, domain.ErrResultsNotFound
	}
	if err != nil {
		return domain.Results{}, fmt.Errorf("load results: %w", err)
	}
	return row.Data, nil
}
