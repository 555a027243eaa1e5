package memory

import (
	"context"
	"sync"

	"live-session-service/internal/domain"
)

// ResultArchive stores completed session results in memory. The first write wins.
type ResultArchive struct {
	mu      sync.RWMutex
	results map[string]domain.Results
}

func NewResultArchive() *ResultArchive {
	return &ResultArchive{results: make(map[string]domain.Results)}
}

func (a *ResultArchive) SaveResults(_ context.Context, results domain.Results) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.results[results.SessionID]; ok {
		return nil
	}
	a.results[results.SessionID] = results
	return nil
}

func (a *ResultArchive) LoadResults(_ context.Context, sessionID string) (domain.Results, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	results, ok := a.results[sessionID]
	if !ok {
		return domain.Results{}, domain.ErrResultsNotFound
	}
	return results, nil
}
