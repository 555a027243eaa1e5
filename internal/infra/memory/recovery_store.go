package memory

import (
	"context"
	"sync"
	"time"

	"live-session-service/internal/domain"
	"live-session-service/internal/recovery"
)

// RecoveryStore keeps issued recovery tokens in process memory.
type RecoveryStore struct {
	mu     sync.Mutex
	clock  func() time.Time
	tokens map[string]recovery.Token
}

func NewRecoveryStore() *RecoveryStore {
	return &RecoveryStore{clock: time.Now, tokens: make(map[string]recovery.Token)}
}

func (s *RecoveryStore) Save(_ context.Context, token recovery.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token.ParticipantID] = token
	return nil
}

func (s *RecoveryStore) Load(_ context.Context, participantID string) (recovery.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[participantID]
	if !ok {
		return recovery.Token{}, domain.ErrTokenInvalid
	}
	if token.Expired(s.clock()) {
		delete(s.tokens, participantID)
		return recovery.Token{}, domain.ErrTokenExpired
	}
	return token, nil
}

func (s *RecoveryStore) Delete(_ context.Context, participantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, participantID)
	return nil
}
