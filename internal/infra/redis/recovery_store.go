package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"live-session-service/internal/domain"
	"live-session-service/internal/recovery"
)

// RecoveryStore keeps recovery tokens under recovery:{participantID}, expiring with the token.
type RecoveryStore struct {
	client *redis.Client
	clock  func() time.Time
}

func NewRecoveryStore(client *redis.Client) *RecoveryStore {
	return &RecoveryStore{client: client, clock: time.Now}
}

func (s *RecoveryStore) Save(ctx context.Context, token recovery.Token) error {
	ttl := token.ExpiresAt.Sub(s.clock())
	if ttl <= 0 {
		return domain.ErrTokenExpired
	}
	payload, err := json.Marshal(token)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(token.ParticipantID), payload, ttl).Err(); err != nil {
		return wrapUnavailable(err)
	}
	return nil
}

func (s *RecoveryStore) Load(ctx context.Context, participantID string) (recovery.Token, error) {
	payload, err := s.client.Get(ctx, s.key(participantID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return recovery.Token{}, domain.ErrTokenInvalid
	}
	if err != nil {
		return recovery.Token{}, wrapUnavailable(err)
	}
	var token recovery.Token
	if err := json.Unmarshal(payload, &token); err != nil {
		return recovery.Token{}, domain.ErrTokenInvalid
	}
	if token.Expired(s.clock()) {
		return recovery.Token{}, domain.ErrTokenExpired
	}
	return token, nil
}

func (s *RecoveryStore) Delete(ctx context.Context, participantID string) error {
	if err := s.client.Del(ctx, s.key(participantID)).Err(); err != nil {
		return wrapUnavailable(err)
	}
	return nil
}

func (s *RecoveryStore) key(participantID string) string {
	return "recovery:" + participantID
}

func wrapUnavailable(err error) error {
	return errors.Join(domain.ErrUnavailable, err)
}
