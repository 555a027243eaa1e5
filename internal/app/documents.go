package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"live-session-service/internal/docstore"
	"live-session-service/internal/domain"
	"live-session-service/internal/game"
)

// errUnchanged is returned by mutators that have nothing to write.
var errUnchanged = errors.New("unchanged")

func sessionPath(sessionID string) string {
	return docstore.Join("sessions", sessionID)
}

func participantsPath(sessionID string) string {
	return docstore.Join("sessions", sessionID, "participants")
}

func participantPath(sessionID, participantID string) string {
	return docstore.Join("sessions", sessionID, "participants", participantID)
}

func joinCodePath(code string) string {
	return docstore.Join("codes", code)
}

type joinCodeDoc struct {
	SessionID string `json:"sessionId"`
}

// translate maps store errors onto the domain taxonomy.
func translate(err error, notFound error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, docstore.ErrNotFound):
		return notFound
	case errors.Is(err, docstore.ErrUnavailable):
		return fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	return err
}

// retry runs op until it succeeds, fails permanently, or the backoff gives up.
// Only transient store errors are retried.
func (s *SessionService) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.RetryInitial
	b.MaxElapsedTime = s.opts.RetryMaxElapsed
	return backoff.Retry(func() error {
		err := op()
		if err != nil && !errors.Is(err, domain.ErrUnavailable) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx))
}

func decodeSession(data []byte) (domain.Session, error) {
	var sess domain.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return domain.Session{}, fmt.Errorf("decode session: %w", err)
	}
	return sess, nil
}

func decodeParticipant(data []byte) (domain.Participant, error) {
	var p domain.Participant
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.Participant{}, fmt.Errorf("decode participant: %w", err)
	}
	return p, nil
}

func (s *SessionService) loadSession(ctx context.Context, sessionID string) (domain.Session, error) {
	var data []byte
	err := s.retry(ctx, func() error {
		var err error
		data, err = s.store.Get(ctx, sessionPath(sessionID))
		return translate(err, domain.ErrSessionNotFound)
	})
	if err != nil {
		return domain.Session{}, err
	}
	return decodeSession(data)
}

// updateSession applies fn atomically, retrying transient failures. fn sees the
// latest stored document on every attempt and returns errUnchanged to skip the write.
func (s *SessionService) updateSession(ctx context.Context, sessionID string, fn func(*domain.Session, time.Time) error) (domain.Session, error) {
	var data []byte
	err := s.retry(ctx, func() error {
		var err error
		data, err = s.store.Update(ctx, sessionPath(sessionID), func(current []byte) ([]byte, error) {
			sess, err := decodeSession(current)
			if err != nil {
				return nil, err
			}
			if err := fn(&sess, s.now()); err != nil {
				if errors.Is(err, errUnchanged) {
					return nil, nil
				}
				return nil, err
			}
			return json.Marshal(sess)
		})
		return translate(err, domain.ErrSessionNotFound)
	})
	if err != nil {
		return domain.Session{}, err
	}
	return decodeSession(data)
}

func (s *SessionService) loadParticipant(ctx context.Context, sessionID, participantID string) (domain.Participant, error) {
	var data []byte
	err := s.retry(ctx, func() error {
		var err error
		data, err = s.store.Get(ctx, participantPath(sessionID, participantID))
		return translate(err, domain.ErrParticipantNotFound)
	})
	if err != nil {
		return domain.Participant{}, err
	}
	return decodeParticipant(data)
}

func (s *SessionService) updateParticipant(ctx context.Context, sessionID, participantID string, fn func(*domain.Participant, time.Time) error) (domain.Participant, error) {
	var data []byte
	err := s.retry(ctx, func() error {
		var err error
		data, err = s.store.Update(ctx, participantPath(sessionID, participantID), func(current []byte) ([]byte, error) {
			p, err := decodeParticipant(current)
			if err != nil {
				return nil, err
			}
			if err := fn(&p, s.now()); err != nil {
				if errors.Is(err, errUnchanged) {
					return nil, nil
				}
				return nil, err
			}
			return json.Marshal(p)
		})
		return translate(err, domain.ErrParticipantNotFound)
	})
	if err != nil {
		return domain.Participant{}, err
	}
	return decodeParticipant(data)
}

// listParticipants reads the current participant set in join order.
func (s *SessionService) listParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	var docs [][]byte
	err := s.retry(ctx, func() error {
		var err error
		docs, err = s.store.List(ctx, participantsPath(sessionID))
		return translate(err, domain.ErrSessionNotFound)
	})
	if err != nil {
		return nil, err
	}
	participants := make([]domain.Participant, 0, len(docs))
	for _, data := range docs {
		p, err := decodeParticipant(data)
		if err != nil {
			return nil, err
		}
		participants = append(participants, p)
	}
	game.SortByJoinOrder(participants)
	return participants, nil
}
