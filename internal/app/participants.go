package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"live-session-service/internal/docstore"
	"live-session-service/internal/domain"
	"live-session-service/internal/game"
)

const maxDisplayName = 40

// Joined is returned to a participant after a successful join.
type Joined struct {
	Session       domain.Session     `json:"session"`
	Participant   domain.Participant `json:"participant"`
	RecoveryToken string             `json:"recoveryToken,omitempty"`
}

// Join adds a participant to the session behind code.
func (s *SessionService) Join(ctx context.Context, code, displayName string) (Joined, error) {
	name := strings.TrimSpace(displayName)
	if name == "" || utf8.RuneCountInString(name) > maxDisplayName {
		return Joined{}, domain.ErrInvalidName
	}

	sessionID, err := s.resolveJoinCode(ctx, code)
	if err != nil {
		return Joined{}, err
	}
	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return Joined{}, err
	}
	s.drive(sess)
	switch {
	case sess.Status == domain.StatusCompleted:
		return Joined{}, domain.ErrSessionClosed
	case !sess.Status.AcceptsJoins():
		return Joined{}, fmt.Errorf("%w: session is %s", domain.ErrJoinClosed, sess.Status)
	}

	if err := s.checkCapacity(ctx, sess); err != nil {
		return Joined{}, err
	}

	rules, err := game.For(sess.GameType)
	if err != nil {
		return Joined{}, err
	}
	quiz, err := s.quizFor(ctx, sess.OrganizationID, sess.QuizID, sess.GameType)
	if err != nil {
		return Joined{}, err
	}

	p := domain.Participant{
		ID:          uuid.NewString(),
		SessionID:   sess.ID,
		DisplayName: name,
		JoinedAt:    s.now(),
		GameState:   rules.NewState(quiz, sess.Settings),
	}
	data, err := json.Marshal(p)
	if err != nil {
		return Joined{}, err
	}
	err = s.retry(ctx, func() error {
		err := s.store.Create(ctx, participantPath(sess.ID, p.ID), data)
		if errors.Is(err, docstore.ErrExists) {
			return nil
		}
		return translate(err, domain.ErrSessionNotFound)
	})
	if err != nil {
		return Joined{}, err
	}

	joined := Joined{Session: sess, Participant: p}
	if joined.RecoveryToken, err = s.issueRecoveryToken(ctx, sess, p.ID); err != nil {
		// the participant exists; recovery is best effort
		s.log.Warn("issue recovery token failed", "session", sess.ID, "participant", p.ID, "error", err)
	}
	s.log.Info("participant joined", "session", sess.ID, "participant", p.ID)
	return joined, nil
}

func (s *SessionService) resolveJoinCode(ctx context.Context, code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "", domain.ErrSessionNotFound
	}
	var data []byte
	err := s.retry(ctx, func() error {
		var err error
		data, err = s.store.Get(ctx, joinCodePath(code))
		return translate(err, domain.ErrSessionNotFound)
	})
	if err != nil {
		return "", err
	}
	var doc joinCodeDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("decode join code: %w", err)
	}
	return doc.SessionID, nil
}

// checkCapacity counts current participants against the organization's cap.
// Two joins racing for the last seat can both pass; the store has no
// cross-document transaction to prevent it.
func (s *SessionService) checkCapacity(ctx context.Context, sess domain.Session) error {
	limit, err := s.capacity.ParticipantCap(ctx, sess.OrganizationID)
	if err != nil {
		return err
	}
	if limit <= 0 {
		return nil
	}
	participants, err := s.listParticipants(ctx, sess.ID)
	if err != nil {
		return err
	}
	if len(participants) >= limit {
		return fmt.Errorf("%w: limit of %d participants reached", domain.ErrCapacityExceeded, limit)
	}
	return nil
}

func (s *SessionService) issueRecoveryToken(ctx context.Context, sess domain.Session, participantID string) (string, error) {
	if s.tokens == nil {
		return "", nil
	}
	token, raw, err := s.tokens.Issue(sess.ID, participantID, sess.JoinCode)
	if err != nil {
		return "", err
	}
	if s.recoveries != nil {
		if err := s.recoveries.Save(ctx, token); err != nil {
			return "", err
		}
	}
	return raw, nil
}

// MarkReady flips isReady for the participant. Repeating it is a no-op.
func (s *SessionService) MarkReady(ctx context.Context, sessionID, participantID string) (domain.Participant, error) {
	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return domain.Participant{}, err
	}
	if sess.Status == domain.StatusCompleted {
		return domain.Participant{}, domain.ErrSessionClosed
	}
	return s.updateParticipant(ctx, sessionID, participantID, func(p *domain.Participant, _ time.Time) error {
		if p.IsReady {
			return errUnchanged
		}
		p.IsReady = true
		return nil
	})
}

// SubmitAnswer records one answer per question index. A repeated submission
// returns the stored state with Duplicate set.
func (s *SessionService) SubmitAnswer(ctx context.Context, sessionID, participantID string, answer domain.Answer) (domain.MoveResult, error) {
	return s.applyMove(ctx, sessionID, participantID, answer)
}

// MarkCell marks or unmarks a bingo cell. Repeating a mark is a no-op.
func (s *SessionService) MarkCell(ctx context.Context, sessionID, participantID string, mark domain.CellMark) (domain.MoveResult, error) {
	return s.applyMove(ctx, sessionID, participantID, mark)
}

func (s *SessionService) applyMove(ctx context.Context, sessionID, participantID string, move domain.Move) (domain.MoveResult, error) {
	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return domain.MoveResult{}, err
	}
	s.drive(sess)
	switch {
	case sess.Status == domain.StatusCompleted:
		return domain.MoveResult{}, domain.ErrSessionClosed
	case !sess.Status.Running():
		return domain.MoveResult{}, domain.ErrSessionNotActive
	}
	rules, err := game.For(sess.GameType)
	if err != nil {
		return domain.MoveResult{}, err
	}
	quiz, err := s.quizFor(ctx, sess.OrganizationID, sess.QuizID, sess.GameType)
	if err != nil {
		return domain.MoveResult{}, err
	}

	var outcome game.Outcome
	p, err := s.updateParticipant(ctx, sessionID, participantID, func(p *domain.Participant, now time.Time) error {
		var err error
		outcome, err = rules.Apply(p, quiz, sess.Settings, move, now)
		if err != nil {
			return err
		}
		if outcome.Duplicate {
			return errUnchanged
		}
		return nil
	})
	if err != nil {
		return domain.MoveResult{}, err
	}
	return domain.MoveResult{Participant: p, Duplicate: outcome.Duplicate, Correct: outcome.Correct}, nil
}

// Recovered carries what a reconnecting participant needs to re-subscribe.
type Recovered struct {
	Session     domain.Session     `json:"session"`
	Participant domain.Participant `json:"participant"`
}

// Recover verifies a recovery token and returns the participant's current state.
// A kicked participant gets ErrParticipantNotFound even though the kick also
// revoked the token.
func (s *SessionService) Recover(ctx context.Context, raw string) (Recovered, error) {
	if s.tokens == nil {
		return Recovered{}, domain.ErrTokenInvalid
	}
	token, err := s.tokens.Parse(raw)
	if err != nil {
		return Recovered{}, err
	}
	p, err := s.loadParticipant(ctx, token.SessionID, token.ParticipantID)
	if err != nil {
		return Recovered{}, err
	}
	if s.recoveries != nil {
		stored, err := s.recoveries.Load(ctx, token.ParticipantID)
		if err != nil {
			return Recovered{}, err
		}
		if stored.SessionID != token.SessionID || !stored.IssuedAt.Equal(token.IssuedAt) {
			return Recovered{}, domain.ErrTokenInvalid
		}
	}
	sess, err := s.loadSession(ctx, token.SessionID)
	if err != nil {
		return Recovered{}, err
	}
	s.drive(sess)
	return Recovered{Session: sess, Participant: p}, nil
}
