package app

import (
	"context"
	"time"

	"live-session-service/internal/domain"
	"live-session-service/internal/timer"
)

// Event types pushed to a watching participant.
const (
	EventSession     = "session"
	EventParticipant = "participant"
	EventTick        = "tick"
	EventKicked      = "kicked"
)

// SessionView is the participant-facing projection of a session; trainer
// secrets are stripped.
type SessionView struct {
	ID               string          `json:"id"`
	JoinCode         string          `json:"joinCode"`
	QuizID           string          `json:"quizId"`
	GameType         domain.GameType `json:"gameType"`
	Status           domain.Status   `json:"status"`
	Settings         domain.Settings `json:"settings"`
	CompletionReason string          `json:"completionReason,omitempty"`
	EndTime          *time.Time      `json:"endTime,omitempty"`
	Timer            timer.View      `json:"timer"`
}

// ViewSession projects sess at now.
func ViewSession(sess domain.Session, now time.Time) SessionView {
	return SessionView{
		ID:               sess.ID,
		JoinCode:         sess.JoinCode,
		QuizID:           sess.QuizID,
		GameType:         sess.GameType,
		Status:           sess.Status,
		Settings:         sess.Settings,
		CompletionReason: sess.CompletionReason,
		EndTime:          sess.EndTime,
		Timer:            timer.ViewOf(sess, now),
	}
}

// Event is one update on a participant's watch stream.
type Event struct {
	Type        string              `json:"type"`
	Session     *SessionView        `json:"session,omitempty"`
	Participant *domain.Participant `json:"participant,omitempty"`
	Timer       *timer.View         `json:"timer,omitempty"`
}

// Watch streams the session and the participant's own document. Ticks recompute
// the timer locally from the anchor and never write. When the participant
// document disappears the stream sends exactly one kicked event and closes.
func (s *SessionService) Watch(ctx context.Context, sessionID, participantID string) (<-chan Event, error) {
	if _, err := s.loadParticipant(ctx, sessionID, participantID); err != nil {
		return nil, err
	}
	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	s.drive(sess)
	ctx, cancel := context.WithCancel(ctx)
	sessions, stopSession, err := s.store.SubscribeDocument(ctx, sessionPath(sessionID))
	if err != nil {
		cancel()
		return nil, translate(err, domain.ErrSessionNotFound)
	}
	self, stopSelf, err := s.store.SubscribeDocument(ctx, participantPath(sessionID, participantID))
	if err != nil {
		stopSession()
		cancel()
		return nil, translate(err, domain.ErrParticipantNotFound)
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		defer cancel()
		defer stopSession()
		defer stopSelf()

		ticker := time.NewTicker(s.opts.Tick)
		defer ticker.Stop()

		var (
			current domain.Session
			seen    bool
		)
		send := func(ev Event) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for {
			select {
			case <-ctx.Done():
				return
			case change, ok := <-self:
				if !ok {
					return
				}
				if change.Deleted {
					send(Event{Type: EventKicked})
					return
				}
				p, err := decodeParticipant(change.Data)
				if err != nil {
					s.log.Warn("decode participant notification", "error", err)
					continue
				}
				if !send(Event{Type: EventParticipant, Participant: &p}) {
					return
				}
			case change, ok := <-sessions:
				if !ok {
					return
				}
				if change.Deleted {
					continue
				}
				sess, err := decodeSession(change.Data)
				if err != nil {
					s.log.Warn("decode session notification", "error", err)
					continue
				}
				if seen && !sess.Status.Follows(current.Status) {
					fresh, err := s.loadSession(ctx, sessionID)
					if err != nil {
						continue
					}
					sess = fresh
				}
				current, seen = sess, true
				view := ViewSession(current, s.now())
				if !send(Event{Type: EventSession, Session: &view}) {
					return
				}
			case <-ticker.C:
				if !seen || !current.Status.Running() {
					continue
				}
				view := timer.ViewOf(current, s.now())
				if !send(Event{Type: EventTick, Timer: &view}) {
					return
				}
			}
		}
	}()
	return out, nil
}

// WatchRoster streams the roster to the trainer: once immediately, then after
// every participant change.
func (s *SessionService) WatchRoster(ctx context.Context, sessionID, trainerKey string) (<-chan domain.Roster, error) {
	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(sess, trainerKey); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	changes, stop, err := s.store.SubscribeCollection(ctx, participantsPath(sessionID))
	if err != nil {
		cancel()
		return nil, translate(err, domain.ErrSessionNotFound)
	}
	initial, err := s.roster(ctx, sessionID)
	if err != nil {
		stop()
		cancel()
		return nil, err
	}

	out := make(chan domain.Roster, 1)
	out <- initial
	go func() {
		defer close(out)
		defer cancel()
		defer stop()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-changes:
				if !ok {
					return
				}
				roster, err := s.roster(ctx, sessionID)
				if err != nil {
					s.log.Warn("roster refresh failed", "session", sessionID, "error", err)
					continue
				}
				// keep only the newest roster for a slow reader
				select {
				case <-out:
				default:
				}
				select {
				case out <- roster:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
