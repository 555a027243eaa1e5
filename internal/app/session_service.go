package app

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"live-session-service/internal/awards"
	"live-session-service/internal/docstore"
	"live-session-service/internal/domain"
	"live-session-service/internal/game"
	"live-session-service/internal/recovery"
	"live-session-service/internal/timer"
)

// joinCodeAlphabet leaves out glyphs that are easy to misread (0/O, 1/I/L).
const joinCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const (
	joinCodeLength   = 6
	joinCodeAttempts = 10
)

// Deps are the collaborators of SessionService.
type Deps struct {
	Store      docstore.Store
	Quizzes    QuizRepository
	Archive    ResultArchive
	Capacity   CapacityPolicy
	Tokens     *recovery.Codec
	Recoveries recovery.Store
	Logger     *slog.Logger
}

// SessionService implements the trainer control surface and the participant
// join surface over a docstore. The store is the only source of truth; every
// method returns state read back from it.
type SessionService struct {
	store      docstore.Store
	quizzes    QuizRepository
	archive    ResultArchive
	capacity   CapacityPolicy
	tokens     *recovery.Codec
	recoveries recovery.Store
	log        *slog.Logger
	opts       Options
	now        func() time.Time

	mu         sync.Mutex
	conductors map[string]*Conductor
	rootCtx    context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

func NewSessionService(deps Deps, opts Options) *SessionService {
	return newSessionServiceWithClock(deps, opts, time.Now)
}

// newSessionServiceWithClock allows deterministic timestamps in tests.
func newSessionServiceWithClock(deps Deps, opts Options, now func() time.Time) *SessionService {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Capacity == nil {
		deps.Capacity = StaticCapacity{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SessionService{
		store:      deps.Store,
		quizzes:    deps.Quizzes,
		archive:    deps.Archive,
		capacity:   deps.Capacity,
		tokens:     deps.Tokens,
		recoveries: deps.Recoveries,
		log:        deps.Logger,
		opts:       opts.withDefaults(),
		now:        now,
		conductors: make(map[string]*Conductor),
		rootCtx:    ctx,
		cancel:     cancel,
	}
}

// Close stops every running conductor and waits for them to exit.
func (s *SessionService) Close() {
	s.cancel()
	s.wg.Wait()
}

// CreateRequest describes a session a trainer launches from a quiz.
type CreateRequest struct {
	OrganizationID string          `json:"organizationId"`
	QuizID         string          `json:"quizId"`
	GameType       domain.GameType `json:"gameType"`
	Settings       domain.Settings `json:"settings"`
}

// Created is returned once; TrainerKey is never stored in clear.
type Created struct {
	Session    domain.Session `json:"session"`
	TrainerKey string         `json:"trainerKey"`
}

// CreateSession stores a new session in waiting and reserves its join code.
func (s *SessionService) CreateSession(ctx context.Context, req CreateRequest) (Created, error) {
	if req.GameType == "" {
		req.GameType = domain.GameTypeQuiz
	}
	rules, err := game.For(req.GameType)
	if err != nil {
		return Created{}, fmt.Errorf("%w: %v", domain.ErrWrongGameType, err)
	}
	quiz, err := s.quizFor(ctx, req.OrganizationID, req.QuizID, req.GameType)
	if err != nil {
		return Created{}, err
	}

	trainerKey := uuid.NewString()
	hash, err := bcrypt.GenerateFromPassword([]byte(trainerKey), bcrypt.DefaultCost)
	if err != nil {
		return Created{}, fmt.Errorf("hash trainer key: %w", err)
	}

	sess := domain.Session{
		ID:               uuid.NewString(),
		OrganizationID:   req.OrganizationID,
		QuizID:           req.QuizID,
		GameType:         req.GameType,
		Status:           domain.StatusWaiting,
		Settings:         req.Settings,
		TrainerKeyHash:   string(hash),
		SessionTimeLimit: timer.Seconds(rules.TimeBudget(quiz, req.Settings)),
		CreatedAt:        s.now(),
	}
	if sess.JoinCode, err = s.reserveJoinCode(ctx, sess.ID); err != nil {
		return Created{}, err
	}

	data, err := json.Marshal(sess)
	if err != nil {
		s.releaseJoinCode(ctx, sess.JoinCode)
		return Created{}, err
	}
	err = s.retry(ctx, func() error {
		err := s.store.Create(ctx, sessionPath(sess.ID), data)
		if errors.Is(err, docstore.ErrExists) {
			// an earlier attempt landed
			return nil
		}
		return translate(err, domain.ErrSessionNotFound)
	})
	if err != nil {
		s.releaseJoinCode(ctx, sess.JoinCode)
		return Created{}, err
	}
	s.log.Info("session created", "session", sess.ID, "code", sess.JoinCode, "game", sess.GameType)
	return Created{Session: sess, TrainerKey: trainerKey}, nil
}

func (s *SessionService) reserveJoinCode(ctx context.Context, sessionID string) (string, error) {
	data, err := json.Marshal(joinCodeDoc{SessionID: sessionID})
	if err != nil {
		return "", err
	}
	for i := 0; i < joinCodeAttempts; i++ {
		code, err := newJoinCode()
		if err != nil {
			return "", err
		}
		err = s.retry(ctx, func() error {
			return translate(s.store.Create(ctx, joinCodePath(code), data), domain.ErrSessionNotFound)
		})
		switch {
		case err == nil:
			return code, nil
		case errors.Is(err, docstore.ErrExists), errors.Is(err, docstore.ErrGone):
			continue
		default:
			return "", err
		}
	}
	return "", fmt.Errorf("%w: no free join code after %d attempts", domain.ErrUnavailable, joinCodeAttempts)
}

// releaseJoinCode drops a code whose session was never stored. The tombstone
// keeps the code retired.
func (s *SessionService) releaseJoinCode(ctx context.Context, code string) {
	err := s.retry(ctx, func() error {
		return translate(s.store.Delete(ctx, joinCodePath(code)), domain.ErrSessionNotFound)
	})
	if err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		s.log.Warn("release join code failed", "code", code, "error", err)
	}
}

func newJoinCode() (string, error) {
	buf := make([]byte, joinCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate join code: %w", err)
	}
	for i, b := range buf {
		buf[i] = joinCodeAlphabet[int(b)%len(joinCodeAlphabet)]
	}
	return string(buf), nil
}

// quizFor loads quiz content. Bingo sessions may run without a quiz.
func (s *SessionService) quizFor(ctx context.Context, orgID, quizID string, gameType domain.GameType) (domain.Quiz, error) {
	if gameType == domain.GameTypeBingo && quizID == "" {
		return domain.Quiz{}, nil
	}
	return s.quizzes.GetQuiz(ctx, orgID, quizID)
}

func (s *SessionService) authorize(sess domain.Session, trainerKey string) error {
	if trainerKey == "" || bcrypt.CompareHashAndPassword([]byte(sess.TrainerKeyHash), []byte(trainerKey)) != nil {
		return domain.ErrNotTrainer
	}
	return nil
}

// control authorizes the trainer, applies fn to the session and makes sure a
// conductor is driving it.
func (s *SessionService) control(ctx context.Context, sessionID, trainerKey, action string, fn func(*domain.Session, time.Time) error) (domain.Session, error) {
	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if err := s.authorize(sess, trainerKey); err != nil {
		return domain.Session{}, err
	}
	sess, err = s.updateSession(ctx, sessionID, fn)
	if err != nil {
		s.log.Warn("trainer action failed", "session", sessionID, "action", action, "error", err)
		return domain.Session{}, err
	}
	s.log.Info("trainer action", "session", sessionID, "action", action, "status", sess.Status)
	s.ensureConductor(sess)
	return sess, nil
}

// moveTo transitions sess to next. Already being there is a no-op so retried
// calls succeed.
func moveTo(sess *domain.Session, next domain.Status) error {
	if sess.Status == next {
		return errUnchanged
	}
	status, err := sess.Status.Transition(next)
	if err != nil {
		return err
	}
	sess.Status = status
	return nil
}

// Start moves a waiting session into countdown. The conductor activates it.
func (s *SessionService) Start(ctx context.Context, sessionID, trainerKey string) (domain.Session, error) {
	return s.control(ctx, sessionID, trainerKey, "start", func(sess *domain.Session, now time.Time) error {
		if err := moveTo(sess, domain.StatusCountdown); err != nil {
			return err
		}
		sess.CountdownStartedAt = &now
		return nil
	})
}

// Pause freezes the timer at its current remaining value.
func (s *SessionService) Pause(ctx context.Context, sessionID, trainerKey string) (domain.Session, error) {
	return s.control(ctx, sessionID, trainerKey, "pause", func(sess *domain.Session, now time.Time) error {
		if err := moveTo(sess, domain.StatusPaused); err != nil {
			return err
		}
		if anchor, ok := timer.FromSession(*sess); ok {
			timer.Apply(sess, anchor.Pause(now))
		}
		return nil
	})
}

// Resume re-anchors the timer so it continues from the paused value.
func (s *SessionService) Resume(ctx context.Context, sessionID, trainerKey string) (domain.Session, error) {
	return s.control(ctx, sessionID, trainerKey, "resume", func(sess *domain.Session, now time.Time) error {
		if err := moveTo(sess, domain.StatusActive); err != nil {
			return err
		}
		if anchor, ok := timer.FromSession(*sess); ok {
			timer.Apply(sess, anchor.Resume(now))
		}
		return nil
	})
}

// End completes the session on the trainer's behalf.
func (s *SessionService) End(ctx context.Context, sessionID, trainerKey string) (domain.Session, error) {
	return s.control(ctx, sessionID, trainerKey, "end", completeWith(domain.CompletedByTrainer))
}

// ResetTimer re-arms the timer at full time (or seconds, when positive) and
// leaves the session paused.
func (s *SessionService) ResetTimer(ctx context.Context, sessionID, trainerKey string, seconds int) (domain.Session, error) {
	return s.control(ctx, sessionID, trainerKey, "reset_timer", func(sess *domain.Session, now time.Time) error {
		if !sess.Status.Running() {
			return fmt.Errorf("%w: cannot reset timer while %s", domain.ErrIllegalTransition, sess.Status)
		}
		total := seconds
		if total <= 0 {
			total = sess.SessionTimeLimit
		}
		if sess.Status == domain.StatusActive {
			sess.Status = domain.StatusPaused
		}
		timer.Apply(sess, timer.Reset(now, time.Duration(total)*time.Second))
		return nil
	})
}

// completeWith ends a running session once. A completed session is left as is,
// so racing completions (trainer, timer, detector) write endTime exactly once.
func completeWith(reason string) func(*domain.Session, time.Time) error {
	return func(sess *domain.Session, now time.Time) error {
		if sess.Status == domain.StatusCompleted {
			return errUnchanged
		}
		status, err := sess.Status.Transition(domain.StatusCompleted)
		if err != nil {
			return err
		}
		sess.Status = status
		sess.EndTime = &now
		sess.CompletionReason = reason
		return nil
	}
}

// Kick deletes the participant document and revokes its recovery token.
// The deletion is the signal the participant's client watches for.
func (s *SessionService) Kick(ctx context.Context, sessionID, trainerKey, participantID string) error {
	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := s.authorize(sess, trainerKey); err != nil {
		return err
	}
	if sess.Status == domain.StatusCompleted {
		return domain.ErrSessionClosed
	}
	err = s.retry(ctx, func() error {
		return translate(s.store.Delete(ctx, participantPath(sessionID, participantID)), domain.ErrParticipantNotFound)
	})
	if err != nil {
		return err
	}
	if s.recoveries != nil {
		if err := s.recoveries.Delete(ctx, participantID); err != nil {
			s.log.Warn("revoke recovery token failed", "participant", participantID, "error", err)
		}
	}
	s.log.Info("participant kicked", "session", sessionID, "participant", participantID)
	s.ensureConductor(sess)
	return nil
}

// Roster returns the trainer's view of the participant set in join order.
func (s *SessionService) Roster(ctx context.Context, sessionID, trainerKey string) (domain.Roster, error) {
	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return domain.Roster{}, err
	}
	if err := s.authorize(sess, trainerKey); err != nil {
		return domain.Roster{}, err
	}
	return s.roster(ctx, sessionID)
}

func (s *SessionService) roster(ctx context.Context, sessionID string) (domain.Roster, error) {
	participants, err := s.listParticipants(ctx, sessionID)
	if err != nil {
		return domain.Roster{}, err
	}
	roster := domain.Roster{
		SessionID:    sessionID,
		Participants: participants,
		Total:        len(participants),
		UpdatedAt:    s.now(),
	}
	for _, p := range participants {
		if p.IsReady {
			roster.Ready++
		}
	}
	return roster, nil
}

// Session returns the current session document.
func (s *SessionService) Session(ctx context.Context, sessionID string) (domain.Session, error) {
	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	s.drive(sess)
	return sess, nil
}

// Results returns the archived results of a completed session, computing and
// archiving them if no conductor has done so yet.
func (s *SessionService) Results(ctx context.Context, sessionID string) (domain.Results, error) {
	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return domain.Results{}, err
	}
	if sess.Status != domain.StatusCompleted {
		return domain.Results{}, fmt.Errorf("%w: session is %s", domain.ErrResultsNotFound, sess.Status)
	}
	results, err := s.archive.LoadResults(ctx, sessionID)
	if err == nil {
		return results, nil
	}
	if !errors.Is(err, domain.ErrResultsNotFound) {
		return domain.Results{}, err
	}
	return s.computeResults(ctx, sess)
}

// computeResults ranks the frozen participant set and archives the outcome.
func (s *SessionService) computeResults(ctx context.Context, sess domain.Session) (domain.Results, error) {
	rules, err := game.For(sess.GameType)
	if err != nil {
		return domain.Results{}, err
	}
	quiz, err := s.quizFor(ctx, sess.OrganizationID, sess.QuizID, sess.GameType)
	if err != nil {
		return domain.Results{}, err
	}
	participants, err := s.listParticipants(ctx, sess.ID)
	if err != nil {
		return domain.Results{}, err
	}
	computedAt := s.now()
	if sess.EndTime != nil {
		computedAt = *sess.EndTime
	}
	results := awards.Compute(rules, participants, quiz, sess.ID, computedAt)
	if err := s.archive.SaveResults(ctx, results); err != nil {
		return domain.Results{}, err
	}
	// a concurrent archiver may have won; return what is stored
	if stored, err := s.archive.LoadResults(ctx, sess.ID); err == nil {
		return stored, nil
	}
	return results, nil
}

// drive picks up a session that still has automatic transitions ahead, such as
// one left running by a previous process over a persistent store.
func (s *SessionService) drive(sess domain.Session) {
	switch sess.Status {
	case domain.StatusCountdown, domain.StatusActive, domain.StatusPaused:
		s.ensureConductor(sess)
	}
}

// ensureConductor starts a conductor for sess unless one is already running.
func (s *SessionService) ensureConductor(sess domain.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rootCtx.Err() != nil {
		return
	}
	if _, ok := s.conductors[sess.ID]; ok {
		return
	}
	c := newConductor(s, sess.ID)
	s.conductors[sess.ID] = c
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		c.run(s.rootCtx)
		s.mu.Lock()
		delete(s.conductors, sess.ID)
		s.mu.Unlock()
	}()
}
