package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"live-session-service/internal/docstore"
	"live-session-service/internal/domain"
	"live-session-service/internal/game"
	"live-session-service/internal/timer"
)

// Conductor is the trainer-side event loop of one session. It reacts to
// session and participant notifications plus a local tick, and performs the
// automatic transitions: countdown to active, timer expiry, and completion
// once every participant has finished. It exits after archiving results.
type Conductor struct {
	svc       *SessionService
	sessionID string
	log       *slog.Logger

	session domain.Session
	seen    bool

	expiry   *timer.Latch
	complete *timer.Latch

	// allFinishedSince is when the detector first saw every participant
	// finished; zero while the predicate does not hold.
	allFinishedSince time.Time
}

func newConductor(svc *SessionService, sessionID string) *Conductor {
	return &Conductor{
		svc:       svc,
		sessionID: sessionID,
		log:       svc.log.With("session", sessionID),
		expiry:    new(timer.Latch),
		complete:  new(timer.Latch),
	}
}

func (c *Conductor) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sessions, stopSession, err := c.svc.store.SubscribeDocument(ctx, sessionPath(c.sessionID))
	if err != nil {
		c.log.Error("subscribe session failed", "error", err)
		return
	}
	defer stopSession()
	participants, stopParticipants, err := c.svc.store.SubscribeCollection(ctx, participantsPath(c.sessionID))
	if err != nil {
		c.log.Error("subscribe participants failed", "error", err)
		return
	}
	defer stopParticipants()

	ticker := time.NewTicker(c.svc.opts.Tick)
	defer ticker.Stop()

	c.log.Debug("conductor started")
	defer c.log.Debug("conductor stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-sessions:
			if !ok {
				return
			}
			if change.Deleted {
				c.log.Warn("session document removed")
				return
			}
			c.observe(ctx, change)
		case _, ok := <-participants:
			if !ok {
				return
			}
		case <-ticker.C:
		}
		if !c.seen {
			continue
		}
		if done := c.step(ctx); done {
			return
		}
	}
}

// observe adopts a session notification. A status that moves backwards is a
// stale read: the conductor re-syncs from the store instead of trusting it.
func (c *Conductor) observe(ctx context.Context, change docstore.Change) {
	sess, err := decodeSession(change.Data)
	if err != nil {
		c.log.Error("decode session notification", "error", err)
		return
	}
	if c.seen && !sess.Status.Follows(c.session.Status) {
		c.log.Warn("stale session observed, resyncing", "seen", c.session.Status, "got", sess.Status)
		fresh, err := c.svc.loadSession(ctx, c.sessionID)
		if err != nil {
			c.log.Warn("resync failed", "error", err)
			return
		}
		sess = fresh
	}
	c.session = sess
	c.seen = true
}

// step evaluates every automatic transition against the latest session. It
// reports true once the session is completed and results are archived.
func (c *Conductor) step(ctx context.Context) bool {
	now := c.svc.now()
	if c.session.Status != domain.StatusActive {
		c.allFinishedSince = time.Time{}
	}
	switch c.session.Status {
	case domain.StatusCountdown:
		c.activateAfterCountdown(ctx, now)
	case domain.StatusActive:
		if c.expireTimer(ctx, now) {
			break
		}
		c.detectCompletion(ctx, now)
	case domain.StatusCompleted:
		return c.finish(ctx)
	}
	return false
}

func (c *Conductor) activateAfterCountdown(ctx context.Context, now time.Time) {
	started := c.session.CreatedAt
	if c.session.CountdownStartedAt != nil {
		started = *c.session.CountdownStartedAt
	}
	if now.Sub(started) < c.svc.opts.Countdown {
		return
	}
	rules, err := game.For(c.session.GameType)
	if err != nil {
		c.log.Error("unknown game type", "error", err)
		return
	}
	quiz, err := c.svc.quizFor(ctx, c.session.OrganizationID, c.session.QuizID, c.session.GameType)
	if err != nil {
		c.log.Warn("load quiz for activation failed", "error", err)
		return
	}
	budget := rules.TimeBudget(quiz, c.session.Settings)
	sess, err := c.svc.updateSession(ctx, c.sessionID, func(sess *domain.Session, now time.Time) error {
		if err := moveTo(sess, domain.StatusActive); err != nil {
			return err
		}
		timer.Apply(sess, timer.Start(now, budget))
		return nil
	})
	if err != nil {
		c.log.Warn("activate session failed", "error", err)
		return
	}
	c.log.Info("session active", "time_limit", sess.SessionTimeLimit)
	c.session = sess
}

// expireTimer fires the timer completion once. A failed write re-arms the
// latch so the next tick tries again; the write itself is a no-op on an
// already completed session.
func (c *Conductor) expireTimer(ctx context.Context, now time.Time) bool {
	anchor, ok := timer.FromSession(c.session)
	if !ok || !anchor.Expired(now) {
		return false
	}
	if !c.expiry.Fire() {
		return true
	}
	if err := c.completeSession(ctx, domain.CompletedByTimer); err != nil {
		c.log.Warn("timer completion failed", "error", err)
		c.expiry = new(timer.Latch)
	}
	return true
}

// detectCompletion ends a session whose rules allow it once every current
// participant is finished and the predicate has held for the debounce window.
// It runs on every step while active, so participants who finished during a
// pause or before this conductor started are picked up too. The predicate is
// evaluated fresh from the store, never from deltas.
func (c *Conductor) detectCompletion(ctx context.Context, now time.Time) {
	rules, err := game.For(c.session.GameType)
	if err != nil || !rules.EndsWhenAllFinished() {
		return
	}
	pending := !c.allFinishedSince.IsZero()
	finished, err := c.allFinished(ctx, rules)
	if err != nil {
		c.log.Warn("completion check failed", "error", err)
		return
	}
	if !finished {
		c.allFinishedSince = time.Time{}
		return
	}
	if !pending {
		c.allFinishedSince = now
		return
	}
	if now.Sub(c.allFinishedSince) < c.svc.opts.CompletionDebounce {
		return
	}
	if !c.complete.Fire() {
		return
	}
	if err := c.completeSession(ctx, domain.CompletedByAllFinished); err != nil {
		c.log.Warn("auto completion failed", "error", err)
		c.complete = new(timer.Latch)
	}
}

func (c *Conductor) allFinished(ctx context.Context, rules game.Rules) (bool, error) {
	participants, err := c.svc.listParticipants(ctx, c.sessionID)
	if err != nil {
		return false, err
	}
	if len(participants) == 0 {
		return false, nil
	}
	quiz, err := c.svc.quizFor(ctx, c.session.OrganizationID, c.session.QuizID, c.session.GameType)
	if err != nil {
		return false, err
	}
	for _, p := range participants {
		if !rules.Finished(p, quiz) {
			return false, nil
		}
	}
	return true, nil
}

func (c *Conductor) completeSession(ctx context.Context, reason string) error {
	sess, err := c.svc.updateSession(ctx, c.sessionID, completeWith(reason))
	if err != nil {
		// paused or otherwise moved on since the read; the next notification decides
		if errors.Is(err, domain.ErrIllegalTransition) {
			return nil
		}
		return err
	}
	c.log.Info("session completed", "reason", sess.CompletionReason)
	c.session = sess
	return nil
}

// finish archives results once. It returns false when archiving failed so the
// next tick retries.
func (c *Conductor) finish(ctx context.Context) bool {
	if _, err := c.svc.archive.LoadResults(ctx, c.sessionID); err == nil {
		return true
	}
	results, err := c.svc.computeResults(ctx, c.session)
	if err != nil {
		c.log.Warn("archive results failed", "error", err)
		return false
	}
	c.log.Info("results archived", "participants", len(results.Ranking))
	return true
}
