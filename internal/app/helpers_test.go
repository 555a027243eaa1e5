package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"live-session-service/internal/docstore"
	"live-session-service/internal/domain"
	"live-session-service/internal/infra/memory"
	"live-session-service/internal/recovery"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 11, 22, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// flakyStore fails writes with a transient error. lostAcks applies the write
// first and then reports failure, like a timeout after the store committed.
// Creates under failCreates are always refused. Document subscriptions can be
// fed extra notifications with replay.
type flakyStore struct {
	docstore.Store
	mu          sync.Mutex
	failures    int
	lostAcks    int
	failCreates string
	feeds       map[string][]chan docstore.Change
}

func (f *flakyStore) Create(ctx context.Context, path string, data []byte) error {
	f.mu.Lock()
	prefix := f.failCreates
	f.mu.Unlock()
	if prefix != "" && strings.HasPrefix(path, prefix) {
		return fmt.Errorf("%w: connection refused", docstore.ErrUnavailable)
	}
	return f.Store.Create(ctx, path, data)
}

func (f *flakyStore) SubscribeDocument(ctx context.Context, path string) (<-chan docstore.Change, func(), error) {
	src, stop, err := f.Store.SubscribeDocument(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	extra := make(chan docstore.Change, docstore.SubscriberBuffer)
	f.mu.Lock()
	if f.feeds == nil {
		f.feeds = make(map[string][]chan docstore.Change)
	}
	f.feeds[path] = append(f.feeds[path], extra)
	f.mu.Unlock()

	out := make(chan docstore.Change, docstore.SubscriberBuffer)
	go func() {
		defer close(out)
		for {
			var change docstore.Change
			select {
			case c, ok := <-src:
				if !ok {
					return
				}
				change = c
			case change = <-extra:
			case <-ctx.Done():
				return
			}
			select {
			case out <- change:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, stop, nil
}

// replay pushes data to every subscriber of path as if the store had
// published it, without writing anything.
func (f *flakyStore) replay(path string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.feeds[path] {
		ch <- docstore.Change{Path: path, Data: data}
	}
}

func (f *flakyStore) refuseCreates(prefix string) {
	f.mu.Lock()
	f.failCreates = prefix
	f.mu.Unlock()
}

func (f *flakyStore) Update(ctx context.Context, path string, fn docstore.UpdateFunc) ([]byte, error) {
	f.mu.Lock()
	fail, lose := f.failures > 0, false
	if fail {
		f.failures--
	} else if f.lostAcks > 0 {
		f.lostAcks--
		lose = true
	}
	f.mu.Unlock()

	if fail {
		return nil, fmt.Errorf("%w: connection reset", docstore.ErrUnavailable)
	}
	data, err := f.Store.Update(ctx, path, fn)
	if lose && err == nil {
		return nil, fmt.Errorf("%w: i/o timeout", docstore.ErrUnavailable)
	}
	return data, err
}

func (f *flakyStore) failNext(n int) {
	f.mu.Lock()
	f.failures = n
	f.mu.Unlock()
}

func (f *flakyStore) loseNextAcks(n int) {
	f.mu.Lock()
	f.lostAcks = n
	f.mu.Unlock()
}

type fixture struct {
	svc     *SessionService
	store   *flakyStore
	clock   *fakeClock
	archive *countingArchive
	deps    Deps
	opts    Options
}

// countingArchive counts result writes on top of the in-memory archive.
type countingArchive struct {
	*memory.ResultArchive
	mu    sync.Mutex
	saves int
}

func (a *countingArchive) SaveResults(ctx context.Context, results domain.Results) error {
	a.mu.Lock()
	a.saves++
	a.mu.Unlock()
	return a.ResultArchive.SaveResults(ctx, results)
}

func (a *countingArchive) Saves() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.saves
}

func newFixture(t *testing.T, capacity CapacityPolicy) *fixture {
	t.Helper()
	f := &fixture{
		store:   &flakyStore{Store: memory.NewSessionStore()},
		clock:   newFakeClock(),
		archive: &countingArchive{ResultArchive: memory.NewResultArchive()},
	}
	f.deps = Deps{
		Store:      f.store,
		Quizzes:    memory.NewQuizRepository(memory.NewStaticQuizLoader(testQuizzes()), time.Minute),
		Archive:    f.archive,
		Capacity:   capacity,
		Tokens:     recovery.NewCodec("test-secret", recovery.DefaultValidity),
		Recoveries: memory.NewRecoveryStore(),
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	f.opts = Options{
		Countdown:          time.Second,
		CompletionDebounce: 2 * time.Second,
		Tick:               5 * time.Millisecond,
		RetryInitial:       time.Millisecond,
		RetryMaxElapsed:    time.Second,
	}
	f.svc = newSessionServiceWithClock(f.deps, f.opts, f.clock.Now)
	t.Cleanup(func() { f.svc.Close() })
	return f
}

// restart stops the service and its conductors and brings up a fresh one over
// the same store, like a process restart against Redis.
func (f *fixture) restart() {
	f.svc.Close()
	f.svc = newSessionServiceWithClock(f.deps, f.opts, f.clock.Now)
}

func testQuizzes() map[string]domain.Quiz {
	questions := make([]domain.Question, 5)
	for i := range questions {
		questions[i] = domain.Question{
			ID:            fmt.Sprintf("q%d", i+1),
			Prompt:        fmt.Sprintf("Question %d", i+1),
			Options:       []domain.Option{{ID: "a", Text: "A"}, {ID: "b", Text: "B"}, {ID: "c", Text: "C"}},
			CorrectAnswer: 1,
			TimeLimit:     20,
		}
	}
	return map[string]domain.Quiz{
		"quiz-1": {ID: "quiz-1", OrganizationID: "org-1", Title: "Onboarding", Questions: questions, PassMark: 60},
	}
}

// create makes a session and returns it with its trainer key.
func (f *fixture) create(t *testing.T, gameType domain.GameType, settings domain.Settings) (domain.Session, string) {
	t.Helper()
	req := CreateRequest{OrganizationID: "org-1", QuizID: "quiz-1", GameType: gameType, Settings: settings}
	if gameType == domain.GameTypeBingo {
		req.QuizID = ""
	}
	created, err := f.svc.CreateSession(context.Background(), req)
	require.NoError(t, err)
	return created.Session, created.TrainerKey
}

// activate starts the session and lets the conductor finish the countdown.
func (f *fixture) activate(t *testing.T, sessionID, key string) domain.Session {
	t.Helper()
	_, err := f.svc.Start(context.Background(), sessionID, key)
	require.NoError(t, err)
	f.clock.Advance(2 * time.Second)
	return f.waitStatus(t, sessionID, domain.StatusActive)
}

func (f *fixture) waitStatus(t *testing.T, sessionID string, want domain.Status) domain.Session {
	t.Helper()
	var sess domain.Session
	require.Eventually(t, func() bool {
		var err error
		sess, err = f.svc.Session(context.Background(), sessionID)
		return err == nil && sess.Status == want
	}, 3*time.Second, 5*time.Millisecond, "session never reached %s", want)
	return sess
}

func (f *fixture) join(t *testing.T, code, name string) Joined {
	t.Helper()
	joined, err := f.svc.Join(context.Background(), code, name)
	require.NoError(t, err)
	return joined
}
