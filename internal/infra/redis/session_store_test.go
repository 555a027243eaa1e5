package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"live-session-service/internal/docstore"
)

func TestSessionStoreLifecycle(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	store := NewSessionStore(newClient(mr), time.Minute)

	if err := store.Create(ctx, "sessions/s1", []byte(`{"v":1}`)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if !mr.Exists("doc:sessions/s1") {
		t.Fatalf("expected redis key to be set")
	}
	if err := store.Create(ctx, "sessions/s1", []byte(`{"v":2}`)); !errors.Is(err, docstore.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	got, err := store.Update(ctx, "sessions/s1", func(cur []byte) ([]byte, error) {
		return []byte(`{"v":3}`), nil
	})
	if err != nil || string(got) != `{"v":3}` {
		t.Fatalf("update: %s %v", got, err)
	}

	sentinel := errors.New("rejected")
	if _, err := store.Update(ctx, "sessions/s1", func([]byte) ([]byte, error) { return nil, sentinel }); !errors.Is(err, sentinel) {
		t.Fatalf("expected update func error to pass through, got %v", err)
	}

	if err := store.Delete(ctx, "sessions/s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if mr.Exists("doc:sessions/s1") {
		t.Fatalf("expected redis key to be removed")
	}
	if _, err := store.Get(ctx, "sessions/s1"); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := store.Delete(ctx, "sessions/s1"); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected second delete to report not found, got %v", err)
	}
	if err := store.Create(ctx, "sessions/s1", []byte(`{}`)); !errors.Is(err, docstore.ErrGone) {
		t.Fatalf("expected tombstone to block re-create, got %v", err)
	}
}

func TestSessionStoreListsCollectionInPathOrder(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	store := NewSessionStore(newClient(mr), 0)
	for _, path := range []string{"s/1/p/b", "s/1/p/a", "s/2/p/c"} {
		if err := store.Create(ctx, path, []byte(`"`+path+`"`)); err != nil {
			t.Fatalf("create %s: %v", path, err)
		}
	}
	_ = store.Delete(ctx, "s/1/p/b")

	docs, err := store.List(ctx, "s/1/p")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 1 || string(docs[0]) != `"s/1/p/a"` {
		t.Fatalf("unexpected list: %q", docs)
	}

	empty, err := store.List(ctx, "s/9/p")
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty list, got %q %v", empty, err)
	}
}

func TestSessionStoreDocumentSubscription(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	store := NewSessionStore(newClient(mr), time.Minute)
	_ = store.Create(ctx, "p/1", []byte(`1`))

	ch, cancel, err := store.SubscribeDocument(ctx, "p/1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	if c := next(t, ch); string(c.Data) != `1` {
		t.Fatalf("expected initial snapshot, got %+v", c)
	}

	_, _ = store.Update(ctx, "p/1", func([]byte) ([]byte, error) { return nil, nil })
	_, _ = store.Update(ctx, "p/1", func([]byte) ([]byte, error) { return []byte(`2`), nil })
	if c := next(t, ch); string(c.Data) != `2` {
		t.Fatalf("expected update, got %+v", c)
	}

	_ = store.Delete(ctx, "p/1")
	if c := next(t, ch); !c.Deleted || c.Path != "p/1" {
		t.Fatalf("expected delete, got %+v", c)
	}
}

func TestSessionStoreSubscribeMissingDocument(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	store := NewSessionStore(newClient(mr), time.Minute)
	ch, cancel, err := store.SubscribeDocument(context.Background(), "p/missing")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()
	if c := next(t, ch); !c.Deleted {
		t.Fatalf("expected deleted initial state, got %+v", c)
	}
}

func TestSessionStoreCollectionSubscriptionClosesOnCancel(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx, stop := context.WithCancel(context.Background())
	store := NewSessionStore(newClient(mr), time.Minute)

	ch, _, err := store.SubscribeCollection(ctx, "s/1/p")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	_ = store.Create(context.Background(), "s/2/p/a", []byte(`{}`))
	_ = store.Create(context.Background(), "s/1/p/a", []byte(`{"n":1}`))
	if c := next(t, ch); c.Path != "s/1/p/a" || string(c.Data) != `{"n":1}` {
		t.Fatalf("unexpected change %+v", c)
	}

	stop()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected channel closed after context cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("channel not closed")
	}
}

func TestSessionStoreUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	store := NewSessionStore(newClient(mr), time.Minute)
	mr.Close()

	if _, err := store.Get(context.Background(), "p/1"); !errors.Is(err, docstore.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func next(t *testing.T, ch <-chan docstore.Change) docstore.Change {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for change")
	}
	return docstore.Change{}
}
