package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"live-session-service/internal/docstore"
)

// maxTxRetries bounds optimistic WATCH/MULTI retries under contention.
const maxTxRetries = 32

// SessionStore implements docstore.Store on Redis.
//
// Layout:
//
//	doc:{path}            JSON document (string)
//	tomb:{path}           tombstone left by Delete
//	members:{collection}  set of document paths in a collection
//
// Every write publishes its change on changes:doc:{path} and
// changes:col:{collection} inside the same MULTI, so subscribers observe
// changes to one document in commit order.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

type wireChange struct {
	Path    string          `json:"path"`
	Data    json.RawMessage `json:"data,omitempty"`
	Deleted bool            `json:"deleted,omitempty"`
}

func (s *SessionStore) Get(ctx context.Context, path string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.docKey(path)).Bytes()
	if err != nil {
		return nil, wrapErr(err)
	}
	return data, nil
}

func (s *SessionStore) Create(ctx context.Context, path string, data []byte) error {
	key, tomb := s.docKey(path), s.tombKey(path)
	return s.watch(ctx, func(tx *redis.Tx) error {
		gone, err := tx.Exists(ctx, tomb).Result()
		if err != nil {
			return err
		}
		if gone > 0 {
			return docstore.ErrGone
		}
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return docstore.ErrExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			s.addMember(ctx, pipe, path)
			return s.publish(ctx, pipe, docstore.Change{Path: path, Data: data})
		})
		return err
	}, key, tomb)
}

func (s *SessionStore) Update(ctx context.Context, path string, fn docstore.UpdateFunc) ([]byte, error) {
	key := s.docKey(path)
	var (
		result []byte
		fnErr  error
	)
	err := s.watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			return err
		}
		next, err := fn(current)
		if err != nil {
			fnErr = err
			return err
		}
		if next == nil {
			result = current
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, s.ttl)
			return s.publish(ctx, pipe, docstore.Change{Path: path, Data: next})
		})
		if err == nil {
			result = next
		}
		return err
	}, key)
	if fnErr != nil {
		return nil, fnErr
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SessionStore) Delete(ctx context.Context, path string) error {
	key := s.docKey(path)
	return s.watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists == 0 {
			return docstore.ErrNotFound
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SRem(ctx, s.membersKey(docstore.Parent(path)), path)
			pipe.Set(ctx, s.tombKey(path), "1", s.ttl)
			return s.publish(ctx, pipe, docstore.Change{Path: path, Deleted: true})
		})
		return err
	}, key)
}

func (s *SessionStore) List(ctx context.Context, collection string) ([][]byte, error) {
	paths, err := s.client.SMembers(ctx, s.membersKey(collection)).Result()
	if err != nil {
		return nil, wrapErr(err)
	}
	out := make([][]byte, 0, len(paths))
	if len(paths) == 0 {
		return out, nil
	}
	sort.Strings(paths)
	keys := make([]string, len(paths))
	for i, p := range paths {
		keys[i] = s.docKey(p)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, wrapErr(err)
	}
	for _, v := range values {
		// expired documents leave a stale member behind
		if str, ok := v.(string); ok {
			out = append(out, []byte(str))
		}
	}
	return out, nil
}

func (s *SessionStore) SubscribeDocument(ctx context.Context, path string) (<-chan docstore.Change, func(), error) {
	sub, err := s.subscribe(ctx, s.docChannel(path))
	if err != nil {
		return nil, nil, err
	}
	initial := docstore.Change{Path: path, Deleted: true}
	data, err := s.Get(ctx, path)
	switch {
	case err == nil:
		initial = docstore.Change{Path: path, Data: data}
	case !errors.Is(err, docstore.ErrNotFound):
		sub.cancel()
		return nil, nil, err
	}
	sub.out <- initial
	go sub.pump()
	return sub.out, sub.stopFunc(ctx), nil
}

func (s *SessionStore) SubscribeCollection(ctx context.Context, collection string) (<-chan docstore.Change, func(), error) {
	sub, err := s.subscribe(ctx, s.colChannel(collection))
	if err != nil {
		return nil, nil, err
	}
	go sub.pump()
	return sub.out, sub.stopFunc(ctx), nil
}

type subscription struct {
	ps     *redis.PubSub
	out    chan docstore.Change
	done   chan struct{}
	pumped chan struct{}
	once   sync.Once
}

// subscribe waits for the SUBSCRIBE confirmation so no change published after return is missed.
func (s *SessionStore) subscribe(ctx context.Context, channel string) (*subscription, error) {
	ps := s.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, wrapErr(err)
	}
	return &subscription{
		ps:     ps,
		out:    make(chan docstore.Change, docstore.SubscriberBuffer),
		done:   make(chan struct{}),
		pumped: make(chan struct{}),
	}, nil
}

func (sub *subscription) pump() {
	defer close(sub.pumped)
	msgs := sub.ps.Channel()
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var wc wireChange
			if err := json.Unmarshal([]byte(msg.Payload), &wc); err != nil {
				continue
			}
			docstore.Deliver(sub.out, docstore.Change{Path: wc.Path, Data: []byte(wc.Data), Deleted: wc.Deleted})
		case <-sub.done:
			return
		}
	}
}

// cancel is used before pump starts.
func (sub *subscription) cancel() {
	sub.once.Do(func() {
		close(sub.done)
		_ = sub.ps.Close()
		close(sub.out)
	})
}

func (sub *subscription) stopFunc(ctx context.Context) func() {
	remove := func() {
		sub.once.Do(func() {
			close(sub.done)
			_ = sub.ps.Close()
			<-sub.pumped
			close(sub.out)
		})
	}
	stop := context.AfterFunc(ctx, remove)
	return func() {
		stop()
		remove()
	}
}

func (s *SessionStore) watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return wrapErr(err)
	}
	return fmt.Errorf("%w: too much contention on %v", docstore.ErrUnavailable, keys)
}

func (s *SessionStore) addMember(ctx context.Context, pipe redis.Pipeliner, path string) {
	members := s.membersKey(docstore.Parent(path))
	pipe.SAdd(ctx, members, path)
	if s.ttl > 0 {
		pipe.Expire(ctx, members, s.ttl)
	}
}

func (s *SessionStore) publish(ctx context.Context, pipe redis.Pipeliner, change docstore.Change) error {
	payload, err := json.Marshal(wireChange{Path: change.Path, Data: change.Data, Deleted: change.Deleted})
	if err != nil {
		return err
	}
	pipe.Publish(ctx, s.docChannel(change.Path), payload)
	pipe.Publish(ctx, s.colChannel(docstore.Parent(change.Path)), payload)
	return nil
}

func (s *SessionStore) docKey(path string) string           { return "doc:" + path }
func (s *SessionStore) tombKey(path string) string          { return "tomb:" + path }
func (s *SessionStore) membersKey(collection string) string { return "members:" + collection }
func (s *SessionStore) docChannel(path string) string       { return "changes:doc:" + path }
func (s *SessionStore) colChannel(collection string) string { return "changes:col:" + collection }

// wrapErr maps redis errors onto the docstore taxonomy. Errors already in it pass through.
func wrapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.Nil):
		return docstore.ErrNotFound
	case errors.Is(err, docstore.ErrNotFound), errors.Is(err, docstore.ErrExists),
		errors.Is(err, docstore.ErrGone), errors.Is(err, docstore.ErrUnavailable):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return fmt.Errorf("%w: %v", docstore.ErrUnavailable, err)
}
