package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"live-session-service/internal/docstore"
)

// SessionStore is an in-process implementation of docstore.Store.
// Subscribers get drop-oldest delivery so a slow reader never blocks writers.
type SessionStore struct {
	mu         sync.RWMutex
	docs       map[string][]byte
	tombstones map[string]struct{}
	docSubs    map[string]map[chan docstore.Change]struct{}
	colSubs    map[string]map[chan docstore.Change]struct{}
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		docs:       make(map[string][]byte),
		tombstones: make(map[string]struct{}),
		docSubs:    make(map[string]map[chan docstore.Change]struct{}),
		colSubs:    make(map[string]map[chan docstore.Change]struct{}),
	}
}

func (s *SessionStore) Get(_ context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.docs[path]
	if !ok {
		return nil, docstore.ErrNotFound
	}
	return clone(data), nil
}

func (s *SessionStore) Create(_ context.Context, path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, gone := s.tombstones[path]; gone {
		return docstore.ErrGone
	}
	if _, ok := s.docs[path]; ok {
		return docstore.ErrExists
	}
	s.docs[path] = clone(data)
	s.publishLocked(docstore.Change{Path: path, Data: clone(data)})
	return nil
}

func (s *SessionStore) Update(_ context.Context, path string, fn docstore.UpdateFunc) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.docs[path]
	if !ok {
		return nil, docstore.ErrNotFound
	}
	next, err := fn(clone(current))
	if err != nil {
		return nil, err
	}
	if next == nil {
		return clone(current), nil
	}
	s.docs[path] = clone(next)
	s.publishLocked(docstore.Change{Path: path, Data: clone(next)})
	return clone(next), nil
}

func (s *SessionStore) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[path]; !ok {
		return docstore.ErrNotFound
	}
	delete(s.docs, path)
	s.tombstones[path] = struct{}{}
	s.publishLocked(docstore.Change{Path: path, Deleted: true})
	return nil
}

func (s *SessionStore) List(_ context.Context, collection string) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prefix := collection + "/"
	paths := make([]string, 0)
	for path := range s.docs {
		rest, ok := strings.CutPrefix(path, prefix)
		if !ok || strings.Contains(rest, "/") {
			continue
		}
		paths = append(paths, path)
	}
	sort.Strings(paths)
	out := make([][]byte, 0, len(paths))
	for _, path := range paths {
		out = append(out, clone(s.docs[path]))
	}
	return out, nil
}

func (s *SessionStore) SubscribeDocument(ctx context.Context, path string) (<-chan docstore.Change, func(), error) {
	ch := make(chan docstore.Change, docstore.SubscriberBuffer)

	s.mu.Lock()
	addSub(s.docSubs, path, ch)
	initial := docstore.Change{Path: path, Deleted: true}
	if data, ok := s.docs[path]; ok {
		initial = docstore.Change{Path: path, Data: clone(data)}
	}
	ch <- initial
	s.mu.Unlock()

	return ch, s.cancelFunc(ctx, s.docSubs, path, ch), nil
}

func (s *SessionStore) SubscribeCollection(ctx context.Context, collection string) (<-chan docstore.Change, func(), error) {
	ch := make(chan docstore.Change, docstore.SubscriberBuffer)
	s.mu.Lock()
	addSub(s.colSubs, collection, ch)
	s.mu.Unlock()
	return ch, s.cancelFunc(ctx, s.colSubs, collection, ch), nil
}

func (s *SessionStore) cancelFunc(ctx context.Context, subs map[string]map[chan docstore.Change]struct{}, key string, ch chan docstore.Change) func() {
	var once sync.Once
	remove := func() {
		once.Do(func() {
			s.mu.Lock()
			if set, ok := subs[key]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(subs, key)
				}
			}
			close(ch)
			s.mu.Unlock()
		})
	}
	stop := context.AfterFunc(ctx, remove)
	return func() {
		stop()
		remove()
	}
}

func (s *SessionStore) publishLocked(change docstore.Change) {
	for ch := range s.docSubs[change.Path] {
		docstore.Deliver(ch, change)
	}
	for ch := range s.colSubs[docstore.Parent(change.Path)] {
		docstore.Deliver(ch, change)
	}
}

func addSub(subs map[string]map[chan docstore.Change]struct{}, key string, ch chan docstore.Change) {
	set, ok := subs[key]
	if !ok {
		set = make(map[chan docstore.Change]struct{})
		subs[key] = set
	}
	set[ch] = struct{}{}
}

func clone(data []byte) []byte {
	if data == nil {
		return nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out
}
