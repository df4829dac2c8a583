package docstore

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process Store with live subscriptions. It backs unit tests
// and single-node deployments; multi-node deployments layer the Redis fanout
// or the Postgres backend on top.
type Memory struct {
	mu   sync.Mutex
	docs map[string]map[string]Document
	subs map[*memorySub]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		docs: make(map[string]map[string]Document),
		subs: make(map[*memorySub]struct{}),
	}
}

func (m *Memory) Insert(ctx context.Context, collection string, doc Document) (string, error) {
	id := uuid.NewString()
	m.mu.Lock()
	coll := m.docs[collection]
	if coll == nil {
		coll = make(map[string]Document)
		m.docs[collection] = coll
	}
	coll[id] = Clone(doc)
	m.notifyLocked(collection, id, coll[id], nil)
	m.mu.Unlock()
	return id, nil
}

func (m *Memory) Update(ctx context.Context, collection, id string, patch Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	coll := m.docs[collection]
	if coll == nil {
		return ErrNotFound
	}
	prev, ok := coll[id]
	if !ok {
		return ErrNotFound
	}
	next := Clone(prev)
	for k, v := range patch {
		next[k] = v
	}
	coll[id] = next
	m.notifyLocked(collection, id, next, prev)
	return nil
}

func (m *Memory) Get(ctx context.Context, collection, id string) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	coll := m.docs[collection]
	if coll == nil {
		return nil, ErrNotFound
	}
	doc, ok := coll[id]
	if !ok {
		return nil, ErrNotFound
	}
	return Clone(doc), nil
}

// notifyLocked fires an "added" change for every subscription whose filter
// the document newly matches. prev is nil on insert.
func (m *Memory) notifyLocked(collection, id string, doc, prev Document) {
	for s := range m.subs {
		if s.collection != collection {
			continue
		}
		if !Matches(doc, s.filter) {
			continue
		}
		if prev != nil && Matches(prev, s.filter) {
			continue // already in the result set; not an "added" event
		}
		s.enqueue(Change{Collection: collection, ID: id, Doc: Clone(doc)})
	}
}

func (m *Memory) Subscribe(ctx context.Context, collection string, filter Filter) (Subscription, error) {
	s := &memorySub{
		store:      m,
		collection: collection,
		filter:     filter,
		out:        make(chan Change),
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	m.mu.Lock()
	m.subs[s] = struct{}{}
	m.mu.Unlock()
	go s.pump()
	return s, nil
}

// memorySub decouples notification from delivery with an unbounded queue so
// a slow consumer never blocks the store's write path, while capture order
// is preserved.
type memorySub struct {
	store      *Memory
	collection string
	filter     Filter

	mu      sync.Mutex
	pending []Change
	closed  bool

	out  chan Change
	wake chan struct{}
	done chan struct{}
}

func (s *memorySub) Changes() <-chan Change { return s.out }

func (s *memorySub) enqueue(c Change) {
	s.mu.Lock()
	if !s.closed {
		s.pending = append(s.pending, c)
	}
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *memorySub) pump() {
	// Sole sender on out; closing it here lets range-based consumers exit.
	defer close(s.out)
	for range s.wake {
		for {
			s.mu.Lock()
			if s.closed {
				s.mu.Unlock()
				return
			}
			if len(s.pending) == 0 {
				s.mu.Unlock()
				break
			}
			c := s.pending[0]
			s.pending = s.pending[1:]
			s.mu.Unlock()
			select {
			case s.out <- c:
			case <-s.done:
				// in-flight change dropped on close
				return
			}
		}
	}
}

func (s *memorySub) Close() error {
	s.store.mu.Lock()
	delete(s.store.subs, s)
	s.store.mu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.pending = nil
	s.mu.Unlock()
	close(s.done)
	close(s.wake)
	return nil
}
