package docstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const fanoutChannel = "docstore:added"

type fanoutMsg struct {
	Origin     string   `json:"origin"`
	Collection string   `json:"collection"`
	ID         string   `json:"id"`
	Doc        Document `json:"doc"`
}

// Fanout bridges "added" changes between API instances through Redis Pub/Sub.
//
// Writes go to the wrapped store and are then published; changes published by
// other instances are replayed into local subscriptions. Events originated by
// this instance are skipped on receive since the wrapped store already
// delivered them locally.
type Fanout struct {
	inner    Store
	rdb      *redis.Client
	log      *slog.Logger
	instance string

	mu   sync.Mutex
	subs map[*fanoutSub]struct{}
}

func NewFanout(inner Store, rdb *redis.Client, log *slog.Logger) *Fanout {
	return &Fanout{
		inner:    inner,
		rdb:      rdb,
		log:      log,
		instance: uuid.NewString(),
		subs:     make(map[*fanoutSub]struct{}),
	}
}

// Run consumes the Redis channel until ctx is cancelled. Call it once from a
// dedicated goroutine.
func (f *Fanout) Run(ctx context.Context) {
	sub := f.rdb.Subscribe(ctx, fanoutChannel)
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var m fanoutMsg
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				f.log.Warn("fanout payload unmarshal failed", "err", err)
				continue
			}
			if m.Origin == f.instance {
				continue
			}
			f.dispatch(m)
		}
	}
}

func (f *Fanout) dispatch(m fanoutMsg) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for s := range f.subs {
		if s.collection != m.Collection {
			continue
		}
		if !Matches(m.Doc, s.filter) {
			continue
		}
		s.enqueueRemote(Change{Collection: m.Collection, ID: m.ID, Doc: Clone(m.Doc)})
	}
}

func (f *Fanout) publish(ctx context.Context, collection, id string, doc Document) {
	payload, err := json.Marshal(fanoutMsg{
		Origin:     f.instance,
		Collection: collection,
		ID:         id,
		Doc:        doc,
	})
	if err != nil {
		f.log.Warn("fanout payload marshal failed", "err", err)
		return
	}
	if err := f.rdb.Publish(ctx, fanoutChannel, payload).Err(); err != nil {
		// Best-effort: local delivery already happened via the inner store.
		f.log.Warn("fanout publish failed", "collection", collection, "err", err)
	}
}

func (f *Fanout) Insert(ctx context.Context, collection string, doc Document) (string, error) {
	id, err := f.inner.Insert(ctx, collection, doc)
	if err != nil {
		return "", err
	}
	f.publish(ctx, collection, id, doc)
	return id, nil
}

func (f *Fanout) Update(ctx context.Context, collection, id string, patch Document) error {
	if err := f.inner.Update(ctx, collection, id, patch); err != nil {
		return err
	}
	if doc, err := f.inner.Get(ctx, collection, id); err == nil {
		f.publish(ctx, collection, id, doc)
	}
	return nil
}

func (f *Fanout) Get(ctx context.Context, collection, id string) (Document, error) {
	return f.inner.Get(ctx, collection, id)
}

func (f *Fanout) Subscribe(ctx context.Context, collection string, filter Filter) (Subscription, error) {
	local, err := f.inner.Subscribe(ctx, collection, filter)
	if err != nil {
		return nil, err
	}
	s := &fanoutSub{
		owner:      f,
		local:      local,
		collection: collection,
		filter:     filter,
		out:        make(chan Change),
		remote:     make(chan Change, 64),
		done:       make(chan struct{}),
		seen:       make(map[string]bool),
	}
	f.mu.Lock()
	f.subs[s] = struct{}{}
	f.mu.Unlock()
	go s.pump()
	return s, nil
}

// fanoutSub merges local store changes with remote replays, deduplicating by
// document ID so an invite inserted on this instance and echoed through Redis
// is still delivered once.
type fanoutSub struct {
	owner      *Fanout
	local      Subscription
	collection string
	filter     Filter

	out    chan Change
	remote chan Change
	done   chan struct{}

	closeOnce sync.Once
	seen      map[string]bool
}

func (s *fanoutSub) Changes() <-chan Change { return s.out }

func (s *fanoutSub) enqueueRemote(c Change) {
	select {
	case s.remote <- c:
	default:
		// Slow consumer; the remote copy is dropped. Local deliveries from
		// the wrapped store are unaffected.
	}
}

func (s *fanoutSub) pump() {
	// Sole sender on out; closing it here lets range-based consumers exit.
	defer close(s.out)
	for {
		var c Change
		select {
		case <-s.done:
			return
		case c = <-s.remote:
		case lc, ok := <-s.local.Changes():
			if !ok {
				return
			}
			c = lc
		}
		if s.seen[c.ID] {
			continue
		}
		s.seen[c.ID] = true
		select {
		case s.out <- c:
		case <-s.done:
			return
		}
	}
}

func (s *fanoutSub) Close() error {
	s.closeOnce.Do(func() {
		s.owner.mu.Lock()
		delete(s.owner.subs, s)
		s.owner.mu.Unlock()
		close(s.done)
	})
	return s.local.Close()
}
