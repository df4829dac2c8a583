package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"rtc-platform/pkg/utils"

	"github.com/google/uuid"
)

// Postgres stores documents as JSONB rows.
//
// Schema (see migrations):
//
//	CREATE TABLE documents (
//	    seq        BIGSERIAL PRIMARY KEY,
//	    collection TEXT NOT NULL,
//	    id         TEXT NOT NULL,
//	    doc        JSONB NOT NULL,
//	    created_at TIMESTAMPTZ NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL,
//	    UNIQUE (collection, id)
//	);
//
// Live queries are realized as a cursor-based poller over seq: each write
// bumps the row to a fresh seq so subscriptions observe it again and decide
// whether it newly entered their result set. Delivery is at-least-once.
type Postgres struct {
	db    *sql.DB
	clock func() time.Time

	// PollInterval controls subscription latency. Zero means 500ms.
	PollInterval time.Duration
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, clock: time.Now}
}

func (p *Postgres) Insert(ctx context.Context, collection string, doc Document) (string, error) {
	id := uuid.NewString()
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	now := p.clock().UTC()
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, doc, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)`,
		collection, id, raw, now)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (p *Postgres) Update(ctx context.Context, collection, id string, patch Document) error {
	now := p.clock().UTC()
	return utils.WithTx(ctx, p.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		var raw []byte
		err := tx.QueryRowContext(ctx, `
			SELECT doc FROM documents
			WHERE collection = $1 AND id = $2
			FOR UPDATE`,
			collection, id).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var doc Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return err
		}
		for k, v := range patch {
			doc[k] = v
		}
		merged, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		// Re-insert under a fresh seq so pollers see the updated row.
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM documents WHERE collection = $1 AND id = $2`,
			collection, id); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO documents (collection, id, doc, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)`,
			collection, id, merged, now, now)
		return err
	})
}

func (p *Postgres) Get(ctx context.Context, collection, id string) (Document, error) {
	var raw []byte
	err := p.db.QueryRowContext(ctx, `
		SELECT doc FROM documents
		WHERE collection = $1 AND id = $2`,
		collection, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (p *Postgres) Subscribe(ctx context.Context, collection string, filter Filter) (Subscription, error) {
	interval := p.PollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	// Start behind the current tail so only documents added after Subscribe
	// are delivered, matching the live-query contract.
	var cursor int64
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM documents WHERE collection = $1`,
		collection).Scan(&cursor)
	if err != nil {
		return nil, err
	}

	s := &pgSub{
		out:  make(chan Change),
		done: make(chan struct{}),
	}
	go s.poll(p, collection, filter, cursor, interval)
	return s, nil
}

type pgSub struct {
	out       chan Change
	done      chan struct{}
	closeOnce sync.Once
	seen      map[string]bool
}

func (s *pgSub) Changes() <-chan Change { return s.out }

func (s *pgSub) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *pgSub) poll(p *Postgres, collection string, filter Filter, cursor int64, interval time.Duration) {
	// Sole sender on out; closing it here lets range-based consumers exit.
	defer close(s.out)
	s.seen = make(map[string]bool)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-t.C:
		}
		rows, err := p.db.Query(`
			SELECT seq, id, doc FROM documents
			WHERE collection = $1 AND seq > $2
			ORDER BY seq ASC`,
			collection, cursor)
		if err != nil {
			continue // transient store error; retry on next tick
		}
		type hit struct {
			id  string
			doc Document
		}
		var hits []hit
		for rows.Next() {
			var seq int64
			var id string
			var raw []byte
			if err := rows.Scan(&seq, &id, &raw); err != nil {
				break
			}
			cursor = seq
			var doc Document
			if err := json.Unmarshal(raw, &doc); err != nil {
				continue
			}
			matched := Matches(doc, filter)
			wasIn := s.seen[id]
			s.seen[id] = matched
			if matched && !wasIn {
				hits = append(hits, hit{id: id, doc: doc})
			}
		}
		rows.Close()
		for _, h := range hits {
			select {
			case s.out <- Change{Collection: collection, ID: h.id, Doc: h.doc}:
			case <-s.done:
				return
			}
		}
	}
}
