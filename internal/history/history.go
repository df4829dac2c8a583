package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"rtc-platform/internal/docstore"
)

// Collection is the document-store collection holding session history.
const Collection = "session_history"

// Entry is a completed call's audit record, owned by the party that ended
// the call. Entries are written exactly once per termination and are
// immutable thereafter.
type Entry struct {
	ID              string    `json:"id"`
	OwnerID         string    `json:"owner_id"`
	PartnerID       string    `json:"partner_id"`
	PartnerName     string    `json:"partner_name"`
	DurationSeconds int       `json:"duration_seconds"`
	Timestamp       time.Time `json:"timestamp"`
	FeeMinor        int64     `json:"fee_minor"`
	Recorded        bool      `json:"recorded"`
}

var ErrInvalidEntry = errors.New("history: invalid entry")

// Service persists session history through the document store.
type Service struct {
	store docstore.Store
	log   *slog.Logger
}

func NewService(store docstore.Store, log *slog.Logger) *Service {
	return &Service{store: store, log: log}
}

// Record writes one history entry and returns its ID. The exactly-once
// guarantee is the caller's: the session orchestrator invokes Record from a
// single idempotent termination path.
func (s *Service) Record(ctx context.Context, e Entry) (string, error) {
	if e.OwnerID == "" || e.PartnerID == "" {
		return "", ErrInvalidEntry
	}
	if e.DurationSeconds < 0 {
		return "", ErrInvalidEntry
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	id, err := s.store.Insert(ctx, Collection, docstore.Document{
		"owner_id":         e.OwnerID,
		"partner_id":       e.PartnerID,
		"partner_name":     e.PartnerName,
		"duration_seconds": e.DurationSeconds,
		"timestamp":        ts.UTC().Format(time.RFC3339Nano),
		"fee_minor":        e.FeeMinor,
		"recorded":         e.Recorded,
	})
	if err != nil {
		return "", fmt.Errorf("history: persist entry: %w", err)
	}
	s.log.Info("session history recorded",
		"entry_id", id, "owner_id", e.OwnerID, "partner_id", e.PartnerID,
		"duration_seconds", e.DurationSeconds, "recorded", e.Recorded)
	return id, nil
}
