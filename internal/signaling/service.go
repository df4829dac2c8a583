package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"rtc-platform/internal/docstore"
	"rtc-platform/internal/rooms"
)

var (
	// ErrPersistence means the backing store was unreachable; call setup
	// cannot proceed.
	ErrPersistence = errors.New("signaling: store unavailable")

	// ErrInvalidTransition means a transition was requested that the invite
	// state machine forbids. Non-fatal: the invite is left unchanged.
	ErrInvalidTransition = errors.New("signaling: invalid transition")

	ErrInvalidParticipant = errors.New("signaling: participant id required")
)

// Participant identifies one side of a call.
type Participant struct {
	ID   string
	Name string
}

// Service owns the call-invite lifecycle. All invite mutations go through
// its transition operations.
type Service struct {
	store docstore.Store
	clock func() time.Time
	log   *slog.Logger
}

func NewService(store docstore.Store, log *slog.Logger) *Service {
	return &Service{store: store, clock: time.Now, log: log}
}

// CreateCall persists a new ringing invite and returns its ID together with
// the room both parties rendezvous in.
func (s *Service) CreateCall(ctx context.Context, caller, callee Participant) (callID, roomID string, err error) {
	if caller.ID == "" || callee.ID == "" {
		return "", "", ErrInvalidParticipant
	}

	now := s.clock().UTC()
	inv := CallInvite{
		RoomID:     rooms.Name(caller.ID, callee.ID),
		CallerID:   caller.ID,
		CallerName: caller.Name,
		CalleeID:   callee.ID,
		CalleeName: callee.Name,
		Status:     StatusRinging,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	id, err := s.store.Insert(ctx, Collection, inviteDoc(inv))
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	s.log.Info("call created", "call_id", id, "room_id", inv.RoomID, "caller_id", caller.ID, "callee_id", callee.ID)
	return id, inv.RoomID, nil
}

// Invite fetches one invite by ID.
func (s *Service) Invite(ctx context.Context, callID string) (CallInvite, error) {
	doc, err := s.store.Get(ctx, Collection, callID)
	if errors.Is(err, docstore.ErrNotFound) {
		return CallInvite{}, err
	}
	if err != nil {
		return CallInvite{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return inviteFromDoc(callID, doc), nil
}

// ListenIncoming starts a live query for ringing invites addressed to userID
// and invokes fn once per newly observed invite, in store delivery order.
//
// The returned function cancels the listener: no callback starts for any
// event observed after it returns; a delivery racing the cancellation may
// still complete and is otherwise dropped. Cancelling from inside the
// callback itself is safe. A panicking callback is logged and does not
// terminate the subscription.
func (s *Service) ListenIncoming(ctx context.Context, userID string, fn func(CallInvite)) (func(), error) {
	if userID == "" {
		return nil, ErrInvalidParticipant
	}
	sub, err := s.store.Subscribe(ctx, Collection, docstore.Filter{
		"callee_id": userID,
		"status":    string(StatusRinging),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	l := &listener{fn: fn, log: s.log}
	go func() {
		seen := make(map[string]bool)
		for c := range sub.Changes() {
			if seen[c.ID] {
				// at-least-once store delivery collapsed to exactly-once
				continue
			}
			seen[c.ID] = true
			l.deliver(inviteFromDoc(c.ID, c.Doc))
		}
	}()

	return func() {
		l.closed.Store(true)
		_ = sub.Close()
	}, nil
}

// listener serializes callback delivery and gates it on cancellation. The
// closed flag flips before the unsubscribe function returns and is checked
// under the delivery mutex right before each invocation, so no new callback
// starts afterwards. Cancellation never takes the delivery mutex, which is
// what makes unsubscribing from inside the callback safe.
type listener struct {
	mu     sync.Mutex
	closed atomic.Bool
	fn     func(CallInvite)
	log    *slog.Logger
}

func (l *listener) deliver(inv CallInvite) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed.Load() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("incoming-invite callback panicked", "call_id", inv.ID, "panic", r)
		}
	}()
	l.fn(inv)
}

// AcceptCall transitions an invite from ringing to accepted.
//
// Misuse (missing invite, already ended) returns ErrInvalidTransition and
// leaves state unchanged; callers should report it without aborting their
// own flow.
func (s *Service) AcceptCall(ctx context.Context, callID string) error {
	return s.transition(ctx, callID, StatusAccepted, false)
}

// EndCall transitions an invite to ended. Idempotent: ending an already
// ended invite is a no-op.
func (s *Service) EndCall(ctx context.Context, callID string) error {
	return s.transition(ctx, callID, StatusEnded, true)
}

func (s *Service) transition(ctx context.Context, callID string, to InviteStatus, idempotent bool) error {
	inv, err := s.Invite(ctx, callID)
	if errors.Is(err, docstore.ErrNotFound) {
		s.log.Warn("transition on unknown invite", "call_id", callID, "to", to)
		return ErrInvalidTransition
	}
	if err != nil {
		return err
	}

	if inv.Status == to && idempotent {
		return nil
	}
	if !CanTransition(inv.Status, to) {
		s.log.Warn("transition rejected", "call_id", callID, "from", inv.Status, "to", to)
		return ErrInvalidTransition
	}

	patch := docstore.Document{
		"status":     string(to),
		"updated_at": s.clock().UTC().Format(time.RFC3339Nano),
	}
	if err := s.store.Update(ctx, Collection, callID, patch); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return ErrInvalidTransition
		}
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	s.log.Info("call transitioned", "call_id", callID, "from", inv.Status, "to", to)
	return nil
}
