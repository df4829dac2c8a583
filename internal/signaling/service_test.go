package signaling

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"runtime"
	"testing"
	"time"

	"rtc-platform/internal/docstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService() (*Service, *docstore.Memory) {
	store := docstore.NewMemory()
	return NewService(store, testLogger()), store
}

func TestCreateCall_PersistsRingingInvite(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	callID, roomID, err := svc.CreateCall(ctx, Participant{ID: "u2", Name: "Bea"}, Participant{ID: "u1", Name: "Avi"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if roomID != "u1_u2" {
		t.Fatalf("expected room u1_u2, got %q", roomID)
	}

	inv, err := svc.Invite(ctx, callID)
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if inv.Status != StatusRinging {
		t.Fatalf("expected ringing, got %s", inv.Status)
	}
	if inv.CallerID != "u2" || inv.CalleeID != "u1" {
		t.Fatalf("unexpected participants: %+v", inv)
	}
	if inv.UpdatedAt.Before(inv.CreatedAt) {
		t.Fatalf("updated_at before created_at")
	}
}

func TestCreateCall_RequiresParticipants(t *testing.T) {
	svc, _ := newTestService()
	if _, _, err := svc.CreateCall(context.Background(), Participant{}, Participant{ID: "u2"}); err != ErrInvalidParticipant {
		t.Fatalf("expected ErrInvalidParticipant, got %v", err)
	}
}

type downStore struct{}

func (downStore) Insert(context.Context, string, docstore.Document) (string, error) {
	return "", errors.New("connection refused")
}
func (downStore) Update(context.Context, string, string, docstore.Document) error {
	return errors.New("connection refused")
}
func (downStore) Get(context.Context, string, string) (docstore.Document, error) {
	return nil, errors.New("connection refused")
}
func (downStore) Subscribe(context.Context, string, docstore.Filter) (docstore.Subscription, error) {
	return nil, errors.New("connection refused")
}

func TestCreateCall_StoreDownReportsPersistence(t *testing.T) {
	svc := NewService(downStore{}, testLogger())
	_, _, err := svc.CreateCall(context.Background(), Participant{ID: "a"}, Participant{ID: "b"})
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
}

func TestAcceptCall_Transitions(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	callID, _, _ := svc.CreateCall(ctx, Participant{ID: "a"}, Participant{ID: "b"})
	if err := svc.AcceptCall(ctx, callID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	inv, _ := svc.Invite(ctx, callID)
	if inv.Status != StatusAccepted {
		t.Fatalf("expected accepted, got %s", inv.Status)
	}

	// Accepting twice is misuse, not a crash.
	if err := svc.AcceptCall(ctx, callID); err != ErrInvalidTransition {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestAcceptCall_UnknownInvite(t *testing.T) {
	svc, _ := newTestService()
	if err := svc.AcceptCall(context.Background(), "nope"); err != ErrInvalidTransition {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestEndCall_Idempotent(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	callID, _, _ := svc.CreateCall(ctx, Participant{ID: "a"}, Participant{ID: "b"})
	if err := svc.EndCall(ctx, callID); err != nil {
		t.Fatalf("end: %v", err)
	}
	if err := svc.EndCall(ctx, callID); err != nil {
		t.Fatalf("second end should be a no-op, got %v", err)
	}
	inv, _ := svc.Invite(ctx, callID)
	if inv.Status != StatusEnded {
		t.Fatalf("expected ended, got %s", inv.Status)
	}

	// Ended is terminal: accept after end is rejected and state unchanged.
	if err := svc.AcceptCall(ctx, callID); err != ErrInvalidTransition {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	inv, _ = svc.Invite(ctx, callID)
	if inv.Status != StatusEnded {
		t.Fatalf("backward transition happened: %s", inv.Status)
	}
}

func TestListenIncoming_DeliversOnlyMatchingInvites(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	got := make(chan CallInvite, 8)
	unsub, err := svc.ListenIncoming(ctx, "u2", func(inv CallInvite) { got <- inv })
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer unsub()

	// Invite for someone else must not be delivered.
	if _, _, err := svc.CreateCall(ctx, Participant{ID: "x"}, Participant{ID: "y"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	callID, _, err := svc.CreateCall(ctx, Participant{ID: "u1", Name: "Avi"}, Participant{ID: "u2", Name: "Bea"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	select {
	case inv := <-got:
		if inv.ID != callID || inv.Status != StatusRinging || inv.CallerID != "u1" {
			t.Fatalf("unexpected invite: %+v", inv)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for invite")
	}
	select {
	case inv := <-got:
		t.Fatalf("unexpected extra invite: %+v", inv)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestListenIncoming_UnsubscribeStopsCallbacks(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	calls := make(chan struct{}, 8)
	unsub, err := svc.ListenIncoming(ctx, "u2", func(CallInvite) { calls <- struct{}{} })
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	unsub()

	if _, _, err := svc.CreateCall(ctx, Participant{ID: "u1"}, Participant{ID: "u2"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	select {
	case <-calls:
		t.Fatalf("callback invoked after unsubscribe")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestListenIncoming_CallbackPanicKeepsSubscriptionAlive(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	got := make(chan CallInvite, 8)
	first := true
	unsub, err := svc.ListenIncoming(ctx, "u2", func(inv CallInvite) {
		if first {
			first = false
			panic("listener bug")
		}
		got <- inv
	})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer unsub()

	if _, _, err := svc.CreateCall(ctx, Participant{ID: "a"}, Participant{ID: "u2"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	second, _, err := svc.CreateCall(ctx, Participant{ID: "b"}, Participant{ID: "u2"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	select {
	case inv := <-got:
		if inv.ID != second {
			t.Fatalf("expected invite %s, got %s", second, inv.ID)
		}
	case <-time.After(time.Second):
		t.Fatalf("subscription died after callback panic")
	}
}

func TestListenIncoming_UnsubscribeReleasesListenerGoroutine(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	before := runtime.NumGoroutine()
	for i := 0; i < 100; i++ {
		unsub, err := svc.ListenIncoming(ctx, "u2", func(CallInvite) {})
		if err != nil {
			t.Fatalf("listen: %v", err)
		}
		unsub()
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if runtime.NumGoroutine() <= before+2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("listener goroutines leaked: before=%d after=%d", before, runtime.NumGoroutine())
}

func TestListenIncoming_UnsubscribeFromInsideCallback(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	fired := make(chan struct{}, 2)
	var unsub func()
	unsub, err := svc.ListenIncoming(ctx, "u2", func(CallInvite) {
		unsub()
		fired <- struct{}{}
	})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	if _, _, err := svc.CreateCall(ctx, Participant{ID: "u1"}, Participant{ID: "u2"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatalf("unsubscribe from inside the callback deadlocked")
	}

	// The listener is gone: a later invite triggers no callback.
	if _, _, err := svc.CreateCall(ctx, Participant{ID: "u3"}, Participant{ID: "u2"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	select {
	case <-fired:
		t.Fatalf("callback invoked after unsubscribe")
	case <-time.After(150 * time.Millisecond):
	}
}
