package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"rtc-platform/internal/history"
	"rtc-platform/internal/media"
	"rtc-platform/internal/recording"
	"rtc-platform/internal/rooms"
)

// ErrCredentialAcquisition means the media transport could not issue a join
// credential. Fatal to call setup: the call does not start.
var ErrCredentialAcquisition = errors.New("session: credential acquisition failed")

// Identity names one participant of the session.
type Identity struct {
	ID   string
	Name string
}

type EventKind string

const (
	// EventTick carries the elapsed display duration, emitted about once a
	// second while the session is live.
	EventTick EventKind = "tick"

	// EventEnded is the final event before the stream closes.
	EventEnded EventKind = "ended"
)

type Event struct {
	Kind    EventKind
	Elapsed time.Duration

	// DurationSeconds is the persisted wall-clock duration, set on ended.
	DurationSeconds int
}

// FeeCalculator prices a finished call.
type FeeCalculator interface {
	CallFee(durationSeconds int) int64
}

// HistoryRecorder persists the session's audit record.
type HistoryRecorder interface {
	Record(ctx context.Context, e history.Entry) (string, error)
}

// CallEnder marks the signaling invite ended. Satisfied by
// signaling.Service.
type CallEnder interface {
	EndCall(ctx context.Context, callID string) error
}

// Deps are the collaborators one session runs against. Recorder, Fees and
// Signals are optional.
type Deps struct {
	Transport media.Transport
	Recorder  *recording.Pipeline
	History   HistoryRecorder
	Fees      FeeCalculator
	Signals   CallEnder
	Log       *slog.Logger
}

// Orchestrator controls a single call from join to termination: it acquires
// the join credential, tracks elapsed time, drives the recording pipeline
// and writes exactly one history entry when the call ends.
//
// All state is per-instance; concurrent calls use separate orchestrators and
// never share mutable state.
type Orchestrator struct {
	deps    Deps
	local   Identity
	partner Identity
	callID  string

	clock     func() time.Time
	tickEvery time.Duration

	mu      sync.Mutex
	started bool
	ended   bool
	startAt time.Time
	endAt   time.Time
	conn    media.Conn

	events   chan Event
	stopTick chan struct{}
	tickDone chan struct{}
}

// New builds an orchestrator for a call between local and partner. callID
// may be empty when the session is not tied to a signaling invite.
func New(local, partner Identity, callID string, deps Deps) *Orchestrator {
	return &Orchestrator{
		deps:      deps,
		local:     local,
		partner:   partner,
		callID:    callID,
		clock:     time.Now,
		tickEvery: time.Second,
		events:    make(chan Event, 16),
		stopTick:  make(chan struct{}),
		tickDone:  make(chan struct{}),
	}
}

// Events delivers ticks while the call is live and a final ended event. The
// channel closes after the ended event.
func (o *Orchestrator) Events() <-chan Event { return o.events }

// Start resolves the room, acquires a join credential and joins. On
// credential failure the call is aborted and nothing is joined.
func (o *Orchestrator) Start(ctx context.Context) error {
	roomID := rooms.Name(o.local.ID, o.partner.ID)

	cred, err := o.deps.Transport.RequestJoinCredential(ctx, roomID, o.local.ID, o.local.Name)
	if err != nil {
		o.deps.Log.Error("join credential request failed", "room_id", roomID, "identity", o.local.ID, "err", err)
		return fmt.Errorf("%w: %v", ErrCredentialAcquisition, err)
	}

	conn, err := o.deps.Transport.Join(ctx, cred)
	if err != nil {
		o.deps.Log.Error("room join failed", "room_id", roomID, "err", err)
		return fmt.Errorf("session: join room: %w", err)
	}

	o.mu.Lock()
	o.started = true
	o.startAt = o.clock()
	o.conn = conn
	o.mu.Unlock()

	o.deps.Log.Info("session started", "room_id", roomID, "local", o.local.ID, "partner", o.partner.ID)

	go o.watch(conn)
	go o.tickLoop()
	return nil
}

// watch consumes transport events; a disconnect terminates the session.
func (o *Orchestrator) watch(conn media.Conn) {
	for ev := range conn.Events() {
		if ev.Kind == media.EventDisconnected {
			_ = o.terminate(context.Background(), "transport disconnect: "+ev.Reason)
		}
	}
}

// tickLoop emits display ticks at ~1s granularity. The persisted duration is
// computed from wall-clock start/end, never from the tick count.
func (o *Orchestrator) tickLoop() {
	defer close(o.tickDone)
	t := time.NewTicker(o.tickEvery)
	defer t.Stop()
	for {
		select {
		case <-o.stopTick:
			return
		case <-t.C:
			select {
			case o.events <- Event{Kind: EventTick, Elapsed: o.Elapsed()}:
			default:
				// slow consumer; the next tick supersedes this one
			}
		}
	}
}

// Elapsed returns the live wall-clock duration of the session.
func (o *Orchestrator) Elapsed() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.started {
		return 0
	}
	if o.ended {
		return o.endAt.Sub(o.startAt)
	}
	return o.clock().Sub(o.startAt)
}

// StartRecording begins capturing the local media source into the session's
// recording pipeline.
func (o *Orchestrator) StartRecording(src recording.Source) error {
	if o.deps.Recorder == nil {
		return recording.ErrNoMediaSource
	}
	return o.deps.Recorder.Start(src)
}

// End terminates the session on local hang-up.
func (o *Orchestrator) End(ctx context.Context) error {
	return o.terminate(ctx, "local hang-up")
}

// terminate is the single idempotent termination path: stop an active
// recording first (upload attempt included), then write exactly one history
// entry, then notify the consumer. Repeat triggers are no-ops.
func (o *Orchestrator) terminate(ctx context.Context, reason string) error {
	o.mu.Lock()
	if !o.started || o.ended {
		o.mu.Unlock()
		return nil
	}
	o.ended = true
	o.endAt = o.clock()
	startAt := o.startAt
	endAt := o.endAt
	conn := o.conn
	o.mu.Unlock()

	close(o.stopTick)
	<-o.tickDone

	durSec := int(endAt.Sub(startAt) / time.Second)
	if durSec < 0 {
		durSec = 0
	}

	recorded := false
	if o.deps.Recorder != nil && o.deps.Recorder.Active() {
		_, err := o.deps.Recorder.Stop(ctx, recording.StopMetadata{
			OwnerID:         o.local.ID,
			PartnerID:       o.partner.ID,
			PartnerName:     o.partner.Name,
			DurationSeconds: durSec,
		})
		if err != nil {
			// The history write below still happens; buffered chunks stay
			// available for a manual retry.
			o.deps.Log.Error("recording finalization failed", "partner", o.partner.ID, "err", err)
		} else {
			recorded = true
		}
	}

	var fee int64
	if o.deps.Fees != nil {
		fee = o.deps.Fees.CallFee(durSec)
	}

	if _, err := o.deps.History.Record(ctx, history.Entry{
		OwnerID:         o.local.ID,
		PartnerID:       o.partner.ID,
		PartnerName:     o.partner.Name,
		DurationSeconds: durSec,
		Timestamp:       endAt,
		FeeMinor:        fee,
		Recorded:        recorded,
	}); err != nil {
		o.deps.Log.Error("history write failed", "partner", o.partner.ID, "err", err)
	}

	if o.deps.Signals != nil && o.callID != "" {
		if err := o.deps.Signals.EndCall(ctx, o.callID); err != nil {
			o.deps.Log.Warn("invite end failed", "call_id", o.callID, "err", err)
		}
	}

	if conn != nil {
		_ = conn.Leave(ctx)
	}

	o.deps.Log.Info("session ended", "reason", reason, "duration_seconds", durSec, "recorded", recorded)
	final := Event{Kind: EventEnded, Elapsed: endAt.Sub(startAt), DurationSeconds: durSec}
	select {
	case o.events <- final:
	default:
		// buffer full of stale ticks; drop one to make room. tickLoop has
		// exited, so this is the only sender.
		select {
		case <-o.events:
		default:
		}
		o.events <- final
	}
	close(o.events)
	return nil
}
