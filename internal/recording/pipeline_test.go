package recording

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"rtc-platform/internal/config"
	"rtc-platform/internal/docstore"
	"rtc-platform/internal/objectstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type chanSource struct{ ch chan []byte }

func newChanSource() *chanSource            { return &chanSource{ch: make(chan []byte, 16)} }
func (s *chanSource) Chunks() <-chan []byte { return s.ch }

func newTestPipeline(minPrice int64) (*Pipeline, *docstore.Memory, *objectstore.Memory) {
	store := docstore.NewMemory()
	uploads := objectstore.NewMemory()
	p := NewPipeline(store, uploads, config.RecordingConfig{MinPriceMinor: minPrice}, testLogger())
	return p, store, uploads
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached in time")
}

func TestStart_RequiresSource(t *testing.T) {
	p, _, _ := newTestPipeline(0)
	if err := p.Start(nil); err != ErrNoMediaSource {
		t.Fatalf("expected ErrNoMediaSource, got %v", err)
	}
	if p.State() != StateIdle {
		t.Fatalf("state changed on failed start: %s", p.State())
	}
}

func TestStart_WhileRecordingIsNoOp(t *testing.T) {
	p, _, _ := newTestPipeline(0)
	src := newChanSource()
	if err := p.Start(src); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := p.Start(newChanSource()); err != ErrAlreadyRecording {
		t.Fatalf("expected ErrAlreadyRecording, got %v", err)
	}
	if p.State() != StateRecording {
		t.Fatalf("running recording disturbed: %s", p.State())
	}
}

func TestChunks_EmptyDiscardedOrderKept(t *testing.T) {
	p, _, uploads := newTestPipeline(0)
	src := newChanSource()
	if err := p.Start(src); err != nil {
		t.Fatalf("start: %v", err)
	}

	src.ch <- []byte("aa")
	src.ch <- nil
	src.ch <- []byte{}
	src.ch <- []byte("bb")
	src.ch <- []byte("cc")
	waitFor(t, func() bool { return p.BufferedChunks() == 3 })

	art, err := p.Stop(context.Background(), StopMetadata{
		OwnerID: "u1", PartnerID: "u2", PartnerName: "Bea",
		Title: "Morning call", DurationSeconds: 10,
	})
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	blob, ok := uploads.Blob(art.StorageRef)
	if !ok {
		t.Fatalf("artifact blob not uploaded")
	}
	if string(blob) != "aabbcc" {
		t.Fatalf("chunks out of order or lost: %q", blob)
	}
	if p.State() != StateIdle {
		t.Fatalf("expected idle after stop, got %s", p.State())
	}
}

func TestStop_DefaultTitleAndPriceFloor(t *testing.T) {
	p, store, _ := newTestPipeline(500)
	src := newChanSource()
	if err := p.Start(src); err != nil {
		t.Fatalf("start: %v", err)
	}
	src.ch <- []byte("x")
	src.ch <- []byte("y")
	src.ch <- []byte("z")
	waitFor(t, func() bool { return p.BufferedChunks() == 3 })

	art, err := p.Stop(context.Background(), StopMetadata{
		OwnerID: "u1", PartnerID: "u2", PartnerName: "Bea",
		PriceMinor: 100, DurationSeconds: 42,
	})
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if art.Title != "Session with Bea" {
		t.Fatalf("expected generated title, got %q", art.Title)
	}
	if art.PriceMinor != 500 {
		t.Fatalf("expected price floored to 500, got %d", art.PriceMinor)
	}
	if art.Published {
		t.Fatalf("artifact must start unpublished")
	}
	if art.ViewCount != 0 || art.EarningsMinor != 0 {
		t.Fatalf("counters must start at zero: %+v", art)
	}
	if art.DurationSeconds != 42 {
		t.Fatalf("expected duration 42, got %d", art.DurationSeconds)
	}

	doc, err := store.Get(context.Background(), Collection, art.ID)
	if err != nil {
		t.Fatalf("artifact not registered: %v", err)
	}
	if doc["title"] != "Session with Bea" || doc["published"] != false {
		t.Fatalf("unexpected registered doc: %+v", doc)
	}
}

func TestStop_ZeroChunksProducesEmptyArtifact(t *testing.T) {
	p, _, uploads := newTestPipeline(0)
	if err := p.Start(newChanSource()); err != nil {
		t.Fatalf("start: %v", err)
	}
	art, err := p.Stop(context.Background(), StopMetadata{OwnerID: "u1", PartnerID: "u2", PartnerName: "Bea"})
	if err != nil {
		t.Fatalf("stop with zero chunks must still finalize: %v", err)
	}
	blob, ok := uploads.Blob(art.StorageRef)
	if !ok {
		t.Fatalf("empty artifact not uploaded")
	}
	if len(blob) != 0 {
		t.Fatalf("expected empty artifact, got %d bytes", len(blob))
	}
}

func TestStop_UploadFailureRetainsChunksForRetry(t *testing.T) {
	p, _, uploads := newTestPipeline(0)
	src := newChanSource()
	if err := p.Start(src); err != nil {
		t.Fatalf("start: %v", err)
	}
	src.ch <- []byte("keep")
	waitFor(t, func() bool { return p.BufferedChunks() == 1 })

	uploads.Fail = true
	_, err := p.Stop(context.Background(), StopMetadata{OwnerID: "u1", PartnerID: "u2", PartnerName: "Bea"})
	if !errors.Is(err, ErrUploadFailed) {
		t.Fatalf("expected ErrUploadFailed, got %v", err)
	}
	if p.BufferedChunks() != 1 {
		t.Fatalf("buffered chunks dropped on upload failure")
	}
	if p.State() != StateFinalizing {
		t.Fatalf("expected finalizing while awaiting retry, got %s", p.State())
	}

	// Manual retry with the backend back up succeeds with the same chunks.
	uploads.Fail = false
	art, err := p.Stop(context.Background(), StopMetadata{OwnerID: "u1", PartnerID: "u2", PartnerName: "Bea"})
	if err != nil {
		t.Fatalf("retry stop: %v", err)
	}
	blob, _ := uploads.Blob(art.StorageRef)
	if string(blob) != "keep" {
		t.Fatalf("retry lost buffered chunks: %q", blob)
	}
	if p.State() != StateIdle {
		t.Fatalf("expected idle after retry, got %s", p.State())
	}
}

func TestDiscard_DropsBufferedChunks(t *testing.T) {
	p, _, uploads := newTestPipeline(0)
	src := newChanSource()
	if err := p.Start(src); err != nil {
		t.Fatalf("start: %v", err)
	}
	src.ch <- []byte("junk")
	waitFor(t, func() bool { return p.BufferedChunks() == 1 })

	uploads.Fail = true
	if _, err := p.Stop(context.Background(), StopMetadata{OwnerID: "u1", PartnerID: "u2"}); !errors.Is(err, ErrUploadFailed) {
		t.Fatalf("expected ErrUploadFailed, got %v", err)
	}
	p.Discard()
	if p.BufferedChunks() != 0 || p.State() != StateIdle {
		t.Fatalf("discard did not reset pipeline")
	}
}

func TestStop_WhileIdle(t *testing.T) {
	p, _, _ := newTestPipeline(0)
	if _, err := p.Stop(context.Background(), StopMetadata{OwnerID: "u1", PartnerID: "u2"}); err != ErrNotRecording {
		t.Fatalf("expected ErrNotRecording, got %v", err)
	}
}
