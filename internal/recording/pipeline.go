package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"rtc-platform/internal/config"
	"rtc-platform/internal/docstore"
	"rtc-platform/internal/objectstore"
)

type State string

const (
	StateIdle       State = "idle"
	StateRecording  State = "recording"
	StateFinalizing State = "finalizing"
)

var (
	// ErrNoMediaSource means Start was called without a local media stream.
	ErrNoMediaSource = errors.New("recording: no media source")

	// ErrAlreadyRecording means Start was called while a recording is
	// active. The running recording is unaffected.
	ErrAlreadyRecording = errors.New("recording: already recording")

	// ErrNotRecording means Stop was called with nothing to finalize.
	ErrNotRecording = errors.New("recording: not recording")

	// ErrUploadFailed means finalization failed at the storage boundary.
	// Buffered chunks are retained; the caller may call Stop again to retry
	// or Discard to drop them. No automatic retry is performed.
	ErrUploadFailed = errors.New("recording: upload failed")
)

// Source is the local media stream being captured. The channel yields
// encoded chunks in capture order and is closed when the stream ends.
type Source interface {
	Chunks() <-chan []byte
}

// StopMetadata describes the artifact to register when a recording stops.
type StopMetadata struct {
	OwnerID     string
	PartnerID   string
	PartnerName string

	// Title falls back to "Session with {PartnerName}" when empty.
	Title string

	// PriceMinor is floored at the configured minimum.
	PriceMinor int64

	DurationSeconds int
}

// Pipeline captures one call's local media into ordered chunks and, on stop,
// assembles them into a single artifact, uploads it and registers its
// metadata.
//
// State flow: idle -> recording -> finalizing -> idle. One recording per
// call: the pipeline is per-call state, never shared between calls. While
// recording, the pipeline exclusively owns its media source.
type Pipeline struct {
	store    docstore.Store
	uploads  objectstore.Uploader
	minPrice int64
	clock    func() time.Time
	log      *slog.Logger

	mu     sync.Mutex
	state  State
	chunks [][]byte
}

func NewPipeline(store docstore.Store, uploads objectstore.Uploader, cfg config.RecordingConfig, log *slog.Logger) *Pipeline {
	return &Pipeline{
		store:    store,
		uploads:  uploads,
		minPrice: cfg.MinPriceMinor,
		clock:    time.Now,
		log:      log,
		state:    StateIdle,
	}
}

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Active reports whether a recording is currently capturing.
func (p *Pipeline) Active() bool { return p.State() == StateRecording }

// BufferedChunks returns how many chunks are held for the current recording.
func (p *Pipeline) BufferedChunks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.chunks)
}

// Start begins capturing from src. It consumes chunks until the source
// closes or the recording leaves the recording state.
func (p *Pipeline) Start(src Source) error {
	if src == nil {
		return ErrNoMediaSource
	}
	p.mu.Lock()
	if p.state == StateRecording {
		p.mu.Unlock()
		p.log.Warn("recording start ignored: already recording")
		return ErrAlreadyRecording
	}
	if p.state == StateFinalizing {
		p.mu.Unlock()
		return ErrAlreadyRecording
	}
	p.state = StateRecording
	p.chunks = nil
	p.mu.Unlock()

	go func() {
		for chunk := range src.Chunks() {
			p.append(chunk)
		}
	}()
	return nil
}

// append buffers a chunk in capture order. Zero-length chunks are discarded.
// Chunks arriving after the recording stopped capturing are dropped.
func (p *Pipeline) append(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateRecording {
		return
	}
	p.chunks = append(p.chunks, append([]byte(nil), chunk...))
}

// Stop finalizes the recording: concatenates the buffered chunks, uploads
// the artifact and registers its metadata. On upload failure the buffered
// chunks are kept and Stop may be called again to retry.
func (p *Pipeline) Stop(ctx context.Context, meta StopMetadata) (Artifact, error) {
	p.mu.Lock()
	if p.state != StateRecording && p.state != StateFinalizing {
		p.mu.Unlock()
		return Artifact{}, ErrNotRecording
	}
	p.state = StateFinalizing
	chunks := p.chunks
	p.mu.Unlock()

	var size int
	for _, c := range chunks {
		size += len(c)
	}
	data := make([]byte, 0, size)
	for _, c := range chunks {
		data = append(data, c...)
	}

	title := meta.Title
	if title == "" {
		title = "Session with " + meta.PartnerName
	}

	res, err := p.uploads.Upload(ctx, data, objectstore.UploadMetadata{
		OwnerID:     meta.OwnerID,
		Title:       title,
		ContentType: "video/webm",
	})
	if err != nil {
		p.log.Error("recording upload failed", "owner_id", meta.OwnerID, "bytes", len(data), "err", err)
		return Artifact{}, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	price := meta.PriceMinor
	if price < p.minPrice {
		price = p.minPrice
	}

	art := Artifact{
		OwnerID:         meta.OwnerID,
		PartnerID:       meta.PartnerID,
		PartnerName:     meta.PartnerName,
		Title:           title,
		DurationSeconds: meta.DurationSeconds,
		CreatedAt:       p.clock().UTC(),
		Published:       false,
		PriceMinor:      price,
		ThumbnailRef:    res.ThumbnailRef,
		StorageRef:      res.StorageRef,
	}
	id, err := p.store.Insert(ctx, Collection, artifactDoc(art))
	if err != nil {
		// Blob is uploaded but unregistered; keep chunks so the caller can
		// retry the whole finalization.
		p.log.Error("recording registration failed", "owner_id", meta.OwnerID, "err", err)
		return Artifact{}, fmt.Errorf("%w: register metadata: %v", ErrUploadFailed, err)
	}
	art.ID = id

	p.mu.Lock()
	p.chunks = nil
	p.state = StateIdle
	p.mu.Unlock()

	p.log.Info("recording finalized",
		"artifact_id", id, "owner_id", meta.OwnerID,
		"bytes", len(data), "chunks", len(chunks), "duration_seconds", meta.DurationSeconds)
	return art, nil
}

// Discard drops any buffered chunks and returns the pipeline to idle.
func (p *Pipeline) Discard() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chunks = nil
	p.state = StateIdle
}
