package objectstore

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// UploadMetadata describes the artifact being uploaded.
type UploadMetadata struct {
	OwnerID     string
	Title       string
	ContentType string
}

// UploadResult carries the storage references the backend assigned.
type UploadResult struct {
	StorageRef   string
	ThumbnailRef string
}

// Uploader is the binary object-storage collaborator. It stores the finalized
// recording artifact and returns durable references to it.
type Uploader interface {
	Upload(ctx context.Context, data []byte, meta UploadMetadata) (UploadResult, error)
}

// Memory keeps uploaded blobs in process. Used in tests and local runs.
type Memory struct {
	// Fail makes every upload fail, simulating an unreachable backend.
	Fail bool

	mu    sync.Mutex
	blobs map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

func (m *Memory) Upload(ctx context.Context, data []byte, meta UploadMetadata) (UploadResult, error) {
	if m.Fail {
		return UploadResult{}, errors.New("object storage unreachable")
	}
	id := uuid.NewString()
	ref := "mem://recordings/" + id
	m.mu.Lock()
	m.blobs[ref] = append([]byte(nil), data...)
	m.mu.Unlock()
	return UploadResult{
		StorageRef:   ref,
		ThumbnailRef: "mem://thumbnails/" + id + ".jpg",
	}, nil
}

// Blob returns an uploaded artifact by reference.
func (m *Memory) Blob(ref string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[ref]
	return b, ok
}

// Count returns the number of stored artifacts.
func (m *Memory) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.blobs)
}
