package objectstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// FS writes artifacts under a local directory. It is the single-node durable
// backend; a remote blob store would implement Uploader the same way.
type FS struct {
	root string
}

func NewFS(root string) (*FS, error) {
	if root == "" {
		return nil, fmt.Errorf("objectstore: root dir is required")
	}
	if err := os.MkdirAll(filepath.Join(root, "recordings"), 0o755); err != nil {
		return nil, fmt.Errorf("objectstore: init root: %w", err)
	}
	return &FS{root: root}, nil
}

func (f *FS) Upload(ctx context.Context, data []byte, meta UploadMetadata) (UploadResult, error) {
	if err := ctx.Err(); err != nil {
		return UploadResult{}, err
	}
	id := uuid.NewString()
	path := filepath.Join(f.root, "recordings", id)

	// Write via a temp file so a crash never leaves a partial artifact
	// under the final name.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return UploadResult{}, fmt.Errorf("objectstore: write artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return UploadResult{}, fmt.Errorf("objectstore: finalize artifact: %w", err)
	}
	return UploadResult{
		StorageRef:   "file://" + path,
		ThumbnailRef: "",
	}, nil
}
