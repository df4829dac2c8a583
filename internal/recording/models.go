package recording

import (
	"time"

	"rtc-platform/internal/docstore"
)

// Collection is the document-store collection holding recording metadata.
const Collection = "recordings"

// Artifact is a captured session recording registered for later retrieval
// and monetization. It stays unlisted (Published false) until its owner
// explicitly publishes it; view/earnings accounting mutates it later.
type Artifact struct {
	ID              string    `json:"id"`
	OwnerID         string    `json:"owner_id"`
	PartnerID       string    `json:"partner_id"`
	PartnerName     string    `json:"partner_name"`
	Title           string    `json:"title"`
	DurationSeconds int       `json:"duration_seconds"`
	CreatedAt       time.Time `json:"created_at"`
	ViewCount       int       `json:"view_count"`
	EarningsMinor   int64     `json:"earnings_minor"`
	Published       bool      `json:"published"`
	PriceMinor      int64     `json:"price_minor"`
	ThumbnailRef    string    `json:"thumbnail_ref"`
	StorageRef      string    `json:"storage_ref"`
}

func artifactDoc(a Artifact) docstore.Document {
	return docstore.Document{
		"owner_id":         a.OwnerID,
		"partner_id":       a.PartnerID,
		"partner_name":     a.PartnerName,
		"title":            a.Title,
		"duration_seconds": a.DurationSeconds,
		"created_at":       a.CreatedAt.UTC().Format(time.RFC3339Nano),
		"view_count":       a.ViewCount,
		"earnings_minor":   a.EarningsMinor,
		"published":        a.Published,
		"price_minor":      a.PriceMinor,
		"thumbnail_ref":    a.ThumbnailRef,
		"storage_ref":      a.StorageRef,
	}
}
