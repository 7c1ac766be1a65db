package domain

// Domain contains core models shared across the automation pipeline.

import "time"

// GeoLocation is the optional place metadata attached to a photo.
type GeoLocation struct {
	Locality string `json:"locality,omitempty"`
	Region   string `json:"region,omitempty"`
	Country  string `json:"country,omitempty"`
}

// CameraInfo carries the EXIF make/model pair when the photo exposes it.
type CameraInfo struct {
	Make  string `json:"make,omitempty"`
	Model string `json:"model,omitempty"`
}

// Photo is a read-only projection of one remote Flickr photo.
//
// DateTaken is kept in Flickr's "2006-01-02 15:04:05" form; it sorts
// lexicographically in chronological order and is the sole ordering key
// (ties broken by ID) when album positions are assigned.
type Photo struct {
	ID          string
	Title       string
	Description string
	DateTaken   string
	Server      string
	Secret      string
	SourceURL   string // direct image URL, publishable
	PageURL     string // Flickr photo page
	Hashtags    string
	Geo         *GeoLocation
	Camera      *CameraInfo
	// EmbeddedURLs are URLs lifted out of free-text fields (description,
	// EXIF usage terms). Blog enrichment feeds on these.
	EmbeddedURLs []string
}

// PostRecord is one durable record of a completed (or dry-run simulated)
// publish. Created exactly once per successfully completed position.
type PostRecord struct {
	AlbumPosition  int       `json:"album_position"`
	PhotoID        string    `json:"photo_id"`
	RemotePostID   string    `json:"remote_post_id,omitempty"` // empty on dry runs
	PostedAt       time.Time `json:"posted_at"`
	SourceURL      string    `json:"source_url,omitempty"`
	CaptionPreview string    `json:"caption_preview,omitempty"`
	RetryCount     int       `json:"retry_count"`
	IsDryRun       bool      `json:"is_dry_run"`
	RunID          string    `json:"run_id,omitempty"`
}

// FailedPosition records a position that could not be completed. Resolved
// records are kept for audit history and never retried again.
type FailedPosition struct {
	AlbumPosition int        `json:"album_position"`
	PhotoID       string     `json:"photo_id"`
	FailedAt      time.Time  `json:"failed_at"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	RetryCount    int        `json:"retry_count"`
	LastRetryAt   *time.Time `json:"last_retry_at,omitempty"`
	Resolved      bool       `json:"resolved"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
	RunID         string     `json:"run_id,omitempty"`
}

// AlbumMetadata is a derived summary document rewritten wholesale after
// every state mutation. It serves fast statistics reads only; completion
// decisions always recompute from the posts/failed documents.
type AlbumMetadata struct {
	AlbumID              string    `json:"album_id"`
	Account              string    `json:"account"`
	TotalItems           int       `json:"total_items"`
	PostedCount          int       `json:"posted_count"`
	DryRunCount          int       `json:"dry_run_count,omitempty"`
	FailedCount          int       `json:"failed_count"` // unresolved only
	CompletionPercentage float64   `json:"completion_percentage"`
	IsComplete           bool      `json:"is_complete"`
	CreatedAt            time.Time `json:"created_at"`
	LastUpdated          time.Time `json:"last_updated"`
	LastPostedPosition   int       `json:"last_posted_position,omitempty"`
	LastRunID            string    `json:"last_run_id,omitempty"`
	ErrorCount           int       `json:"error_count,omitempty"`
	LastErrorMessage     string    `json:"last_error_message,omitempty"`
}

// NewAlbumMetadata initializes a fresh summary document for an album scope.
func NewAlbumMetadata(account, albumID string) AlbumMetadata {
	now := time.Now().UTC()
	return AlbumMetadata{
		AlbumID:     albumID,
		Account:     account,
		CreatedAt:   now,
		LastUpdated: now,
	}
}

// OutcomeKind enumerates how a unit of work finished.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeFailure
	OutcomeDryRun
)

// Outcome reports the result of processing one photo back to the
// progression engine.
type Outcome struct {
	Kind           OutcomeKind
	RemotePostID   string
	CaptionPreview string
	ErrorMessage   string
}

// Success builds the outcome for a real published post.
func Success(remotePostID, captionPreview string) Outcome {
	return Outcome{Kind: OutcomeSuccess, RemotePostID: remotePostID, CaptionPreview: captionPreview}
}

// Failure builds the outcome for an item-level publish failure.
func Failure(errMessage string) Outcome {
	return Outcome{Kind: OutcomeFailure, ErrorMessage: errMessage}
}

// DryRunSuccess builds the outcome for a simulated publish.
func DryRunSuccess(captionPreview string) Outcome {
	return Outcome{Kind: OutcomeDryRun, CaptionPreview: captionPreview}
}
