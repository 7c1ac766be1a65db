package state

import (
	"sort"

	"github.com/webmemo-code/flickr-to-instagram-automation/internal/domain"
	"github.com/webmemo-code/flickr-to-instagram-automation/internal/logger"
)

// Options holds the progression policy knobs.
type Options struct {
	// MaxAutoRetries bounds how often a failed position is retried before
	// it stops blocking completion. Zero means never exhaust: unresolved
	// failures keep the album incomplete until they succeed.
	MaxAutoRetries int
	// AllowMismatchedRetry permits retrying a failed position whose
	// recorded photo id no longer matches the live catalog at that rank.
	// Off by default; upstream deletions have historically shifted
	// positions and a blind retry would publish the wrong photo.
	AllowMismatchedRetry bool
}

// Selection is the result of asking for the next unit of work.
type Selection struct {
	Complete   bool
	Position   int
	Photo      domain.Photo
	IsRetry    bool
	RetryCount int
}

// OrderCatalog returns the catalog sorted ascending by (DateTaken, ID).
// The remote listing order is never trusted: the same photo set yields the
// same positions no matter how the API paginated or ordered its response.
func OrderCatalog(catalog []domain.Photo) []domain.Photo {
	out := append([]domain.Photo(nil), catalog...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].DateTaken != out[j].DateTaken {
			return out[i].DateTaken < out[j].DateTaken
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SelectNext computes the single next position to process, or Complete when
// nothing is pending. It is a pure function of (catalog, snapshot, opts):
// calling it twice without recording an outcome yields the same result.
//
// Unresolved failures are retried before any untouched position is
// attempted; when a fresh position ranks below every retry candidate the
// numerically lowest position wins.
func SelectNext(catalog []domain.Photo, snap Snapshot, opts Options, log logger.Logger) Selection {
	if log == nil {
		log = logger.NopLogger{}
	}

	ordered := OrderCatalog(catalog)
	n := len(ordered)
	if n == 0 {
		return Selection{Complete: true}
	}

	posted := make(map[int]domain.PostRecord, len(snap.Posts))
	for _, rec := range snap.Posts {
		posted[rec.AlbumPosition] = rec
		warnOnRecordMismatch(ordered, rec.AlbumPosition, rec.PhotoID, log)
	}

	completed := make(map[int]bool, len(snap.Posts))
	for pos := range posted {
		completed[pos] = true
	}
	for _, f := range snap.Failed {
		if f.Resolved {
			completed[f.AlbumPosition] = true
		}
	}

	// Retry candidates: unresolved failures within the live catalog,
	// lowest position first. Positions that already carry a post record
	// are skipped so that a crash between the posts and failed document
	// writes cannot resurface a completed position.
	retryPos := 0
	var retryRecord domain.FailedPosition
	for _, f := range snap.Failed {
		if f.Resolved || f.AlbumPosition < 1 || f.AlbumPosition > n {
			continue
		}
		if posted[f.AlbumPosition].AlbumPosition != 0 {
			continue
		}
		if opts.MaxAutoRetries > 0 && f.RetryCount >= opts.MaxAutoRetries {
			continue
		}
		if f.PhotoID != "" && ordered[f.AlbumPosition-1].ID != f.PhotoID {
			log.WarnObj("failed position no longer matches live catalog", "consistency_anomaly", map[string]any{
				"position":        f.AlbumPosition,
				"recorded_photo":  f.PhotoID,
				"live_photo":      ordered[f.AlbumPosition-1].ID,
				"retry_permitted": opts.AllowMismatchedRetry,
			})
			if !opts.AllowMismatchedRetry {
				continue
			}
		}
		if retryPos == 0 || f.AlbumPosition < retryPos {
			retryPos = f.AlbumPosition
			retryRecord = f
		}
	}

	unresolved := make(map[int]bool, len(snap.Failed))
	for _, f := range snap.Failed {
		if !f.Resolved {
			unresolved[f.AlbumPosition] = true
		}
	}

	freshPos := 0
	for pos := 1; pos <= n; pos++ {
		if !completed[pos] && !unresolved[pos] {
			freshPos = pos
			break
		}
	}

	switch {
	case retryPos != 0 && (freshPos == 0 || retryPos < freshPos):
		return Selection{
			Position:   retryPos,
			Photo:      ordered[retryPos-1],
			IsRetry:    true,
			RetryCount: retryRecord.RetryCount,
		}
	case freshPos != 0:
		return Selection{Position: freshPos, Photo: ordered[freshPos-1]}
	default:
		return Selection{Complete: true}
	}
}

// IsComplete reports whether every live position is accounted for: posted,
// resolved-failed, or (when a retry budget is configured) an unresolved
// failure that exhausted it. With the default unlimited retry policy any
// unresolved failure keeps the album incomplete.
func IsComplete(catalog []domain.Photo, snap Snapshot, opts Options) bool {
	return completeForCount(len(catalog), snap, opts)
}

func completeForCount(n int, snap Snapshot, opts Options) bool {
	if n == 0 {
		return true
	}

	completed := make(map[int]bool, len(snap.Posts))
	for _, rec := range snap.Posts {
		completed[rec.AlbumPosition] = true
	}
	exhausted := make(map[int]bool)
	for _, f := range snap.Failed {
		if f.Resolved {
			completed[f.AlbumPosition] = true
		} else if opts.MaxAutoRetries > 0 && f.RetryCount >= opts.MaxAutoRetries {
			exhausted[f.AlbumPosition] = true
		}
	}

	for pos := 1; pos <= n; pos++ {
		if !completed[pos] && !exhausted[pos] {
			return false
		}
	}
	return true
}

func warnOnRecordMismatch(ordered []domain.Photo, position int, photoID string, log logger.Logger) {
	if photoID == "" || position < 1 || position > len(ordered) {
		return
	}
	if ordered[position-1].ID != photoID {
		log.WarnObj("post record no longer matches live catalog", "consistency_anomaly", map[string]any{
			"position":       position,
			"recorded_photo": photoID,
			"live_photo":     ordered[position-1].ID,
		})
	}
}
