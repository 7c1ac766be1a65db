package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/webmemo-code/flickr-to-instagram-automation/internal/domain"
	"github.com/webmemo-code/flickr-to-instagram-automation/internal/logger"
	"github.com/webmemo-code/flickr-to-instagram-automation/internal/storage"
)

// CatalogSource lists the live photo catalog for an album. The engine never
// caches the listing: every run re-derives positions from a fresh fetch.
type CatalogSource interface {
	Photos(ctx context.Context, albumID string) ([]domain.Photo, error)
}

// Snapshot is a point-in-time read of the posts and failed documents along
// with the version tokens needed to write them back safely.
type Snapshot struct {
	Posts  []domain.PostRecord
	Failed []domain.FailedPosition

	postsVersion  storage.Version
	failedVersion storage.Version
}

// RunPlan is what a single automation run should do next.
type RunPlan struct {
	Complete   bool
	Position   int
	Photo      domain.Photo
	IsRetry    bool
	RetryCount int
	TotalItems int
}

// Engine owns the read-select-record cycle for one account and album.
// It signals write conflicts via storage.ErrConcurrentModification and leaves
// the retry cadence to the caller.
type Engine struct {
	store   storage.StateStore
	catalog CatalogSource
	account string
	albumID string
	runID   string
	opts    Options
	log     logger.Logger
}

func NewEngine(store storage.StateStore, catalog CatalogSource, account, albumID, runID string, opts Options, log logger.Logger) *Engine {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Engine{
		store:   store,
		catalog: catalog,
		account: account,
		albumID: albumID,
		runID:   runID,
		opts:    opts,
		log:     log,
	}
}

// LoadSnapshot reads both progression documents. A missing document reads as
// empty with a zero version token, so the first run of a fresh album needs no
// bootstrap step.
func (e *Engine) LoadSnapshot(ctx context.Context) (Snapshot, error) {
	posts, pv, err := e.store.ReadPosts(ctx, e.account, e.albumID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read posts: %w", err)
	}
	failed, fv, err := e.store.ReadFailed(ctx, e.account, e.albumID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read failed positions: %w", err)
	}
	return Snapshot{Posts: posts, Failed: failed, postsVersion: pv, failedVersion: fv}, nil
}

// PlanRun fetches the live catalog, loads state, and selects the next
// position. It does not mutate anything.
func (e *Engine) PlanRun(ctx context.Context) (RunPlan, error) {
	catalog, err := e.catalog.Photos(ctx, e.albumID)
	if err != nil {
		return RunPlan{}, fmt.Errorf("list catalog: %w", err)
	}
	snap, err := e.LoadSnapshot(ctx)
	if err != nil {
		return RunPlan{}, err
	}

	sel := SelectNext(catalog, snap, e.opts, e.log)
	plan := RunPlan{
		Complete:   sel.Complete,
		Position:   sel.Position,
		Photo:      sel.Photo,
		IsRetry:    sel.IsRetry,
		RetryCount: sel.RetryCount,
		TotalItems: len(catalog),
	}
	e.log.InfoObj("run planned", "run_plan", map[string]any{
		"account":    e.account,
		"album":      e.albumID,
		"complete":   plan.Complete,
		"position":   plan.Position,
		"is_retry":   plan.IsRetry,
		"total":      plan.TotalItems,
		"posted":     len(snap.Posts),
		"unresolved": countUnresolved(snap.Failed),
	})
	return plan, nil
}

// RecordOutcome persists the result of attempting one position. Documents are
// written in a deliberate order so that a crash mid-sequence can only leave
// the state conservative, never falsely complete: the posts record lands
// first, the failed document second, and the metadata cache last.
//
// A storage.ErrConcurrentModification from any write means another run moved
// the state underneath us; the caller redoes the whole read-modify-write
// cycle from a fresh snapshot.
func (e *Engine) RecordOutcome(ctx context.Context, position int, photo domain.Photo, totalItems int, out domain.Outcome) error {
	if position < 1 {
		return fmt.Errorf("invalid album position %d", position)
	}

	snap, err := e.LoadSnapshot(ctx)
	if err != nil {
		return err
	}

	switch out.Kind {
	case domain.OutcomeSuccess, domain.OutcomeDryRun:
		if err := e.recordSuccess(ctx, snap, position, photo, out); err != nil {
			return err
		}
	case domain.OutcomeFailure:
		if err := e.recordFailure(ctx, snap, position, photo, out); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown outcome kind %d", out.Kind)
	}

	return e.refreshMetadata(ctx, totalItems, out)
}

func (e *Engine) recordSuccess(ctx context.Context, snap Snapshot, position int, photo domain.Photo, out domain.Outcome) error {
	for _, rec := range snap.Posts {
		if rec.AlbumPosition == position {
			e.log.WarnObj("position already recorded, skipping duplicate", "post_record", map[string]any{
				"position": position,
				"photo":    rec.PhotoID,
			})
			return e.resolveFailure(ctx, snap, position)
		}
	}

	// A success over an unresolved failure is itself a retry attempt, so
	// the post record carries the failure's count plus one.
	retryCount := 0
	for _, f := range snap.Failed {
		if f.AlbumPosition == position && !f.Resolved {
			retryCount = f.RetryCount + 1
		}
	}

	rec := domain.PostRecord{
		AlbumPosition:  position,
		PhotoID:        photo.ID,
		RemotePostID:   out.RemotePostID,
		PostedAt:       time.Now().UTC(),
		SourceURL:      photo.SourceURL,
		CaptionPreview: out.CaptionPreview,
		RetryCount:     retryCount,
		IsDryRun:       out.Kind == domain.OutcomeDryRun,
		RunID:          e.runID,
	}
	posts := append(append([]domain.PostRecord(nil), snap.Posts...), rec)
	sort.Slice(posts, func(i, j int) bool { return posts[i].AlbumPosition < posts[j].AlbumPosition })

	if _, err := e.store.WritePosts(ctx, e.account, e.albumID, posts, snap.postsVersion); err != nil {
		return fmt.Errorf("write posts: %w", err)
	}
	e.log.InfoObj("post recorded", "post_record", map[string]any{
		"position": position,
		"photo":    photo.ID,
		"dry_run":  rec.IsDryRun,
		"retry":    retryCount > 0,
	})
	return e.resolveFailure(ctx, snap, position)
}

func (e *Engine) resolveFailure(ctx context.Context, snap Snapshot, position int) error {
	changed := false
	now := time.Now().UTC()
	failed := append([]domain.FailedPosition(nil), snap.Failed...)
	for i := range failed {
		if failed[i].AlbumPosition == position && !failed[i].Resolved {
			failed[i].Resolved = true
			failed[i].ResolvedAt = &now
			changed = true
		}
	}
	if !changed {
		return nil
	}
	if _, err := e.store.WriteFailed(ctx, e.account, e.albumID, failed, snap.failedVersion); err != nil {
		return fmt.Errorf("resolve failed position: %w", err)
	}
	e.log.InfoObj("failed position resolved", "failed_position", map[string]any{"position": position})
	return nil
}

func (e *Engine) recordFailure(ctx context.Context, snap Snapshot, position int, photo domain.Photo, out domain.Outcome) error {
	now := time.Now().UTC()
	failed := append([]domain.FailedPosition(nil), snap.Failed...)

	updated := false
	for i := range failed {
		if failed[i].AlbumPosition == position && !failed[i].Resolved {
			failed[i].RetryCount++
			failed[i].LastRetryAt = &now
			failed[i].ErrorMessage = out.ErrorMessage
			failed[i].RunID = e.runID
			updated = true
			break
		}
	}
	if !updated {
		failed = append(failed, domain.FailedPosition{
			AlbumPosition: position,
			PhotoID:       photo.ID,
			FailedAt:      now,
			ErrorMessage:  out.ErrorMessage,
			RunID:         e.runID,
		})
		sort.Slice(failed, func(i, j int) bool { return failed[i].AlbumPosition < failed[j].AlbumPosition })
	}

	if _, err := e.store.WriteFailed(ctx, e.account, e.albumID, failed, snap.failedVersion); err != nil {
		return fmt.Errorf("write failed positions: %w", err)
	}
	e.log.WarnObj("failure recorded", "failed_position", map[string]any{
		"position": position,
		"photo":    photo.ID,
		"error":    out.ErrorMessage,
		"repeat":   updated,
	})
	return nil
}

// refreshMetadata recomputes the derived stats document from the documents of
// record. It is a cache: a version conflict here is retried once from a fresh
// read and a second conflict is logged and swallowed, because the next run
// rebuilds it anyway.
func (e *Engine) refreshMetadata(ctx context.Context, totalItems int, out domain.Outcome) error {
	for attempt := 0; attempt < 2; attempt++ {
		snap, err := e.LoadSnapshot(ctx)
		if err != nil {
			return err
		}
		meta, mv, err := e.store.ReadMetadata(ctx, e.account, e.albumID)
		if err != nil {
			return fmt.Errorf("read metadata: %w", err)
		}
		if meta.AlbumID == "" {
			meta = domain.NewAlbumMetadata(e.account, e.albumID)
		}

		next := recomputeMetadata(meta, snap, totalItems, e.runID, e.opts, out)
		_, err = e.store.WriteMetadata(ctx, e.account, e.albumID, next, mv)
		if err == nil {
			return nil
		}
		if !errors.Is(err, storage.ErrConcurrentModification) {
			return fmt.Errorf("write metadata: %w", err)
		}
	}
	e.log.WarnObj("metadata cache write kept conflicting, leaving stale", "metadata", map[string]any{
		"account": e.account,
		"album":   e.albumID,
	})
	return nil
}

func recomputeMetadata(prev domain.AlbumMetadata, snap Snapshot, totalItems int, runID string, opts Options, out domain.Outcome) domain.AlbumMetadata {
	meta := prev
	meta.TotalItems = totalItems
	meta.PostedCount = 0
	meta.DryRunCount = 0
	meta.LastPostedPosition = 0
	for _, rec := range snap.Posts {
		if rec.IsDryRun {
			meta.DryRunCount++
		} else {
			meta.PostedCount++
		}
		if rec.AlbumPosition > meta.LastPostedPosition {
			meta.LastPostedPosition = rec.AlbumPosition
		}
	}
	meta.FailedCount = countUnresolved(snap.Failed)
	meta.IsComplete = completeForCount(totalItems, snap, opts)
	meta.LastUpdated = time.Now().UTC()
	meta.LastRunID = runID
	if out.Kind == domain.OutcomeFailure {
		meta.ErrorCount++
		meta.LastErrorMessage = out.ErrorMessage
	}
	if totalItems > 0 {
		meta.CompletionPercentage = float64(meta.PostedCount+meta.DryRunCount) / float64(totalItems) * 100
	} else {
		meta.CompletionPercentage = 0
	}
	return meta
}

// Statistics returns the cached metadata document, bootstrapping an empty one
// when the album has never been touched.
func (e *Engine) Statistics(ctx context.Context) (domain.AlbumMetadata, error) {
	meta, _, err := e.store.ReadMetadata(ctx, e.account, e.albumID)
	if err != nil {
		return domain.AlbumMetadata{}, fmt.Errorf("read metadata: %w", err)
	}
	if meta.AlbumID == "" {
		meta = domain.NewAlbumMetadata(e.account, e.albumID)
	}
	return meta, nil
}

func countUnresolved(failed []domain.FailedPosition) int {
	n := 0
	for _, f := range failed {
		if !f.Resolved {
			n++
		}
	}
	return n
}
