package state

import (
	"context"
	"errors"
	"testing"

	"github.com/webmemo-code/flickr-to-instagram-automation/internal/domain"
	"github.com/webmemo-code/flickr-to-instagram-automation/internal/storage"
)

type fakeCatalog struct {
	photos []domain.Photo
}

func (f *fakeCatalog) Photos(_ context.Context, _ string) ([]domain.Photo, error) {
	return f.photos, nil
}

func newTestEngine(t *testing.T, photos []domain.Photo, opts Options) (*Engine, storage.StateStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	eng := NewEngine(store, &fakeCatalog{photos: photos}, "travelmemo", "7215", "run-1", opts, nil)
	return eng, store
}

func TestEngineWalksAlbumInOrder(t *testing.T) {
	ctx := context.Background()
	eng, store := newTestEngine(t, catalogOf("a", "b", "c"), Options{})

	plan, err := eng.PlanRun(ctx)
	if err != nil {
		t.Fatalf("PlanRun: %v", err)
	}
	if plan.Complete || plan.Position != 1 || plan.Photo.ID != "a" {
		t.Fatalf("first plan = %+v, want position 1 photo a", plan)
	}

	out := domain.Success("ig-post-1", "caption one")
	if err := eng.RecordOutcome(ctx, plan.Position, plan.Photo, plan.TotalItems, out); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}

	posts, _, err := store.ReadPosts(ctx, "travelmemo", "7215")
	if err != nil {
		t.Fatalf("ReadPosts: %v", err)
	}
	if len(posts) != 1 {
		t.Fatalf("got %d post records, want 1", len(posts))
	}
	rec := posts[0]
	if rec.AlbumPosition != 1 || rec.PhotoID != "a" || rec.RemotePostID != "ig-post-1" || rec.IsDryRun {
		t.Fatalf("unexpected post record: %+v", rec)
	}
	if rec.RunID != "run-1" || rec.PostedAt.IsZero() {
		t.Fatalf("post record missing run attribution: %+v", rec)
	}

	plan, err = eng.PlanRun(ctx)
	if err != nil {
		t.Fatalf("PlanRun after post: %v", err)
	}
	if plan.Position != 2 || plan.Photo.ID != "b" {
		t.Fatalf("second plan = %+v, want position 2 photo b", plan)
	}
}

func TestEngineFailureIsRetriedAndResolved(t *testing.T) {
	ctx := context.Background()
	eng, store := newTestEngine(t, catalogOf("a", "b"), Options{})

	plan, err := eng.PlanRun(ctx)
	if err != nil {
		t.Fatalf("PlanRun: %v", err)
	}
	if err := eng.RecordOutcome(ctx, plan.Position, plan.Photo, plan.TotalItems, domain.Failure("container creation failed")); err != nil {
		t.Fatalf("record failure: %v", err)
	}

	failed, _, err := store.ReadFailed(ctx, "travelmemo", "7215")
	if err != nil {
		t.Fatalf("ReadFailed: %v", err)
	}
	if len(failed) != 1 || failed[0].AlbumPosition != 1 || failed[0].Resolved {
		t.Fatalf("unexpected failed document: %+v", failed)
	}
	if failed[0].RetryCount != 0 || failed[0].ErrorMessage != "container creation failed" {
		t.Fatalf("first failure recorded wrong: %+v", failed[0])
	}

	// The next run retries the same position instead of moving on.
	plan, err = eng.PlanRun(ctx)
	if err != nil {
		t.Fatalf("PlanRun after failure: %v", err)
	}
	if !plan.IsRetry || plan.Position != 1 {
		t.Fatalf("plan after failure = %+v, want retry of position 1", plan)
	}

	// A second failure bumps the retry counter in place.
	if err := eng.RecordOutcome(ctx, plan.Position, plan.Photo, plan.TotalItems, domain.Failure("still failing")); err != nil {
		t.Fatalf("record second failure: %v", err)
	}
	failed, _, _ = store.ReadFailed(ctx, "travelmemo", "7215")
	if len(failed) != 1 || failed[0].RetryCount != 1 || failed[0].LastRetryAt == nil {
		t.Fatalf("repeat failure not upserted: %+v", failed)
	}

	// Success resolves the failure and carries the retry count forward.
	if err := eng.RecordOutcome(ctx, plan.Position, plan.Photo, plan.TotalItems, domain.Success("ig-1", "cap")); err != nil {
		t.Fatalf("record success: %v", err)
	}
	failed, _, _ = store.ReadFailed(ctx, "travelmemo", "7215")
	if !failed[0].Resolved || failed[0].ResolvedAt == nil {
		t.Fatalf("failure not resolved after success: %+v", failed[0])
	}
	posts, _, _ := store.ReadPosts(ctx, "travelmemo", "7215")
	if len(posts) != 1 || posts[0].RetryCount != 2 {
		t.Fatalf("post record after retry success wrong: %+v", posts)
	}

	plan, _ = eng.PlanRun(ctx)
	if plan.Position != 2 {
		t.Fatalf("resolved position selected again: %+v", plan)
	}
}

func TestEngineDryRunAdvancesWithoutPublishing(t *testing.T) {
	ctx := context.Background()
	eng, store := newTestEngine(t, catalogOf("a", "b"), Options{})

	plan, _ := eng.PlanRun(ctx)
	if err := eng.RecordOutcome(ctx, plan.Position, plan.Photo, plan.TotalItems, domain.DryRunSuccess("would post: caption")); err != nil {
		t.Fatalf("record dry run: %v", err)
	}

	posts, _, _ := store.ReadPosts(ctx, "travelmemo", "7215")
	if len(posts) != 1 || !posts[0].IsDryRun || posts[0].RemotePostID != "" {
		t.Fatalf("dry-run record wrong: %+v", posts)
	}

	plan, _ = eng.PlanRun(ctx)
	if plan.Position != 2 {
		t.Fatalf("dry run did not advance progression: %+v", plan)
	}

	meta, err := eng.Statistics(ctx)
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	if meta.PostedCount != 0 || meta.DryRunCount != 1 {
		t.Fatalf("dry run counted as real post: %+v", meta)
	}
}

func TestEngineReportsCompletionAndStats(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t, catalogOf("a", "b"), Options{})

	for i := 0; i < 2; i++ {
		plan, err := eng.PlanRun(ctx)
		if err != nil {
			t.Fatalf("PlanRun %d: %v", i, err)
		}
		if err := eng.RecordOutcome(ctx, plan.Position, plan.Photo, plan.TotalItems, domain.Success("ig", "cap")); err != nil {
			t.Fatalf("RecordOutcome %d: %v", i, err)
		}
	}

	plan, err := eng.PlanRun(ctx)
	if err != nil {
		t.Fatalf("final PlanRun: %v", err)
	}
	if !plan.Complete {
		t.Fatalf("album not reported complete: %+v", plan)
	}

	meta, err := eng.Statistics(ctx)
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	if meta.PostedCount != 2 || meta.TotalItems != 2 || !meta.IsComplete {
		t.Fatalf("metadata = %+v, want 2/2 complete", meta)
	}
	if meta.CompletionPercentage != 100 || meta.LastPostedPosition != 2 {
		t.Fatalf("metadata stats wrong: %+v", meta)
	}
}

func TestEngineSkipsDuplicateRecordForSamePosition(t *testing.T) {
	ctx := context.Background()
	eng, store := newTestEngine(t, catalogOf("a", "b"), Options{})

	plan, _ := eng.PlanRun(ctx)
	out := domain.Success("ig-1", "cap")
	if err := eng.RecordOutcome(ctx, plan.Position, plan.Photo, plan.TotalItems, out); err != nil {
		t.Fatalf("first record: %v", err)
	}
	// At-least-once delivery upstream can hand us the same outcome twice.
	if err := eng.RecordOutcome(ctx, plan.Position, plan.Photo, plan.TotalItems, out); err != nil {
		t.Fatalf("duplicate record: %v", err)
	}

	posts, _, _ := store.ReadPosts(ctx, "travelmemo", "7215")
	if len(posts) != 1 {
		t.Fatalf("duplicate outcome created %d records", len(posts))
	}
}

// conflictingStore wraps a StateStore and fails the first posts write with a
// version conflict, as a concurrent run would.
type conflictingStore struct {
	storage.StateStore
	fired bool
}

func (c *conflictingStore) WritePosts(ctx context.Context, account, albumID string, posts []domain.PostRecord, expected storage.Version) (storage.Version, error) {
	if !c.fired {
		c.fired = true
		return "", storage.ErrConcurrentModification
	}
	return c.StateStore.WritePosts(ctx, account, albumID, posts, expected)
}

func TestEngineSurfacesWriteConflicts(t *testing.T) {
	ctx := context.Background()
	store := &conflictingStore{StateStore: storage.NewMemoryStore()}
	t.Cleanup(func() { store.Close() })
	eng := NewEngine(store, &fakeCatalog{photos: catalogOf("a")}, "travelmemo", "7215", "run-1", Options{}, nil)

	plan, err := eng.PlanRun(ctx)
	if err != nil {
		t.Fatalf("PlanRun: %v", err)
	}

	err = eng.RecordOutcome(ctx, plan.Position, plan.Photo, plan.TotalItems, domain.Success("ig", "cap"))
	if !errors.Is(err, storage.ErrConcurrentModification) {
		t.Fatalf("conflict not surfaced: %v", err)
	}

	// The whole cycle redone from a fresh snapshot succeeds.
	if err := eng.RecordOutcome(ctx, plan.Position, plan.Photo, plan.TotalItems, domain.Success("ig", "cap")); err != nil {
		t.Fatalf("retry after conflict: %v", err)
	}
}
