package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/webmemo-code/flickr-to-instagram-automation/internal/domain"
)

func TestBoltStoreRoundTripsDocuments(t *testing.T) {
	dir := t.TempDir()
	store, err := openBolt(dir + "/state.db")
	if err != nil {
		t.Fatalf("openBolt: %v", err)
	}
	defer store.Close()

	ctx := context.Background()

	posts, version, err := store.ReadPosts(ctx, "primary", "album-1")
	if err != nil {
		t.Fatalf("ReadPosts on empty store: %v", err)
	}
	if posts != nil || version != "" {
		t.Fatalf("expected empty document and zero version, got %d records version %q", len(posts), version)
	}

	retryAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	want := []domain.PostRecord{{
		AlbumPosition:  1,
		PhotoID:        "54321",
		RemotePostID:   "ig-987",
		PostedAt:       retryAt,
		SourceURL:      "https://live.staticflickr.com/1/54321_s_b.jpg",
		CaptionPreview: "Sunset over Rovinj",
		RetryCount:     2,
	}}
	version, err = store.WritePosts(ctx, "primary", "album-1", want, "")
	if err != nil {
		t.Fatalf("WritePosts: %v", err)
	}
	if version == "" {
		t.Fatalf("expected non-empty version after write")
	}

	got, readVersion, err := store.ReadPosts(ctx, "primary", "album-1")
	if err != nil {
		t.Fatalf("ReadPosts: %v", err)
	}
	if readVersion != version {
		t.Fatalf("read version %q does not match write version %q", readVersion, version)
	}
	if len(got) != 1 || got[0] != want[0] {
		t.Fatalf("round-trip mismatch: got %+v want %+v", got, want)
	}
}

func TestBoltStoreDetectsConcurrentModification(t *testing.T) {
	dir := t.TempDir()
	store, err := openBolt(dir + "/state.db")
	if err != nil {
		t.Fatalf("openBolt: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	failed := []domain.FailedPosition{{AlbumPosition: 3, PhotoID: "p3", FailedAt: time.Now().UTC()}}

	v1, err := store.WriteFailed(ctx, "primary", "album-1", failed, "")
	if err != nil {
		t.Fatalf("initial WriteFailed: %v", err)
	}

	// A second writer updates the document.
	if _, err := store.WriteFailed(ctx, "primary", "album-1", failed, v1); err != nil {
		t.Fatalf("second WriteFailed: %v", err)
	}

	// A write carrying the stale token must be rejected.
	if _, err := store.WriteFailed(ctx, "primary", "album-1", nil, v1); !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}

	// A write with the zero token against an existing document must also fail.
	if _, err := store.WriteFailed(ctx, "primary", "album-1", nil, ""); !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification for zero token, got %v", err)
	}
}

func TestBoltStoreScopesDocumentsByAccountAndAlbum(t *testing.T) {
	dir := t.TempDir()
	store, err := openBolt(dir + "/state.db")
	if err != nil {
		t.Fatalf("openBolt: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	meta := domain.NewAlbumMetadata("primary", "album-1")
	meta.TotalItems = 42

	if _, err := store.WriteMetadata(ctx, "primary", "album-1", meta, ""); err != nil {
		t.Fatalf("WriteMetadata: %v", err)
	}

	other, version, err := store.ReadMetadata(ctx, "secondary", "album-1")
	if err != nil {
		t.Fatalf("ReadMetadata other scope: %v", err)
	}
	if version != "" || other.TotalItems != 0 {
		t.Fatalf("expected disjoint scope to be empty, got %+v version %q", other, version)
	}
}
