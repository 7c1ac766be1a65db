package storage

// Package storage provides durable, scoped read-modify-write access to the
// three per-(account, album) state documents: posts, failed, metadata.
// Backends are swappable; optimistic concurrency via opaque version tokens.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/webmemo-code/flickr-to-instagram-automation/internal/domain"
)

// Version is the opaque concurrency token returned by reads and checked by
// writes. The empty Version means "document does not exist yet".
type Version string

// ErrConcurrentModification is returned by writes when the remote document
// changed since the version the caller read.
var ErrConcurrentModification = errors.New("concurrent modification detected")

// DocumentKind names one of the three state documents per (account, album).
type DocumentKind string

const (
	KindPosts    DocumentKind = "posts"
	KindFailed   DocumentKind = "failed"
	KindMetadata DocumentKind = "metadata"
)

// StateStore is the storage-adapter contract the progression engine relies on.
// Reads of absent documents return empty values and a zero Version, not an
// error. Every write is a single atomic operation against the backend; a
// failed write leaves the prior version intact.
type StateStore interface {
	ReadPosts(ctx context.Context, account, albumID string) ([]domain.PostRecord, Version, error)
	WritePosts(ctx context.Context, account, albumID string, posts []domain.PostRecord, expected Version) (Version, error)

	ReadFailed(ctx context.Context, account, albumID string) ([]domain.FailedPosition, Version, error)
	WriteFailed(ctx context.Context, account, albumID string, failed []domain.FailedPosition, expected Version) (Version, error)

	ReadMetadata(ctx context.Context, account, albumID string) (domain.AlbumMetadata, Version, error)
	WriteMetadata(ctx context.Context, account, albumID string, meta domain.AlbumMetadata, expected Version) (Version, error)

	Close() error
}

// Options controls backend construction.
type Options struct {
	// BBoltPath is the database file for the bbolt backend.
	BBoltPath string
	// GitHub configures the versioned-file backend.
	GitHub GitHubOptions
}

// NewStore creates the configured storage backend.
func NewStore(typ string, opts Options) (StateStore, error) {
	switch strings.TrimSpace(strings.ToLower(typ)) {
	case "memory":
		return NewMemoryStore(), nil
	case "bbolt":
		if strings.TrimSpace(opts.BBoltPath) == "" {
			return nil, fmt.Errorf("bbolt storage requires a path")
		}
		return openBolt(opts.BBoltPath)
	case "github":
		return newGitHubStore(opts.GitHub)
	default:
		return nil, fmt.Errorf("unsupported storage type %q", typ)
	}
}

// docStore is the raw per-document surface each backend implements. A nil
// payload with zero Version signals an absent document.
type docStore interface {
	read(ctx context.Context, account, albumID string, kind DocumentKind) ([]byte, Version, error)
	write(ctx context.Context, account, albumID string, kind DocumentKind, data []byte, expected Version) (Version, error)
	Close() error
}

// typedStore layers JSON (de)serialization of the domain documents over a
// raw docStore backend.
type typedStore struct {
	docs docStore
}

func (s *typedStore) ReadPosts(ctx context.Context, account, albumID string) ([]domain.PostRecord, Version, error) {
	raw, v, err := s.docs.read(ctx, account, albumID, KindPosts)
	if err != nil || raw == nil {
		return nil, v, err
	}
	var posts []domain.PostRecord
	if err := json.Unmarshal(raw, &posts); err != nil {
		return nil, "", fmt.Errorf("decode posts document: %w", err)
	}
	return posts, v, nil
}

func (s *typedStore) WritePosts(ctx context.Context, account, albumID string, posts []domain.PostRecord, expected Version) (Version, error) {
	return s.writeJSON(ctx, account, albumID, KindPosts, posts, expected)
}

func (s *typedStore) ReadFailed(ctx context.Context, account, albumID string) ([]domain.FailedPosition, Version, error) {
	raw, v, err := s.docs.read(ctx, account, albumID, KindFailed)
	if err != nil || raw == nil {
		return nil, v, err
	}
	var failed []domain.FailedPosition
	if err := json.Unmarshal(raw, &failed); err != nil {
		return nil, "", fmt.Errorf("decode failed document: %w", err)
	}
	return failed, v, nil
}

func (s *typedStore) WriteFailed(ctx context.Context, account, albumID string, failed []domain.FailedPosition, expected Version) (Version, error) {
	return s.writeJSON(ctx, account, albumID, KindFailed, failed, expected)
}

func (s *typedStore) ReadMetadata(ctx context.Context, account, albumID string) (domain.AlbumMetadata, Version, error) {
	raw, v, err := s.docs.read(ctx, account, albumID, KindMetadata)
	if err != nil || raw == nil {
		return domain.AlbumMetadata{}, v, err
	}
	var meta domain.AlbumMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return domain.AlbumMetadata{}, "", fmt.Errorf("decode metadata document: %w", err)
	}
	return meta, v, nil
}

func (s *typedStore) WriteMetadata(ctx context.Context, account, albumID string, meta domain.AlbumMetadata, expected Version) (Version, error) {
	return s.writeJSON(ctx, account, albumID, KindMetadata, meta, expected)
}

func (s *typedStore) writeJSON(ctx context.Context, account, albumID string, kind DocumentKind, doc any, expected Version) (Version, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode %s document: %w", kind, err)
	}
	return s.docs.write(ctx, account, albumID, kind, data, expected)
}

func (s *typedStore) Close() error { return s.docs.Close() }

// docKey builds the canonical document path used by file-shaped backends.
func docKey(account, albumID string, kind DocumentKind) string {
	account = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(account), "-", "_"))
	return fmt.Sprintf("state-data/%s/album-%s/%s.json", account, albumID, kind)
}
