package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	documentBucket = "documents"
	revisionBucket = "revisions"
)

// boltDocs implements docStore backed by a local BoltDB file. Revision
// counters stored next to each document provide the version tokens; each
// bbolt update transaction is atomic, which gives the compare-and-swap the
// contract requires.
type boltDocs struct {
	db *bolt.DB
}

// openBolt initializes a BoltDB-backed StateStore.
func openBolt(path string) (StateStore, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(documentBucket)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(revisionBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}

	return &typedStore{docs: &boltDocs{db: db}}, nil
}

func (b *boltDocs) read(_ context.Context, account, albumID string, kind DocumentKind) ([]byte, Version, error) {
	key := []byte(docKey(account, albumID, kind))

	var data []byte
	var version Version
	err := b.db.View(func(tx *bolt.Tx) error {
		docs := tx.Bucket([]byte(documentBucket))
		revs := tx.Bucket([]byte(revisionBucket))
		if docs == nil || revs == nil {
			return fmt.Errorf("storage buckets missing")
		}

		value := docs.Get(key)
		if value == nil {
			return nil
		}
		data = append([]byte(nil), value...)
		version = revVersion(decodeRev(revs.Get(key)))
		return nil
	})
	return data, version, err
}

func (b *boltDocs) write(_ context.Context, account, albumID string, kind DocumentKind, data []byte, expected Version) (Version, error) {
	key := []byte(docKey(account, albumID, kind))

	var version Version
	err := b.db.Update(func(tx *bolt.Tx) error {
		docs := tx.Bucket([]byte(documentBucket))
		revs := tx.Bucket([]byte(revisionBucket))
		if docs == nil || revs == nil {
			return fmt.Errorf("storage buckets missing")
		}

		current := Version("")
		rev := uint64(0)
		if docs.Get(key) != nil {
			rev = decodeRev(revs.Get(key))
			current = revVersion(rev)
		}
		if current != expected {
			return ErrConcurrentModification
		}

		if err := docs.Put(key, data); err != nil {
			return err
		}
		rev++
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, rev)
		if err := revs.Put(key, buf); err != nil {
			return err
		}
		version = revVersion(rev)
		return nil
	})
	if err != nil {
		return "", err
	}
	return version, nil
}

func (b *boltDocs) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func decodeRev(value []byte) uint64 {
	if len(value) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(value)
}
