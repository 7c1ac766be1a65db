package storage

import (
	"context"
	"strconv"
	"sync"
)

// memoryDocs is an in-process docStore with full version-token semantics.
// Used by tests and for throwaway local runs; state does not survive the
// process.
type memoryDocs struct {
	mu   sync.Mutex
	data map[string][]byte
	revs map[string]uint64
}

// NewMemoryStore creates a volatile in-memory StateStore.
func NewMemoryStore() StateStore {
	return &typedStore{docs: &memoryDocs{
		data: make(map[string][]byte),
		revs: make(map[string]uint64),
	}}
}

func (m *memoryDocs) read(_ context.Context, account, albumID string, kind DocumentKind) ([]byte, Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := docKey(account, albumID, kind)
	raw, ok := m.data[key]
	if !ok {
		return nil, "", nil
	}
	cp := make([]byte, len(raw))
	copy(cp, raw)
	return cp, revVersion(m.revs[key]), nil
}

func (m *memoryDocs) write(_ context.Context, account, albumID string, kind DocumentKind, data []byte, expected Version) (Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := docKey(account, albumID, kind)
	current := Version("")
	if _, ok := m.data[key]; ok {
		current = revVersion(m.revs[key])
	}
	if current != expected {
		return "", ErrConcurrentModification
	}

	cp := make([]byte, len(data))
	copy(cp, data)
	m.data[key] = cp
	m.revs[key]++
	return revVersion(m.revs[key]), nil
}

func (m *memoryDocs) Close() error { return nil }

func revVersion(rev uint64) Version {
	return Version("rev-" + strconv.FormatUint(rev, 10))
}
