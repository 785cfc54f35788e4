package contentstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/NethermindEth/chaoschain-persona/crypto"
)

// MemoryBlobStore keeps blobs in process, addressed by their SHA-256.
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

func (m *MemoryBlobStore) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty blob", ErrMalformedPayload)
	}
	id := crypto.HashData(data)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[id]; !ok {
		m.blobs[id] = append([]byte(nil), data...)
	}
	return id, nil
}

func (m *MemoryBlobStore) Get(ctx context.Context, contentID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[contentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, contentID)
	}
	return append([]byte(nil), data...), nil
}

// MemoryIndex is an in-process index. Entries become visible only after
// Lag has elapsed since they were appended, mimicking an indexer that
// trails the store.
type MemoryIndex struct {
	Lag time.Duration
	Now func() time.Time

	mu      sync.RWMutex
	entries []memoryIndexEntry
}

type memoryIndexEntry struct {
	IndexEntry
	visibleAt time.Time
}

func NewMemoryIndex(lag time.Duration) *MemoryIndex {
	return &MemoryIndex{Lag: lag, Now: time.Now}
}

func (m *MemoryIndex) Append(ctx context.Context, entry IndexEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, memoryIndexEntry{IndexEntry: entry, visibleAt: m.Now().Add(m.Lag)})
	return nil
}

func (m *MemoryIndex) Query(ctx context.Context, owner, typ string, limit int) ([]IndexEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := m.Now()

	m.mu.RLock()
	out := make([]IndexEntry, 0, len(m.entries))
	for _, e := range m.entries {
		if e.visibleAt.After(now) {
			continue
		}
		if e.Tags[TagOwner] != owner || e.Tags[TagType] != typ {
			continue
		}
		e.Tags = e.Tags.clone()
		out = append(out, e.IndexEntry)
	}
	m.mu.RUnlock()

	SortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// NewMemoryStore returns a Store backed entirely by process memory.
func NewMemoryStore(lag time.Duration) *Store {
	return NewStore(NewMemoryBlobStore(), NewMemoryIndex(lag))
}
