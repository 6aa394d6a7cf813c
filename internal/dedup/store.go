// Package dedup tracks frame identities already processed this session so
// replayed frames can be dropped before they reach any projector. The horizon
// is deliberately approximate: the sets clear wholesale at a threshold to
// bound memory, trading exactness for a fixed ceiling.
package dedup

import (
	"context"
	"encoding/hex"
	"sync"

	"golang.org/x/crypto/blake2b"
)

// DefaultThreshold is the set size at which the seen sets are cleared.
const DefaultThreshold = 1000

// Store records frame identities. Seen returns true when the frame was
// already recorded, recording it otherwise.
type Store interface {
	Seen(ctx context.Context, id string, frame []byte) (bool, error)
	Clear(ctx context.Context) error
	Len() int
}

// Memory is the in-process Store. Safe for concurrent use.
type Memory struct {
	mu        sync.Mutex
	threshold int
	ids       map[string]struct{}
	hashes    map[string]struct{}
}

// NewMemory creates an in-memory store. threshold <= 0 uses DefaultThreshold.
func NewMemory(threshold int) *Memory {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Memory{
		threshold: threshold,
		ids:       make(map[string]struct{}),
		hashes:    make(map[string]struct{}),
	}
}

// Seen checks the frame id (when present) and the frame content hash against
// the seen sets. A hit on either means duplicate. Both sets are cleared
// wholesale before insertion once either would exceed the threshold.
func (m *Memory) Seen(_ context.Context, id string, frame []byte) (bool, error) {
	hash := ContentHash(frame)

	m.mu.Lock()
	defer m.mu.Unlock()

	if id != "" {
		if _, dup := m.ids[id]; dup {
			return true, nil
		}
	}
	if _, dup := m.hashes[hash]; dup {
		return true, nil
	}

	if len(m.ids) >= m.threshold || len(m.hashes) >= m.threshold {
		m.ids = make(map[string]struct{})
		m.hashes = make(map[string]struct{})
	}

	if id != "" {
		m.ids[id] = struct{}{}
	}
	m.hashes[hash] = struct{}{}
	return false, nil
}

// Clear drops both sets.
func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = make(map[string]struct{})
	m.hashes = make(map[string]struct{})
	return nil
}

// Len reports the current id-set size.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ids)
}

// ContentHash returns the hex blake2b-256 digest of a frame.
func ContentHash(frame []byte) string {
	sum := blake2b.Sum256(frame)
	return hex.EncodeToString(sum[:])
}
