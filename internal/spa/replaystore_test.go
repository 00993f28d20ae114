package spa_test

import (
	"sync"

	"github.com/spad-project/gospad/internal/spa"
)

// memStore is a minimal in-memory spa.ReplayStore for tests; the real
// persistent implementation lives in internal/replaystore.
type memStore struct {
	mu   sync.Mutex
	seen map[spa.Digest]struct{}
}

func newMemStore() *memStore {
	return &memStore{seen: make(map[spa.Digest]struct{})}
}

func (m *memStore) Contains(d spa.Digest) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.seen[d]
	return ok, nil
}

func (m *memStore) Insert(d spa.Digest) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[d]; ok {
		return false, nil
	}
	m.seen[d] = struct{}{}
	return true, nil
}

func (m *memStore) Flush() error { return nil }
