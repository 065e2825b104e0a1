package document

import (
	"context"
	"sync"
)

// MemoryStore is the default in-process snapshot store. Last write wins;
// snapshots carry their own observation timestamps.
type MemoryStore struct {
	mu    sync.RWMutex
	snaps map[string]StatusSnapshot
}

// NewMemoryStore creates an empty in-memory snapshot store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snaps: make(map[string]StatusSnapshot),
	}
}

func (s *MemoryStore) Get(_ context.Context, processID string) (StatusSnapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snaps[processID]
	return snap, ok, nil
}

func (s *MemoryStore) Put(_ context.Context, snap StatusSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[snap.ProcessID] = snap
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, processID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snaps, processID)
	return nil
}
