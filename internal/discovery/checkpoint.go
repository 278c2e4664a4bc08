package discovery

import (
	"context"
	"sync"

	"github.com/lexhaven/regtruth/internal/model"
)

// CheckpointStore persists discovery progress per source. Keeping it an
// explicit capability interface lets the storage technology change without
// touching scan logic.
type CheckpointStore interface {
	Save(ctx context.Context, ckpt model.DiscoveryCheckpoint) error
	Load(ctx context.Context) (*model.DiscoveryCheckpoint, error)
}

// MemoryCheckpointStore holds a single checkpoint in memory. Used by tests
// and one-shot CLI runs.
type MemoryCheckpointStore struct {
	mu    sync.Mutex
	ckpt  *model.DiscoveryCheckpoint
	saves int
}

// NewMemoryCheckpointStore returns an empty MemoryCheckpointStore.
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{}
}

// Save stores the checkpoint.
func (s *MemoryCheckpointStore) Save(_ context.Context, ckpt model.DiscoveryCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := ckpt
	s.ckpt = &c
	s.saves++
	return nil
}

// Load returns the stored checkpoint, or nil when none was saved.
func (s *MemoryCheckpointStore) Load(_ context.Context) (*model.DiscoveryCheckpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ckpt == nil {
		return nil, nil
	}
	c := *s.ckpt
	return &c, nil
}

// Saves returns how many times Save was called.
func (s *MemoryCheckpointStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
