// Package memory stores artifact blobs in-memory for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/lexhaven/regtruth/internal/storage"
)

// BlobStore keeps artifacts in a map keyed by content hash.
type BlobStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewBlobStore creates an empty in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{data: make(map[string][]byte)}
}

// Put stores the content under its hash and returns a memory:// URI. A hash
// already present is left untouched.
func (s *BlobStore) Put(_ context.Context, contentHash, _ string, r io.Reader) (string, error) {
	path, err := storage.ObjectPath(contentHash)
	if err != nil {
		return "", err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read artifact: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[contentHash]; !ok {
		s.data[contentHash] = append([]byte(nil), data...)
	}
	return fmt.Sprintf("memory://%s", path), nil
}

// Get returns the stored bytes for a content hash.
func (s *BlobStore) Get(_ context.Context, contentHash string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[contentHash]
	if !ok {
		return nil, fmt.Errorf("artifact %s not found", contentHash)
	}
	return append([]byte(nil), data...), nil
}

// Len reports how many distinct artifacts are stored.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
