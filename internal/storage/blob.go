// Package storage defines the blob interface for immutable content
// artifacts. Artifacts are addressed by their content hash, so the same
// bytes always land at the same object path and re-uploads are harmless.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// BlobStore persists raw artifact bytes outside the database.
type BlobStore interface {
	// Put stores the content under its hash and returns the object URI.
	// Storing the same hash twice is a no-op returning the existing URI.
	Put(ctx context.Context, contentHash, contentType string, r io.Reader) (string, error)
	// Get retrieves the bytes for a previously stored hash.
	Get(ctx context.Context, contentHash string) ([]byte, error)
}

// HashContent returns the hex SHA-256 of the artifact bytes, the key under
// which the blob is addressed.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// ObjectPath maps a content hash to its object path. The two-character
// shard prefix keeps flat listings manageable on filesystem backends.
func ObjectPath(contentHash string) (string, error) {
	if len(contentHash) < 4 {
		return "", fmt.Errorf("content hash %q is too short", contentHash)
	}
	return fmt.Sprintf("artifacts/%s/%s", contentHash[:2], contentHash), nil
}
