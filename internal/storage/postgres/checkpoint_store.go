package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/lexhaven/regtruth/internal/model"
)

// CheckpointStore persists one discovery checkpoint per source. It satisfies
// discovery.CheckpointStore for a fixed source name.
type CheckpointStore struct {
	db     DB
	source string
}

// NewCheckpointStore builds a checkpoint store bound to one source.
func NewCheckpointStore(db DB, source string) (*CheckpointStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if source == "" {
		return nil, fmt.Errorf("source is required")
	}
	return &CheckpointStore{db: db, source: source}, nil
}

// Save upserts the checkpoint row for this source.
func (s *CheckpointStore) Save(ctx context.Context, ckpt model.DiscoveryCheckpoint) error {
	query := `
INSERT INTO discovery_checkpoints (source, last_completed_child_index, last_completed_child_url, urls_emitted, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (source) DO UPDATE SET
	last_completed_child_index = EXCLUDED.last_completed_child_index,
	last_completed_child_url = EXCLUDED.last_completed_child_url,
	urls_emitted = EXCLUDED.urls_emitted,
	updated_at = now()`
	if _, err := s.db.Exec(ctx, query,
		s.source,
		ckpt.LastCompletedChildIndex,
		ckpt.LastCompletedChildURL,
		ckpt.URLsEmittedSoFar,
	); err != nil {
		return fmt.Errorf("save checkpoint for %s: %w", s.source, err)
	}
	return nil
}

// Load returns the stored checkpoint for this source, or nil when the source
// has never checkpointed.
func (s *CheckpointStore) Load(ctx context.Context) (*model.DiscoveryCheckpoint, error) {
	query := `
SELECT last_completed_child_index, last_completed_child_url, urls_emitted
FROM discovery_checkpoints
WHERE source = $1`
	var ckpt model.DiscoveryCheckpoint
	err := s.db.QueryRow(ctx, query, s.source).Scan(
		&ckpt.LastCompletedChildIndex,
		&ckpt.LastCompletedChildURL,
		&ckpt.URLsEmittedSoFar,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint for %s: %w", s.source, err)
	}
	return &ckpt, nil
}
