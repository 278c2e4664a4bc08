package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/lexhaven/regtruth/internal/model"
)

// PointerStore persists source pointers. Pointers are append-only: a
// re-extraction supersedes the old pointer with a new row rather than
// mutating it, so rule provenance stays stable.
type PointerStore struct {
	db DB
}

// NewPointerStore builds a pointer store.
func NewPointerStore(db DB) (*PointerStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &PointerStore{db: db}, nil
}

// Insert stores a new pointer and returns its generated ID.
func (s *PointerStore) Insert(ctx context.Context, p model.SourcePointer) (string, error) {
	if p.EvidenceID == "" {
		return "", fmt.Errorf("evidence id is required")
	}
	if p.Quote == "" {
		return "", fmt.Errorf("quote is required")
	}
	id := p.ID
	if id == "" {
		id = uuid.NewString()
	}
	var embedding any
	if len(p.Embedding) > 0 {
		embedding = pgvector.NewVector(p.Embedding)
	}
	query := `
INSERT INTO source_pointers (
	id, evidence_id, node_path, quote, context, domain, value_type,
	confidence, law_ref, article_ref, embedding, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	if _, err := s.db.Exec(ctx, query,
		id,
		p.EvidenceID,
		p.NodePath,
		p.Quote,
		p.Context,
		p.Domain,
		p.ValueType,
		p.Confidence,
		p.LawRef,
		p.ArticleRef,
		embedding,
		time.Now().UTC(),
	); err != nil {
		return "", fmt.Errorf("insert pointer: %w", err)
	}
	return id, nil
}

// Supersede soft-deletes the old pointer and inserts its replacement in one
// transaction. The old row is retained for audit; only deleted_at changes.
func (s *PointerStore) Supersede(ctx context.Context, oldID string, replacement model.SourcePointer) (string, error) {
	if oldID == "" {
		return "", fmt.Errorf("old pointer id is required")
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	mark := `
UPDATE source_pointers SET deleted_at = now()
WHERE id = $1 AND deleted_at IS NULL`
	tag, err := tx.Exec(ctx, mark, oldID)
	if err != nil {
		return "", fmt.Errorf("supersede pointer %s: %w", oldID, err)
	}
	if tag.RowsAffected() == 0 {
		return "", fmt.Errorf("pointer %s not found or already superseded", oldID)
	}

	newID := replacement.ID
	if newID == "" {
		newID = uuid.NewString()
	}
	var embedding any
	if len(replacement.Embedding) > 0 {
		embedding = pgvector.NewVector(replacement.Embedding)
	}
	insert := `
INSERT INTO source_pointers (
	id, evidence_id, node_path, quote, context, domain, value_type,
	confidence, law_ref, article_ref, embedding, superseded_id, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`
	if _, err := tx.Exec(ctx, insert,
		newID,
		replacement.EvidenceID,
		replacement.NodePath,
		replacement.Quote,
		replacement.Context,
		replacement.Domain,
		replacement.ValueType,
		replacement.Confidence,
		replacement.LawRef,
		replacement.ArticleRef,
		embedding,
		oldID,
		time.Now().UTC(),
	); err != nil {
		return "", fmt.Errorf("insert replacement pointer: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return newID, nil
}

// UpdateEmbedding backfills the vector for a pointer that was stored before
// its embedding was computed.
func (s *PointerStore) UpdateEmbedding(ctx context.Context, id string, embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("embedding is required")
	}
	query := `
UPDATE source_pointers SET embedding = $2
WHERE id = $1 AND deleted_at IS NULL`
	tag, err := s.db.Exec(ctx, query, id, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("update embedding for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pointer %s not found", id)
	}
	return nil
}
