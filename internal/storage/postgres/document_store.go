package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lexhaven/regtruth/internal/model"
	"github.com/lexhaven/regtruth/internal/parser"
)

// DocumentStore persists content artifacts and parsed documents.
type DocumentStore struct {
	db     DB
	logger *zap.Logger
}

// NewDocumentStore builds a document store.
func NewDocumentStore(db DB, logger *zap.Logger) (*DocumentStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentStore{db: db, logger: logger}, nil
}

// SaveArtifact records the metadata row for an immutable content artifact.
// The bytes themselves live in the blob store; blobURI points at them.
// Re-inserting the same evidence ID is a no-op so refetches stay idempotent.
func (s *DocumentStore) SaveArtifact(ctx context.Context, artifact model.ContentArtifact, blobURI string) error {
	if artifact.EvidenceID == "" {
		return fmt.Errorf("evidence id is required")
	}
	if artifact.ContentHash == "" {
		return fmt.Errorf("content hash is required")
	}
	query := `
INSERT INTO content_artifacts (evidence_id, content_hash, content_class, source_url, blob_uri, fetched_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (evidence_id) DO NOTHING`
	if _, err := s.db.Exec(ctx, query,
		artifact.EvidenceID,
		artifact.ContentHash,
		string(artifact.ContentClass),
		artifact.SourceURL,
		blobURI,
		artifact.FetchedAt,
	); err != nil {
		return fmt.Errorf("insert artifact %s: %w", artifact.EvidenceID, err)
	}
	return nil
}

// SaveParseResult persists a parse outcome and its provision nodes. The
// structural invariants are re-checked here, independent of whatever the
// parse path already validated; a document that fails the check is never
// stored. Within one transaction the previous latest parse for the evidence
// is demoted so exactly one row per evidence carries is_latest.
func (s *DocumentStore) SaveParseResult(ctx context.Context, result parser.Result) (string, error) {
	if result.EvidenceID == "" {
		return "", fmt.Errorf("evidence id is required")
	}
	if result.Status == parser.StatusOK {
		if violations := parser.Validate(result.CleanText, result.Nodes); len(violations) > 0 {
			return "", fmt.Errorf("refusing to store parse of %s: %w", result.EvidenceID, violations[0])
		}
	}

	statsJSON, err := json.Marshal(result.Stats)
	if err != nil {
		return "", fmt.Errorf("marshal stats: %w", err)
	}
	warningsJSON, err := json.Marshal(result.Warnings)
	if err != nil {
		return "", fmt.Errorf("marshal warnings: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	demote := `
UPDATE parsed_documents SET is_latest = false
WHERE evidence_id = $1 AND is_latest`
	if _, err := tx.Exec(ctx, demote, result.EvidenceID); err != nil {
		return "", fmt.Errorf("demote previous parse: %w", err)
	}

	docID := uuid.NewString()
	insertDoc := `
INSERT INTO parsed_documents (
	id, evidence_id, status, failure_reason, clean_text, clean_text_hash,
	title, stats, warnings, parser_id, parser_version, parse_config_hash,
	is_latest, parsed_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,true,$13)
ON CONFLICT (evidence_id, parser_version, parse_config_hash) DO UPDATE SET
	status = EXCLUDED.status,
	failure_reason = EXCLUDED.failure_reason,
	clean_text = EXCLUDED.clean_text,
	clean_text_hash = EXCLUDED.clean_text_hash,
	title = EXCLUDED.title,
	stats = EXCLUDED.stats,
	warnings = EXCLUDED.warnings,
	is_latest = true,
	parsed_at = EXCLUDED.parsed_at
RETURNING id`
	var storedID string
	if err := tx.QueryRow(ctx, insertDoc,
		docID,
		result.EvidenceID,
		string(result.Status),
		result.FailureReason,
		result.CleanText,
		result.CleanTextHash,
		result.DocMeta.Title,
		statsJSON,
		warningsJSON,
		result.ParserID,
		result.ParserVersion,
		result.ParseConfigHash,
		time.Now().UTC(),
	).Scan(&storedID); err != nil {
		return "", fmt.Errorf("insert parsed document: %w", err)
	}

	deleteNodes := `DELETE FROM provision_nodes WHERE document_id = $1`
	if _, err := tx.Exec(ctx, deleteNodes, storedID); err != nil {
		return "", fmt.Errorf("clear prior nodes: %w", err)
	}

	insertNode := `
INSERT INTO provision_nodes (
	document_id, node_path, node_type, label, order_index, depth,
	start_offset, end_offset, raw_text, is_container
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	for _, n := range result.Nodes {
		if _, err := tx.Exec(ctx, insertNode,
			storedID,
			n.NodePath,
			string(n.NodeType),
			n.Label,
			n.OrderIndex,
			n.Depth,
			n.StartOffset,
			n.EndOffset,
			n.RawText,
			n.IsContainer,
		); err != nil {
			return "", fmt.Errorf("insert node %s: %w", n.NodePath, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	s.logger.Debug("parse result stored",
		zap.String("evidence_id", result.EvidenceID),
		zap.String("document_id", storedID),
		zap.Int("nodes", len(result.Nodes)),
	)
	return storedID, nil
}

// LatestParse loads the current parse row for an evidence ID, without nodes.
func (s *DocumentStore) LatestParse(ctx context.Context, evidenceID string) (*parser.Result, error) {
	query := `
SELECT evidence_id, status, failure_reason, clean_text, clean_text_hash,
       title, parser_id, parser_version, parse_config_hash
FROM parsed_documents
WHERE evidence_id = $1 AND is_latest`
	var r parser.Result
	err := s.db.QueryRow(ctx, query, evidenceID).Scan(
		&r.EvidenceID,
		&r.Status,
		&r.FailureReason,
		&r.CleanText,
		&r.CleanTextHash,
		&r.DocMeta.Title,
		&r.ParserID,
		&r.ParserVersion,
		&r.ParseConfigHash,
	)
	if err != nil {
		return nil, fmt.Errorf("load latest parse for %s: %w", evidenceID, err)
	}
	return &r, nil
}
