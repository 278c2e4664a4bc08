package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lexhaven/regtruth/internal/hashing"
	"github.com/lexhaven/regtruth/internal/model"
)

// ErrInvalidTransition is returned when a status change is not allowed by
// the rule lifecycle.
var ErrInvalidTransition = errors.New("invalid rule status transition")

// RuleStore persists regulatory rules, their lifecycle, and the idempotency
// hashes of composition attempts.
type RuleStore struct {
	db DB
}

// NewRuleStore builds a rule store.
func NewRuleStore(db DB) (*RuleStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &RuleStore{db: db}, nil
}

// CreateDraft inserts a new rule version in DRAFT for the concept. The
// version is one past the concept's current maximum; the pointer IDs record
// provenance.
func (s *RuleStore) CreateDraft(ctx context.Context, rule model.RegulatoryRule, pointerIDs []string) (string, error) {
	if rule.ConceptSlug == "" {
		return "", fmt.Errorf("concept slug is required")
	}
	if rule.RuleText == "" {
		return "", fmt.Errorf("rule text is required")
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	id := rule.ID
	if id == "" {
		id = uuid.NewString()
	}
	insert := `
INSERT INTO regulatory_rules (
	id, concept_slug, status, version, rule_text,
	inputs_hash, evidence_hash, hash_algo,
	effective_from, effective_until, created_at, updated_at
) VALUES (
	$1, $2, $3,
	(SELECT COALESCE(MAX(version), 0) + 1 FROM regulatory_rules WHERE concept_slug = $2),
	$4, $5, $6, $7, $8, $9, $10, $10
)
RETURNING version`
	now := time.Now().UTC()
	var version int
	if err := tx.QueryRow(ctx, insert,
		id,
		rule.ConceptSlug,
		string(model.RuleStatusDraft),
		rule.RuleText,
		rule.InputsHash,
		rule.EvidenceHash,
		rule.HashAlgo,
		rule.EffectiveFrom,
		rule.EffectiveUntil,
		now,
	).Scan(&version); err != nil {
		return "", fmt.Errorf("insert rule draft: %w", err)
	}

	link := `INSERT INTO rule_source_pointers (rule_id, pointer_id) VALUES ($1, $2)`
	for _, pid := range pointerIDs {
		if _, err := tx.Exec(ctx, link, id, pid); err != nil {
			return "", fmt.Errorf("link pointer %s: %w", pid, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

// Transition moves a rule to the next lifecycle status, enforcing the
// allowed transitions. The check and the update share one transaction so a
// concurrent transition cannot slip an illegal hop through.
func (s *RuleStore) Transition(ctx context.Context, ruleID string, next model.RuleStatus) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var current model.RuleStatus
	load := `SELECT status FROM regulatory_rules WHERE id = $1 FOR UPDATE`
	if err := tx.QueryRow(ctx, load, ruleID).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("rule %s not found", ruleID)
		}
		return fmt.Errorf("load rule status: %w", err)
	}
	if !current.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
	}

	update := `UPDATE regulatory_rules SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err := tx.Exec(ctx, update, ruleID, string(next), time.Now().UTC()); err != nil {
		return fmt.Errorf("update rule status: %w", err)
	}
	return tx.Commit(ctx)
}

// LastAttempt returns the hashes of the most recent composition attempt for
// a concept, or nil when none was recorded.
func (s *RuleStore) LastAttempt(ctx context.Context, conceptSlug string) (*hashing.Attempt, error) {
	query := `
SELECT inputs_hash, evidence_hash
FROM composition_attempts
WHERE concept_slug = $1
ORDER BY attempted_at DESC
LIMIT 1`
	var a hashing.Attempt
	err := s.db.QueryRow(ctx, query, conceptSlug).Scan(&a.InputsHash, &a.EvidenceHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load last attempt for %s: %w", conceptSlug, err)
	}
	return &a, nil
}

// RecordAttempt stores the hash pair of a composition attempt. Concurrent
// duplicate attempts are tolerated: the row is keyed by its hash pair and
// the latest write wins on the timestamp.
func (s *RuleStore) RecordAttempt(ctx context.Context, conceptSlug string, attempt hashing.Attempt, algo string) error {
	if attempt.InputsHash == "" || attempt.EvidenceHash == "" {
		return fmt.Errorf("attempt hashes are required")
	}
	query := `
INSERT INTO composition_attempts (concept_slug, inputs_hash, evidence_hash, hash_algo, attempted_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (concept_slug, inputs_hash, evidence_hash) DO UPDATE SET
	attempted_at = EXCLUDED.attempted_at`
	if _, err := s.db.Exec(ctx, query,
		conceptSlug,
		attempt.InputsHash,
		attempt.EvidenceHash,
		algo,
		time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("record attempt for %s: %w", conceptSlug, err)
	}
	return nil
}

// EffectiveRules returns the rules for a concept in force at asOf, newest
// version first.
func (s *RuleStore) EffectiveRules(ctx context.Context, conceptSlug string, asOf time.Time) ([]model.RegulatoryRule, error) {
	query := `
SELECT id, concept_slug, status, version, rule_text,
       inputs_hash, evidence_hash, hash_algo,
       effective_from, effective_until, created_at, updated_at
FROM regulatory_rules
WHERE concept_slug = $1
  AND effective_from <= $2
  AND (effective_until IS NULL OR effective_until >= $2)
ORDER BY version DESC`
	rows, err := s.db.Query(ctx, query, conceptSlug, asOf)
	if err != nil {
		return nil, fmt.Errorf("load effective rules for %s: %w", conceptSlug, err)
	}
	defer rows.Close()

	var out []model.RegulatoryRule
	for rows.Next() {
		var r model.RegulatoryRule
		if err := rows.Scan(
			&r.ID, &r.ConceptSlug, &r.Status, &r.Version, &r.RuleText,
			&r.InputsHash, &r.EvidenceHash, &r.HashAlgo,
			&r.EffectiveFrom, &r.EffectiveUntil, &r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan rule row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load effective rules for %s: %w", conceptSlug, err)
	}
	return out, nil
}
