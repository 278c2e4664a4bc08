// Package search implements semantic retrieval over source pointers using
// pgvector cosine distance, with scalar filters pushed into SQL and an
// overfetch margin so similarity post-filtering still fills the page.
package search

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/lexhaven/regtruth/internal/metrics"
	"github.com/lexhaven/regtruth/internal/model"
)

// Querier is the subset of pgxpool.Pool the service needs. pgxmock
// satisfies it for tests.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Options narrows a search. Zero values mean "no filter" except Limit,
// which defaults to 10.
type Options struct {
	Limit           int
	MinSimilarity   float64
	Domain          string
	MinConfidence   float64
	PublishedOnly   bool
	AsOfDate        time.Time
	OverfetchFactor int
}

// Match is one search hit: the pointer, its cosine similarity to the
// query, and the rules effective at the requested date that cite it.
type Match struct {
	Pointer    model.SourcePointer    `json:"pointer"`
	Similarity float64                `json:"similarity"`
	Rules      []model.RegulatoryRule `json:"rules,omitempty"`
}

// Service answers semantic queries against stored pointers.
type Service struct {
	db       Querier
	embedder Embedder
	logger   *zap.Logger
}

// NewService wires a search service.
func NewService(db Querier, embedder Embedder, logger *zap.Logger) (*Service, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, embedder: embedder, logger: logger}, nil
}

const pointerSearchSQL = `
SELECT
	p.id,
	p.evidence_id,
	p.node_path,
	p.quote,
	p.context,
	p.domain,
	p.value_type,
	p.confidence,
	p.law_ref,
	p.article_ref,
	p.created_at,
	1 - (p.embedding <=> $1) AS similarity
FROM source_pointers p
WHERE p.deleted_at IS NULL
  AND p.embedding IS NOT NULL
  AND ($2 = '' OR p.domain = $2)
  AND p.confidence >= $3
ORDER BY p.embedding <=> $1
LIMIT $4`

const effectiveRulesSQL = `
SELECT
	rp.pointer_id,
	r.id,
	r.concept_slug,
	r.status,
	r.version,
	r.rule_text,
	r.inputs_hash,
	r.evidence_hash,
	r.hash_algo,
	r.effective_from,
	r.effective_until
FROM regulatory_rules r
JOIN rule_source_pointers rp ON rp.rule_id = r.id
WHERE rp.pointer_id = ANY($1)
  AND r.effective_from <= $2
  AND (r.effective_until IS NULL OR r.effective_until >= $2)
  AND ($3 = false OR r.status = 'PUBLISHED')
ORDER BY r.concept_slug, r.version DESC`

// Search embeds the query once, retrieves the nearest pointers with the
// scalar filters applied in SQL, drops hits below MinSimilarity, and
// resolves the rules effective at AsOfDate for the surviving pointers.
// It performs exactly one embedding call and at most two queries.
func (s *Service) Search(ctx context.Context, query string, opts Options) ([]Match, error) {
	start := time.Now()
	defer func() { metrics.ObserveSearchDuration(time.Since(start)) }()

	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	overfetch := opts.OverfetchFactor
	if overfetch <= 0 {
		overfetch = 2
	}
	asOf := opts.AsOfDate
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	matches, err := s.queryPointers(ctx, vec, opts, limit*overfetch)
	if err != nil {
		return nil, err
	}

	filtered := matches[:0]
	for _, m := range matches {
		if m.Similarity >= opts.MinSimilarity {
			filtered = append(filtered, m)
		}
	}
	matches = filtered
	if len(matches) > limit {
		matches = matches[:limit]
	}
	if len(matches) == 0 {
		return nil, nil
	}

	if err := s.attachRules(ctx, matches, asOf, opts.PublishedOnly); err != nil {
		return nil, err
	}
	s.logger.Debug("search completed",
		zap.Int("matches", len(matches)),
		zap.String("domain", opts.Domain),
		zap.Duration("elapsed", time.Since(start)),
	)
	return matches, nil
}

// HybridSearch runs Search and additionally reports the distinct concept
// slugs covered by the matched rules, most-covered first.
func (s *Service) HybridSearch(ctx context.Context, query string, opts Options) ([]Match, []string, error) {
	matches, err := s.Search(ctx, query, opts)
	if err != nil {
		return nil, nil, err
	}
	counts := map[string]int{}
	for _, m := range matches {
		for _, r := range m.Rules {
			counts[r.ConceptSlug]++
		}
	}
	slugs := make([]string, 0, len(counts))
	for slug := range counts {
		slugs = append(slugs, slug)
	}
	sort.Slice(slugs, func(i, j int) bool {
		if counts[slugs[i]] != counts[slugs[j]] {
			return counts[slugs[i]] > counts[slugs[j]]
		}
		return slugs[i] < slugs[j]
	})
	return matches, slugs, nil
}

const pointerByIDSQL = `
SELECT p.quote, p.context
FROM source_pointers p
WHERE p.id = $1 AND p.deleted_at IS NULL`

// FindSimilarPointers searches for pointers semantically close to an
// existing one, using its quote and surrounding context as the query. The
// pointer itself is excluded from the results.
func (s *Service) FindSimilarPointers(ctx context.Context, pointerID string, opts Options) ([]Match, error) {
	if pointerID == "" {
		return nil, fmt.Errorf("pointer id is required")
	}
	rows, err := s.db.Query(ctx, pointerByIDSQL, pointerID)
	if err != nil {
		return nil, fmt.Errorf("load pointer: %w", err)
	}
	var quote, pctx string
	found := false
	for rows.Next() {
		if err := rows.Scan(&quote, &pctx); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan pointer: %w", err)
		}
		found = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load pointer: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("pointer %s not found", pointerID)
	}

	matches, err := s.Search(ctx, quote+"\n"+pctx, opts)
	if err != nil {
		return nil, err
	}
	out := matches[:0]
	for _, m := range matches {
		if m.Pointer.ID != pointerID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Service) queryPointers(ctx context.Context, vec []float32, opts Options, fetchLimit int) ([]Match, error) {
	rows, err := s.db.Query(ctx, pointerSearchSQL,
		pgvector.NewVector(vec),
		opts.Domain,
		opts.MinConfidence,
		fetchLimit,
	)
	if err != nil {
		return nil, fmt.Errorf("search pointers: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(
			&m.Pointer.ID,
			&m.Pointer.EvidenceID,
			&m.Pointer.NodePath,
			&m.Pointer.Quote,
			&m.Pointer.Context,
			&m.Pointer.Domain,
			&m.Pointer.ValueType,
			&m.Pointer.Confidence,
			&m.Pointer.LawRef,
			&m.Pointer.ArticleRef,
			&m.Pointer.CreatedAt,
			&m.Similarity,
		); err != nil {
			return nil, fmt.Errorf("scan pointer row: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search pointers: %w", err)
	}
	return matches, nil
}

func (s *Service) attachRules(ctx context.Context, matches []Match, asOf time.Time, publishedOnly bool) error {
	ids := make([]string, len(matches))
	byID := make(map[string]*Match, len(matches))
	for i := range matches {
		ids[i] = matches[i].Pointer.ID
		byID[matches[i].Pointer.ID] = &matches[i]
	}

	rows, err := s.db.Query(ctx, effectiveRulesSQL, ids, asOf, publishedOnly)
	if err != nil {
		return fmt.Errorf("resolve rules: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var pointerID string
		var r model.RegulatoryRule
		if err := rows.Scan(
			&pointerID,
			&r.ID,
			&r.ConceptSlug,
			&r.Status,
			&r.Version,
			&r.RuleText,
			&r.InputsHash,
			&r.EvidenceHash,
			&r.HashAlgo,
			&r.EffectiveFrom,
			&r.EffectiveUntil,
		); err != nil {
			return fmt.Errorf("scan rule row: %w", err)
		}
		if m, ok := byID[pointerID]; ok {
			m.Rules = append(m.Rules, r)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("resolve rules: %w", err)
	}
	return nil
}
