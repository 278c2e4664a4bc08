package search

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/require"

	"github.com/lexhaven/regtruth/internal/model"
)

type fakeEmbedder struct {
	vec   []float32
	calls int
	err   error
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}

func pointerColumns() []string {
	return []string{
		"id", "evidence_id", "node_path", "quote", "context", "domain",
		"value_type", "confidence", "law_ref", "article_ref", "created_at",
		"similarity",
	}
}

func ruleColumns() []string {
	return []string{
		"pointer_id", "id", "concept_slug", "status", "version", "rule_text",
		"inputs_hash", "evidence_hash", "hash_algo", "effective_from",
		"effective_until",
	}
}

func pointerRow(rows *pgxmock.Rows, id string, similarity float64) *pgxmock.Rows {
	return rows.AddRow(
		id, "ev-1", "art-1/par-1", "quote "+id, "context "+id, "tax",
		"threshold", 0.9, "VAT Act", "Art. 1", time.Unix(1700000000, 0).UTC(),
		similarity,
	)
}

func TestSearchFiltersBySimilarityAndAttachesRules(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	emb := &fakeEmbedder{vec: []float32{0.1, 0.2, 0.3}}
	svc, err := NewService(mock, emb, nil)
	require.NoError(t, err)

	asOf := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows(pointerColumns())
	pointerRow(rows, "ptr-1", 0.92)
	pointerRow(rows, "ptr-2", 0.81)
	pointerRow(rows, "ptr-3", 0.40) // below the similarity floor

	mock.ExpectQuery("FROM source_pointers").
		WithArgs(pgvector.NewVector(emb.vec), "tax", 0.5, 20).
		WillReturnRows(rows)

	until := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)
	ruleRows := pgxmock.NewRows(ruleColumns()).
		AddRow("ptr-1", "rule-1", "vat-registration-threshold",
			model.RuleStatusPublished, 3, "Registration above 85k EUR.",
			"ih-1", "eh-1", "sha256", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), &until)

	mock.ExpectQuery("FROM regulatory_rules").
		WithArgs([]string{"ptr-1", "ptr-2"}, asOf, false).
		WillReturnRows(ruleRows)

	matches, err := svc.Search(context.Background(), "vat threshold", Options{
		Limit:         10,
		MinSimilarity: 0.5,
		Domain:        "tax",
		MinConfidence: 0.5,
		AsOfDate:      asOf,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, matches, 2)
	require.Equal(t, "ptr-1", matches[0].Pointer.ID)
	require.InDelta(t, 0.92, matches[0].Similarity, 1e-9)
	require.Len(t, matches[0].Rules, 1)
	require.Equal(t, "vat-registration-threshold", matches[0].Rules[0].ConceptSlug)
	require.Empty(t, matches[1].Rules)
	require.Equal(t, 1, emb.calls)
}

func TestSearchOverfetchesThenTruncatesToLimit(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	emb := &fakeEmbedder{vec: []float32{1}}
	svc, err := NewService(mock, emb, nil)
	require.NoError(t, err)

	rows := pgxmock.NewRows(pointerColumns())
	for i := 0; i < 4; i++ {
		pointerRow(rows, fmt.Sprintf("ptr-%d", i), 0.9-float64(i)*0.01)
	}

	// Limit 2 with the default overfetch factor asks the store for 4.
	mock.ExpectQuery("FROM source_pointers").
		WithArgs(pgxmock.AnyArg(), "", 0.0, 4).
		WillReturnRows(rows)
	mock.ExpectQuery("FROM regulatory_rules").
		WithArgs([]string{"ptr-0", "ptr-1"}, pgxmock.AnyArg(), false).
		WillReturnRows(pgxmock.NewRows(ruleColumns()))

	matches, err := svc.Search(context.Background(), "anything", Options{Limit: 2})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	require.Len(t, matches, 2)
}

func TestSearchNoMatchesSkipsRuleQuery(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	svc, err := NewService(mock, &fakeEmbedder{vec: []float32{1}}, nil)
	require.NoError(t, err)

	mock.ExpectQuery("FROM source_pointers").
		WithArgs(pgxmock.AnyArg(), "", 0.0, 20).
		WillReturnRows(pgxmock.NewRows(pointerColumns()))

	matches, err := svc.Search(context.Background(), "nothing here", Options{})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	require.Empty(t, matches)
}

func TestSearchPublishedOnlyIsPassedThrough(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	svc, err := NewService(mock, &fakeEmbedder{vec: []float32{1}}, nil)
	require.NoError(t, err)

	rows := pgxmock.NewRows(pointerColumns())
	pointerRow(rows, "ptr-1", 0.9)

	mock.ExpectQuery("FROM source_pointers").
		WithArgs(pgxmock.AnyArg(), "", 0.0, 20).
		WillReturnRows(rows)
	mock.ExpectQuery("FROM regulatory_rules").
		WithArgs([]string{"ptr-1"}, pgxmock.AnyArg(), true).
		WillReturnRows(pgxmock.NewRows(ruleColumns()))

	_, err = svc.Search(context.Background(), "q", Options{PublishedOnly: true})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchEmbeddingFailureDoesNotTouchStore(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	svc, err := NewService(mock, &fakeEmbedder{err: fmt.Errorf("quota exceeded")}, nil)
	require.NoError(t, err)

	_, err = svc.Search(context.Background(), "q", Options{})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHybridSearchRanksConceptSlugs(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	svc, err := NewService(mock, &fakeEmbedder{vec: []float32{1}}, nil)
	require.NoError(t, err)

	rows := pgxmock.NewRows(pointerColumns())
	pointerRow(rows, "ptr-1", 0.9)
	pointerRow(rows, "ptr-2", 0.8)

	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	ruleRows := pgxmock.NewRows(ruleColumns()).
		AddRow("ptr-1", "rule-1", "vat-rate", model.RuleStatusPublished, 1,
			"t", "ih", "eh", "sha256", from, (*time.Time)(nil)).
		AddRow("ptr-2", "rule-2", "vat-rate", model.RuleStatusPublished, 1,
			"t", "ih", "eh", "sha256", from, (*time.Time)(nil)).
		AddRow("ptr-2", "rule-3", "excise-duty", model.RuleStatusPublished, 1,
			"t", "ih", "eh", "sha256", from, (*time.Time)(nil))

	mock.ExpectQuery("FROM source_pointers").
		WithArgs(pgxmock.AnyArg(), "", 0.0, 20).
		WillReturnRows(rows)
	mock.ExpectQuery("FROM regulatory_rules").
		WithArgs([]string{"ptr-1", "ptr-2"}, pgxmock.AnyArg(), false).
		WillReturnRows(ruleRows)

	_, slugs, err := svc.HybridSearch(context.Background(), "vat", Options{})
	require.NoError(t, err)
	require.Equal(t, []string{"vat-rate", "excise-duty"}, slugs)
}

func TestFindSimilarPointersExcludesSelf(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	svc, err := NewService(mock, &fakeEmbedder{vec: []float32{1}}, nil)
	require.NoError(t, err)

	mock.ExpectQuery("WHERE p.id = \\$1").
		WithArgs("ptr-1").
		WillReturnRows(pgxmock.NewRows([]string{"quote", "context"}).
			AddRow("the quote", "the context"))

	rows := pgxmock.NewRows(pointerColumns())
	pointerRow(rows, "ptr-1", 0.99) // the source pointer itself
	pointerRow(rows, "ptr-2", 0.85)

	mock.ExpectQuery("FROM source_pointers").
		WithArgs(pgxmock.AnyArg(), "", 0.0, 20).
		WillReturnRows(rows)
	mock.ExpectQuery("FROM regulatory_rules").
		WithArgs([]string{"ptr-1", "ptr-2"}, pgxmock.AnyArg(), false).
		WillReturnRows(pgxmock.NewRows(ruleColumns()))

	matches, err := svc.FindSimilarPointers(context.Background(), "ptr-1", Options{})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	require.Len(t, matches, 1)
	require.Equal(t, "ptr-2", matches[0].Pointer.ID)
}

func TestFindSimilarPointersUnknownID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	svc, err := NewService(mock, &fakeEmbedder{vec: []float32{1}}, nil)
	require.NoError(t, err)

	mock.ExpectQuery("WHERE p.id = \\$1").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"quote", "context"}))

	_, err = svc.FindSimilarPointers(context.Background(), "missing", Options{})
	require.ErrorContains(t, err, "not found")
}

func TestCachingEmbedderMemoizes(t *testing.T) {
	t.Parallel()

	inner := &fakeEmbedder{vec: []float32{0.5}}
	cached := NewCachingEmbedder(inner, time.Minute)

	v1, err := cached.Embed(context.Background(), "same text")
	require.NoError(t, err)
	v2, err := cached.Embed(context.Background(), "same text")
	require.NoError(t, err)
	require.Equal(t, v1, v2)
	require.Equal(t, 1, inner.calls)

	_, err = cached.Embed(context.Background(), "different text")
	require.NoError(t, err)
	require.Equal(t, 2, inner.calls)
}
