package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/lexhaven/regtruth/internal/model"
)

// EndpointStore persists per-source scrape health rows.
type EndpointStore struct {
	db DB
}

// NewEndpointStore builds an endpoint health store.
func NewEndpointStore(db DB) (*EndpointStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &EndpointStore{db: db}, nil
}

// ListEndpointHealth returns all tracked sources.
func (s *EndpointStore) ListEndpointHealth(ctx context.Context) ([]model.EndpointHealth, error) {
	query := `
SELECT source, last_scraped_at, consecutive_errors, last_error
FROM endpoint_health
ORDER BY source`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list endpoint health: %w", err)
	}
	defer rows.Close()

	var out []model.EndpointHealth
	for rows.Next() {
		var ep model.EndpointHealth
		if err := rows.Scan(&ep.Source, &ep.LastScrapedAt, &ep.ConsecutiveErrors, &ep.LastError); err != nil {
			return nil, fmt.Errorf("scan endpoint health row: %w", err)
		}
		out = append(out, ep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list endpoint health: %w", err)
	}
	return out, nil
}

// RecordSuccess stamps a successful scrape and clears the error streak.
func (s *EndpointStore) RecordSuccess(ctx context.Context, source string, at time.Time) error {
	query := `
INSERT INTO endpoint_health (source, last_scraped_at, consecutive_errors, last_error)
VALUES ($1, $2, 0, '')
ON CONFLICT (source) DO UPDATE SET
	last_scraped_at = EXCLUDED.last_scraped_at,
	consecutive_errors = 0,
	last_error = ''`
	if _, err := s.db.Exec(ctx, query, source, at); err != nil {
		return fmt.Errorf("record scrape success for %s: %w", source, err)
	}
	return nil
}

// RecordFailure increments the error streak without touching last_scraped_at,
// which records successful scrapes only.
func (s *EndpointStore) RecordFailure(ctx context.Context, source, cause string) error {
	query := `
INSERT INTO endpoint_health (source, last_scraped_at, consecutive_errors, last_error)
VALUES ($1, NULL, 1, $2)
ON CONFLICT (source) DO UPDATE SET
	consecutive_errors = endpoint_health.consecutive_errors + 1,
	last_error = EXCLUDED.last_error`
	if _, err := s.db.Exec(ctx, query, source, cause); err != nil {
		return fmt.Errorf("record scrape failure for %s: %w", source, err)
	}
	return nil
}
