// Package watchdog periodically inspects endpoint scrape metadata and live
// rate-limiter state, raising alerts for stale sources and error streaks.
package watchdog

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/lexhaven/regtruth/internal/alert"
	"github.com/lexhaven/regtruth/internal/metrics"
	"github.com/lexhaven/regtruth/internal/model"
	"github.com/lexhaven/regtruth/internal/ratelimit"
)

// EndpointStore loads the persisted scrape metadata the watchdog evaluates.
type EndpointStore interface {
	ListEndpointHealth(ctx context.Context) ([]model.EndpointHealth, error)
}

// Config controls breach detection.
type Config struct {
	// SLA is the maximum age of a successful scrape before the source is
	// considered stale. A source that has never been scraped is always stale.
	SLA time.Duration `mapstructure:"sla"`
	// ErrorStreakThreshold is the consecutive-error count at or above which
	// a source is flagged.
	ErrorStreakThreshold int `mapstructure:"error_streak_threshold"`
	// Interval is the pause between checks when running as a loop.
	Interval time.Duration `mapstructure:"interval"`
}

// DefaultConfig returns the standard watchdog settings.
func DefaultConfig() Config {
	return Config{
		SLA:                  26 * time.Hour,
		ErrorStreakThreshold: 3,
		Interval:             5 * time.Minute,
	}
}

// IsSLABreached reports whether the endpoint's last successful scrape is
// older than the SLA as of now. A nil lastScrapedAt is a breach: a source
// that never succeeded cannot be presumed healthy.
func IsSLABreached(lastScrapedAt *time.Time, sla time.Duration, now time.Time) bool {
	if lastScrapedAt == nil {
		return true
	}
	return now.Sub(*lastScrapedAt) > sla
}

// HasConsecutiveErrors reports whether the error streak meets the threshold.
func HasConsecutiveErrors(consecutiveErrors, threshold int) bool {
	return consecutiveErrors >= threshold
}

// EndpointStatus is one source's evaluated health.
type EndpointStatus struct {
	Source            string     `json:"source"`
	LastScrapedAt     *time.Time `json:"last_scraped_at,omitempty"`
	ConsecutiveErrors int        `json:"consecutive_errors"`
	LastError         string     `json:"last_error,omitempty"`
	SLABreached       bool       `json:"sla_breached"`
	ErrorStreak       bool       `json:"error_streak"`
}

// Report is the outcome of one watchdog pass.
type Report struct {
	CheckedAt  time.Time                             `json:"checked_at"`
	Endpoints  []EndpointStatus                      `json:"endpoints"`
	RateLimits map[string]model.DomainRateLimitState `json:"rate_limits"`
}

// Watchdog evaluates endpoint health against the configured SLA and error
// threshold and forwards breaches to the alerter.
type Watchdog struct {
	cfg      Config
	store    EndpointStore
	registry *ratelimit.Registry
	alerter  alert.Alerter
	logger   *zap.Logger
	now      func() time.Time
}

// New wires a watchdog. The registry may be nil when no limiter state is
// available in-process (e.g. the serve command without an active crawl).
func New(cfg Config, store EndpointStore, registry *ratelimit.Registry, alerter alert.Alerter, logger *zap.Logger) (*Watchdog, error) {
	if store == nil {
		return nil, fmt.Errorf("endpoint store is required")
	}
	if alerter == nil {
		return nil, fmt.Errorf("alerter is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SLA <= 0 {
		cfg.SLA = DefaultConfig().SLA
	}
	if cfg.ErrorStreakThreshold <= 0 {
		cfg.ErrorStreakThreshold = DefaultConfig().ErrorStreakThreshold
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	return &Watchdog{
		cfg:      cfg,
		store:    store,
		registry: registry,
		alerter:  alerter,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// CheckEndpoints runs one evaluation pass. Every breached condition raises
// its own alert; alert delivery failures are logged, not returned, so one
// bad notification channel cannot mask the rest of the report.
func (w *Watchdog) CheckEndpoints(ctx context.Context) (Report, error) {
	now := w.now().UTC()
	report := Report{CheckedAt: now}

	endpoints, err := w.store.ListEndpointHealth(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list endpoint health: %w", err)
	}
	sort.Slice(endpoints, func(i, j int) bool { return endpoints[i].Source < endpoints[j].Source })

	for _, ep := range endpoints {
		status := EndpointStatus{
			Source:            ep.Source,
			LastScrapedAt:     ep.LastScrapedAt,
			ConsecutiveErrors: ep.ConsecutiveErrors,
			LastError:         ep.LastError,
			SLABreached:       IsSLABreached(ep.LastScrapedAt, w.cfg.SLA, now),
			ErrorStreak:       HasConsecutiveErrors(ep.ConsecutiveErrors, w.cfg.ErrorStreakThreshold),
		}
		report.Endpoints = append(report.Endpoints, status)

		if status.SLABreached {
			w.send(ctx, alert.Event{
				Kind:      alert.KindSLABreach,
				Source:    ep.Source,
				LastError: ep.LastError,
				Message:   fmt.Sprintf("source %s has no successful scrape within %s", ep.Source, w.cfg.SLA),
				At:        now,
			})
		}
		if status.ErrorStreak {
			w.send(ctx, alert.Event{
				Kind:              alert.KindConsecutiveErrors,
				Source:            ep.Source,
				ConsecutiveErrors: ep.ConsecutiveErrors,
				LastError:         ep.LastError,
				Message:           fmt.Sprintf("source %s has %d consecutive scrape errors", ep.Source, ep.ConsecutiveErrors),
				At:                now,
			})
		}
	}

	if w.registry != nil {
		report.RateLimits = w.registry.HealthStatus()
	}

	w.logger.Info("watchdog pass completed",
		zap.Int("endpoints", len(report.Endpoints)),
		zap.Int("rate_limited_domains", len(report.RateLimits)),
	)
	return report, nil
}

// Run executes CheckEndpoints on the configured interval until ctx ends.
// The first pass runs immediately.
func (w *Watchdog) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := w.CheckEndpoints(ctx); err != nil {
			w.logger.Error("watchdog pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *Watchdog) send(ctx context.Context, event alert.Event) {
	if err := w.alerter.SendAlert(ctx, event); err != nil {
		w.logger.Error("send alert",
			zap.String("kind", string(event.Kind)),
			zap.String("source", event.Source),
			zap.Error(err),
		)
		return
	}
	metrics.ObserveAlertSent(string(event.Kind))
}
