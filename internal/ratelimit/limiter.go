// Package ratelimit implements per-domain politeness delays and a
// consecutive-error circuit breaker for discovery traffic.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lexhaven/regtruth/internal/alert"
	"github.com/lexhaven/regtruth/internal/metrics"
	"github.com/lexhaven/regtruth/internal/model"
)

// ErrCircuitOpen is returned by Wait while a domain's circuit breaker is open.
// Callers must fail fast rather than retry.
var ErrCircuitOpen = errors.New("circuit breaker open")

// Config controls limiter behavior. The delay between requests to one domain
// is drawn uniformly from [MinDelay, MaxDelay] so independent runs do not
// synchronize their request patterns against a single host.
type Config struct {
	MinDelay       time.Duration `mapstructure:"min_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	ErrorThreshold int           `mapstructure:"error_threshold"`
	CooldownPeriod time.Duration `mapstructure:"cooldown_period"`
}

const (
	defaultMinDelay       = 1 * time.Second
	defaultMaxDelay       = 3 * time.Second
	defaultErrorThreshold = 5
	defaultCooldown       = 10 * time.Minute
)

type domainState struct {
	lastRequestAt     time.Time
	consecutiveErrors int
	circuitOpen       bool
	openedAt          time.Time
}

// Limiter tracks per-domain request timing and failure streaks. One Limiter
// instance serves one discovery run; independent runs get independent
// instances from the registry.
type Limiter struct {
	mu      sync.Mutex
	domains map[string]*domainState
	cfg     Config
	logger  *zap.Logger
	alerter alert.Alerter
	rng     *rand.Rand
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates a Limiter. A nil alerter disables reset/open notifications.
func New(cfg Config, logger *zap.Logger, alerter alert.Alerter) *Limiter {
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = defaultMinDelay
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay + (defaultMaxDelay - defaultMinDelay)
	}
	if cfg.ErrorThreshold <= 0 {
		cfg.ErrorThreshold = defaultErrorThreshold
	}
	if cfg.CooldownPeriod <= 0 {
		cfg.CooldownPeriod = defaultCooldown
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{
		domains: make(map[string]*domainState),
		cfg:     cfg,
		logger:  logger,
		alerter: alerter,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:   sleepWithContext,
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (l *Limiter) state(domain string) *domainState {
	st, ok := l.domains[domain]
	if !ok {
		st = &domainState{}
		l.domains[domain] = st
	}
	return st
}

// Wait blocks until the domain's politeness delay has elapsed, honoring the
// context. While the domain's circuit is open and the cooldown has not
// elapsed, Wait fails fast with ErrCircuitOpen.
func (l *Limiter) Wait(ctx context.Context, domain string) error {
	l.mu.Lock()
	st := l.state(domain)
	if st.circuitOpen {
		if time.Since(st.openedAt) < l.cfg.CooldownPeriod {
			l.mu.Unlock()
			return fmt.Errorf("domain %s: %w", domain, ErrCircuitOpen)
		}
		// Cooldown elapsed: half-open, allow the request through. The next
		// failure reopens the circuit immediately.
		st.circuitOpen = false
		st.consecutiveErrors = l.cfg.ErrorThreshold
		metrics.SetCircuitOpen(domain, false)
		l.logger.Info("circuit half-open after cooldown", zap.String("domain", domain))
	}
	delaySpan := l.cfg.MaxDelay - l.cfg.MinDelay
	delay := l.cfg.MinDelay
	if delaySpan > 0 {
		delay += time.Duration(l.rng.Int63n(int64(delaySpan) + 1))
	}
	elapsed := time.Since(st.lastRequestAt)
	wait := delay - elapsed
	if st.lastRequestAt.IsZero() {
		wait = 0
	}
	l.mu.Unlock()

	if wait > 0 {
		metrics.ObserveRateLimitDelay(domain, wait)
		if err := l.sleep(ctx, wait); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	l.mu.Lock()
	l.state(domain).lastRequestAt = time.Now()
	l.mu.Unlock()
	return nil
}

// ReportSuccess resets the domain's consecutive-error streak.
func (l *Limiter) ReportSuccess(domain string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state(domain).consecutiveErrors = 0
}

// ReportFailure increments the domain's error streak and opens the circuit
// once the streak exceeds the configured threshold.
func (l *Limiter) ReportFailure(ctx context.Context, domain string, cause error) {
	l.mu.Lock()
	st := l.state(domain)
	st.consecutiveErrors++
	opened := false
	if !st.circuitOpen && st.consecutiveErrors > l.cfg.ErrorThreshold {
		st.circuitOpen = true
		st.openedAt = time.Now()
		opened = true
	}
	streak := st.consecutiveErrors
	l.mu.Unlock()

	if !opened {
		return
	}
	metrics.SetCircuitOpen(domain, true)
	lastError := ""
	if cause != nil {
		lastError = cause.Error()
	}
	l.logger.Warn("circuit breaker opened",
		zap.String("domain", domain),
		zap.Int("consecutive_errors", streak),
		zap.Error(cause),
	)
	l.notify(ctx, alert.Event{
		Kind:              alert.KindCircuitOpen,
		Domain:            domain,
		ConsecutiveErrors: streak,
		LastError:         lastError,
		Message:           fmt.Sprintf("circuit opened for %s after %d consecutive errors", domain, streak),
		At:                time.Now().UTC(),
	})
}

// Reset closes a domain's circuit on explicit operator request. Resets are
// audited: the operator is logged and an operational alert is raised, so a
// reset never applies silently.
func (l *Limiter) Reset(ctx context.Context, domain, operator string) {
	l.mu.Lock()
	st := l.state(domain)
	wasOpen := st.circuitOpen
	st.circuitOpen = false
	st.consecutiveErrors = 0
	st.openedAt = time.Time{}
	l.mu.Unlock()

	metrics.SetCircuitOpen(domain, false)
	l.logger.Warn("circuit breaker manually reset",
		zap.String("domain", domain),
		zap.String("operator", operator),
		zap.Bool("was_open", wasOpen),
	)
	l.notify(ctx, alert.Event{
		Kind:    alert.KindCircuitReset,
		Domain:  domain,
		Message: fmt.Sprintf("circuit for %s reset by %s", domain, operator),
		At:      time.Now().UTC(),
	})
}

// HealthStatus returns a snapshot of every tracked domain's limiter state.
// The snapshot is live in-memory state, not persisted data.
func (l *Limiter) HealthStatus() map[string]model.DomainRateLimitState {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]model.DomainRateLimitState, len(l.domains))
	for domain, st := range l.domains {
		out[domain] = model.DomainRateLimitState{
			Domain:            domain,
			LastRequestAt:     st.lastRequestAt,
			ConsecutiveErrors: st.consecutiveErrors,
			CircuitOpen:       st.circuitOpen,
			OpenedAt:          st.openedAt,
		}
	}
	return out
}

func (l *Limiter) notify(ctx context.Context, event alert.Event) {
	if l.alerter == nil {
		return
	}
	metrics.ObserveAlertSent(string(event.Kind))
	if err := l.alerter.SendAlert(ctx, event); err != nil {
		l.logger.Error("send alert failed", zap.Error(err), zap.String("kind", string(event.Kind)))
	}
}
