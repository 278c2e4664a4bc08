package ratelimit

import (
	"sync"

	"go.uber.org/zap"

	"github.com/lexhaven/regtruth/internal/alert"
	"github.com/lexhaven/regtruth/internal/model"
)

// Registry hands out one Limiter per discovery source. It is constructed once
// at process start; limiter lifecycle is an explicit call, never implicit
// first-access initialization.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*Limiter
	cfg      Config
	logger   *zap.Logger
	alerter  alert.Alerter
}

// NewRegistry creates a Registry that builds limiters from the given config.
func NewRegistry(cfg Config, logger *zap.Logger, alerter alert.Alerter) *Registry {
	return &Registry{
		limiters: make(map[string]*Limiter),
		cfg:      cfg,
		logger:   logger,
		alerter:  alerter,
	}
}

// Register creates and stores a limiter for the given source, replacing any
// prior registration.
func (r *Registry) Register(source string) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l := New(r.cfg, r.logger, r.alerter)
	r.limiters[source] = l
	return l
}

// Get returns the limiter registered for source, or nil.
func (r *Registry) Get(source string) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.limiters[source]
}

// HealthStatus merges the snapshots of all registered limiters, keyed by
// domain. Sources sharing a domain report the worse state.
func (r *Registry) HealthStatus() map[string]model.DomainRateLimitState {
	r.mu.Lock()
	defer r.mu.Unlock()
	merged := make(map[string]model.DomainRateLimitState)
	for _, l := range r.limiters {
		for domain, st := range l.HealthStatus() {
			prev, ok := merged[domain]
			if !ok || st.CircuitOpen || st.ConsecutiveErrors > prev.ConsecutiveErrors {
				merged[domain] = st
			}
		}
	}
	return merged
}
