// Package discovery converts a root sitemap index into a bounded, resumable
// stream of content URLs. The scan is strictly sequential: one fetch in
// flight per Scanner. Parallelism across sources comes from running
// independent Scanners, each bound to its own rate limiter.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/lexhaven/regtruth/internal/alert"
	"github.com/lexhaven/regtruth/internal/metrics"
	"github.com/lexhaven/regtruth/internal/model"
	"github.com/lexhaven/regtruth/internal/ratelimit"
)

// Config controls one discovery run.
type Config struct {
	// Source names the endpoint for checkpoints, metrics, and alerts.
	Source string
	// IndexURL is the root sitemap index.
	IndexURL string
	// URLPattern selects content URLs from child sitemaps. Nil matches all.
	URLPattern *regexp.Regexp
	// DatePattern extracts a four-digit year from a child sitemap URL
	// (first capture group, or whole match when there is none). When set,
	// children outside [DateFrom.Year, DateTo.Year] are skipped. Children
	// with no extractable date are skipped too, unless
	// IncludeUndatedChildren is set: an unfiltered child risks
	// over-fetching, so the default fails closed.
	DatePattern            *regexp.Regexp
	DateFrom               time.Time
	DateTo                 time.Time
	IncludeUndatedChildren bool
	// MaxURLs caps cumulative yielded URLs, including any carried from a
	// resumed checkpoint. Zero or negative means unlimited.
	MaxURLs int
	// MaxChildFailures is the transient-failure budget per run.
	MaxChildFailures int
	// MaxDocBytes caps the size of any single sitemap document.
	MaxDocBytes int64
	// MaxLocBytes caps a single <loc> element.
	MaxLocBytes int
}

const (
	defaultMaxChildFailures = 50
	defaultMaxDocBytes      = 64 << 20 // 64 MiB
	defaultMaxLocBytes      = 4096
)

// Scanner streams content URLs from a sitemap index.
type Scanner struct {
	cfg     Config
	fetcher Fetcher
	limiter *ratelimit.Limiter
	ckpts   CheckpointStore
	alerter alert.Alerter
	logger  *zap.Logger
	stop    atomic.Bool
}

// NewScanner builds a Scanner. The limiter and checkpoint store are required;
// the alerter is optional.
func NewScanner(cfg Config, fetcher Fetcher, limiter *ratelimit.Limiter, ckpts CheckpointStore, alerter alert.Alerter, logger *zap.Logger) (*Scanner, error) {
	if cfg.IndexURL == "" {
		return nil, fmt.Errorf("index url is required")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if ckpts == nil {
		return nil, fmt.Errorf("checkpoint store is required")
	}
	if cfg.MaxChildFailures <= 0 {
		cfg.MaxChildFailures = defaultMaxChildFailures
	}
	if cfg.MaxDocBytes <= 0 {
		cfg.MaxDocBytes = defaultMaxDocBytes
	}
	if cfg.MaxLocBytes <= 0 {
		cfg.MaxLocBytes = defaultMaxLocBytes
	}
	if cfg.Source == "" {
		cfg.Source = cfg.IndexURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{
		cfg:     cfg,
		fetcher: fetcher,
		limiter: limiter,
		ckpts:   ckpts,
		alerter: alerter,
		logger:  logger.With(zap.String("source", cfg.Source)),
	}, nil
}

// RequestStop asks the scan to end gracefully. The flag is polled only at
// child-sitemap boundaries, never mid-child, so stop latency is bounded by
// one child's parse time.
func (s *Scanner) RequestStop() {
	s.stop.Store(true)
}

// runState carries mutable scan progress across children.
type runState struct {
	ckpt         model.DiscoveryCheckpoint
	childIndex   int
	failures     int
	emittedNow   int
	totalThisRun int
	stopped      bool
}

// Run scans the index, emitting matching content URLs through emit, and
// returns the checkpoint the caller should persist for resume. The checkpoint
// always points at the last fully processed child: a run interrupted
// mid-child re-reads that child from its start on resume, and duplicated
// yields across the boundary are safe because downstream consumption is
// idempotent.
func (s *Scanner) Run(ctx context.Context, resume *model.DiscoveryCheckpoint, emit func(url string) error) (model.DiscoveryCheckpoint, error) {
	st := &runState{ckpt: model.DiscoveryCheckpoint{LastCompletedChildIndex: -1}}
	if resume != nil {
		st.ckpt = *resume
	}

	if s.cfg.MaxURLs > 0 && st.ckpt.URLsEmittedSoFar >= s.cfg.MaxURLs {
		metrics.ObserveDiscoveryRun(s.cfg.Source, "url_cap")
		return st.ckpt, nil
	}

	body, err := s.fetcher.Fetch(ctx, s.cfg.IndexURL)
	if err != nil {
		metrics.ObserveDiscoveryRun(s.cfg.Source, "index_unreachable")
		return st.ckpt, fmt.Errorf("fetch sitemap index: %w", err)
	}
	defer func() { _ = body.Close() }()

	err = streamLocs(body, s.cfg.MaxDocBytes, s.cfg.MaxLocBytes, func(childURL string) error {
		return s.visitChild(ctx, st, childURL, emit)
	})

	outcome := "completed"
	switch {
	case err == nil:
	case errors.Is(err, errStopScan):
		err = nil
		outcome = "stopped"
	case errors.Is(err, ErrStructuralLimit):
		metrics.ObserveDiscoveryRun(s.cfg.Source, "structural_limit")
		return st.ckpt, err
	case errors.Is(err, ErrFailureCeiling):
		metrics.ObserveDiscoveryRun(s.cfg.Source, "failure_ceiling")
		return st.ckpt, err
	default:
		metrics.ObserveDiscoveryRun(s.cfg.Source, "index_error")
		return st.ckpt, fmt.Errorf("scan sitemap index: %w", err)
	}

	if st.totalThisRun == 0 && !st.stopped {
		// A silently empty source usually means a broken pattern or a feed
		// restructure, not a healthy scan: under-collection must be visible.
		s.notify(ctx, alert.Event{
			Kind:    alert.KindEmptyDiscovery,
			Source:  s.cfg.Source,
			Message: fmt.Sprintf("discovery run for %s yielded zero URLs", s.cfg.Source),
			At:      time.Now().UTC(),
		})
	}
	metrics.ObserveDiscoveryRun(s.cfg.Source, outcome)
	return st.ckpt, nil
}

// visitChild handles one child sitemap referenced by the index. Transient
// fetch/parse failures are counted against the run budget; structural limit
// violations abort immediately.
func (s *Scanner) visitChild(ctx context.Context, st *runState, childURL string, emit func(url string) error) error {
	index := st.childIndex
	st.childIndex++

	// Shutdown is polled only here, at the child boundary.
	if s.stop.Load() {
		st.stopped = true
		s.logger.Info("stop requested, ending scan at child boundary", zap.Int("child_index", index))
		return errStopScan
	}
	if ctx.Err() != nil {
		st.stopped = true
		return errStopScan
	}

	if index <= st.ckpt.LastCompletedChildIndex {
		return nil // already processed in a prior run
	}
	if skip, reason := s.skipByDate(childURL); skip {
		s.logger.Debug("skipping child sitemap",
			zap.Int("child_index", index),
			zap.String("child_url", childURL),
			zap.String("reason", reason),
		)
		return nil
	}

	domain := hostOf(childURL)
	if err := s.limiter.Wait(ctx, domain); err != nil {
		if ctx.Err() != nil {
			st.stopped = true
			return errStopScan
		}
		return s.childFailed(st, index, childURL, err)
	}

	body, err := s.fetcher.Fetch(ctx, childURL)
	if err != nil {
		s.limiter.ReportFailure(ctx, domain, err)
		return s.childFailed(st, index, childURL, err)
	}
	defer func() { _ = body.Close() }()

	err = streamLocs(body, s.cfg.MaxDocBytes, s.cfg.MaxLocBytes, func(leaf string) error {
		if s.cfg.URLPattern != nil && !s.cfg.URLPattern.MatchString(leaf) {
			return nil
		}
		if err := emit(leaf); err != nil {
			return fmt.Errorf("emit url: %w", err)
		}
		st.emittedNow++
		st.totalThisRun++
		metrics.ObserveDiscoveryURL(s.cfg.Source)
		if s.cfg.MaxURLs > 0 && st.ckpt.URLsEmittedSoFar+st.emittedNow >= s.cfg.MaxURLs {
			// Stop mid-child: the checkpoint still points at the previous
			// completed child, so resume re-reads this child from its start.
			st.stopped = true
			return errStopScan
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errStopScan) {
			st.ckpt.URLsEmittedSoFar += st.emittedNow
			st.emittedNow = 0
			return errStopScan
		}
		if errors.Is(err, ErrStructuralLimit) {
			return err // fail closed, never tolerated
		}
		s.limiter.ReportFailure(ctx, domain, err)
		return s.childFailed(st, index, childURL, err)
	}

	s.limiter.ReportSuccess(domain)
	st.ckpt.LastCompletedChildIndex = index
	st.ckpt.LastCompletedChildURL = childURL
	st.ckpt.URLsEmittedSoFar += st.emittedNow
	st.emittedNow = 0
	// The sole durable-persistence point: only fully processed children are
	// ever checkpointed.
	if err := s.ckpts.Save(ctx, st.ckpt); err != nil {
		return fmt.Errorf("save checkpoint after child %d: %w", index, err)
	}
	return nil
}

func (s *Scanner) childFailed(st *runState, index int, childURL string, cause error) error {
	st.failures++
	st.emittedNow = 0 // partial yields from a failed child are not counted
	metrics.ObserveDiscoveryChildFailure(s.cfg.Source)
	s.logger.Warn("child sitemap failed",
		zap.Int("child_index", index),
		zap.String("child_url", childURL),
		zap.Int("failures", st.failures),
		zap.Error(cause),
	)
	if st.failures > s.cfg.MaxChildFailures {
		return fmt.Errorf("%d child failures: %w", st.failures, ErrFailureCeiling)
	}
	return nil
}

func (s *Scanner) skipByDate(childURL string) (bool, string) {
	if s.cfg.DatePattern == nil {
		return false, ""
	}
	m := s.cfg.DatePattern.FindStringSubmatch(childURL)
	if m == nil {
		if s.cfg.IncludeUndatedChildren {
			return false, ""
		}
		return true, "no extractable date"
	}
	raw := m[0]
	if len(m) > 1 && m[1] != "" {
		raw = m[1]
	}
	year, err := strconv.Atoi(raw)
	if err != nil {
		if s.cfg.IncludeUndatedChildren {
			return false, ""
		}
		return true, "unparseable date"
	}
	if year < s.cfg.DateFrom.Year() || year > s.cfg.DateTo.Year() {
		return true, "outside date range"
	}
	return false, ""
}

func (s *Scanner) notify(ctx context.Context, event alert.Event) {
	if s.alerter == nil {
		return
	}
	metrics.ObserveAlertSent(string(event.Kind))
	if err := s.alerter.SendAlert(ctx, event); err != nil {
		s.logger.Error("send alert failed", zap.Error(err))
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return u.Hostname()
}
