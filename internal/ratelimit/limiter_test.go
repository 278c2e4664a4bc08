package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lexhaven/regtruth/internal/alert"
	alertmem "github.com/lexhaven/regtruth/internal/alert/memory"
)

func newTestLimiter(cfg Config, alerter alert.Alerter) (*Limiter, *[]time.Duration) {
	l := New(cfg, zap.NewNop(), alerter)
	var slept []time.Duration
	l.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return l, &slept
}

func TestWaitDelaysWithinBand(t *testing.T) {
	t.Parallel()

	l, slept := newTestLimiter(Config{
		MinDelay: 100 * time.Millisecond,
		MaxDelay: 200 * time.Millisecond,
	}, nil)

	ctx := context.Background()

	// First request to a fresh domain goes through without a delay.
	require.NoError(t, l.Wait(ctx, "gov.example"))
	require.Empty(t, *slept)

	// Subsequent requests wait somewhere inside the configured band.
	require.NoError(t, l.Wait(ctx, "gov.example"))
	require.Len(t, *slept, 1)
	require.LessOrEqual(t, (*slept)[0], 200*time.Millisecond)
}

func TestWaitIndependentDomains(t *testing.T) {
	t.Parallel()

	l, slept := newTestLimiter(Config{
		MinDelay: time.Second,
		MaxDelay: time.Second,
	}, nil)

	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "a.example"))
	require.NoError(t, l.Wait(ctx, "b.example"))
	require.Empty(t, *slept, "first request per domain must not be delayed")
}

func TestCircuitOpensAfterThreshold(t *testing.T) {
	t.Parallel()

	sink := alertmem.New()
	l, _ := newTestLimiter(Config{
		MinDelay:       time.Millisecond,
		MaxDelay:       time.Millisecond,
		ErrorThreshold: 2,
		CooldownPeriod: time.Hour,
	}, sink)

	ctx := context.Background()
	cause := errors.New("connection refused")

	l.ReportFailure(ctx, "gov.example", cause)
	l.ReportFailure(ctx, "gov.example", cause)
	require.NoError(t, l.Wait(ctx, "gov.example"), "below threshold the circuit stays closed")

	l.ReportFailure(ctx, "gov.example", cause)
	err := l.Wait(ctx, "gov.example")
	require.ErrorIs(t, err, ErrCircuitOpen)

	events := sink.Events()
	require.Len(t, events, 1)
	require.Equal(t, alert.KindCircuitOpen, events[0].Kind)
	require.Equal(t, "gov.example", events[0].Domain)
	require.Equal(t, 3, events[0].ConsecutiveErrors)
	require.Equal(t, "connection refused", events[0].LastError)
}

func TestSuccessResetsStreak(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(Config{ErrorThreshold: 2}, nil)
	ctx := context.Background()

	l.ReportFailure(ctx, "gov.example", errors.New("x"))
	l.ReportFailure(ctx, "gov.example", errors.New("x"))
	l.ReportSuccess("gov.example")
	l.ReportFailure(ctx, "gov.example", errors.New("x"))

	st := l.HealthStatus()["gov.example"]
	require.False(t, st.CircuitOpen)
	require.Equal(t, 1, st.ConsecutiveErrors)
}

func TestManualResetIsAudited(t *testing.T) {
	t.Parallel()

	sink := alertmem.New()
	l, _ := newTestLimiter(Config{ErrorThreshold: 1, CooldownPeriod: time.Hour}, sink)
	ctx := context.Background()

	l.ReportFailure(ctx, "gov.example", errors.New("x"))
	l.ReportFailure(ctx, "gov.example", errors.New("x"))
	require.ErrorIs(t, l.Wait(ctx, "gov.example"), ErrCircuitOpen)

	l.Reset(ctx, "gov.example", "ops@lexhaven")
	require.NoError(t, l.Wait(ctx, "gov.example"))

	var kinds []alert.Kind
	for _, e := range sink.Events() {
		kinds = append(kinds, e.Kind)
	}
	require.Contains(t, kinds, alert.KindCircuitReset)
}

func TestCooldownHalfOpens(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(Config{ErrorThreshold: 1, CooldownPeriod: 10 * time.Millisecond}, nil)
	ctx := context.Background()

	l.ReportFailure(ctx, "gov.example", errors.New("x"))
	l.ReportFailure(ctx, "gov.example", errors.New("x"))
	require.ErrorIs(t, l.Wait(ctx, "gov.example"), ErrCircuitOpen)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, l.Wait(ctx, "gov.example"), "cooldown elapsed, circuit half-opens")

	// A single failure in half-open state reopens immediately.
	l.ReportFailure(ctx, "gov.example", errors.New("x"))
	require.ErrorIs(t, l.Wait(ctx, "gov.example"), ErrCircuitOpen)
}

func TestRegistryIsolatesSources(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(Config{ErrorThreshold: 1, CooldownPeriod: time.Hour}, zap.NewNop(), nil)
	a := reg.Register("source-a")
	b := reg.Register("source-b")
	require.NotSame(t, a, b)

	ctx := context.Background()
	a.ReportFailure(ctx, "gov.example", errors.New("x"))
	a.ReportFailure(ctx, "gov.example", errors.New("x"))
	require.ErrorIs(t, a.Wait(ctx, "gov.example"), ErrCircuitOpen)
	require.NoError(t, b.Wait(ctx, "gov.example"), "limiters are per-run, not shared")

	merged := reg.HealthStatus()
	require.True(t, merged["gov.example"].CircuitOpen, "merged status reports the worse state")
}
