package watchdog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lexhaven/regtruth/internal/alert"
	alertmem "github.com/lexhaven/regtruth/internal/alert/memory"
	"github.com/lexhaven/regtruth/internal/model"
)

type fakeEndpointStore struct {
	rows []model.EndpointHealth
	err  error
}

func (s *fakeEndpointStore) ListEndpointHealth(_ context.Context) ([]model.EndpointHealth, error) {
	return s.rows, s.err
}

func newWatchdog(t *testing.T, rows []model.EndpointHealth, sink *alertmem.Alerter) *Watchdog {
	t.Helper()
	w, err := New(Config{SLA: 26 * time.Hour, ErrorStreakThreshold: 3},
		&fakeEndpointStore{rows: rows}, nil, sink, nil)
	require.NoError(t, err)
	return w
}

func TestIsSLABreached(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	sla := 26 * time.Hour

	recent := now.Add(-2 * time.Hour)
	stale := now.Add(-30 * time.Hour)
	exact := now.Add(-sla)

	require.True(t, IsSLABreached(nil, sla, now))
	require.False(t, IsSLABreached(&recent, sla, now))
	require.True(t, IsSLABreached(&stale, sla, now))
	require.False(t, IsSLABreached(&exact, sla, now))
}

func TestHasConsecutiveErrors(t *testing.T) {
	t.Parallel()

	require.False(t, HasConsecutiveErrors(0, 3))
	require.False(t, HasConsecutiveErrors(2, 3))
	require.True(t, HasConsecutiveErrors(3, 3))
	require.True(t, HasConsecutiveErrors(7, 3))
}

func TestNeverScrapedSourceIsBreachedWithoutErrorStreak(t *testing.T) {
	t.Parallel()

	sink := alertmem.New()
	w := newWatchdog(t, []model.EndpointHealth{
		{Source: "bundesanzeiger", LastScrapedAt: nil, ConsecutiveErrors: 0},
	}, sink)

	report, err := w.CheckEndpoints(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Endpoints, 1)
	require.True(t, report.Endpoints[0].SLABreached)
	require.False(t, report.Endpoints[0].ErrorStreak)

	events := sink.Events()
	require.Len(t, events, 1)
	require.Equal(t, alert.KindSLABreach, events[0].Kind)
	require.Equal(t, "bundesanzeiger", events[0].Source)
}

func TestBothConditionsRaiseSeparateAlerts(t *testing.T) {
	t.Parallel()

	old := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	sink := alertmem.New()
	w := newWatchdog(t, []model.EndpointHealth{
		{Source: "gesetze-im-internet", LastScrapedAt: &old, ConsecutiveErrors: 4, LastError: "503"},
	}, sink)
	w.now = func() time.Time { return time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC) }

	report, err := w.CheckEndpoints(context.Background())
	require.NoError(t, err)
	require.True(t, report.Endpoints[0].SLABreached)
	require.True(t, report.Endpoints[0].ErrorStreak)

	events := sink.Events()
	require.Len(t, events, 2)
	require.Equal(t, alert.KindSLABreach, events[0].Kind)
	require.Equal(t, alert.KindConsecutiveErrors, events[1].Kind)
	require.Equal(t, 4, events[1].ConsecutiveErrors)
	require.Equal(t, "503", events[1].LastError)
}

func TestHealthyEndpointRaisesNothing(t *testing.T) {
	t.Parallel()

	recent := time.Now().UTC().Add(-time.Hour)
	sink := alertmem.New()
	w := newWatchdog(t, []model.EndpointHealth{
		{Source: "eur-lex", LastScrapedAt: &recent, ConsecutiveErrors: 1},
	}, sink)

	report, err := w.CheckEndpoints(context.Background())
	require.NoError(t, err)
	require.False(t, report.Endpoints[0].SLABreached)
	require.False(t, report.Endpoints[0].ErrorStreak)
	require.Empty(t, sink.Events())
}

func TestEndpointsSortedBySource(t *testing.T) {
	t.Parallel()

	recent := time.Now().UTC().Add(-time.Hour)
	sink := alertmem.New()
	w := newWatchdog(t, []model.EndpointHealth{
		{Source: "zz-source", LastScrapedAt: &recent},
		{Source: "aa-source", LastScrapedAt: &recent},
	}, sink)

	report, err := w.CheckEndpoints(context.Background())
	require.NoError(t, err)
	require.Equal(t, "aa-source", report.Endpoints[0].Source)
	require.Equal(t, "zz-source", report.Endpoints[1].Source)
}

func TestStoreErrorIsReturned(t *testing.T) {
	t.Parallel()

	w, err := New(DefaultConfig(), &fakeEndpointStore{err: context.DeadlineExceeded}, nil, alertmem.New(), nil)
	require.NoError(t, err)

	_, err = w.CheckEndpoints(context.Background())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
