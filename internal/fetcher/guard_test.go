package fetcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"marketcache/internal/asset"
	"marketcache/internal/pkg/circuit"
	"marketcache/internal/segment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) Name() string { return "mock" }

func (m *mockFetcher) Fetch(ctx context.Context, req Request) ([]segment.Row, error) {
	args := m.Called(ctx, req)
	rows, _ := args.Get(0).([]segment.Row)
	return rows, args.Error(1)
}

var fast = Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, BreakerThreshold: 2, BreakerCooldown: time.Hour}

func spyRequest() Request {
	start := time.Date(2024, 7, 18, 13, 30, 0, 0, time.UTC)
	return Request{
		Asset:     asset.NewKey("SPY", asset.Equity),
		Timeframe: asset.Minute,
		Kind:      asset.OHLC,
		Ranges:    []segment.Range{{Start: start, End: start.Add(time.Hour)}},
	}
}

func TestGuardRetriesTransientFailures(t *testing.T) {
	m := &mockFetcher{}
	rows := []segment.Row{{Time: time.Date(2024, 7, 18, 13, 30, 0, 0, time.UTC), Close: 550}}
	m.On("Fetch", mock.Anything, mock.Anything).Return(nil, &RateLimitedError{RetryAfter: 2 * time.Millisecond}).Once()
	m.On("Fetch", mock.Anything, mock.Anything).Return(nil, errors.New("connection reset")).Once()
	m.On("Fetch", mock.Anything, mock.Anything).Return(rows, nil).Once()

	got, err := NewGuard(m, fast).Fetch(context.Background(), spyRequest())
	require.NoError(t, err)
	assert.Equal(t, rows, got)
	m.AssertNumberOfCalls(t, "Fetch", 3)
}

func TestGuardStopsOnInvalidRequest(t *testing.T) {
	m := &mockFetcher{}
	m.On("Fetch", mock.Anything, mock.Anything).Return(nil, ErrInvalidRequest).Once()
	g := NewGuard(m, fast)
	_, err := g.Fetch(context.Background(), spyRequest())
	assert.ErrorIs(t, err, ErrInvalidRequest)
	m.AssertNumberOfCalls(t, "Fetch", 1)

	_, err = g.Fetch(context.Background(), Request{Asset: asset.NewKey("SPY", asset.Equity), Timeframe: asset.Minute})
	assert.ErrorIs(t, err, ErrInvalidRequest, "no ranges")
	m.AssertNumberOfCalls(t, "Fetch", 1)
}

func TestGuardOpensBreakerPerSymbol(t *testing.T) {
	m := &mockFetcher{}
	m.On("Fetch", mock.Anything, mock.Anything).Return(nil, &FetchFailedError{Source: "mock", Retryable: false, Err: errors.New("500")})
	g := NewGuard(m, fast)
	g.Breakers().Get("SPY").SetStateChangeHandler(func(string, circuit.State, circuit.State) {})

	for i := 0; i < 2; i++ {
		_, err := g.Fetch(context.Background(), spyRequest())
		var ff *FetchFailedError
		assert.ErrorAs(t, err, &ff)
	}
	_, err := g.Fetch(context.Background(), spyRequest())
	assert.ErrorIs(t, err, ErrUnavailable)
	m.AssertNumberOfCalls(t, "Fetch", 2)

	other := spyRequest()
	other.Asset = asset.NewKey("QQQ", asset.Equity)
	_, err = g.Fetch(context.Background(), other)
	assert.NotErrorIs(t, err, ErrUnavailable)
}

func TestGuardGivesUpAfterMaxAttempts(t *testing.T) {
	m := &mockFetcher{}
	m.On("Fetch", mock.Anything, mock.Anything).Return(nil, errors.New("timeout"))
	_, err := NewGuard(m, fast).Fetch(context.Background(), spyRequest())
	var ff *FetchFailedError
	require.ErrorAs(t, err, &ff)
	assert.True(t, ff.Retryable)
	m.AssertNumberOfCalls(t, "Fetch", 3)
}

func TestInRangesDropsPhantomRows(t *testing.T) {
	req := spyRequest()
	rows := []segment.Row{
		{Time: req.Ranges[0].Start.Add(-time.Minute)},
		{Time: req.Ranges[0].Start},
		{Time: req.Ranges[0].End},
		{Time: req.Ranges[0].End.Add(time.Minute)},
	}
	got := InRanges(rows, req.Ranges)
	require.Len(t, got, 2)
	assert.Equal(t, req.Ranges[0].Start, got[0].Time)
}

func TestNoneIsUnavailable(t *testing.T) {
	_, err := None{}.Fetch(context.Background(), spyRequest())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.False(t, Retryable(ErrInvalidRequest))
	assert.True(t, Retryable(&RateLimitedError{}))
}
