package bot

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/you/spread-bot/internal/detector"
	"github.com/you/spread-bot/internal/dex/core"
	"github.com/you/spread-bot/internal/marketdata"
	"github.com/you/spread-bot/internal/types"
)

var testPair = core.TokenPair{
	Base:  common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"),
	Quote: common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"),
}

type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waits   []time.Duration
	onAfter func(n int)
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.waits = append(c.waits, d)
	n := len(c.waits)
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()
	if c.onAfter != nil {
		c.onAfter(n)
	}
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

// MockPoller replays snapshots; the last one repeats.
type MockPoller struct {
	Snaps    []marketdata.Snapshot
	calls    int
	inFlight bool
	overlap  bool
}

func (m *MockPoller) Poll(context.Context) marketdata.Snapshot {
	if m.inFlight {
		m.overlap = true
	}
	m.inFlight = true
	defer func() { m.inFlight = false }()
	i := m.calls
	if i >= len(m.Snaps) {
		i = len(m.Snaps) - 1
	}
	m.calls++
	return m.Snaps[i]
}

type MockReporter struct {
	Reports []types.CycleReport
	Err     error
}

func (m *MockReporter) Report(_ context.Context, r types.CycleReport) error {
	m.Reports = append(m.Reports, r)
	return m.Err
}

func ok(venue core.VenueID, out int64) marketdata.VenueResult {
	return marketdata.VenueResult{Venue: venue, Quote: &core.Quote{
		Venue: venue, Pair: testPair, AmountIn: big.NewInt(1e18), OutputAmount: big.NewInt(out),
	}}
}

func failed(venue core.VenueID, kind core.FailureKind) marketdata.VenueResult {
	return marketdata.VenueResult{Venue: venue, Err: &core.FetchError{Venue: venue, Kind: kind, Err: errors.New("rpc down")}}
}

func snapshot(rs ...marketdata.VenueResult) marketdata.Snapshot {
	return marketdata.Snapshot{Pair: testPair, AmountIn: big.NewInt(1e18), Results: rs}
}

func params(threshold int64) detector.Params {
	return detector.Params{MinProfitThreshold: big.NewInt(threshold), ExecutionDiscount: decimal.RequireFromString("0.9")}
}

func newTestBot(p Poller, threshold int64, opts ...Option) *Bot {
	opts = append([]Option{WithClock(&fakeClock{now: time.Unix(1700000000, 0)})}, opts...)
	return New(p, params(threshold), time.Minute, zap.NewNop(), opts...)
}

func TestRunOnce_Opportunity(t *testing.T) {
	rep := &MockReporter{}
	b := newTestBot(&MockPoller{Snaps: []marketdata.Snapshot{snapshot(ok(core.VenueUniswapV2, 1_000_000), ok(core.VenueSushiV2, 995_000))}}, 4_000, WithReporter("mock", rep))

	r := b.RunOnce(context.Background())

	assert.Equal(t, types.StatusEvaluated, r.Status)
	require.NotNil(t, r.Decision)
	assert.Equal(t, "5000", r.Decision.Spread.String())
	assert.Equal(t, "4500", r.Decision.EstimatedProfit.String())
	assert.True(t, r.Opportunity())
	assert.Len(t, r.Quotes, 2)
	assert.Equal(t, uint64(1), r.Seq)
	require.Len(t, rep.Reports, 1)
	assert.Equal(t, r.Seq, rep.Reports[0].Seq)
}

func TestRunOnce_BelowThreshold(t *testing.T) {
	b := newTestBot(&MockPoller{Snaps: []marketdata.Snapshot{snapshot(ok(core.VenueUniswapV2, 1_000_000), ok(core.VenueSushiV2, 999_900))}}, 100)

	r := b.RunOnce(context.Background())

	assert.Equal(t, types.StatusEvaluated, r.Status)
	assert.Equal(t, "90", r.Decision.EstimatedProfit.String())
	assert.False(t, r.Opportunity())
}

func TestRunOnce_FetchFailureIsUnevaluable(t *testing.T) {
	rep := &MockReporter{}
	b := newTestBot(&MockPoller{Snaps: []marketdata.Snapshot{snapshot(ok(core.VenueUniswapV2, 1_000_000), failed(core.VenueSushiV2, core.Timeout))}}, 0, WithReporter("mock", rep))

	r := b.RunOnce(context.Background())

	assert.Equal(t, types.StatusUnevaluable, r.Status)
	assert.Nil(t, r.Decision, "no decision may be computed without both quotes")
	assert.False(t, r.Opportunity())
	require.Len(t, r.Errors, 1)
	assert.Equal(t, core.VenueSushiV2, r.Errors[0].Venue)
	assert.Equal(t, core.Timeout, r.Errors[0].Kind)
	assert.Len(t, r.Quotes, 1)
	require.Len(t, rep.Reports, 1)
	assert.Equal(t, types.StatusUnevaluable, rep.Reports[0].Status)
}

func TestRunOnce_EqualQuotesZeroThreshold(t *testing.T) {
	b := newTestBot(&MockPoller{Snaps: []marketdata.Snapshot{snapshot(ok(core.VenueUniswapV2, 500_000), ok(core.VenueSushiV2, 500_000))}}, 0)

	r := b.RunOnce(context.Background())

	assert.Equal(t, types.StatusEvaluated, r.Status)
	assert.Equal(t, 0, r.Decision.Spread.Sign())
	assert.False(t, r.Decision.ThresholdMet)
}

func TestRunOnce_PairMismatchIsInvalid(t *testing.T) {
	other := ok(core.VenueSushiV2, 1)
	other.Quote.Pair = core.TokenPair{Base: testPair.Quote, Quote: testPair.Base}
	b := newTestBot(&MockPoller{Snaps: []marketdata.Snapshot{snapshot(ok(core.VenueUniswapV2, 1_000), other)}}, 0)

	r := b.RunOnce(context.Background())

	assert.Equal(t, types.StatusInvalid, r.Status)
	assert.Nil(t, r.Decision)
	require.Len(t, r.Errors, 1)
	assert.Contains(t, r.Errors[0].Msg, "pair mismatch")
}

func TestRunOnce_ReporterErrorDoesNotStopFanout(t *testing.T) {
	bad := &MockReporter{Err: errors.New("redis down")}
	good := &MockReporter{}
	b := newTestBot(&MockPoller{Snaps: []marketdata.Snapshot{snapshot(ok(core.VenueUniswapV2, 2), ok(core.VenueSushiV2, 1))}}, 0,
		WithReporter("bad", bad), WithReporter("good", good))

	b.RunOnce(context.Background())
	assert.Len(t, bad.Reports, 1)
	assert.Len(t, good.Reports, 1)
}

func TestRun_SequentialCyclesWithInjectedClock(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	clock.onAfter = func(n int) {
		if n == 3 {
			cancel()
		}
	}
	poller := &MockPoller{Snaps: []marketdata.Snapshot{
		snapshot(ok(core.VenueUniswapV2, 1_000_000), failed(core.VenueSushiV2, core.NetworkError)),
		snapshot(ok(core.VenueUniswapV2, 1_000_000), ok(core.VenueSushiV2, 995_000)),
	}}
	rep := &MockReporter{}
	b := New(poller, params(4_000), time.Minute, zap.NewNop(), WithClock(clock), WithReporter("mock", rep))

	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}

	assert.Equal(t, 3, poller.calls)
	assert.False(t, poller.overlap)
	assert.Equal(t, []time.Duration{time.Minute, time.Minute, time.Minute}, clock.waits)
	require.Len(t, rep.Reports, 3)
	assert.Equal(t, types.StatusUnevaluable, rep.Reports[0].Status)
	assert.True(t, rep.Reports[1].Opportunity())
	assert.Equal(t, []uint64{1, 2, 3}, []uint64{rep.Reports[0].Seq, rep.Reports[1].Seq, rep.Reports[2].Seq})
	assert.Equal(t, time.Unix(1700000060, 0), rep.Reports[1].Started)
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	poller := &MockPoller{Snaps: []marketdata.Snapshot{snapshot()}}
	b := newTestBot(poller, 0)

	assert.ErrorIs(t, b.Run(ctx), context.Canceled)
	assert.Equal(t, 0, poller.calls)
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("debug")
	require.NoError(t, err)
	assert.NotPanics(t, func() { logger.Info("test message") })

	_, err = NewLogger("loud")
	assert.Error(t, err)
}
