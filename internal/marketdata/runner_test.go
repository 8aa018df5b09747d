package marketdata

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/you/spread-bot/internal/dex/core"
)

var testPair = core.TokenPair{
	Base:  common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"),
	Quote: common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"),
}

// MockQuoter returns a fixed amount or error, optionally after a delay.
type MockQuoter struct {
	ID       core.VenueID
	Out      int64
	Err      error
	Delay    time.Duration
	Nil      bool
	inFlight *atomic.Int32
	maxSeen  *atomic.Int32
	gotIn    *big.Int
}

func (m *MockQuoter) Quote(ctx context.Context, pair core.TokenPair, amountIn *big.Int) (*core.Quote, error) {
	m.gotIn = amountIn
	if m.inFlight != nil {
		n := m.inFlight.Add(1)
		defer m.inFlight.Add(-1)
		for {
			cur := m.maxSeen.Load()
			if n <= cur || m.maxSeen.CompareAndSwap(cur, n) {
				break
			}
		}
	}
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Nil {
		return nil, nil
	}
	return &core.Quote{Venue: m.ID, Pair: pair, AmountIn: amountIn, OutputAmount: big.NewInt(m.Out), Ts: time.Now()}, nil
}

func venues(qs ...*MockQuoter) []*core.Venue {
	out := make([]*core.Venue, 0, len(qs))
	for _, q := range qs {
		out = append(out, &core.Venue{ID: q.ID, Quoter: q})
	}
	return out
}

func TestPoll_BothQuotes(t *testing.T) {
	a := &MockQuoter{ID: core.VenueUniswapV2, Out: 1_000_000}
	b := &MockQuoter{ID: core.VenueSushiV2, Out: 995_000}
	p, err := NewPoller(venues(a, b), testPair, big.NewInt(1e18), time.Second, zap.NewNop())
	require.NoError(t, err)

	snap := p.Poll(context.Background())

	require.True(t, snap.Complete())
	require.Len(t, snap.Quotes(), 2)
	assert.Equal(t, core.VenueUniswapV2, snap.Results[0].Venue)
	assert.Equal(t, "1000000", snap.Results[0].Quote.OutputAmount.String())
	assert.Equal(t, "995000", snap.Results[1].Quote.OutputAmount.String())
	assert.Empty(t, snap.Failures())
	assert.Equal(t, 0, a.gotIn.Cmp(b.gotIn), "every venue must get the same reference amount")
	assert.False(t, snap.Finished.Before(snap.Started))
}

func TestPoll_OneFailure(t *testing.T) {
	a := &MockQuoter{ID: core.VenueUniswapV2, Out: 1_000_000}
	b := &MockQuoter{ID: core.VenueSushiV2, Err: &core.FetchError{Venue: core.VenueSushiV2, Kind: core.ContractCallError, Err: errors.New("reverted")}}
	p, err := NewPoller(venues(a, b), testPair, big.NewInt(1e18), time.Second, zap.NewNop())
	require.NoError(t, err)

	snap := p.Poll(context.Background())

	assert.False(t, snap.Complete())
	assert.Len(t, snap.Quotes(), 1)
	fails := snap.Failures()
	require.Len(t, fails, 1)
	assert.Equal(t, core.ContractCallError, fails[0].Kind)
	assert.Equal(t, core.VenueSushiV2, fails[0].Venue)
}

func TestPoll_TimeoutIsFetchFailure(t *testing.T) {
	a := &MockQuoter{ID: core.VenueUniswapV2, Out: 1}
	b := &MockQuoter{ID: core.VenueSushiV2, Out: 1, Delay: time.Second}
	p, err := NewPoller(venues(a, b), testPair, big.NewInt(1e18), 20*time.Millisecond, zap.NewNop())
	require.NoError(t, err)

	start := time.Now()
	snap := p.Poll(context.Background())
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	fails := snap.Failures()
	require.Len(t, fails, 1)
	assert.Equal(t, core.Timeout, fails[0].Kind)
}

func TestPoll_UnclassifiedErrorAndNilQuote(t *testing.T) {
	a := &MockQuoter{ID: core.VenueUniswapV2, Err: errors.New("boom")}
	b := &MockQuoter{ID: core.VenueSushiV2, Nil: true}
	p, err := NewPoller(venues(a, b), testPair, big.NewInt(1e18), time.Second, zap.NewNop())
	require.NoError(t, err)

	fails := p.Poll(context.Background()).Failures()
	require.Len(t, fails, 2)
	assert.Equal(t, core.NetworkError, fails[0].Kind)
	assert.Equal(t, core.ContractCallError, fails[1].Kind)
}

func TestPoll_QuotesConcurrently(t *testing.T) {
	var inFlight, maxSeen atomic.Int32
	a := &MockQuoter{ID: core.VenueUniswapV2, Out: 1, Delay: 50 * time.Millisecond, inFlight: &inFlight, maxSeen: &maxSeen}
	b := &MockQuoter{ID: core.VenueSushiV2, Out: 2, Delay: 50 * time.Millisecond, inFlight: &inFlight, maxSeen: &maxSeen}
	p, err := NewPoller(venues(a, b), testPair, big.NewInt(1e18), time.Second, zap.NewNop())
	require.NoError(t, err)

	snap := p.Poll(context.Background())
	assert.True(t, snap.Complete())
	assert.Equal(t, int32(2), maxSeen.Load())
	assert.Equal(t, int32(0), inFlight.Load(), "Poll must not return with calls pending")
}

func TestNewPoller_Validation(t *testing.T) {
	vs := venues(&MockQuoter{ID: core.VenueUniswapV2})
	_, err := NewPoller(nil, testPair, big.NewInt(1), time.Second, zap.NewNop())
	assert.Error(t, err)
	_, err = NewPoller(vs, testPair, big.NewInt(0), time.Second, zap.NewNop())
	assert.Error(t, err)
	_, err = NewPoller(vs, testPair, big.NewInt(1), 0, zap.NewNop())
	assert.Error(t, err)
}
