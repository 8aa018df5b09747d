package marketdata

import (
	"context"
	"errors"
	"math/big"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/you/spread-bot/internal/dex/core"
	imetrics "github.com/you/spread-bot/internal/metrics"
)

// Poller reads the same pair from every venue with one reference amount.
type Poller struct {
	venues   []*core.Venue
	pair     core.TokenPair
	amountIn *big.Int
	timeout  time.Duration
	now      func() time.Time
	log      *zap.Logger
}

func NewPoller(venues []*core.Venue, pair core.TokenPair, amountIn *big.Int, timeout time.Duration, log *zap.Logger) (*Poller, error) {
	if len(venues) == 0 {
		return nil, errors.New("marketdata: no venues")
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, errors.New("marketdata: reference amount must be > 0")
	}
	if timeout <= 0 {
		return nil, errors.New("marketdata: quote timeout must be > 0")
	}
	return &Poller{
		venues:   venues,
		pair:     pair,
		amountIn: new(big.Int).Set(amountIn),
		timeout:  timeout,
		now:      time.Now,
		log:      log,
	}, nil
}

func (p *Poller) Pair() core.TokenPair { return p.pair }

// Poll issues one quote per venue concurrently, each under its own timeout,
// and returns only after every call has finished. Failures are recorded per
// venue and never abort the other calls.
func (p *Poller) Poll(ctx context.Context) Snapshot {
	snap := Snapshot{
		Pair:     p.pair,
		AmountIn: new(big.Int).Set(p.amountIn),
		Results:  make([]VenueResult, len(p.venues)),
		Started:  p.now(),
	}

	var g errgroup.Group
	for i, ven := range p.venues {
		g.Go(func() error {
			snap.Results[i] = p.quoteOne(ctx, ven)
			return nil
		})
	}
	_ = g.Wait()

	snap.Finished = p.now()
	return snap
}

func (p *Poller) quoteOne(ctx context.Context, ven *core.Venue) VenueResult {
	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	q, err := ven.Quoter.Quote(cctx, p.pair, p.amountIn)
	imetrics.QuoteLatency.WithLabelValues(string(ven.ID)).Observe(time.Since(start).Seconds())

	if err == nil && (q == nil || q.OutputAmount == nil) {
		err = &core.FetchError{Venue: ven.ID, Kind: core.ContractCallError, Err: errors.New("empty quote")}
	}
	if err != nil {
		fe := core.AsFetchError(ven.ID, err)
		imetrics.QuoterErrors.WithLabelValues(string(ven.ID), string(fe.Kind)).Inc()
		p.log.Warn("marketdata: quote failed",
			zap.String("venue", string(ven.ID)),
			zap.String("kind", string(fe.Kind)),
			zap.Error(fe.Err),
		)
		return VenueResult{Venue: ven.ID, Err: fe}
	}

	imetrics.SetAmount(imetrics.DexOut.WithLabelValues(string(ven.ID)), q.OutputAmount)
	p.log.Debug("marketdata: quote",
		zap.String("venue", string(ven.ID)),
		zap.String("amount_out", q.OutputAmount.String()),
	)
	return VenueResult{Venue: ven.ID, Quote: q}
}
