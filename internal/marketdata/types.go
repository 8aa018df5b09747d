package marketdata

import (
	"math/big"
	"time"

	"github.com/you/spread-bot/internal/dex/core"
)

// VenueResult holds exactly one of Quote or Err.
type VenueResult struct {
	Venue core.VenueID
	Quote *core.Quote
	Err   *core.FetchError
}

// Snapshot is one poll across every configured venue for a single pair.
type Snapshot struct {
	Pair     core.TokenPair
	AmountIn *big.Int
	Results  []VenueResult
	Started  time.Time
	Finished time.Time
}

// Complete reports whether every venue returned a quote.
func (s Snapshot) Complete() bool {
	if len(s.Results) == 0 {
		return false
	}
	for _, r := range s.Results {
		if r.Quote == nil {
			return false
		}
	}
	return true
}

func (s Snapshot) Quotes() []*core.Quote {
	out := make([]*core.Quote, 0, len(s.Results))
	for _, r := range s.Results {
		if r.Quote != nil {
			out = append(out, r.Quote)
		}
	}
	return out
}

func (s Snapshot) Failures() []*core.FetchError {
	var out []*core.FetchError
	for _, r := range s.Results {
		if r.Err != nil {
			out = append(out, r.Err)
		}
	}
	return out
}
