package core

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type VenueID string

const (
	VenueUniswapV2 VenueID = "uniswap_v2"
	VenueSushiV2   VenueID = "sushi_v2"
)

// TokenPair is ordered: Base is sold, Quote is received.
type TokenPair struct {
	Base  common.Address
	Quote common.Address
}

func (p TokenPair) String() string {
	return p.Base.Hex() + "/" + p.Quote.Hex()
}

// Path is the router path for a single-hop base->quote swap.
func (p TokenPair) Path() []common.Address {
	return []common.Address{p.Base, p.Quote}
}

// Quote is a point-in-time read of a venue, never an executable price.
type Quote struct {
	Venue        VenueID   `json:"venue"`
	Pair         TokenPair `json:"pair"`
	AmountIn     *big.Int  `json:"amountIn"`
	OutputAmount *big.Int  `json:"outputAmount"`
	Ts           time.Time `json:"ts"`
}

// Quoter is the whole capability a venue exposes to the core: quote a path.
type Quoter interface {
	Quote(ctx context.Context, pair TokenPair, amountIn *big.Int) (*Quote, error)
}

type Venue struct {
	ID     VenueID
	Quoter Quoter
}

type FailureKind string

const (
	NetworkError      FailureKind = "network_error"
	ContractCallError FailureKind = "contract_call_error"
	Timeout           FailureKind = "timeout"
)

// FetchError is returned by a Quoter when no quote could be read.
type FetchError struct {
	Venue VenueID
	Kind  FailureKind
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Venue, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// AsFetchError normalizes any quoter error into a FetchError. Context
// deadline errors become Timeout, anything unclassified is NetworkError.
func AsFetchError(venue VenueID, err error) *FetchError {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &FetchError{Venue: venue, Kind: Timeout, Err: err}
	}
	return &FetchError{Venue: venue, Kind: NetworkError, Err: err}
}
