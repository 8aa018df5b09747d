package types

import (
	"math/big"
	"time"

	"github.com/you/spread-bot/internal/dex/core"
)

// Decision is the outcome of comparing two venue quotes.
type Decision struct {
	Spread          *big.Int `json:"spread"`
	EstimatedProfit *big.Int `json:"estimatedProfit"`
	ThresholdMet    bool     `json:"thresholdMet"`
}

type CycleStatus string

const (
	// StatusEvaluated: both quotes were read and a Decision was computed.
	StatusEvaluated CycleStatus = "evaluated"
	// StatusUnevaluable: at least one quote could not be fetched.
	StatusUnevaluable CycleStatus = "unevaluable"
	// StatusInvalid: the evaluator rejected its inputs. Always a bug.
	StatusInvalid CycleStatus = "invalid"
)

type CycleError struct {
	Venue core.VenueID     `json:"venue"`
	Kind  core.FailureKind `json:"kind,omitempty"`
	Msg   string           `json:"msg"`
}

// CycleReport is what a single poll-evaluate cycle hands to reporters.
type CycleReport struct {
	Seq      uint64         `json:"seq"`
	Pair     core.TokenPair `json:"pair"`
	Status   CycleStatus    `json:"status"`
	Quotes   []*core.Quote  `json:"quotes,omitempty"`
	Decision *Decision      `json:"decision,omitempty"`
	Errors   []CycleError   `json:"errors,omitempty"`
	Started  time.Time      `json:"started"`
	Finished time.Time      `json:"finished"`
}

// Opportunity reports whether the cycle found a spread above threshold.
func (r CycleReport) Opportunity() bool {
	return r.Status == StatusEvaluated && r.Decision != nil && r.Decision.ThresholdMet
}
