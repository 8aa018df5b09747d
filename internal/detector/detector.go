package detector

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/you/spread-bot/internal/dex/core"
	"github.com/you/spread-bot/internal/types"
)

// ErrPrecondition marks caller bugs: a missing quote, quotes for different
// pairs, or a discount outside [0,1]. It is never a runtime condition.
var ErrPrecondition = errors.New("detector: precondition violated")

var one = decimal.NewFromInt(1)

// Params are fixed for the life of the process.
type Params struct {
	MinProfitThreshold *big.Int
	ExecutionDiscount  decimal.Decimal
}

// Evaluate compares two quotes for the same pair. It is pure: spread is
// |a-b|, estimated profit is floor(spread*discount), and the threshold is met
// only when profit strictly exceeds it.
func Evaluate(a, b *core.Quote, p Params) (types.Decision, error) {
	if err := checkInputs(a, b, p); err != nil {
		return types.Decision{}, err
	}

	spread := absDiff(a.OutputAmount, b.OutputAmount)
	profit := discount(spread, p.ExecutionDiscount)

	return types.Decision{
		Spread:          spread,
		EstimatedProfit: profit,
		ThresholdMet:    profit.Cmp(p.MinProfitThreshold) > 0,
	}, nil
}

func checkInputs(a, b *core.Quote, p Params) error {
	switch {
	case a == nil || b == nil:
		return fmt.Errorf("%w: missing quote", ErrPrecondition)
	case a.OutputAmount == nil || b.OutputAmount == nil:
		return fmt.Errorf("%w: quote without output amount", ErrPrecondition)
	case a.OutputAmount.Sign() < 0 || b.OutputAmount.Sign() < 0:
		return fmt.Errorf("%w: negative output amount", ErrPrecondition)
	case a.Pair != b.Pair:
		return fmt.Errorf("%w: pair mismatch %s vs %s", ErrPrecondition, a.Pair, b.Pair)
	case p.MinProfitThreshold == nil || p.MinProfitThreshold.Sign() < 0:
		return fmt.Errorf("%w: threshold must be a non-negative integer", ErrPrecondition)
	}
	return ValidateDiscount(p.ExecutionDiscount)
}

// ValidateDiscount reports whether d lies in [0,1].
func ValidateDiscount(d decimal.Decimal) error {
	if d.IsNegative() || d.GreaterThan(one) {
		return fmt.Errorf("%w: execution discount %s outside [0,1]", ErrPrecondition, d)
	}
	return nil
}

// absDiff compares magnitudes first so the subtraction never goes negative.
func absDiff(x, y *big.Int) *big.Int {
	if x.Cmp(y) >= 0 {
		return new(big.Int).Sub(x, y)
	}
	return new(big.Int).Sub(y, x)
}

// discount is exact: decimal multiplication keeps every digit, floor drops the fraction.
func discount(spread *big.Int, d decimal.Decimal) *big.Int {
	return decimal.NewFromBigInt(spread, 0).Mul(d).Floor().BigInt()
}
