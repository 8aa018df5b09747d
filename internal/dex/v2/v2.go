package v2

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/you/spread-bot/internal/dex/core"
)

// Only view methods: the quoter cannot build a swap.
const routerABI = `[
 {"inputs":[{"internalType":"uint256","name":"amountIn","type":"uint256"},{"internalType":"address[]","name":"path","type":"address[]"}],"name":"getAmountsOut","outputs":[{"internalType":"uint256[]","name":"amounts","type":"uint256[]"}],"stateMutability":"view","type":"function"},
 {"inputs":[],"name":"WETH","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"}
]`

const erc20ABI = `[
 {"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"}
]`

// V2 quotes a Uniswap-V2-style router through a read-only contract caller.
type V2 struct {
	id       core.VenueID
	ec       ethereum.ContractCaller
	abi      abi.ABI
	erc20ABI abi.ABI
	router   common.Address
	now      func() time.Time
	decMu    sync.RWMutex
	decimals map[common.Address]int
}

func New(id core.VenueID, ec ethereum.ContractCaller, router common.Address) (*V2, error) {
	rABI, err := abi.JSON(strings.NewReader(routerABI))
	if err != nil {
		return nil, err
	}
	eABI, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, err
	}
	return &V2{
		id:       id,
		ec:       ec,
		abi:      rABI,
		erc20ABI: eABI,
		router:   router,
		now:      time.Now,
		decimals: make(map[common.Address]int, 4),
	}, nil
}

func (v *V2) ID() core.VenueID { return v.id }

// ---------- core.Quoter ----------

// Quote reads getAmountsOut(amountIn, [base, quote]) at the latest block.
// A zero output is a valid quote.
func (v *V2) Quote(ctx context.Context, pair core.TokenPair, amountIn *big.Int) (*core.Quote, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, fmt.Errorf("v2 %s: amountIn must be > 0", v.id)
	}
	data, err := v.abi.Pack("getAmountsOut", amountIn, pair.Path())
	if err != nil {
		return nil, fmt.Errorf("v2 %s: pack getAmountsOut: %w", v.id, err)
	}
	raw, err := v.call(ctx, v.router, data)
	if err != nil {
		return nil, err
	}
	outs, err := v.abi.Methods["getAmountsOut"].Outputs.Unpack(raw)
	if err != nil || len(outs) == 0 {
		return nil, v.fail(core.ContractCallError, fmt.Errorf("decode getAmountsOut: %w", orMalformed(err)))
	}
	amounts, ok := outs[0].([]*big.Int)
	if !ok || len(amounts) < 2 {
		return nil, v.fail(core.ContractCallError, errors.New("bad amounts length"))
	}
	return &core.Quote{
		Venue:        v.id,
		Pair:         pair,
		AmountIn:     new(big.Int).Set(amountIn),
		OutputAmount: new(big.Int).Set(amounts[len(amounts)-1]),
		Ts:           v.now(),
	}, nil
}

// ---------- startup helpers ----------

// WETH returns the wrapped native token the router is bound to.
func (v *V2) WETH(ctx context.Context) (common.Address, error) {
	data, _ := v.abi.Pack("WETH")
	raw, err := v.call(ctx, v.router, data)
	if err != nil {
		return common.Address{}, err
	}
	outs, err := v.abi.Methods["WETH"].Outputs.Unpack(raw)
	if err != nil || len(outs) == 0 {
		return common.Address{}, v.fail(core.ContractCallError, fmt.Errorf("decode WETH: %w", orMalformed(err)))
	}
	addr, ok := outs[0].(common.Address)
	if !ok {
		return common.Address{}, v.fail(core.ContractCallError, fmt.Errorf("unexpected WETH type %T", outs[0]))
	}
	return addr, nil
}

// OneUnit returns 10^decimals(token): one whole token in its smallest denomination.
func (v *V2) OneUnit(ctx context.Context, token common.Address) (*big.Int, error) {
	d, err := v.fetchDecimals(ctx, token)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(d)), nil), nil
}

func (v *V2) fetchDecimals(ctx context.Context, token common.Address) (int, error) {
	v.decMu.RLock()
	if d, ok := v.decimals[token]; ok {
		v.decMu.RUnlock()
		return d, nil
	}
	v.decMu.RUnlock()

	data, _ := v.erc20ABI.Pack("decimals")
	raw, err := v.call(ctx, token, data)
	if err != nil {
		return 0, err
	}
	outs, err := v.erc20ABI.Methods["decimals"].Outputs.Unpack(raw)
	if err != nil || len(outs) == 0 {
		return 0, v.fail(core.ContractCallError, fmt.Errorf("decode decimals: %w", orMalformed(err)))
	}
	var d int
	switch x := outs[0].(type) {
	case uint8:
		d = int(x)
	case *big.Int:
		d = int(x.Int64())
	default:
		return 0, v.fail(core.ContractCallError, fmt.Errorf("unexpected decimals type %T", x))
	}
	v.decMu.Lock()
	v.decimals[token] = d
	v.decMu.Unlock()
	return d, nil
}

// ---------- helpers ----------

func (v *V2) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	raw, err := v.ec.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, v.fail(classify(ctx, err), err)
	}
	// eth_call against an address without code returns 0x.
	if len(raw) == 0 {
		return nil, v.fail(core.ContractCallError, fmt.Errorf("empty result from %s", to.Hex()))
	}
	return raw, nil
}

func (v *V2) fail(kind core.FailureKind, err error) *core.FetchError {
	return &core.FetchError{Venue: v.id, Kind: kind, Err: err}
}

// classify maps a CallContract error onto the failure taxonomy. JSON-RPC
// errors (reverts included) come from the node evaluating the call.
func classify(ctx context.Context, err error) core.FailureKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return core.Timeout
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return core.ContractCallError
	}
	return core.NetworkError
}

func orMalformed(err error) error {
	if err == nil {
		return errors.New("malformed response")
	}
	return err
}
