package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/you/spread-bot/internal/bot"
	"github.com/you/spread-bot/internal/config"
	"github.com/you/spread-bot/internal/connectors/kafkafeed"
	"github.com/you/spread-bot/internal/connectors/redisfeed"
	"github.com/you/spread-bot/internal/dash"
	"github.com/you/spread-bot/internal/detector"
	"github.com/you/spread-bot/internal/dex/core"
	v2 "github.com/you/spread-bot/internal/dex/v2"
	"github.com/you/spread-bot/internal/marketdata"
	"github.com/you/spread-bot/internal/metrics"
)

func parseFlags() (cfgPath string, once bool) {
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config")
	flag.BoolVar(&once, "once", false, "run a single cycle and exit")
	flag.Parse()
	return cfgPath, once
}

func main() {
	cfgPath, once := parseFlags()

	logger, err := bot.NewLogger("info")
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("config load failed", zap.Error(err))
	}
	if cfg.Log.Level != "info" {
		if logger, err = bot.NewLogger(cfg.Log.Level); err != nil {
			panic(err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		logger.Warn("received signal, shutting down...")
		cancel()
	}()

	ec, err := ethclient.DialContext(ctx, cfg.Chain.RPCHTTP)
	if err != nil {
		logger.Fatal("rpc dial failed", zap.Error(err))
	}
	defer ec.Close()

	registry := core.NewRegistry()
	var first *v2.V2
	for _, vc := range cfg.Venues {
		q, err := v2.New(vc.ID, ec, common.HexToAddress(vc.Router))
		if err != nil {
			logger.Fatal("venue init failed", zap.String("venue", string(vc.ID)), zap.Error(err))
		}
		if first == nil {
			first = q
		}
		registry.Register(&core.Venue{ID: vc.ID, Quoter: q})
	}

	pair, amountIn, err := resolvePair(ctx, cfg, first)
	if err != nil {
		logger.Fatal("pair resolution failed", zap.Error(err))
	}

	poller, err := marketdata.NewPoller(registry.Enabled(cfg.VenueIDs()), pair, amountIn, cfg.QuoteTimeout(), logger)
	if err != nil {
		logger.Fatal("poller init failed", zap.Error(err))
	}

	store := dash.NewStore()
	metrics.Serve(ctx, cfg.Metrics.ListenAddr, nil, store.Handler(), logger)

	opts := []bot.Option{bot.WithReporter("status", store)}
	if cfg.Redis.Addr != "" {
		pub := redisfeed.NewPublisher(redisfeed.NewClient(cfg.Redis), cfg.Redis)
		defer pub.Close()
		opts = append(opts, bot.WithReporter("redis", pub))
		logger.Info("redis reporting enabled", zap.String("stream", cfg.Redis.Stream))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		pub := kafkafeed.NewPublisher(cfg.Kafka)
		defer pub.Close()
		opts = append(opts, bot.WithReporter("kafka", pub))
		logger.Info("kafka reporting enabled", zap.String("topic", cfg.Kafka.Topic))
	}

	params := detector.Params{
		MinProfitThreshold: cfg.MinProfitThreshold(),
		ExecutionDiscount:  cfg.ExecutionDiscount(),
	}
	b := bot.New(poller, params, cfg.PollInterval(), logger, opts...)

	logger.Info("spread bot configured",
		zap.String("pair", pair.String()),
		zap.String("amount_in", amountIn.String()),
		zap.Strings("venues", venueNames(cfg.VenueIDs())),
		zap.String("min_profit_threshold", params.MinProfitThreshold.String()),
		zap.String("execution_discount", params.ExecutionDiscount.String()),
	)

	if once {
		b.RunOnce(ctx)
		return
	}
	if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("bot stopped", zap.Error(err))
	}
}

// resolvePair fixes the pair and reference amount once, before the first cycle.
func resolvePair(ctx context.Context, cfg *config.Config, router *v2.V2) (core.TokenPair, *big.Int, error) {
	cctx, cancel := context.WithTimeout(ctx, cfg.QuoteTimeout())
	defer cancel()

	pair := core.TokenPair{Quote: common.HexToAddress(cfg.Pair.Quote)}
	if cfg.Pair.Base == config.BaseWETH {
		weth, err := router.WETH(cctx)
		if err != nil {
			return core.TokenPair{}, nil, fmt.Errorf("resolve WETH: %w", err)
		}
		pair.Base = weth
	} else {
		pair.Base = common.HexToAddress(cfg.Pair.Base)
	}
	if pair.Base == pair.Quote {
		return core.TokenPair{}, nil, fmt.Errorf("base and quote are the same token %s", pair.Base.Hex())
	}

	if ref := cfg.ReferenceAmount(); ref != nil {
		return pair, ref, nil
	}
	unit, err := router.OneUnit(cctx, pair.Base)
	if err != nil {
		return core.TokenPair{}, nil, fmt.Errorf("base decimals: %w", err)
	}
	return pair, unit, nil
}

func venueNames(ids []core.VenueID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, string(id))
	}
	return out
}
