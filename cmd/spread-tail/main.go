package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/you/spread-bot/internal/bot"
	"github.com/you/spread-bot/internal/config"
	"github.com/you/spread-bot/internal/connectors/redisfeed"
	"github.com/you/spread-bot/internal/types"
)

func main() {
	cfgPath := flag.String("config", "./config.yaml", "path to config")
	from := flag.String("from", "$", "stream id to start after ($ = only new, 0 = retained history)")
	latest := flag.Bool("latest", false, "print the latest report and exit")
	flag.Parse()

	logger, err := bot.NewLogger("info")
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Fatal("config load failed", zap.Error(err))
	}
	if cfg.Redis.Addr == "" {
		logger.Fatal("redis.addr is empty; nothing to tail")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redisfeed.NewClient(cfg.Redis)
	defer rdb.Close()
	cons := redisfeed.NewConsumer(rdb, cfg.Redis)
	enc := json.NewEncoder(os.Stdout)

	if *latest {
		r, err := cons.Latest(ctx)
		if errors.Is(err, redis.Nil) {
			logger.Warn("no report published yet")
			return
		}
		if err != nil {
			logger.Fatal("read latest failed", zap.Error(err))
		}
		_ = enc.Encode(r)
		return
	}

	out := make(chan types.CycleReport, 64)
	go func() {
		defer close(out)
		if err := cons.Tail(ctx, *from, out); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("tail stopped", zap.Error(err))
		}
	}()
	for r := range out {
		_ = enc.Encode(r)
	}
}
