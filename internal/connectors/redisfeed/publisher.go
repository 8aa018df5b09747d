package redisfeed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/you/spread-bot/internal/config"
	"github.com/you/spread-bot/internal/types"
)

func NewClient(cfg config.RedisCfg) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		DB:       cfg.DB,
		Username: cfg.Username,
		Password: cfg.Password,
	})
}

// Publisher appends every cycle report to a capped stream and keeps the
// latest one in a hash for cheap polling.
type Publisher struct {
	rdb    *redis.Client
	stream string
	latest string
	maxLen int64
}

func NewPublisher(rdb *redis.Client, cfg config.RedisCfg) *Publisher {
	return &Publisher{
		rdb:    rdb,
		stream: cfg.Stream,
		latest: cfg.LatestKey,
		maxLen: cfg.MaxLen,
	}
}

func (p *Publisher) Report(ctx context.Context, r types.CycleReport) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("redisfeed: marshal report %d: %w", r.Seq, err)
	}
	fields := map[string]interface{}{
		"seq":         r.Seq,
		"pair":        r.Pair.String(),
		"status":      string(r.Status),
		"opportunity": r.Opportunity(),
		"ts_ms":       r.Finished.UnixMilli(),
		"report":      payload,
	}

	pipe := p.rdb.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: fields,
	})
	pipe.HSet(ctx, p.latest, fields)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisfeed: publish report %d: %w", r.Seq, err)
	}
	return nil
}

func (p *Publisher) Close() error { return p.rdb.Close() }
