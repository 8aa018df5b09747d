package redisfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/you/spread-bot/internal/config"
	"github.com/you/spread-bot/internal/types"
)

type Consumer struct {
	rdb    *redis.Client
	stream string
	latest string
}

func NewConsumer(rdb *redis.Client, cfg config.RedisCfg) *Consumer {
	return &Consumer{rdb: rdb, stream: cfg.Stream, latest: cfg.LatestKey}
}

// Latest returns the most recent report, or redis.Nil before the first one.
func (c *Consumer) Latest(ctx context.Context) (types.CycleReport, error) {
	raw, err := c.rdb.HGet(ctx, c.latest, "report").Result()
	if err != nil {
		return types.CycleReport{}, err
	}
	return decode(raw)
}

// Tail streams reports newer than lastID ("$" for only new ones, "0" for
// the whole retained history) until ctx is done.
func (c *Consumer) Tail(ctx context.Context, lastID string, out chan<- types.CycleReport) error {
	for {
		streams, err := c.rdb.XRead(ctx, &redis.XReadArgs{
			Streams: []string{c.stream, lastID},
			Count:   100,
			Block:   time.Second,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("redisfeed: xread %s: %w", c.stream, err)
		}
		for _, s := range streams {
			for _, m := range s.Messages {
				lastID = m.ID
				raw, ok := m.Values["report"].(string)
				if !ok {
					continue
				}
				r, err := decode(raw)
				if err != nil {
					continue
				}
				select {
				case out <- r:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

func decode(raw string) (types.CycleReport, error) {
	var r types.CycleReport
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return types.CycleReport{}, fmt.Errorf("redisfeed: decode report: %w", err)
	}
	return r, nil
}
