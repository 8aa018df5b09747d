package kafkafeed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/you/spread-bot/internal/config"
	"github.com/you/spread-bot/internal/types"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes one JSON message per cycle, keyed by pair so a
// partition sees one pair's reports in order.
type Publisher struct {
	w messageWriter
}

func NewWriter(cfg config.KafkaCfg) *kafka.Writer {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		if trimmed := strings.TrimSpace(b); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 100 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
}

func NewPublisher(cfg config.KafkaCfg) *Publisher {
	return &Publisher{w: NewWriter(cfg)}
}

func (p *Publisher) Report(ctx context.Context, r types.CycleReport) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("kafkafeed: marshal report %d: %w", r.Seq, err)
	}
	msg := kafka.Message{
		Key:   []byte(r.Pair.String()),
		Value: payload,
		Time:  r.Finished,
		Headers: []kafka.Header{
			{Key: "status", Value: []byte(r.Status)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafkafeed: write report %d: %w", r.Seq, err)
	}
	return nil
}

func (p *Publisher) Close() error { return p.w.Close() }
