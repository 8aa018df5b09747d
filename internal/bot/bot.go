package bot

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/you/spread-bot/internal/detector"
	"github.com/you/spread-bot/internal/marketdata"
	imetrics "github.com/you/spread-bot/internal/metrics"
	"github.com/you/spread-bot/internal/types"
)

// Reporter receives every cycle report. Errors are logged, never fatal.
type Reporter interface {
	Report(ctx context.Context, r types.CycleReport) error
}

type Poller interface {
	Poll(ctx context.Context) marketdata.Snapshot
}

type namedReporter struct {
	name string
	r    Reporter
}

// Bot owns the poll -> evaluate -> report -> wait loop. Cycles never overlap.
type Bot struct {
	poller    Poller
	params    detector.Params
	interval  time.Duration
	clock     Clock
	log       *zap.Logger
	reporters []namedReporter
	seq       uint64
}

type Option func(*Bot)

func WithClock(c Clock) Option { return func(b *Bot) { b.clock = c } }

// WithReporter adds a sink; name labels its error metric.
func WithReporter(name string, r Reporter) Option {
	return func(b *Bot) { b.reporters = append(b.reporters, namedReporter{name: name, r: r}) }
}

func New(poller Poller, params detector.Params, interval time.Duration, log *zap.Logger, opts ...Option) *Bot {
	b := &Bot{
		poller:   poller,
		params:   params,
		interval: interval,
		clock:    realClock{},
		log:      log,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Run loops until ctx is done. The wait starts only after the previous
// cycle, reporting included, has returned.
func (b *Bot) Run(ctx context.Context) error {
	b.log.Info("spread bot started", zap.Duration("interval", b.interval))
	for {
		if err := ctx.Err(); err != nil {
			b.log.Info("spread bot finished")
			return err
		}
		b.RunOnce(ctx)

		select {
		case <-ctx.Done():
			b.log.Info("spread bot finished")
			return ctx.Err()
		case <-b.clock.After(b.interval):
		}
	}
}

// RunOnce performs a single cycle and returns its report.
func (b *Bot) RunOnce(ctx context.Context) types.CycleReport {
	b.seq++
	started := b.clock.Now()
	snap := b.poller.Poll(ctx)

	r := types.CycleReport{
		Seq:     b.seq,
		Pair:    snap.Pair,
		Quotes:  snap.Quotes(),
		Started: started,
	}

	if !snap.Complete() || len(snap.Results) != 2 {
		r.Status = types.StatusUnevaluable
		for _, fe := range snap.Failures() {
			r.Errors = append(r.Errors, types.CycleError{Venue: fe.Venue, Kind: fe.Kind, Msg: fe.Err.Error()})
		}
	} else {
		d, err := detector.Evaluate(snap.Results[0].Quote, snap.Results[1].Quote, b.params)
		if err != nil {
			r.Status = types.StatusInvalid
			r.Errors = append(r.Errors, types.CycleError{Msg: err.Error()})
			// A precondition failure is a bug: panic in development builds.
			if errors.Is(err, detector.ErrPrecondition) {
				b.log.DPanic("evaluator precondition violated", zap.Error(err))
			}
		} else {
			r.Status = types.StatusEvaluated
			r.Decision = &d
		}
	}
	r.Finished = b.clock.Now()

	b.record(r)
	b.report(ctx, r)
	return r
}

func (b *Bot) record(r types.CycleReport) {
	imetrics.Cycles.WithLabelValues(string(r.Status)).Inc()

	fields := []zap.Field{
		zap.Uint64("seq", r.Seq),
		zap.String("pair", r.Pair.String()),
		zap.String("status", string(r.Status)),
	}
	for _, q := range r.Quotes {
		fields = append(fields, zap.String("price_"+string(q.Venue), q.OutputAmount.String()))
	}

	switch r.Status {
	case types.StatusEvaluated:
		imetrics.SetAmount(imetrics.Spread, r.Decision.Spread)
		imetrics.SetAmount(imetrics.EstimatedProfit, r.Decision.EstimatedProfit)
		fields = append(fields,
			zap.String("spread", r.Decision.Spread.String()),
			zap.String("estimated_profit", r.Decision.EstimatedProfit.String()),
			zap.String("threshold", b.params.MinProfitThreshold.String()),
		)
		if r.Decision.ThresholdMet {
			imetrics.Opportunities.Inc()
			b.log.Info("profitable opportunity found", fields...)
		} else {
			b.log.Info("no profitable opportunity", fields...)
		}
	case types.StatusUnevaluable:
		for _, e := range r.Errors {
			fields = append(fields, zap.String("error_"+string(e.Venue), string(e.Kind)+": "+e.Msg))
		}
		b.log.Warn("could not fetch prices, skipping cycle", fields...)
	default:
		b.log.Error("cycle rejected by evaluator", fields...)
	}
}

func (b *Bot) report(ctx context.Context, r types.CycleReport) {
	for _, nr := range b.reporters {
		if err := nr.r.Report(ctx, r); err != nil {
			imetrics.ReportErrors.WithLabelValues(nr.name).Inc()
			b.log.Warn("report failed", zap.String("sink", nr.name), zap.Uint64("seq", r.Seq), zap.Error(err))
		}
	}
}

func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.CallerKey = "caller"
	cfg.EncoderConfig.StacktraceKey = "stacktrace"
	cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
	return cfg.Build()
}
