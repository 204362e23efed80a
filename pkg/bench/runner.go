// Package bench generates HealthCheck traffic and reports publish throughput.
package bench

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/downfa11-org/packrat/pkg/config"
	"github.com/downfa11-org/packrat/pkg/types"
	"github.com/downfa11-org/packrat/util"
)

type Options struct {
	Topic       string
	Format      string
	Compression string
	GroupID     string

	Emitters           int
	SessionsPerEmitter int
	RecordsPerSession  int
	// Producers is the number of concurrent publishers; emitters are split between them.
	Producers int
	// PoisonEvery inserts a headerless record after every n valid ones. Zero disables it.
	PoisonEvery int
}

func (o *Options) normalize() error {
	if o.Topic == "" {
		return errors.New("bench: topic is required")
	}
	if o.Format == "" {
		o.Format = config.FormatJSON
	}
	if o.Format != config.FormatJSON && o.Format != config.FormatLines {
		return fmt.Errorf("bench: unknown format %q", o.Format)
	}
	if o.Compression == "" {
		o.Compression = "none"
	}
	if !util.ValidCompression(o.Compression) {
		return fmt.Errorf("bench: %w: %s", util.ErrUnsupportedCompression, o.Compression)
	}
	if o.GroupID == "" {
		o.GroupID = "bench"
	}
	o.Emitters = max(o.Emitters, 1)
	o.SessionsPerEmitter = max(o.SessionsPerEmitter, 1)
	o.RecordsPerSession = max(o.RecordsPerSession, 1)
	o.Producers = min(max(o.Producers, 1), o.Emitters)
	return nil
}

type Result struct {
	Producers int
	Messages  int64
	Poison    int64
	Bytes     int64
	Duration  time.Duration
}

func (r Result) Throughput() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(r.Messages) / r.Duration.Seconds()
}

func (r Result) Print(w io.Writer) {
	fmt.Fprintf(w, "\n🧪 BENCHMARK RESULT 🧪\n")
	fmt.Fprintf(w, "-------------------------------------\n")
	fmt.Fprintf(w, " Producers     : %d\n", r.Producers)
	fmt.Fprintf(w, " Total Messages: %d\n", r.Messages)
	fmt.Fprintf(w, " Poison        : %d\n", r.Poison)
	fmt.Fprintf(w, " Bytes         : %d\n", r.Bytes)
	fmt.Fprintf(w, " Duration      : %v\n", r.Duration)
	fmt.Fprintf(w, " Throughput    : %.2f msg/sec\n", r.Throughput())
	fmt.Fprintf(w, "-------------------------------------\n")
}

type Runner struct {
	opts     Options
	producer Producer
	logger   *zap.Logger
}

func NewRunner(opts Options, producer Producer, logger *zap.Logger) (*Runner, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	return &Runner{
		opts:     opts,
		producer: producer,
		logger:   util.Component(logger, "bench"),
	}, nil
}

// Run publishes every session of every emitter and stops at the first publish error.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	emitters := make([]string, r.opts.Emitters)
	for i := range emitters {
		emitters[i] = uuid.NewString()
	}

	var messages, poison, bytes atomic.Int64
	start := time.Now()
	base := start.UnixMilli()

	g, gctx := errgroup.WithContext(ctx)
	for p := 0; p < r.opts.Producers; p++ {
		p := p
		g.Go(func() error {
			sent := 0
			for i := p; i < len(emitters); i += r.opts.Producers {
				for s := 0; s < r.opts.SessionsPerEmitter; s++ {
					session := base + int64(s)*60_000
					for rec := 0; rec < r.opts.RecordsPerSession; rec++ {
						key, value, err := r.message(emitters[i], session, session+int64(rec))
						if err != nil {
							return err
						}
						if err := r.producer.Produce(gctx, r.opts.Topic, key, value); err != nil {
							return fmt.Errorf("producer %d: %w", p, err)
						}
						messages.Add(1)
						bytes.Add(int64(len(key) + len(value)))
						sent++

						if r.opts.PoisonEvery > 0 && sent%r.opts.PoisonEvery == 0 {
							if err := r.producer.Produce(gctx, r.opts.Topic, nil, value); err != nil {
								return fmt.Errorf("producer %d: %w", p, err)
							}
							poison.Add(1)
						}
					}
				}
			}
			r.logger.Debug("producer done", zap.Int("producer", p), zap.Int("sent", sent))
			return nil
		})
	}
	err := g.Wait()

	res := Result{
		Producers: r.opts.Producers,
		Messages:  messages.Load(),
		Poison:    poison.Load(),
		Bytes:     bytes.Load(),
		Duration:  time.Since(start),
	}
	r.logger.Info("bench finished",
		zap.Int64("messages", res.Messages),
		zap.Duration("duration", res.Duration),
		zap.Float64("throughput", res.Throughput()),
		zap.Error(err))
	return res, err
}

func (r *Runner) message(emitter string, session, record int64) ([]byte, []byte, error) {
	key, err := json.Marshal(types.Header{
		GroupID:          r.opts.GroupID,
		EmitterID:        emitter,
		SessionTimestamp: session,
		RecordTimestamp:  record,
		Version:          1,
	})
	if err != nil {
		return nil, nil, err
	}

	var payload any
	switch r.opts.Format {
	case config.FormatLines:
		payload = []string{
			fmt.Sprintf("session %d started", session),
			fmt.Sprintf("record %d ok", record),
		}
	default:
		payload = map[string]any{"cpu": 0.25, "memory": 512, "record": record}
	}
	value, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	if r.opts.Compression != "none" {
		if value, err = util.CompressMessage(value, r.opts.Compression); err != nil {
			return nil, nil, err
		}
	}
	return key, value, nil
}
