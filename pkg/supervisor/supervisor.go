// Package supervisor builds one ingestion engine per configured source and
// drives their lifecycle together.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/downfa11-org/packrat/pkg/broker"
	"github.com/downfa11-org/packrat/pkg/config"
	"github.com/downfa11-org/packrat/pkg/decoder"
	"github.com/downfa11-org/packrat/pkg/engine"
	"github.com/downfa11-org/packrat/pkg/offset"
	"github.com/downfa11-org/packrat/pkg/store"
	"github.com/downfa11-org/packrat/util"
)

// ConsumerFactory creates the broker consumer for one source.
type ConsumerFactory func(src config.SourceConfig) (broker.Consumer, error)

type Supervisor struct {
	engines []*engine.Engine
	logger  *zap.Logger
}

func New(cfg *config.Config, factory ConsumerFactory, records store.RecordStore, offsets offset.OffsetStore, logger *zap.Logger) (*Supervisor, error) {
	logger = util.Component(logger, "supervisor")
	s := &Supervisor{logger: logger}

	var consumers []broker.Consumer
	abort := func(err error) (*Supervisor, error) {
		for _, c := range consumers {
			_ = c.Close()
		}
		return nil, err
	}

	headers := decoder.NewHeaderDecoder(logger)
	for _, src := range cfg.Sources {
		if len(src.Topics) == 0 {
			logger.Warn("source has no topics, skipping", zap.String("source", src.Name))
			continue
		}

		payloads, err := decoder.ForFormat(src.Format, src.Compression, logger)
		if err != nil {
			return abort(fmt.Errorf("source %s: %w", src.Name, err))
		}
		consumer, err := factory(src)
		if err != nil {
			return abort(fmt.Errorf("source %s: create consumer: %w", src.Name, err))
		}
		consumers = append(consumers, consumer)

		s.engines = append(s.engines, engine.New(engine.Options{
			Name:        src.Name,
			Topics:      src.Topics,
			PoolSize:    src.PoolSize,
			QueueSize:   src.QueueSize,
			PollTimeout: time.Duration(cfg.PollTimeoutMS) * time.Millisecond,
		}, consumer, headers, payloads, records, offsets, logger))
	}

	if len(s.engines) == 0 {
		logger.Warn("no source has topics configured; nothing will be ingested")
	}
	return s, nil
}

// Start brings every engine to Running. If any engine fails to start, the
// ones already running are stopped and the first error is returned.
func (s *Supervisor) Start(ctx context.Context) error {
	var g errgroup.Group
	for _, e := range s.engines {
		e := e
		g.Go(func() error {
			return e.Start(ctx)
		})
	}

	if err := g.Wait(); err != nil {
		s.logger.Error("engine startup failed, stopping the rest", zap.Error(err))
		s.Stop()
		return err
	}
	s.logger.Info("all engines running", zap.Int("engines", len(s.engines)))
	return nil
}

// Stop stops every running engine concurrently and waits for all of them.
// Shutdown errors are logged and swallowed.
func (s *Supervisor) Stop() {
	var g errgroup.Group
	for _, e := range s.engines {
		e := e
		g.Go(func() error {
			if err := e.Stop(); err != nil && !errors.Is(err, engine.ErrNotRunning) {
				s.logger.Warn("engine stop failed", zap.String("engine", e.Name()), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	s.logger.Info("all engines stopped")
}

func (s *Supervisor) States() map[string]engine.State {
	out := make(map[string]engine.State, len(s.engines))
	for _, e := range s.engines {
		out[e.Name()] = e.State()
	}
	return out
}

func (s *Supervisor) Stats() map[string]engine.Stats {
	out := make(map[string]engine.Stats, len(s.engines))
	for _, e := range s.engines {
		out[e.Name()] = e.Stats()
	}
	return out
}
