package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sentinelpulse/sentinelpulse/pkg/instrument"
	"github.com/sentinelpulse/sentinelpulse/pkg/types"
)

const defaultInterval = 2 * time.Second

// Source produces the next snapshot.
type Source interface {
	Next(ctx context.Context) (types.Snapshot, error)
}

// Sink consumes snapshots.
type Sink interface {
	Publish(ctx context.Context, snap types.Snapshot) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, snap types.Snapshot) error

// Publish calls f.
func (f SinkFunc) Publish(ctx context.Context, snap types.Snapshot) error { return f(ctx, snap) }

// Loop pulls from a Source and pushes to a Sink every interval.
type Loop struct {
	name     string
	source   Source
	sink     Sink
	interval time.Duration
	logger   *slog.Logger
}

// New returns a Loop. name labels its logs and metrics. A non-positive
// interval selects 2s.
func New(name string, source Source, sink Sink, interval time.Duration, logger *slog.Logger) *Loop {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		name:     name,
		source:   source,
		sink:     sink,
		interval: interval,
		logger:   logger.With("component", "poll", "loop", name),
	}
}

// Run blocks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("loop started", "interval", l.interval)
	defer l.logger.Info("loop stopped")

	t := time.NewTicker(l.interval)
	defer t.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		l.cycle(ctx)

		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// cycle runs one source-to-sink pass. Panics are recovered so a single bad
// cycle cannot stop the loop.
func (l *Loop) cycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			instrument.ObserveCycle(l.name, "panic")
			l.logger.Error("cycle panicked", "panic", fmt.Sprint(r))
		}
	}()

	snap, err := l.source.Next(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		instrument.ObserveCycle(l.name, "error")
		l.logger.Warn("source failed", "err", err)
		return
	}

	if err := l.sink.Publish(ctx, snap); err != nil {
		if ctx.Err() != nil {
			return
		}
		instrument.ObserveCycle(l.name, "error")
		l.logger.Warn("sink failed", "err", err)
		return
	}
	instrument.ObserveCycle(l.name, "ok")
}

// MultiSink publishes to every sink in order. All sinks are attempted;
// their errors are joined.
type MultiSink []Sink

// Publish implements Sink.
func (m MultiSink) Publish(ctx context.Context, snap types.Snapshot) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, snap); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
