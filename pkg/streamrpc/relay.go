package streamrpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/sentinelpulse/sentinelpulse/pkg/instrument"
	"github.com/sentinelpulse/sentinelpulse/pkg/poll"
	"github.com/sentinelpulse/sentinelpulse/pkg/types"
)

const defaultReconnectBackoff = 2 * time.Second

// Streamer opens a snapshot stream. *Client implements it.
type Streamer interface {
	StreamMetrics(ctx context.Context) (SnapshotStream, error)
}

// Relay forwards a server-pushed snapshot stream into a sink.
type Relay struct {
	streamer Streamer
	sink     poll.Sink
	backoff  time.Duration
	logger   *slog.Logger

	lastMs int64
}

// NewRelay returns a Relay. A non-positive backoff selects 2s.
func NewRelay(streamer Streamer, sink poll.Sink, backoff time.Duration, logger *slog.Logger) *Relay {
	if backoff <= 0 {
		backoff = defaultReconnectBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		streamer: streamer,
		sink:     sink,
		backoff:  backoff,
		logger:   logger.With("component", "relay"),
	}
}

// Run consumes the stream until ctx is cancelled, reconnecting after every
// disconnect. It never returns a stream error.
func (r *Relay) Run(ctx context.Context) {
	for {
		err := r.session(ctx)
		if ctx.Err() != nil {
			return
		}
		r.logger.Warn("stream disconnected", "err", err, "retry_in", r.backoff)
		instrument.RelayReconnect()

		t := time.NewTimer(r.backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// session runs one stream from open to disconnect.
func (r *Relay) session(ctx context.Context) error {
	stream, err := r.streamer.StreamMetrics(ctx)
	if err != nil {
		return err
	}
	r.logger.Info("stream connected")

	for {
		snap, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("streamrpc: stream closed by server")
		}
		if err != nil {
			return err
		}

		if err := snap.Validate(); err != nil {
			instrument.ObserveCycle("relay", "error")
			r.logger.Warn("inbound snapshot rejected", "err", err)
			continue
		}
		if snap.TimestampMs < r.lastMs {
			snap.TimestampMs = r.lastMs
		}
		r.lastMs = snap.TimestampMs

		r.publish(ctx, snap)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// publish hands one snapshot to the sink. Sink errors and panics are
// logged and counted; the session keeps going either way.
func (r *Relay) publish(ctx context.Context, snap types.Snapshot) {
	defer func() {
		if p := recover(); p != nil {
			instrument.ObserveCycle("relay", "panic")
			r.logger.Error("sink panicked", "panic", p)
		}
	}()

	if err := r.sink.Publish(ctx, snap); err != nil {
		if ctx.Err() != nil {
			return
		}
		instrument.ObserveCycle("relay", "error")
		r.logger.Warn("sink failed", "err", err)
		return
	}
	instrument.ObserveCycle("relay", "ok")
}
