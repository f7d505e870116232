// Package rpc implements streamrpc.MetricsServer for the api.
package rpc

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/sentinelpulse/sentinelpulse/pkg/poll"
	"github.com/sentinelpulse/sentinelpulse/pkg/streamrpc"
	"github.com/sentinelpulse/sentinelpulse/pkg/types"
)

// Server answers GetMetrics with one collection and StreamMetrics with a
// collection every interval.
type Server struct {
	source   poll.Source
	interval time.Duration
	logger   *slog.Logger
}

var _ streamrpc.MetricsServer = (*Server)(nil)

// New returns a Server reading from source.
func New(source poll.Source, interval time.Duration, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{source: source, interval: interval, logger: logger.With("component", "rpc")}
}

// GetMetrics implements streamrpc.MetricsServer.
func (s *Server) GetMetrics(ctx context.Context, _ *streamrpc.MetricsRequest) (*types.Snapshot, error) {
	snap, err := s.source.Next(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Unavailable, "collect: %v", err)
	}
	return &snap, nil
}

// StreamMetrics implements streamrpc.MetricsServer. It pushes until the
// client goes away. Failed sends are logged and the loop carries on; the
// stream context ends the loop once the transport notices the disconnect.
func (s *Server) StreamMetrics(_ *streamrpc.MetricsRequest, stream streamrpc.MetricsStream) error {
	ctx := stream.Context()
	s.logger.Info("stream opened")

	send := poll.SinkFunc(func(_ context.Context, snap types.Snapshot) error {
		return stream.Send(&snap)
	})
	poll.New("grpc-stream", s.source, send, s.interval, s.logger).Run(ctx)

	s.logger.Info("stream closed", "reason", ctx.Err())
	return status.FromContextError(ctx.Err()).Err()
}
