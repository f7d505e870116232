package streamrpc

import (
	"context"
	"fmt"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/sentinelpulse/sentinelpulse/pkg/types"
)

// Client calls MetricsService.
type Client struct {
	conn *grpc.ClientConn
}

// Dial creates a client for addr. The connection is established lazily on
// the first call. Extra options are appended after the defaults.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
		grpc.WithChainUnaryInterceptor(grpc_prometheus.UnaryClientInterceptor),
		grpc.WithChainStreamInterceptor(grpc_prometheus.StreamClientInterceptor),
	}
	conn, err := grpc.NewClient(addr, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("streamrpc: dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// GetMetrics fetches the current snapshot.
func (c *Client) GetMetrics(ctx context.Context) (types.Snapshot, error) {
	var snap types.Snapshot
	if err := c.conn.Invoke(ctx, getMetricsMethod, &MetricsRequest{}, &snap); err != nil {
		return types.Snapshot{}, fmt.Errorf("streamrpc: get metrics: %w", err)
	}
	return snap, nil
}

// SnapshotStream is the client side of StreamMetrics.
type SnapshotStream interface {
	Recv() (types.Snapshot, error)
}

// StreamMetrics opens a server stream. The stream ends when ctx is done.
func (c *Client) StreamMetrics(ctx context.Context) (SnapshotStream, error) {
	stream, err := c.conn.NewStream(ctx, &ServiceDesc.Streams[0], streamMetricsMethod)
	if err != nil {
		return nil, fmt.Errorf("streamrpc: open stream: %w", err)
	}
	if err := stream.SendMsg(&MetricsRequest{}); err != nil {
		return nil, fmt.Errorf("streamrpc: send request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("streamrpc: close send: %w", err)
	}
	return &clientStream{stream}, nil
}

type clientStream struct {
	grpc.ClientStream
}

func (s *clientStream) Recv() (types.Snapshot, error) {
	var snap types.Snapshot
	if err := s.ClientStream.RecvMsg(&snap); err != nil {
		return types.Snapshot{}, err
	}
	return snap, nil
}
