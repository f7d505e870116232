package streamrpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/sentinelpulse/sentinelpulse/pkg/types"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "sentinelpulse.v1.MetricsService"

const (
	getMetricsMethod    = "/" + ServiceName + "/GetMetrics"
	streamMetricsMethod = "/" + ServiceName + "/StreamMetrics"
)

// MetricsRequest is the (empty) request of both methods.
type MetricsRequest struct{}

// MetricsServer is implemented by the api.
type MetricsServer interface {
	GetMetrics(ctx context.Context, req *MetricsRequest) (*types.Snapshot, error)
	StreamMetrics(req *MetricsRequest, stream MetricsStream) error
}

// MetricsStream is the server side of StreamMetrics.
type MetricsStream interface {
	Send(snap *types.Snapshot) error
	Context() context.Context
}

// ServiceDesc describes MetricsService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MetricsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetMetrics", Handler: getMetricsHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamMetrics", Handler: streamMetricsHandler, ServerStreams: true},
	},
	Metadata: "sentinelpulse/v1/metrics.proto",
}

// RegisterMetricsServer registers srv on s.
func RegisterMetricsServer(s grpc.ServiceRegistrar, srv MetricsServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func getMetricsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(MetricsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MetricsServer).GetMetrics(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getMetricsMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(MetricsServer).GetMetrics(ctx, req.(*MetricsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func streamMetricsHandler(srv any, stream grpc.ServerStream) error {
	in := new(MetricsRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(MetricsServer).StreamMetrics(in, &serverStream{stream})
}

type serverStream struct {
	grpc.ServerStream
}

func (s *serverStream) Send(snap *types.Snapshot) error {
	return s.ServerStream.SendMsg(snap)
}
