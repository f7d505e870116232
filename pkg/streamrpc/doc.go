// Package streamrpc carries snapshots over gRPC.
//
// The MetricsService has two methods:
//
//	GetMetrics    (unary)         returns the current Snapshot
//	StreamMetrics (server stream) pushes a Snapshot every stream interval
//
// Messages are encoded as JSON using a codec registered under the "json"
// content-subtype, so the wire payload is the same document served by the
// REST endpoint. Clients built with Dial select the codec automatically.
//
// Relay consumes StreamMetrics on the dashboard side, validates every
// inbound snapshot and forwards it to a poll.Sink, reconnecting after a
// fixed backoff whenever the stream ends.
package streamrpc
