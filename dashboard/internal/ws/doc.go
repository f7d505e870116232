// Package ws implements the dashboard WebSocket hub.
//
// Hub.ServeHTTP upgrades a request, registers the connection with the
// broadcaster as a Subscriber and serves it until the peer goes away. Each
// published snapshot arrives as one text frame:
//
//	{
//	  "event": "metricsUpdate",
//	  "data":  { "timestamp_ms": ..., "services": [ ... ] }
//	}
//
// Nothing is sent on connect; clients see the next published snapshot.
// The upgrader accepts all origins. The hub is mounted at /hubs/dashboard.
package ws
