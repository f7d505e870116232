// Package poll drives a snapshot Source on a fixed cadence and hands every
// snapshot to a Sink.
//
// Loop.Run runs one cycle immediately and then one per interval until its
// context is cancelled. A cycle that fails or panics is logged and counted;
// the loop keeps going.
//
// UpstreamSource is the Source used by the dashboard in poll mode. It
// fetches the api's /metrics document through a resilient fetcher and
// substitutes a synthetic snapshot whenever the upstream is unavailable or
// returns something that does not validate.
package poll
