// Package fetch implements the resilient fetcher: one Fetcher per upstream
// target, wrapping a plain HTTP GET with a per-attempt timeout, a fixed
// retry backoff schedule and a consecutive-failure circuit breaker.
//
// Fetch never returns an error. Every failure mode is folded into the
// returned Outcome, tagged with a Kind, so callers can score it directly.
//
// Breaker states:
//
//	CLOSED --(threshold consecutive failed fetches)--> OPEN
//	OPEN   --(now >= openUntil)--------------------> CLOSED (implicit)
//
// While OPEN, Fetch short-circuits with KindCircuitOpen, zero attempts and
// zero elapsed time, without touching the network.
//
// Targets of kind prometheus additionally have their body parsed as a
// Prometheus text exposition; process CPU and memory figures found there
// are attached to the Outcome as Telemetry.
package fetch
