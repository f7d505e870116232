// Package score turns one fetch outcome into a Metric.
//
// Policy.Score is pure: the same Input always yields the same Metric. Load
// fields are synthetic unless the input carries real telemetry. They scale
// with response payload size through a saturating clamp and stand in for
// resource telemetry the upstream does not expose.
//
// Base classification: 2xx healthy (0% errors), 4xx degraded (50%), anything
// else unhealthy (100%). Escalate then downgrades on latency (>600ms
// degraded, >1200ms unhealthy) and on any status code >= 400.
//
//	anomaly_score = 0.6*(latency_ms/1500) + 0.4*(error_rate_pct/100)
//	anomaly       = anomaly_score > 0.75
//
// Percentages and latency are rounded to 2 decimals, anomaly_score to 3.
package score
