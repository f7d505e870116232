package score

import (
	"math"

	"github.com/sentinelpulse/sentinelpulse/pkg/types"
)

// Anomaly formula weights and normalisers.
const (
	weightLatency    = 0.6
	weightErrors     = 0.4
	latencyNormMs    = 1500.0
	AnomalyThreshold = 0.75
)

// Escalation thresholds in milliseconds.
const (
	DegradedLatencyMs  = 600.0
	UnhealthyLatencyMs = 1200.0
)

// Error rates assigned by the base classification.
const (
	errorRateOK          = 0.0
	errorRateClientError = 50.0
	errorRateFailure     = 100.0
)

// Class is the coarse result of a fetch, as seen by the scorer.
type Class int

const (
	ClassFailure Class = iota // transport, timeout, 5xx, circuit open, cancelled
	ClassSuccess              // 2xx
	ClassClientError          // 4xx
)

// Input is everything Score needs from one fetch.
type Input struct {
	Class      Class
	StatusCode int // 0 when no response was received
	BodyBytes  int64
	LatencyMs  float64

	// CPUPct / MemPct carry real telemetry when the target exposed it.
	// Nil means "derive from BodyBytes".
	CPUPct *float64
	MemPct *float64
}

// Policy holds the tunable constants of the synthetic load formula.
//
//	cpu = clamp(bytes/CPUDivisor*CPUScale, CPUFloor, CPUCeiling)
//	mem = clamp(bytes/MemDivisor*MemScale, MemFloor, MemCeiling)
type Policy struct {
	CPUDivisor float64 `yaml:"cpu_divisor"`
	CPUScale   float64 `yaml:"cpu_scale"`
	CPUFloor   float64 `yaml:"cpu_floor"`
	CPUCeiling float64 `yaml:"cpu_ceiling"`

	MemDivisor float64 `yaml:"mem_divisor"`
	MemScale   float64 `yaml:"mem_scale"`
	MemFloor   float64 `yaml:"mem_floor"`
	MemCeiling float64 `yaml:"mem_ceiling"`
}

// DefaultPolicy returns the constants used by every code path unless
// configuration overrides them.
func DefaultPolicy() Policy {
	return Policy{
		CPUDivisor: 50000, CPUScale: 80, CPUFloor: 2, CPUCeiling: 85,
		MemDivisor: 100000, MemScale: 90, MemFloor: 3, MemCeiling: 90,
	}
}

// Score derives the Metric for target name from in.
func (p Policy) Score(name string, in Input) types.Metric {
	status, errPct := classify(in.Class)

	cpu, mem := p.CPUFloor, p.MemFloor
	if in.Class == ClassSuccess {
		cpu = saturate(float64(in.BodyBytes), p.CPUDivisor, p.CPUScale, p.CPUFloor, p.CPUCeiling)
		mem = saturate(float64(in.BodyBytes), p.MemDivisor, p.MemScale, p.MemFloor, p.MemCeiling)
	}
	if in.CPUPct != nil {
		cpu = clamp(*in.CPUPct, 0, 100)
	}
	if in.MemPct != nil {
		mem = clamp(*in.MemPct, 0, 100)
	}

	latency := math.Max(in.LatencyMs, 0)
	anomalyScore := weightLatency*(latency/latencyNormMs) + weightErrors*(errPct/100)

	m := types.Metric{
		Name:         name,
		Status:       status,
		CPULoad:      Round(cpu, 2),
		MemoryUsage:  Round(mem, 2),
		LatencyMs:    Round(latency, 2),
		ErrorRatePct: Round(errPct, 2),
		AnomalyScore: Round(anomalyScore, 3),
		Anomaly:      anomalyScore > AnomalyThreshold,
	}
	return Escalate(m, in.StatusCode)
}

// Escalate downgrades m.Status by latency and status code. Applying it twice
// yields the same Metric.
func Escalate(m types.Metric, statusCode int) types.Metric {
	if m.Status == types.StatusHealthy && (m.LatencyMs > DegradedLatencyMs || statusCode >= 400) {
		m.Status = types.StatusDegraded
	}
	if m.LatencyMs > UnhealthyLatencyMs {
		m.Status = types.StatusUnhealthy
	}
	return m
}

// Round rounds v half away from zero to the given number of decimals.
func Round(v float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	return math.Round(v*pow) / pow
}

func classify(c Class) (types.Status, float64) {
	switch c {
	case ClassSuccess:
		return types.StatusHealthy, errorRateOK
	case ClassClientError:
		return types.StatusDegraded, errorRateClientError
	default:
		return types.StatusUnhealthy, errorRateFailure
	}
}

// saturate maps a non-negative size onto [floor, ceiling]. A zero divisor
// pins the result to floor.
func saturate(size, divisor, scale, floor, ceiling float64) float64 {
	if divisor <= 0 {
		return floor
	}
	return clamp(size/divisor*scale, floor, ceiling)
}

// clamp restricts v to the range [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
