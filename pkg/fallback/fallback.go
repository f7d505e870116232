// Package fallback generates a synthetic Snapshot used when the upstream
// metrics source is unavailable.
package fallback

import (
	"math/rand"
	"sync"
	"time"

	"github.com/sentinelpulse/sentinelpulse/pkg/score"
	"github.com/sentinelpulse/sentinelpulse/pkg/types"
)

// Services are the names reported by every fallback snapshot.
var Services = []string{"auth-service", "payment-gateway", "order-service", "iot-sensor-1"}

// Generator produces fallback snapshots from a seedable source.
// It is safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New returns a Generator drawing from rng. A nil rng is seeded from the
// current time.
func New(rng *rand.Rand) *Generator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Generator{rng: rng}
}

// Generate returns one synthetic snapshot stamped at.
func (g *Generator) Generate(at time.Time) types.Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	metrics := make([]types.Metric, 0, len(Services))
	for _, name := range Services {
		metrics = append(metrics, g.metric(name))
	}
	return types.NewSnapshot(at, metrics)
}

func (g *Generator) metric(name string) types.Metric {
	cpu := g.rng.Float64()*30 + 20
	mem := g.rng.Float64()*40 + 20
	latency := g.rng.Float64()*200 + 20
	errs := g.rng.Float64() * 2

	anomalyScore := latency/500*0.5 + errs/5*0.3 + cpu/100*0.2
	anomaly := anomalyScore > 0.75

	status := types.StatusHealthy
	switch {
	case anomaly:
		status = types.StatusUnhealthy
	case errs > 1.5 || latency > 180:
		status = types.StatusDegraded
	}

	return types.Metric{
		Name:         name,
		Status:       status,
		CPULoad:      score.Round(cpu, 2),
		MemoryUsage:  score.Round(mem, 2),
		LatencyMs:    score.Round(latency, 2),
		ErrorRatePct: score.Round(errs, 2),
		AnomalyScore: score.Round(anomalyScore, 3),
		Anomaly:      anomaly,
	}
}
