package types

import (
	"time"
)

// Status is the health classification of one service.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Target kinds.
const (
	KindHTTP       = "http"
	KindPrometheus = "prometheus"
)

// EventMetricsUpdate is the event name carried by every broadcast envelope.
const EventMetricsUpdate = "metricsUpdate"

// Target is one upstream endpoint being monitored.
type Target struct {
	// Name is the unique, stable identifier reported in Metric.Name.
	Name string `yaml:"name"`

	// Endpoint is the full URL fetched with a plain GET.
	Endpoint string `yaml:"endpoint"`

	// Kind is http (synthetic load from payload size) or prometheus
	// (process telemetry parsed from the exposition body).
	Kind string `yaml:"kind"`
}

// Metric is the derived health of one target for one cycle.
type Metric struct {
	Name         string  `json:"name"`
	Status       Status  `json:"status"`
	CPULoad      float64 `json:"cpu_load"`
	MemoryUsage  float64 `json:"memory_usage"`
	LatencyMs    float64 `json:"latency_ms"`
	ErrorRatePct float64 `json:"error_rate_pct"`
	AnomalyScore float64 `json:"anomaly_score"`
	Anomaly      bool    `json:"anomaly"`
}

// Snapshot is one cycle's worth of metrics, ordered by target configuration.
type Snapshot struct {
	TimestampMs int64    `json:"timestamp_ms"`
	Services    []Metric `json:"services"`
}

// Message is the envelope pushed to dashboard subscribers.
type Message struct {
	Event string   `json:"event"`
	Data  Snapshot `json:"data"`
}

// NewSnapshot returns a Snapshot stamped with at. A nil services slice is
// replaced by an empty one so it serializes as [] rather than null.
func NewSnapshot(at time.Time, services []Metric) Snapshot {
	if services == nil {
		services = []Metric{}
	}
	return Snapshot{TimestampMs: at.UnixMilli(), Services: services}
}

// Empty returns the minimal valid snapshot: no services, stamped at.
func Empty(at time.Time) Snapshot {
	return NewSnapshot(at, nil)
}

// DefaultTargets are used when the configuration lists none.
func DefaultTargets() []Target {
	return []Target{
		{Name: "public-apis", Endpoint: "https://api.publicapis.org/entries", Kind: KindHTTP},
		{Name: "worldtime", Endpoint: "https://worldtimeapi.org/api/timezone/Etc/UTC", Kind: KindHTTP},
		{Name: "catfact", Endpoint: "https://catfact.ninja/fact", Kind: KindHTTP},
		{Name: "coindesk", Endpoint: "https://api.coindesk.com/v1/bpi/currentprice.json", Kind: KindHTTP},
	}
}
