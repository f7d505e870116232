package types

import (
	"encoding/json"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// Validate checks that t can be fetched. An empty Kind means http.
func (t Target) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.Name, validation.Required),
		validation.Field(&t.Endpoint, validation.Required, is.URL),
		validation.Field(&t.Kind, validation.In(KindHTTP, KindPrometheus)),
	)
}

// Validate checks field bounds. NaN values fail every range rule.
func (m Metric) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Name, validation.Required),
		validation.Field(&m.Status, validation.Required,
			validation.In(StatusHealthy, StatusDegraded, StatusUnhealthy)),
		validation.Field(&m.CPULoad, validation.Min(0.0), validation.Max(100.0)),
		validation.Field(&m.MemoryUsage, validation.Min(0.0), validation.Max(100.0)),
		validation.Field(&m.LatencyMs, validation.Min(0.0)),
		validation.Field(&m.ErrorRatePct, validation.Min(0.0), validation.Max(100.0)),
		validation.Field(&m.AnomalyScore, validation.Min(0.0)),
	)
}

// Validate checks the timestamp and every contained Metric.
func (s Snapshot) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.TimestampMs, validation.Required, validation.Min(int64(1))),
		validation.Field(&s.Services, validation.NotNil),
	)
}

// Decode parses a JSON snapshot and validates it.
func Decode(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("types: decode snapshot: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Snapshot{}, fmt.Errorf("types: invalid snapshot: %w", err)
	}
	return s, nil
}
