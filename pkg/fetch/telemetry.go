package fetch

import (
	"bytes"
	"fmt"
	"io"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Standard process collector families exposed by Prometheus client libraries.
const (
	familyCPUSeconds  = "process_cpu_seconds_total"
	familyResidentMem = "process_resident_memory_bytes"
	familyMaxMem      = "process_virtual_memory_max_bytes"
)

// cpuSample is the previous process_cpu_seconds_total reading of a target.
type cpuSample struct {
	seconds float64
	at      time.Time
	valid   bool
}

// parseMetrics decodes a Prometheus text exposition from r.
// A partial result with a non-fatal parse warning is still returned.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("fetch: parse prometheus text: %w", err)
	}
	return mfs, nil
}

// sumFamily adds up all counter, gauge, or untyped values in mf.
func sumFamily(mf *dto.MetricFamily) float64 {
	if mf == nil {
		return 0
	}
	var total float64
	for _, m := range mf.GetMetric() {
		switch {
		case m.Counter != nil:
			total += m.Counter.GetValue()
		case m.Gauge != nil:
			total += m.Gauge.GetValue()
		case m.Untyped != nil:
			total += m.Untyped.GetValue()
		}
	}
	return total
}

// telemetry derives CPU and memory percentages from body. CPU needs two
// samples, so the first successful fetch of a target only yields memory.
// Callers hold f.mu.
func (f *Fetcher) telemetry(body []byte, at time.Time) *Telemetry {
	mfs, err := parseMetrics(bytes.NewReader(body))
	if err != nil {
		f.logger.Debug("telemetry parse failed", "target", f.target.Name, "err", err)
		return nil
	}

	t := &Telemetry{}

	if mf, ok := mfs[familyCPUSeconds]; ok {
		secs := sumFamily(mf)
		prev := f.cpu
		f.cpu = cpuSample{seconds: secs, at: at, valid: true}

		wall := at.Sub(prev.at).Seconds()
		if prev.valid && wall > 0 && secs >= prev.seconds {
			pct := (secs - prev.seconds) / wall * 100
			t.CPUPct = &pct
		}
	}

	if mf, ok := mfs[familyResidentMem]; ok {
		resident := sumFamily(mf)
		if limit := sumFamily(mfs[familyMaxMem]); limit > 0 {
			pct := resident / limit * 100
			t.MemPct = &pct
		}
	}

	if t.CPUPct == nil && t.MemPct == nil {
		return nil
	}
	return t
}
