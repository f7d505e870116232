package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sentinelpulse/sentinelpulse/api/internal/handler"
	"github.com/sentinelpulse/sentinelpulse/pkg/collect"
	"github.com/sentinelpulse/sentinelpulse/pkg/fetch"
	"github.com/sentinelpulse/sentinelpulse/pkg/types"
)

type stubSource struct {
	snap types.Snapshot
	err  error
}

func (s stubSource) Next(context.Context) (types.Snapshot, error) { return s.snap, s.err }

func get(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
	return rr
}

func TestBanner(t *testing.T) {
	h := handler.New(stubSource{}, nil)
	rr := get(t, h, http.MethodGet, "/")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != `{"name":"SentinelPulse.Api","status":"ok"}` {
		t.Errorf("body: got %s", got)
	}
}

func TestUnknownPath_404(t *testing.T) {
	rr := get(t, handler.New(stubSource{}, nil), http.MethodGet, "/nope")
	if rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", rr.Code)
	}
}

func TestMetrics_ReturnsSnapshot(t *testing.T) {
	snap := types.NewSnapshot(time.UnixMilli(1000), []types.Metric{
		{Name: "catfact", Status: types.StatusHealthy, CPULoad: 2, MemoryUsage: 3, LatencyMs: 10},
	})
	rr := get(t, handler.New(stubSource{snap: snap}, nil), http.MethodGet, "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}

	var got types.Snapshot
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.TimestampMs != 1000 || len(got.Services) != 1 || got.Services[0].Name != "catfact" {
		t.Errorf("snapshot: got %+v", got)
	}
}

func TestMetrics_SourceError_503(t *testing.T) {
	rr := get(t, handler.New(stubSource{err: errors.New("boom")}, nil), http.MethodGet, "/metrics")
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status: got %d, want 503", rr.Code)
	}
}

func TestMetrics_MethodNotAllowed(t *testing.T) {
	rr := get(t, handler.New(stubSource{}, nil), http.MethodPost, "/metrics")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", rr.Code)
	}
}

// TestMetrics_AllTargetsDown exercises the full path: every target is
// unreachable, and the response is still a valid, fully unhealthy snapshot.
func TestMetrics_AllTargetsDown(t *testing.T) {
	down := httptest.NewServer(http.NotFoundHandler())
	url := down.URL
	down.Close()

	p := fetch.DefaultPolicy()
	p.Backoff = []time.Duration{}
	fs := fetch.NewAll([]types.Target{
		{Name: "a", Endpoint: url + "/a"},
		{Name: "b", Endpoint: url + "/b"},
	}, p)
	agg, err := collect.New(collect.FromFetchers(fs), collect.Options{Timeout: 2 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	defer agg.Close()

	rr := get(t, handler.New(agg, nil), http.MethodGet, "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	snap, err := types.Decode(rr.Body.Bytes())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	for _, m := range snap.Services {
		if m.Status != types.StatusUnhealthy || m.ErrorRatePct != 100 {
			t.Errorf("%s: got %+v, want unhealthy", m.Name, m)
		}
	}
}
