package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sentinelpulse/sentinelpulse/dashboard/internal/api"
	"github.com/sentinelpulse/sentinelpulse/dashboard/internal/store"
	"github.com/sentinelpulse/sentinelpulse/pkg/types"
)

type fixedCount int

func (f fixedCount) Count() int { return int(f) }

func get(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

func TestSnapshot_NotFoundWhenEmpty(t *testing.T) {
	h := api.New(store.New(time.Minute), fixedCount(0), "aggregate")
	rr := get(t, h, http.MethodGet, "/api/v1/snapshot")
	if rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", rr.Code)
	}
}

func TestSnapshot_ReturnsLatest(t *testing.T) {
	st := store.New(time.Minute)
	_ = st.Publish(context.Background(), types.NewSnapshot(time.UnixMilli(77), []types.Metric{
		{Name: "worldtime", Status: types.StatusDegraded, CPULoad: 2, MemoryUsage: 3, ErrorRatePct: 50},
	}))
	h := api.New(st, fixedCount(0), "aggregate")

	rr := get(t, h, http.MethodGet, "/api/v1/snapshot")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q", ct)
	}
	var snap types.Snapshot
	decode(t, rr, &snap)
	if snap.TimestampMs != 77 || len(snap.Services) != 1 || snap.Services[0].Status != types.StatusDegraded {
		t.Errorf("snapshot: got %+v", snap)
	}
}

func TestSnapshot_MethodNotAllowed(t *testing.T) {
	h := api.New(store.New(time.Minute), nil, "poll")
	rr := get(t, h, http.MethodPost, "/api/v1/snapshot")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", rr.Code)
	}
}

func TestHealth(t *testing.T) {
	st := store.New(time.Minute)
	h := api.New(st, fixedCount(3), "stream")

	var resp api.HealthResponse
	decode(t, get(t, h, http.MethodGet, "/api/v1/health"), &resp)
	if resp.Status != "ok" || resp.Mode != "stream" || resp.Clients != 3 || resp.HasSnapshot {
		t.Errorf("health before publish: got %+v", resp)
	}

	_ = st.Publish(context.Background(), types.Empty(time.UnixMilli(1)))
	decode(t, get(t, h, http.MethodGet, "/api/v1/health"), &resp)
	if !resp.HasSnapshot || resp.SnapshotAge == "" {
		t.Errorf("health after publish: got %+v", resp)
	}
}
