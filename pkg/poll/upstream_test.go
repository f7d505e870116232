package poll

import (
	"context"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sentinelpulse/sentinelpulse/pkg/fallback"
	"github.com/sentinelpulse/sentinelpulse/pkg/fetch"
	"github.com/sentinelpulse/sentinelpulse/pkg/types"
)

func TestJoinURL(t *testing.T) {
	tests := []struct {
		base, path, want string
	}{
		{"http://api:5000", "/metrics", "http://api:5000/metrics"},
		{"http://api:5000/", "/metrics", "http://api:5000/metrics"},
		{"http://api:5000/", "metrics", "http://api:5000/metrics"},
		{"http://api:5000//", "//metrics", "http://api:5000/metrics"},
		{"http://api:5000/v1", "metrics", "http://api:5000/v1/metrics"},
		{"", "/metrics", "/metrics"},
		{"http://api:5000/", "", "http://api:5000/"},
		{"", "", ""},
	}
	for _, tt := range tests {
		if got := JoinURL(tt.base, tt.path); got != tt.want {
			t.Errorf("JoinURL(%q, %q): got %q, want %q", tt.base, tt.path, got, tt.want)
		}
	}
}

func quickPolicy() fetch.Policy {
	p := fetch.DefaultPolicy()
	p.Backoff = []time.Duration{}
	return p
}

func fixedNow() time.Time { return time.UnixMilli(1700000000000) }

func TestUpstreamSource_PassesValidSnapshot(t *testing.T) {
	body := `{"timestamp_ms":1699999999000,"services":[{"name":"a","status":"healthy","cpu_load":1,"memory_usage":2,"latency_ms":3,"error_rate_pct":0,"anomaly_score":0.01,"anomaly":false}]}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/metrics" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	u := NewUpstreamSource(srv.URL+"/", "/metrics", fallback.New(rand.New(rand.NewSource(1))),
		UpstreamOptions{Policy: quickPolicy(), Now: fixedNow})

	snap, err := u.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if snap.TimestampMs != 1699999999000 || len(snap.Services) != 1 || snap.Services[0].Name != "a" {
		t.Errorf("got %+v, want the upstream snapshot", snap)
	}
}

func TestUpstreamSource_FallbackOnMalformedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"timestamp_ms":0,"services":null}`))
	}))
	defer srv.Close()

	u := NewUpstreamSource(srv.URL, "metrics", fallback.New(rand.New(rand.NewSource(1))),
		UpstreamOptions{Policy: quickPolicy(), Now: fixedNow})

	snap, _ := u.Next(context.Background())
	if len(snap.Services) != len(fallback.Services) || snap.Services[0].Name != "auth-service" {
		t.Errorf("got %+v, want fallback snapshot", snap)
	}
	if snap.TimestampMs != fixedNow().UnixMilli() {
		t.Errorf("TimestampMs: got %d", snap.TimestampMs)
	}
}

func TestUpstreamSource_FallbackWhileCircuitOpen(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := quickPolicy()
	p.FailureThreshold = 2
	u := NewUpstreamSource(srv.URL, "/metrics", fallback.New(rand.New(rand.NewSource(1))),
		UpstreamOptions{Policy: p, Now: fixedNow})

	for i := 0; i < 4; i++ {
		snap, err := u.Next(context.Background())
		if err != nil {
			t.Fatalf("Next %d: %v", i, err)
		}
		if err := snap.Validate(); err != nil {
			t.Fatalf("Next %d returned invalid snapshot: %v", i, err)
		}
		if len(snap.Services) != len(fallback.Services) {
			t.Fatalf("Next %d: want fallback snapshot", i)
		}
	}
	if hits.Load() != 2 {
		t.Errorf("upstream hits: got %d, want 2 (breaker should short-circuit the rest)", hits.Load())
	}
}

type brokenFallback struct{}

func (brokenFallback) Generate(at time.Time) types.Snapshot {
	return types.Snapshot{TimestampMs: at.UnixMilli(), Services: []types.Metric{{Name: "", Status: "bogus"}}}
}

func TestUpstreamSource_InvalidFallbackBecomesEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	u := NewUpstreamSource(srv.URL, "/metrics", brokenFallback{},
		UpstreamOptions{Policy: quickPolicy(), Now: fixedNow})

	snap, _ := u.Next(context.Background())
	if snap.Services == nil || len(snap.Services) != 0 {
		t.Errorf("Services: got %#v, want empty", snap.Services)
	}
	if err := snap.Validate(); err != nil {
		t.Errorf("empty replacement should validate: %v", err)
	}
}

func TestUpstreamSource_TimestampsNonDecreasing(t *testing.T) {
	var ts atomic.Int64
	ts.Store(2000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		v := ts.Add(-500)
		_, _ = w.Write([]byte(`{"timestamp_ms":` + strconv.FormatInt(v, 10) + `,"services":[]}`))
	}))
	defer srv.Close()

	u := NewUpstreamSource(srv.URL, "/metrics", fallback.New(nil),
		UpstreamOptions{Policy: quickPolicy(), Now: fixedNow})

	first, _ := u.Next(context.Background())
	second, _ := u.Next(context.Background())
	if first.TimestampMs != 1500 || second.TimestampMs != 1500 {
		t.Errorf("timestamps: got %d then %d, want 1500 then 1500", first.TimestampMs, second.TimestampMs)
	}
}
