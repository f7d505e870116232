package poll

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sentinelpulse/sentinelpulse/pkg/fetch"
	"github.com/sentinelpulse/sentinelpulse/pkg/instrument"
	"github.com/sentinelpulse/sentinelpulse/pkg/types"
)

// upstreamBodyLimit bounds the /metrics document kept for decoding.
const upstreamBodyLimit = 1 << 20

// Fallback produces a synthetic snapshot.
type Fallback interface {
	Generate(at time.Time) types.Snapshot
}

// UpstreamSource reads snapshots from the api over HTTP.
type UpstreamSource struct {
	fetcher  *fetch.Fetcher
	fallback Fallback
	now      func() time.Time
	logger   *slog.Logger

	mu     sync.Mutex
	lastMs int64
}

// UpstreamOptions configures NewUpstreamSource.
type UpstreamOptions struct {
	Policy fetch.Policy
	Now    func() time.Time
	Logger *slog.Logger

	// FetchOptions are passed through to the underlying fetcher.
	FetchOptions []fetch.Option
}

// NewUpstreamSource polls JoinURL(baseURL, metricsPath) and falls back to fb.
func NewUpstreamSource(baseURL, metricsPath string, fb Fallback, opts UpstreamOptions) *UpstreamSource {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	fopts := append([]fetch.Option{
		fetch.WithBodyLimit(upstreamBodyLimit),
		fetch.WithLogger(opts.Logger),
	}, opts.FetchOptions...)

	target := types.Target{Name: "upstream", Endpoint: JoinURL(baseURL, metricsPath), Kind: types.KindHTTP}
	return &UpstreamSource{
		fetcher:  fetch.New(target, opts.Policy, fopts...),
		fallback: fb,
		now:      opts.Now,
		logger:   opts.Logger.With("component", "upstream"),
	}
}

// JoinURL joins base and path with exactly one slash between them. When
// either side is empty the other is returned unchanged.
func JoinURL(base, path string) string {
	if base == "" {
		return path
	}
	if path == "" {
		return base
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// Fetcher exposes the underlying fetcher, mainly for breaker inspection.
func (u *UpstreamSource) Fetcher() *fetch.Fetcher { return u.fetcher }

// Next implements Source. It never returns an error: failures are
// replaced by a fallback snapshot, and an invalid fallback by an empty one.
func (u *UpstreamSource) Next(ctx context.Context) (types.Snapshot, error) {
	out := u.fetcher.Fetch(ctx)
	if out.OK() {
		snap, err := types.Decode(out.Body)
		if err == nil {
			return u.clamp(snap), nil
		}
		u.logger.Warn("upstream payload rejected", "err", err)
	} else {
		u.logger.Warn("upstream unavailable", "kind", out.Kind.String(), "attempts", out.Attempts, "err", out.Err)
	}

	instrument.ObserveCycle("upstream", "fallback")
	now := u.now()
	snap := u.fallback.Generate(now)
	if err := snap.Validate(); err != nil {
		u.logger.Error("fallback snapshot invalid", "err", err)
		snap = types.Empty(now)
	}
	return u.clamp(snap), nil
}

// clamp keeps timestamps non-decreasing across calls.
func (u *UpstreamSource) clamp(snap types.Snapshot) types.Snapshot {
	u.mu.Lock()
	defer u.mu.Unlock()
	if snap.TimestampMs < u.lastMs {
		snap.TimestampMs = u.lastMs
	}
	u.lastMs = snap.TimestampMs
	return snap
}
