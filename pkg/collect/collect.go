package collect

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/sentinelpulse/sentinelpulse/pkg/fetch"
	"github.com/sentinelpulse/sentinelpulse/pkg/instrument"
	"github.com/sentinelpulse/sentinelpulse/pkg/score"
	"github.com/sentinelpulse/sentinelpulse/pkg/types"
)

const (
	defaultTimeout     = 3 * time.Second
	defaultConcurrency = 64
)

// Fetcher is the part of fetch.Fetcher the aggregator depends on.
type Fetcher interface {
	Target() types.Target
	Fetch(ctx context.Context) fetch.Outcome
}

// Options configures an Aggregator. Zero values select defaults.
type Options struct {
	// Timeout is the collect deadline; targets that miss it are reported
	// as unhealthy timeouts.
	Timeout time.Duration

	// MaxConcurrency bounds the worker pool shared by concurrent Collect
	// calls. Fetches that cannot be scheduled are reported unhealthy.
	MaxConcurrency int

	Policy score.Policy
	Logger *slog.Logger
	Now    func() time.Time
}

// Aggregator collects one Snapshot across all configured fetchers.
type Aggregator struct {
	fetchers []Fetcher
	timeout  time.Duration
	policy   score.Policy
	pool     *ants.Pool
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	lastMs int64
}

// New builds an Aggregator. Close releases its worker pool.
func New(fetchers []Fetcher, opts Options) (*Aggregator, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = defaultConcurrency
	}
	if opts.Policy == (score.Policy{}) {
		opts.Policy = score.DefaultPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	pool, err := ants.NewPool(opts.MaxConcurrency, ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("collect: create pool: %w", err)
	}

	return &Aggregator{
		fetchers: fetchers,
		timeout:  opts.Timeout,
		policy:   opts.Policy,
		pool:     pool,
		logger:   opts.Logger.With("component", "collect"),
		now:      opts.Now,
	}, nil
}

// FromFetchers adapts concrete fetchers to the Fetcher interface.
func FromFetchers(fs []*fetch.Fetcher) []Fetcher {
	out := make([]Fetcher, len(fs))
	for i, f := range fs {
		out[i] = f
	}
	return out
}

// Close releases the worker pool.
func (a *Aggregator) Close() {
	a.pool.Release()
}

type result struct {
	index  int
	metric types.Metric
}

// Collect fetches every target concurrently and returns the scored
// Snapshot. It never fails: unreachable, slow or unschedulable targets
// appear as unhealthy metrics.
func (a *Aggregator) Collect(ctx context.Context) types.Snapshot {
	start := time.Now()
	defer func() { instrument.ObserveCollect(time.Since(start)) }()

	n := len(a.fetchers)
	if n == 0 {
		return types.Empty(a.stamp())
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	results := make(chan result, n)
	pending := n
	metrics := make([]types.Metric, n)
	filled := make([]bool, n)

	for i, f := range a.fetchers {
		err := a.pool.Submit(func() {
			out := f.Fetch(ctx)
			results <- result{index: i, metric: out.Metric(a.policy)}
		})
		if err != nil {
			a.logger.Warn("fetch not scheduled", "target", f.Target().Name, "err", err)
			metrics[i] = a.unscheduled(f.Target().Name)
			filled[i] = true
			pending--
		}
	}

wait:
	for pending > 0 {
		select {
		case r := <-results:
			metrics[r.index] = r.metric
			filled[r.index] = true
			pending--
		case <-ctx.Done():
			break wait
		}
	}

	if pending > 0 {
		elapsed := time.Since(start)
		for i, ok := range filled {
			if ok {
				continue
			}
			name := a.fetchers[i].Target().Name
			a.logger.Warn("target missed collect deadline", "target", name, "elapsed", elapsed)
			metrics[i] = fetch.Outcome{
				Target:  name,
				Kind:    fetch.KindTimeout,
				Elapsed: elapsed,
			}.Metric(a.policy)
		}
	}

	return types.NewSnapshot(a.stamp(), metrics)
}

// Next implements poll.Source.
func (a *Aggregator) Next(ctx context.Context) (types.Snapshot, error) {
	return a.Collect(ctx), nil
}

func (a *Aggregator) unscheduled(name string) types.Metric {
	return fetch.Outcome{Target: name, Kind: fetch.KindTransport}.Metric(a.policy)
}

// stamp returns the snapshot time, never earlier than the previous one.
func (a *Aggregator) stamp() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()

	ms := a.now().UnixMilli()
	if ms < a.lastMs {
		ms = a.lastMs
	}
	a.lastMs = ms
	return time.UnixMilli(ms)
}
