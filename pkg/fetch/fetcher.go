package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sentinelpulse/sentinelpulse/pkg/instrument"
	"github.com/sentinelpulse/sentinelpulse/pkg/types"
)

// telemetryBodyLimit caps how much of a prometheus exposition is parsed.
const telemetryBodyLimit = 4 << 20

// Policy configures retries and the circuit breaker.
type Policy struct {
	// AttemptTimeout bounds a single HTTP attempt. The caller's deadline
	// still applies on top of it.
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`

	// Backoff lists the waits before each retry. Its length is the retry
	// count: three entries means up to four attempts.
	Backoff []time.Duration `yaml:"backoff"`

	// FailureThreshold is the number of consecutive failed fetches that
	// opens the breaker.
	FailureThreshold int `yaml:"failure_threshold"`

	// OpenDuration is how long the breaker stays open.
	OpenDuration time.Duration `yaml:"open_duration"`
}

// DefaultPolicy returns a 2s attempt timeout, a 200/400/800ms backoff
// schedule and a breaker that opens for 15s after 5 failed fetches.
func DefaultPolicy() Policy {
	return Policy{
		AttemptTimeout:   2 * time.Second,
		Backoff:          []time.Duration{200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond},
		FailureThreshold: 5,
		OpenDuration:     15 * time.Second,
	}
}

// Fetcher fetches one target. It is safe for concurrent use; breaker state
// is guarded by a mutex owned by this fetcher alone.
type Fetcher struct {
	target    types.Target
	policy    Policy
	client    *http.Client
	now       func() time.Time
	bodyLimit int64
	logger    *slog.Logger

	mu        sync.Mutex
	failures  int
	openUntil time.Time
	cpu       cpuSample
}

// Option customises a Fetcher.
type Option func(*Fetcher)

// WithClient replaces the HTTP client. The client should not set its own
// Timeout; attempts are bounded through the request context.
func WithClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithClock replaces time.Now for breaker bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) { f.now = now }
}

// WithBodyLimit makes the fetcher keep up to n bytes of 2xx bodies in
// Outcome.Body. Bytes past the limit are still counted in BodyBytes.
func WithBodyLimit(n int64) Option {
	return func(f *Fetcher) { f.bodyLimit = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// New returns a Fetcher for target. Zero fields of policy fall back to
// DefaultPolicy; an explicitly empty Backoff disables retries.
func New(target types.Target, policy Policy, opts ...Option) *Fetcher {
	def := DefaultPolicy()
	if policy.AttemptTimeout <= 0 {
		policy.AttemptTimeout = def.AttemptTimeout
	}
	if policy.Backoff == nil {
		policy.Backoff = def.Backoff
	}
	if policy.FailureThreshold <= 0 {
		policy.FailureThreshold = def.FailureThreshold
	}
	if policy.OpenDuration <= 0 {
		policy.OpenDuration = def.OpenDuration
	}
	if target.Kind == "" {
		target.Kind = types.KindHTTP
	}

	f := &Fetcher{
		target: target,
		policy: policy,
		client: &http.Client{},
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With("component", "fetch", "target", target.Name)
	return f
}

// Target returns the target this fetcher owns.
func (f *Fetcher) Target() types.Target { return f.target }

// Breaker returns the current failure streak and, when the breaker is
// open, the instant it closes again. openUntil is zero while closed.
func (f *Fetcher) Breaker() (failures int, openUntil time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failures, f.openUntil
}

// Fetch performs one resilient fetch of the target.
func (f *Fetcher) Fetch(ctx context.Context) Outcome {
	out := f.fetch(ctx)
	out.Target = f.target.Name
	instrument.ObserveFetch(f.target.Name, out.Kind.String(), out.Attempts, out.Elapsed)
	return out
}

func (f *Fetcher) fetch(ctx context.Context) Outcome {
	if f.isOpen() {
		return Outcome{Kind: KindCircuitOpen, Err: ErrCircuitOpen}
	}

	start := time.Now()
	var out Outcome
	for attempt := 0; ; attempt++ {
		out = f.attempt(ctx)
		out.Attempts = attempt + 1

		if out.Kind == KindCancelled {
			out.Elapsed = time.Since(start)
			return out
		}
		if !out.Kind.countsAsFailure() {
			out.Elapsed = time.Since(start)
			f.recordSuccess()
			return out
		}
		if attempt >= len(f.policy.Backoff) {
			break
		}

		wait := f.policy.Backoff[attempt]
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < wait {
			out.Kind = KindTimeout
			out.Err = fmt.Errorf("fetch: deadline shorter than next backoff: %w", out.Err)
			break
		}

		f.logger.Debug("retrying", "attempt", out.Attempts, "wait", wait, "err", out.Err)
		if err := sleep(ctx, wait); err != nil {
			out.Kind = KindCancelled
			out.Err = fmt.Errorf("%w: %w", ErrCancelled, err)
			out.Elapsed = time.Since(start)
			return out
		}
	}

	out.Elapsed = time.Since(start)
	f.recordFailure(out.Err)
	return out
}

// attempt performs a single GET bounded by the attempt timeout.
func (f *Fetcher) attempt(ctx context.Context) Outcome {
	actx, cancel := context.WithTimeout(ctx, f.policy.AttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodGet, f.target.Endpoint, nil)
	if err != nil {
		return Outcome{Kind: KindTransport, Err: fmt.Errorf("fetch: build request: %w", err)}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return failed(ctx, err)
	}
	defer resp.Body.Close()

	out := Outcome{StatusCode: resp.StatusCode}
	switch {
	case resp.StatusCode >= 500:
		out.Kind = KindServerError
		out.Err = fmt.Errorf("%w: status %d", ErrServerStatus, resp.StatusCode)
		out.BodyBytes, _ = io.Copy(io.Discard, resp.Body)
		return out
	case resp.StatusCode >= 400:
		out.Kind = KindClientError
		out.Err = fmt.Errorf("%w: status %d", ErrClientStatus, resp.StatusCode)
		out.BodyBytes, _ = io.Copy(io.Discard, resp.Body)
		return out
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		// The endpoint answered, so the streak resets, but the answer is
		// not usable: scored unhealthy, never retried.
		out.Kind = KindUnexpectedStatus
		out.Err = fmt.Errorf("%w: status %d", ErrUnexpectedStatus, resp.StatusCode)
		out.BodyBytes, _ = io.Copy(io.Discard, resp.Body)
		return out
	}

	keep := f.bodyLimit
	if f.target.Kind == types.KindPrometheus && keep < telemetryBodyLimit {
		keep = telemetryBodyLimit
	}

	var body []byte
	if keep > 0 {
		body, err = io.ReadAll(io.LimitReader(resp.Body, keep))
		out.BodyBytes = int64(len(body))
	}
	if err == nil {
		var rest int64
		rest, err = io.Copy(io.Discard, resp.Body)
		out.BodyBytes += rest
	}
	if err != nil {
		// Headers arrived but the body did not; treat it like a dropped
		// connection so the attempt is retried.
		failure := failed(ctx, err)
		failure.StatusCode = resp.StatusCode
		return failure
	}

	out.Kind = KindOK
	if f.target.Kind == types.KindPrometheus {
		f.mu.Lock()
		out.Telemetry = f.telemetry(body, f.now())
		f.mu.Unlock()
	}
	if f.bodyLimit > 0 {
		if int64(len(body)) > f.bodyLimit {
			body = body[:f.bodyLimit]
		}
		out.Body = body
	}
	return out
}

// failed classifies a transport-level error. Cancellation of the caller's
// context wins over every other classification.
func failed(parent context.Context, err error) Outcome {
	if errors.Is(parent.Err(), context.Canceled) {
		return Outcome{Kind: KindCancelled, Err: fmt.Errorf("%w: %w", ErrCancelled, err)}
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return Outcome{Kind: KindTimeout, Err: fmt.Errorf("fetch: timeout: %w", err)}
	}
	return Outcome{Kind: KindTransport, Err: fmt.Errorf("fetch: transport: %w", err)}
}

// isOpen reports whether the breaker is open, closing it when the open
// window has elapsed.
func (f *Fetcher) isOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.openUntil.IsZero() {
		return false
	}
	if f.now().Before(f.openUntil) {
		return true
	}
	f.openUntil = time.Time{}
	instrument.BreakerClosed(f.target.Name)
	f.logger.Info("circuit closed")
	return false
}

func (f *Fetcher) recordSuccess() {
	f.mu.Lock()
	f.failures = 0
	f.mu.Unlock()
}

func (f *Fetcher) recordFailure(cause error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.failures++
	if f.failures < f.policy.FailureThreshold {
		return
	}
	f.failures = 0
	f.openUntil = f.now().Add(f.policy.OpenDuration)
	instrument.BreakerTripped(f.target.Name)
	f.logger.Warn("circuit opened", "until", f.openUntil, "err", cause)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NewAll returns one Fetcher per target, in order, sharing policy and opts.
func NewAll(targets []types.Target, policy Policy, opts ...Option) []*Fetcher {
	fetchers := make([]*Fetcher, 0, len(targets))
	for _, t := range targets {
		fetchers = append(fetchers, New(t, policy, opts...))
	}
	return fetchers
}
