package poll

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sentinelpulse/sentinelpulse/pkg/types"
)

// scriptedSource returns, in turn, a snapshot, an error, and a panic,
// then snapshots forever.
type scriptedSource struct {
	calls atomic.Int32
}

func (s *scriptedSource) Next(context.Context) (types.Snapshot, error) {
	n := s.calls.Add(1)
	switch n {
	case 2:
		return types.Snapshot{}, errors.New("upstream exploded")
	case 3:
		panic("source bug")
	}
	return types.Empty(time.UnixMilli(int64(n))), nil
}

type collectingSink struct {
	mu   sync.Mutex
	got  []int64
	seen chan struct{}
}

func (c *collectingSink) Publish(_ context.Context, snap types.Snapshot) error {
	c.mu.Lock()
	c.got = append(c.got, snap.TimestampMs)
	c.mu.Unlock()
	select {
	case c.seen <- struct{}{}:
	default:
	}
	return nil
}

func (c *collectingSink) snapshot() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64(nil), c.got...)
}

func TestLoop_SurvivesErrorsAndPanics(t *testing.T) {
	src := &scriptedSource{}
	sink := &collectingSink{seen: make(chan struct{}, 16)}
	l := New("test", src, sink, 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for len(sink.snapshot()) < 3 {
		select {
		case <-sink.seen:
		case <-deadline:
			t.Fatalf("sink got %v, want at least 3 snapshots", sink.snapshot())
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	got := sink.snapshot()
	if got[0] != 1 || got[1] != 4 || got[2] != 5 {
		t.Errorf("published: got %v, want 1, 4, 5 first", got)
	}
}

func TestLoop_FirstCycleIsImmediate(t *testing.T) {
	sink := &collectingSink{seen: make(chan struct{}, 1)}
	l := New("test", &scriptedSource{}, sink, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	select {
	case <-sink.seen:
	case <-time.After(time.Second):
		t.Fatal("first cycle did not run immediately")
	}
}

// blockingSource waits for its context, as a slow upstream would.
type blockingSource struct{ entered chan struct{} }

func (b *blockingSource) Next(ctx context.Context) (types.Snapshot, error) {
	close(b.entered)
	<-ctx.Done()
	return types.Snapshot{}, ctx.Err()
}

func TestLoop_PromptShutdown(t *testing.T) {
	src := &blockingSource{entered: make(chan struct{})}
	sinkCalled := atomic.Bool{}
	sink := SinkFunc(func(context.Context, types.Snapshot) error {
		sinkCalled.Store(true)
		return nil
	})
	l := New("test", src, sink, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	<-src.entered
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return promptly")
	}
	if sinkCalled.Load() {
		t.Error("sink called for a cancelled cycle")
	}
}

func TestLoop_SinkErrorDoesNotStop(t *testing.T) {
	var calls atomic.Int32
	sink := SinkFunc(func(context.Context, types.Snapshot) error {
		calls.Add(1)
		return errors.New("client gone")
	})
	l := New("test", &scriptedSource{}, sink, time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	l.Run(ctx)

	if calls.Load() < 2 {
		t.Errorf("sink calls: got %d, want the loop to keep going", calls.Load())
	}
}

func TestMultiSink_AttemptsAll(t *testing.T) {
	var calls atomic.Int32
	failing := SinkFunc(func(context.Context, types.Snapshot) error {
		calls.Add(1)
		return errors.New("first failed")
	})
	counting := SinkFunc(func(context.Context, types.Snapshot) error {
		calls.Add(1)
		return nil
	})

	err := MultiSink{failing, counting}.Publish(context.Background(), types.Empty(time.UnixMilli(1)))
	if err == nil {
		t.Fatal("expected joined error")
	}
	if calls.Load() != 2 {
		t.Errorf("calls: got %d, want 2", calls.Load())
	}
}
