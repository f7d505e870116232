package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sentinelpulse/sentinelpulse/pkg/types"
)

func snap(ts int64) types.Snapshot {
	return types.Empty(time.UnixMilli(ts))
}

// fixedClock returns a func() time.Time that always returns t.
func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestPublishAndLatest(t *testing.T) {
	st := New(time.Minute)
	if err := st.Publish(context.Background(), snap(1)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	e, ok := st.Latest()
	if !ok {
		t.Fatal("Latest: expected entry, got none")
	}
	if e.Snapshot.TimestampMs != 1 {
		t.Errorf("TimestampMs: got %d, want 1", e.Snapshot.TimestampMs)
	}
}

func TestLatest_Empty(t *testing.T) {
	if _, ok := New(time.Minute).Latest(); ok {
		t.Fatal("Latest on empty store: expected false")
	}
}

func TestPublish_Overwrites(t *testing.T) {
	st := New(time.Minute)
	_ = st.Publish(context.Background(), snap(1))
	_ = st.Publish(context.Background(), snap(2))

	e, _ := st.Latest()
	if e.Snapshot.TimestampMs != 2 {
		t.Errorf("TimestampMs: got %d, want 2", e.Snapshot.TimestampMs)
	}
}

func TestLatest_ExcludesStale(t *testing.T) {
	base := time.Now()
	st := New(30 * time.Second)

	st.now = fixedClock(base)
	_ = st.Publish(context.Background(), snap(1))

	st.now = fixedClock(base.Add(29 * time.Second))
	if _, ok := st.Latest(); !ok {
		t.Error("entry within TTL reported stale")
	}

	st.now = fixedClock(base.Add(30 * time.Second))
	if _, ok := st.Latest(); ok {
		t.Error("entry at TTL reported fresh")
	}
}

func TestEvict(t *testing.T) {
	base := time.Now()
	st := New(30 * time.Second)
	st.now = fixedClock(base)
	_ = st.Publish(context.Background(), snap(1))

	if st.Evict(base.Add(10 * time.Second)) {
		t.Error("Evict removed a fresh entry")
	}
	if !st.Evict(base.Add(31 * time.Second)) {
		t.Error("Evict kept a stale entry")
	}
	if st.Evict(base.Add(time.Hour)) {
		t.Error("Evict on empty store reported removal")
	}
}

func TestConcurrentAccess(t *testing.T) {
	st := New(time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = st.Publish(context.Background(), snap(int64(i+1)))
		}(i)
		go func() {
			defer wg.Done()
			st.Latest()
		}()
	}
	wg.Wait()
	if _, ok := st.Latest(); !ok {
		t.Error("expected an entry after concurrent publishes")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	st := New(time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		st.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
