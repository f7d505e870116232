package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sentinelpulse/sentinelpulse/pkg/types"
)

// Entry is a snapshot together with the time it was stored.
type Entry struct {
	Snapshot  types.Snapshot
	UpdatedAt time.Time
}

// Store holds the latest snapshot. It is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	latest *Entry
	ttl    time.Duration
	now    func() time.Time
}

// New creates a Store with the given TTL.
func New(ttl time.Duration) *Store {
	return &Store{ttl: ttl, now: time.Now}
}

// Publish replaces the stored snapshot. It implements poll.Sink.
func (s *Store) Publish(_ context.Context, snap types.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = &Entry{Snapshot: snap, UpdatedAt: s.now()}
	return nil
}

// Latest returns the stored entry if it is within the TTL.
func (s *Store) Latest() (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil || !s.latest.UpdatedAt.After(s.now().Add(-s.ttl)) {
		return Entry{}, false
	}
	return *s.latest, true
}

// Evict drops the entry if it is older than now minus TTL and reports
// whether it did.
func (s *Store) Evict(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil || s.latest.UpdatedAt.After(now.Add(-s.ttl)) {
		return false
	}
	s.latest = nil
	return true
}

// Run evicts a stale entry at half the TTL (minimum one second) until ctx
// is cancelled.
func (s *Store) Run(ctx context.Context) {
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if s.Evict(now) {
				slog.Debug("store: evicted stale snapshot")
			}
		}
	}
}
