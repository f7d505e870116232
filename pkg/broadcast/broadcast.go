package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sentinelpulse/sentinelpulse/pkg/instrument"
	"github.com/sentinelpulse/sentinelpulse/pkg/types"
)

const (
	defaultSendTimeout = 5 * time.Second
	defaultBuffer      = 16
)

var (
	ErrClosed    = errors.New("broadcast: closed")
	ErrDuplicate = errors.New("broadcast: subscriber already registered")
)

// Subscriber receives encoded envelopes.
type Subscriber interface {
	ID() string
	Send(ctx context.Context, payload []byte) error
}

// Options configures a Broadcaster. Zero values select defaults.
type Options struct {
	// SendTimeout is the time budget of a single Send call.
	SendTimeout time.Duration

	// Buffer is the mailbox depth per subscriber.
	Buffer int

	Logger *slog.Logger
}

// Broadcaster holds the subscriber registry.
type Broadcaster struct {
	sendTimeout time.Duration
	buffer      int
	logger      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	subs   map[string]*mailbox
	closed bool
}

// New returns an empty Broadcaster.
func New(opts Options) *Broadcaster {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Broadcaster{
		sendTimeout: opts.SendTimeout,
		buffer:      opts.Buffer,
		logger:      opts.Logger.With("component", "broadcast"),
		ctx:         ctx,
		cancel:      cancel,
		subs:        make(map[string]*mailbox),
	}
}

// Register adds sub. It receives only snapshots published after this call.
func (b *Broadcaster) Register(sub Subscriber) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	id := sub.ID()
	if _, ok := b.subs[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, id)
	}

	m := newMailbox(b.ctx, sub, b.buffer)
	b.subs[id] = m
	go m.run(b.sendTimeout, b.logger)

	instrument.SetSubscribers(len(b.subs))
	b.logger.Debug("subscriber registered", "subscriber", id, "count", len(b.subs))
	return nil
}

// Unregister removes the subscriber with id. Queued messages are dropped.
// Unknown ids are ignored.
func (b *Broadcaster) Unregister(id string) {
	b.mu.Lock()
	m, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	n := len(b.subs)
	b.mu.Unlock()

	if ok {
		m.stop()
		instrument.SetSubscribers(n)
		b.logger.Debug("subscriber unregistered", "subscriber", id, "count", n)
	}
}

// Count returns the number of registered subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish enqueues snap for every registered subscriber and returns
// without waiting for delivery.
func (b *Broadcaster) Publish(ctx context.Context, snap types.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := Encode(snap)
	if err != nil {
		return err
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	targets := make([]*mailbox, 0, len(b.subs))
	for _, m := range b.subs {
		targets = append(targets, m)
	}
	b.mu.RUnlock()

	for _, m := range targets {
		if m.push(payload) {
			instrument.MessageDropped()
		}
	}
	instrument.SnapshotPublished()
	return nil
}

// Close stops every mailbox and rejects further use.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[string]*mailbox)
	b.mu.Unlock()

	b.cancel()
	for _, m := range subs {
		m.stop()
	}
	instrument.SetSubscribers(0)
}

// Encode returns the metricsUpdate envelope for snap.
func Encode(snap types.Snapshot) ([]byte, error) {
	payload, err := json.Marshal(types.Message{Event: types.EventMetricsUpdate, Data: snap})
	if err != nil {
		return nil, fmt.Errorf("broadcast: encode: %w", err)
	}
	return payload, nil
}
