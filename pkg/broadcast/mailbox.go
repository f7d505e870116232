package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sentinelpulse/sentinelpulse/pkg/instrument"
)

// mailbox is the bounded FIFO between Publish and one subscriber.
type mailbox struct {
	sub    Subscriber
	limit  int
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	queue  [][]byte
	notify chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newMailbox(parent context.Context, sub Subscriber, limit int) *mailbox {
	ctx, cancel := context.WithCancel(parent)
	return &mailbox{
		sub:    sub,
		limit:  limit,
		ctx:    ctx,
		cancel: cancel,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// push appends payload, evicting the oldest entry when full. It reports
// whether an entry was evicted.
func (m *mailbox) push(payload []byte) bool {
	m.mu.Lock()
	evicted := false
	if len(m.queue) >= m.limit {
		m.queue[0] = nil
		m.queue = m.queue[1:]
		evicted = true
	}
	m.queue = append(m.queue, payload)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return evicted
}

func (m *mailbox) pop() ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return nil, false
	}
	payload := m.queue[0]
	m.queue[0] = nil
	m.queue = m.queue[1:]
	return payload, true
}

func (m *mailbox) stop() {
	m.once.Do(func() {
		m.cancel()
		close(m.done)
	})
}

// run delivers queued payloads in order until the mailbox is stopped.
func (m *mailbox) run(timeout time.Duration, logger *slog.Logger) {
	id := m.sub.ID()
	for {
		select {
		case <-m.done:
			return
		case <-m.notify:
		}

		for {
			select {
			case <-m.done:
				return
			default:
			}
			payload, ok := m.pop()
			if !ok {
				break
			}
			ctx, cancel := context.WithTimeout(m.ctx, timeout)
			err := m.sub.Send(ctx, payload)
			cancel()
			if err != nil && m.ctx.Err() == nil {
				instrument.SendFailed()
				logger.Warn("send failed", "subscriber", id, "err", err)
			}
		}
	}
}
