package events

import (
	"context"
	"log/slog"
	"sync"
)

// LocalBus is an in-process observer registry, deliberately separate from the
// durable outbox path. Delivery is synchronous and at-most-once: callers fire
// it explicitly after their transaction commits, and a crash between commit
// and publish simply loses the notification. Anything that must survive a
// crash belongs in the outbox instead.
type LocalBus struct {
	mu     sync.RWMutex
	subs   map[Topic][]func(context.Context, Envelope) error
	logger *slog.Logger
}

func NewLocalBus(logger *slog.Logger) *LocalBus {
	return &LocalBus{
		subs:   map[Topic][]func(context.Context, Envelope) error{},
		logger: logger,
	}
}

func (b *LocalBus) Subscribe(topic Topic, fn func(context.Context, Envelope) error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], fn)
}

// Publish invokes every subscriber for env's topic in subscription order.
// Subscriber errors are logged and do not stop later subscribers.
func (b *LocalBus) Publish(ctx context.Context, env Envelope) {
	b.mu.RLock()
	subs := b.subs[env.Topic]
	b.mu.RUnlock()

	for _, fn := range subs {
		if err := fn(ctx, env); err != nil {
			b.logger.Warn("local bus subscriber failed",
				"topic", string(env.Topic),
				"event_id", env.ID,
				"err", err,
			)
		}
	}
}
