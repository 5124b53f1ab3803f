package event

import (
	"log/slog"
	"sync"

	"ratekeeper/internal/domain"
)

// Bus fans cache-change topics out to subscribers.
// Delivery is best-effort: a subscriber whose buffer is full misses the topic.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	nextID uint64
	logger *slog.Logger
}

type subscriber struct {
	ch     chan domain.Topic
	topics map[domain.Topic]struct{} // empty means all topics
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs:   make(map[uint64]*subscriber),
		logger: slog.Default().With("module", "event_bus"),
	}
}

// Subscribe registers for the given topics (all topics when none are given).
// The returned cancel func unregisters and closes the channel.
func (b *Bus) Subscribe(buffer int, topics ...domain.Topic) (<-chan domain.Topic, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	sub := &subscriber{
		ch:     make(chan domain.Topic, buffer),
		topics: make(map[domain.Topic]struct{}, len(topics)),
	}
	for _, t := range topics {
		sub.topics[t] = struct{}{}
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Notify publishes a topic without blocking.
func (b *Bus) Notify(topic domain.Topic) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if len(sub.topics) > 0 {
			if _, ok := sub.topics[topic]; !ok {
				continue
			}
		}
		select {
		case sub.ch <- topic:
		default: // DROP
			b.logger.Debug("Subscriber buffer full, topic dropped", slog.String("topic", string(topic)))
		}
	}
}

// Subscribers returns the current subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
