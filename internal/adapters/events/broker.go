package events

import (
	"sync"

	"github.com/VitorLohan2/sistema-visitante-sub004/internal/domain"
	"github.com/rs/zerolog"
)

const subscriberBuffer = 64

// Broker is an in-process topic fanout. Publish never blocks: a subscriber
// that cannot keep up loses events rather than stalling the publisher.
type Broker struct {
	log zerolog.Logger

	mu     sync.RWMutex
	topics map[string]map[chan domain.Event]struct{}
}

func NewBroker(log zerolog.Logger) *Broker {
	return &Broker{
		log:    log,
		topics: make(map[string]map[chan domain.Event]struct{}),
	}
}

func (b *Broker) Publish(topic string, event domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.topics[topic] {
		select {
		case ch <- event:
		default:
			b.log.Warn().Str("topic", topic).Str("event", event.Type).Msg("subscriber lagging, event dropped")
		}
	}
}

// Subscribe returns a receive channel for the topic and a cancel func that
// removes the subscription and closes the channel.
func (b *Broker) Subscribe(topic string) (<-chan domain.Event, func()) {
	ch := make(chan domain.Event, subscriberBuffer)

	b.mu.Lock()
	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[chan domain.Event]struct{})
		b.topics[topic] = subs
	}
	subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.topics[topic], ch)
			if len(b.topics[topic]) == 0 {
				delete(b.topics, topic)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}
