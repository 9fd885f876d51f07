package bus

import (
	"sync"
	"time"

	"ai-companion-care/backend/pkg/logger"
	"ai-companion-care/backend/pkg/observability"

	"github.com/google/uuid"
)

// Bus is the in-process publish/subscribe layer. Delivery is
// fire-and-forget, at-most-once, no replay: a subscriber attached after
// an event was published never sees it, and a subscriber whose buffer is
// full has the event dropped. Order within one topic from one publisher
// is preserved because Publish walks subscribers synchronously.
//
// The durable record of truth is always the persistence layer; the bus
// only carries advisory real-time UX signals.
type Bus struct {
	mu         sync.RWMutex
	topics     map[string]map[*Subscription]struct{}
	buffer     int
	instanceID string
	bridge     *RedisBridge
	log        *logger.Logger
}

// Subscription is one attached consumer. A subscription may belong to
// many topics; events from all of them arrive on C.
type Subscription struct {
	C      chan Event
	topics map[string]struct{}
	closed bool
	mu     sync.Mutex
}

// New creates a bus. buffer is the per-subscription channel depth; a
// lagging consumer loses events once it is full.
func New(buffer int, log *logger.Logger) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		topics:     make(map[string]map[*Subscription]struct{}),
		buffer:     buffer,
		instanceID: uuid.New().String(),
		log:        log,
	}
}

// AttachBridge wires the optional redis fan-out so broadcast events
// reach supervisors connected to other instances.
func (b *Bus) AttachBridge(bridge *RedisBridge) {
	b.bridge = bridge
	bridge.run(b)
}

// InstanceID identifies this process on the redis bridge.
func (b *Bus) InstanceID() string {
	return b.instanceID
}

// Subscribe attaches a new subscription to the given topics.
func (b *Bus) Subscribe(topics ...string) *Subscription {
	sub := &Subscription{
		C:      make(chan Event, b.buffer),
		topics: make(map[string]struct{}, len(topics)),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, topic := range topics {
		sub.topics[topic] = struct{}{}
		if b.topics[topic] == nil {
			b.topics[topic] = make(map[*Subscription]struct{})
		}
		b.topics[topic][sub] = struct{}{}
	}
	return sub
}

// Add joins the subscription to one more topic.
func (b *Bus) Add(sub *Subscription, topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub.topics[topic] = struct{}{}
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[*Subscription]struct{})
	}
	b.topics[topic][sub] = struct{}{}
}

// Unsubscribe detaches the subscription from every topic and closes C.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	for topic := range sub.topics {
		if subs, ok := b.topics[topic]; ok {
			delete(subs, sub)
			if len(subs) == 0 {
				delete(b.topics, topic)
			}
		}
	}
	b.mu.Unlock()

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if !sub.closed {
		sub.closed = true
		close(sub.C)
	}
}

// Publish delivers the event to every current subscriber of topic.
func (b *Bus) Publish(topic string, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Origin == "" {
		event.Origin = b.instanceID
	}

	observability.EventsPublished.WithLabelValues(event.Name).Inc()

	b.deliver(topic, event)

	// Forward to other instances; local echoes come back with our origin
	// and are dropped in dispatch.
	if b.bridge != nil && event.Origin == b.instanceID {
		b.bridge.forward(topic, event)
	}
}

// deliver fans the event out locally.
func (b *Bus) deliver(topic string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.topics[topic] {
		sub.mu.Lock()
		if sub.closed {
			sub.mu.Unlock()
			continue
		}
		select {
		case sub.C <- event:
		default:
			// Lagging subscriber: drop silently, by contract.
			b.log.Debug("bus event dropped", "topic", topic, "event", event.Name)
		}
		sub.mu.Unlock()
	}
}

// SubscriberCount reports the number of subscriptions on a topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}
