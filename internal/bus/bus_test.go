package bus

import (
	"fmt"
	"testing"

	"ai-companion-care/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(buffer int) *Bus {
	cfg := logger.DefaultConfig()
	cfg.Level = "error"
	return New(buffer, logger.New(cfg))
}

func TestPublishPreservesOrderWithinTopic(t *testing.T) {
	b := newTestBus(16)
	sub := b.Subscribe("session:abc")
	defer b.Unsubscribe(sub)

	for i := 0; i < 10; i++ {
		b.Publish("session:abc", Event{
			Name:    EventMessagesNew,
			Payload: map[string]any{"seq": i},
		})
	}

	for i := 0; i < 10; i++ {
		event := <-sub.C
		assert.Equal(t, i, event.Payload["seq"])
	}
}

func TestLateSubscriberSeesNothing(t *testing.T) {
	b := newTestBus(16)

	b.Publish("session:abc", Event{Name: EventSessionCreated})

	sub := b.Subscribe("session:abc")
	defer b.Unsubscribe(sub)

	select {
	case event := <-sub.C:
		t.Fatalf("unexpected replayed event %q", event.Name)
	default:
	}
}

func TestLaggingSubscriberDropsSilently(t *testing.T) {
	b := newTestBus(2)
	lagging := b.Subscribe("topic")
	defer b.Unsubscribe(lagging)

	for i := 0; i < 5; i++ {
		b.Publish("topic", Event{Name: fmt.Sprintf("event-%d", i)})
	}

	// Buffer depth is 2; the rest were dropped, not queued.
	assert.Equal(t, "event-0", (<-lagging.C).Name)
	assert.Equal(t, "event-1", (<-lagging.C).Name)
	select {
	case event := <-lagging.C:
		t.Fatalf("expected drop, got %q", event.Name)
	default:
	}
}

func TestSubscriptionSpansMultipleTopics(t *testing.T) {
	b := newTestBus(16)
	sub := b.Subscribe(SessionTopic("one"), Broadcast)
	defer b.Unsubscribe(sub)

	b.Publish(SessionTopic("one"), Event{Name: EventSessionStatus})
	b.Publish(Broadcast, Event{Name: EventSupervisorReviewRequired})
	b.Publish(SessionTopic("other"), Event{Name: EventSessionCreated})

	received := []string{(<-sub.C).Name, (<-sub.C).Name}
	assert.Equal(t, []string{EventSessionStatus, EventSupervisorReviewRequired}, received)
	select {
	case event := <-sub.C:
		t.Fatalf("received event %q from a foreign topic", event.Name)
	default:
	}
}

func TestAddJoinsTopic(t *testing.T) {
	b := newTestBus(16)
	sub := b.Subscribe(Broadcast)
	defer b.Unsubscribe(sub)

	b.Add(sub, SessionTopic("late"))
	b.Publish(SessionTopic("late"), Event{Name: EventCrisisDetected})

	assert.Equal(t, EventCrisisDetected, (<-sub.C).Name)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := newTestBus(16)
	sub := b.Subscribe("topic")

	b.Unsubscribe(sub)
	_, open := <-sub.C
	assert.False(t, open)

	// Publishing after detach must not panic on the closed channel.
	b.Publish("topic", Event{Name: EventSessionStatus})
	assert.Zero(t, b.SubscriberCount("topic"))
}

func TestPublishStampsTimestampAndOrigin(t *testing.T) {
	b := newTestBus(16)
	sub := b.Subscribe("topic")
	defer b.Unsubscribe(sub)

	b.Publish("topic", Event{Name: EventSessionCreated})

	event := <-sub.C
	require.False(t, event.Timestamp.IsZero())
	assert.Equal(t, b.InstanceID(), event.Origin)
}
