package bus

import (
	"context"
	"encoding/json"
	"strings"

	"ai-companion-care/backend/pkg/logger"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "carebus:"

// RedisBridge relays bus events across process instances through redis
// pub/sub. Best effort only: a relay failure is logged and dropped, which
// keeps the at-most-once contract intact whether or not redis is up.
type RedisBridge struct {
	client *redis.Client
	log    *logger.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// NewRedisBridge connects to the redis instance at addr.
func NewRedisBridge(addr string, log *logger.Logger) *RedisBridge {
	ctx, cancel := context.WithCancel(context.Background())
	client := redis.NewClient(&redis.Options{Addr: addr})
	return &RedisBridge{
		client: client,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// forward publishes a locally-originated event to the redis channel for
// its topic.
func (rb *RedisBridge) forward(topic string, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		rb.log.LogError(err, "bridge marshal failed", "topic", topic)
		return
	}
	if err := rb.client.Publish(rb.ctx, channelPrefix+topic, payload).Err(); err != nil {
		rb.log.Warn("bridge publish failed", "topic", topic, "error", err.Error())
	}
}

// run subscribes to all bridged channels and re-delivers foreign events
// locally.
func (rb *RedisBridge) run(b *Bus) {
	pubsub := rb.client.PSubscribe(rb.ctx, channelPrefix+"*")

	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-rb.ctx.Done():
				return
			case msg, ok := <-pubsub.Channel():
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					rb.log.Warn("bridge received malformed event", "error", err.Error())
					continue
				}
				if event.Origin == b.InstanceID() {
					continue
				}
				topic := strings.TrimPrefix(msg.Channel, channelPrefix)
				b.deliver(topic, event)
			}
		}
	}()
}

// Close stops the relay and releases the redis connection.
func (rb *RedisBridge) Close() error {
	rb.cancel()
	return rb.client.Close()
}
