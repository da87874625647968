// Package stream fans events out to subscribers by topic.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"bazaar.app/internal/obs"
)

// Event is one payload delivered on a topic.
type Event struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

// Forwarder carries locally published events to other instances.
type Forwarder interface {
	Forward(ctx context.Context, evt Event) error
}

type subscriber struct {
	topic string
	ch    chan Event
}

// Hub fan-outs events to all active subscribers of a topic.
type Hub struct {
	mu      sync.RWMutex
	subs    map[int]subscriber
	next    int
	buffer  int
	forward Forwarder
}

// Option configures a Hub.
type Option func(*Hub)

// WithBuffer sets the per-subscriber channel capacity.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// NewHub creates an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{subs: make(map[int]subscriber), buffer: 16}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetForwarder installs a cross-instance relay. Nil disables forwarding.
func (h *Hub) SetForwarder(f Forwarder) {
	h.mu.Lock()
	h.forward = f
	h.mu.Unlock()
}

// Subscribe registers a subscriber for topic and returns a channel which will
// receive events. The channel is closed when the provided context ends.
func (h *Hub) Subscribe(ctx context.Context, topic string) <-chan Event {
	ch := make(chan Event, h.buffer)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = subscriber{topic: topic, ch: ch}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

// Subscribers counts the live subscribers of topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, s := range h.subs {
		if s.topic == topic {
			n++
		}
	}
	return n
}

// Publish encodes payload as JSON, delivers it locally and hands it to the
// forwarder when one is set.
func (h *Hub) Publish(ctx context.Context, topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", topic, err)
	}
	evt := Event{Topic: topic, Data: data}
	h.deliver(evt)

	h.mu.RLock()
	f := h.forward
	h.mu.RUnlock()
	if f == nil {
		return nil
	}
	if err := f.Forward(ctx, evt); err != nil {
		return fmt.Errorf("forward %s event: %w", topic, err)
	}
	return nil
}

// PublishRaw delivers already encoded data locally without forwarding.
func (h *Hub) PublishRaw(topic string, data []byte) {
	h.deliver(Event{Topic: topic, Data: json.RawMessage(data)})
}

func (h *Hub) deliver(evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		if s.topic != evt.Topic {
			continue
		}
		select {
		case s.ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
			obs.EventDropped()
		}
	}
}
