package stream

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case evt, ok := <-ch:
		require.True(t, ok, "channel closed")
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestPublishDeliversByTopic(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := hub.Subscribe(ctx, "/topic/conversations/1")
	b := hub.Subscribe(ctx, "/topic/conversations/2")

	require.NoError(t, hub.Publish(ctx, "/topic/conversations/1", map[string]string{"content": "hi"}))

	evt := receive(t, a)
	assert.Equal(t, "/topic/conversations/1", evt.Topic)
	assert.JSONEq(t, `{"content":"hi"}`, string(evt.Data))

	select {
	case evt := <-b:
		t.Fatalf("unexpected event on other topic: %+v", evt)
	default:
	}
}

func TestSubscribeClosesOnCancel(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	ch := hub.Subscribe(ctx, "t")
	assert.Equal(t, 1, hub.Subscribers("t"))
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
	assert.Equal(t, 0, hub.Subscribers("t"))
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	hub := NewHub(WithBuffer(1))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := hub.Subscribe(ctx, "t")

	hub.PublishRaw("t", []byte(`1`))
	hub.PublishRaw("t", []byte(`2`))

	evt := receive(t, ch)
	assert.Equal(t, "1", string(evt.Data))
	select {
	case evt := <-ch:
		t.Fatalf("expected second event dropped, got %s", evt.Data)
	default:
	}
}

type recordingForwarder struct {
	events []Event
	err    error
}

func (f *recordingForwarder) Forward(ctx context.Context, evt Event) error {
	f.events = append(f.events, evt)
	return f.err
}

func TestPublishForwards(t *testing.T) {
	hub := NewHub()
	fwd := &recordingForwarder{}
	hub.SetForwarder(fwd)

	require.NoError(t, hub.Publish(context.Background(), "t", 42))
	require.Len(t, fwd.events, 1)
	assert.Equal(t, json.RawMessage(`42`), fwd.events[0].Data)

	hub.PublishRaw("t", []byte(`43`))
	assert.Len(t, fwd.events, 1, "raw publishes stay local")

	fwd.err = errors.New("redis down")
	assert.Error(t, hub.Publish(context.Background(), "t", 44))
}

func TestPublishRejectsUnencodablePayload(t *testing.T) {
	hub := NewHub()
	err := hub.Publish(context.Background(), "t", make(chan int))
	assert.Error(t, err)
}

func TestRelayIgnoresOwnOrigin(t *testing.T) {
	hub := NewHub()
	r := &RedisRelay{hub: hub, origin: "me"}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := hub.Subscribe(ctx, "t")

	own, _ := json.Marshal(envelope{Origin: "me", Topic: "t", Data: json.RawMessage(`1`)})
	r.handle(string(own))
	r.handle("not json")
	foreign, _ := json.Marshal(envelope{Origin: "other", Topic: "t", Data: json.RawMessage(`2`)})
	r.handle(string(foreign))

	evt := receive(t, ch)
	assert.Equal(t, "2", string(evt.Data))
}
