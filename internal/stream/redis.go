package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"bazaar.app/internal/ids"
	"bazaar.app/internal/obs"
)

type envelope struct {
	Origin string          `json:"origin"`
	Topic  string          `json:"topic"`
	Data   json.RawMessage `json:"data"`
}

// RedisRelay mirrors hub events across instances through a redis pub/sub
// channel. Events published by this instance are ignored on the way back.
type RedisRelay struct {
	client  redis.UniversalClient
	channel string
	hub     *Hub
	origin  string
}

// NewRedisRelay wires hub to channel on client and installs itself as the
// hub's forwarder.
func NewRedisRelay(client redis.UniversalClient, channel string, hub *Hub) *RedisRelay {
	r := &RedisRelay{client: client, channel: channel, hub: hub, origin: ids.New()}
	hub.SetForwarder(r)
	return r
}

// NewRedisClient builds the client used by the relay.
func NewRedisClient(addr, password string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
}

// Forward publishes evt to the shared channel.
func (r *RedisRelay) Forward(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(envelope{Origin: r.origin, Topic: evt.Topic, Data: evt.Data})
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, payload).Err()
}

// Run consumes the shared channel until ctx ends and re-injects foreign
// events into the local hub.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redis relay: channel closed")
			}
			r.handle(msg.Payload)
		}
	}
}

func (r *RedisRelay) handle(payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		obs.Logger().Warn("relay: bad envelope", "error", err)
		return
	}
	if env.Origin == r.origin || env.Topic == "" {
		return
	}
	r.hub.PublishRaw(env.Topic, env.Data)
}
