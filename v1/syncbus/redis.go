package syncbus

import (
	"context"
	"sync"

	redis "github.com/redis/go-redis/v9"
)

type redisSubscription struct {
	pubsub *redis.PubSub
	chans  []chan struct{}
}

// RedisBus implements Bus using Redis pub/sub. One Redis channel is used per
// topic; payloads carry no information, the message itself is the signal.
type RedisBus struct {
	client *redis.Client

	mu   sync.Mutex
	subs map[string]*redisSubscription
}

// NewRedisBus returns a new RedisBus using the provided client.
func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{
		client: client,
		subs:   make(map[string]*redisSubscription),
	}
}

// Publish implements Bus.Publish.
func (b *RedisBus) Publish(ctx context.Context, topic string) error {
	return b.client.Publish(ctx, topic, "1").Err()
}

// Subscribe implements Bus.Subscribe. The first subscriber of a topic opens
// the underlying Redis subscription; later subscribers share it.
func (b *RedisBus) Subscribe(ctx context.Context, topic string) (chan struct{}, error) {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	sub := b.subs[topic]
	if sub == nil {
		pubsub := b.client.Subscribe(context.Background(), topic)
		// Force the subscription onto the wire before returning, so a
		// release published right after Subscribe is not missed.
		if _, err := pubsub.Receive(ctx); err != nil {
			b.mu.Unlock()
			_ = pubsub.Close()
			return nil, err
		}
		sub = &redisSubscription{pubsub: pubsub}
		b.subs[topic] = sub
		go b.dispatch(topic, pubsub)
	}
	sub.chans = append(sub.chans, ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), topic, ch)
	}()
	return ch, nil
}

// dispatch fans incoming messages out to the topic's subscribers. Sends
// stay under the mutex so Unsubscribe cannot close a channel mid-send.
func (b *RedisBus) dispatch(topic string, pubsub *redis.PubSub) {
	for range pubsub.Channel() {
		b.mu.Lock()
		if sub := b.subs[topic]; sub != nil {
			for _, c := range sub.chans {
				select {
				case c <- struct{}{}:
				default:
				}
			}
		}
		b.mu.Unlock()
	}
}

// Unsubscribe implements Bus.Unsubscribe. The underlying Redis subscription
// is closed when the last subscriber of a topic leaves.
func (b *RedisBus) Unsubscribe(ctx context.Context, topic string, ch chan struct{}) error {
	b.mu.Lock()
	sub := b.subs[topic]
	if sub == nil {
		b.mu.Unlock()
		return nil
	}
	for i, c := range sub.chans {
		if c == ch {
			sub.chans[i] = sub.chans[len(sub.chans)-1]
			sub.chans = sub.chans[:len(sub.chans)-1]
			close(c)
			break
		}
	}
	var toClose *redis.PubSub
	if len(sub.chans) == 0 {
		toClose = sub.pubsub
		delete(b.subs, topic)
	}
	b.mu.Unlock()
	if toClose != nil {
		return toClose.Close()
	}
	return nil
}
