package syncbus

import (
	"context"
	"sync"

	sarama "github.com/IBM/sarama"
)

type kafkaSubscription struct {
	pc    sarama.PartitionConsumer
	chans []chan struct{}
}

// KafkaBus implements Bus using a Kafka backend. Topics map directly to
// Kafka topics; release events are consumed from the newest offset since
// stale wake-ups are useless to a blocked acquirer.
type KafkaBus struct {
	producer sarama.SyncProducer
	consumer sarama.Consumer
	mu       sync.Mutex
	subs     map[string]*kafkaSubscription
}

// NewKafkaBus creates a new KafkaBus connecting to the given brokers. A nil
// cfg uses sarama defaults; a provided cfg is copied, never mutated.
func NewKafkaBus(brokers []string, cfg *sarama.Config) (*KafkaBus, error) {
	if cfg == nil {
		cfg = sarama.NewConfig()
	} else {
		clone := *cfg
		cfg = &clone
	}
	// The sync producer requires success reports.
	cfg.Producer.Return.Successes = true
	client, err := sarama.NewClient(brokers, cfg)
	if err != nil {
		return nil, err
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = producer.Close()
		_ = client.Close()
		return nil, err
	}
	return &KafkaBus{
		producer: producer,
		consumer: consumer,
		subs:     make(map[string]*kafkaSubscription),
	}, nil
}

// Publish implements Bus.Publish.
func (b *KafkaBus) Publish(ctx context.Context, topic string) error {
	msg := &sarama.ProducerMessage{Topic: topic, Value: sarama.StringEncoder("1")}
	_, _, err := b.producer.SendMessage(msg)
	return err
}

// Subscribe implements Bus.Subscribe.
func (b *KafkaBus) Subscribe(ctx context.Context, topic string) (chan struct{}, error) {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	sub := b.subs[topic]
	if sub == nil {
		pc, err := b.consumer.ConsumePartition(topic, 0, sarama.OffsetNewest)
		if err != nil {
			b.mu.Unlock()
			return nil, err
		}
		sub = &kafkaSubscription{pc: pc}
		b.subs[topic] = sub
		go b.dispatch(topic, pc)
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
func (b *KafkaBus) dispatch(topic string, pc sarama.PartitionConsumer) {
	for range pc.Messages() {
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

// Unsubscribe implements Bus.Unsubscribe.
func (b *KafkaBus) Unsubscribe(ctx context.Context, topic string, ch chan struct{}) error {
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
	var toClose sarama.PartitionConsumer
	if len(sub.chans) == 0 {
		toClose = sub.pc
		delete(b.subs, topic)
	}
	b.mu.Unlock()
	if toClose != nil {
		return toClose.Close()
	}
	return nil
}

// Close shuts down the producer, the consumer and every open subscription.
func (b *KafkaBus) Close() error {
	b.mu.Lock()
	for topic, sub := range b.subs {
		_ = sub.pc.Close()
		for _, c := range sub.chans {
			close(c)
		}
		delete(b.subs, topic)
	}
	b.mu.Unlock()
	if err := b.producer.Close(); err != nil {
		_ = b.consumer.Close()
		return err
	}
	return b.consumer.Close()
}
