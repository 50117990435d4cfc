// Package kafka implements broker.Broker on Apache Kafka via confluent-kafka-go.
//
// Topics map to Kafka topics. A subscription is a consumer group named after
// the subscription. Its starting offsets are committed at each partition's
// high watermark when the subscription is created, so messages published
// after creation are delivered even before the consumer's first poll.
// Ack commits the message offset.
package kafka

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/dwn-plugins/pkg/broker"
)

const messageIDHeader = "dwn-message-id"

// Config configures the Kafka broker.
type Config struct {
	Brokers           string
	Partitions        int
	ReplicationFactor int
	OperationTimeout  time.Duration
	PollTimeout       time.Duration
}

func (c Config) withDefaults() Config {
	if c.Partitions <= 0 {
		c.Partitions = 1
	}
	if c.ReplicationFactor <= 0 {
		c.ReplicationFactor = 1
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = 30 * time.Second
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 500 * time.Millisecond
	}
	return c
}

type subscription struct {
	name     string
	topic    string
	consumer Consumer
	deleted  chan struct{}
	recvMu   sync.Mutex // held for the duration of a Receive
}

// Broker is a Kafka-backed broker.Broker.
type Broker struct {
	cfg      Config
	factory  ClientFactory
	admin    AdminClient
	producer Producer
	logger   *zap.Logger

	mu     sync.Mutex
	subs   map[string]*subscription
	closed bool

	reportsDone chan struct{}
}

var _ broker.Broker = (*Broker)(nil)

// New connects to the brokers in cfg.
func New(cfg Config, logger *zap.Logger) (*Broker, error) {
	return NewWithFactory(cfg, confluentFactory{}, logger)
}

// NewWithFactory builds the broker from factory-created clients.
func NewWithFactory(cfg Config, factory ClientFactory, logger *zap.Logger) (*Broker, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	admin, err := factory.NewAdminClient(&kafka.ConfigMap{"bootstrap.servers": cfg.Brokers})
	if err != nil {
		return nil, fmt.Errorf("failed to create admin client: %w", err)
	}

	producer, err := factory.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  cfg.Brokers,
		"acks":               "all",
		"message.timeout.ms": int(cfg.OperationTimeout / time.Millisecond),
	})
	if err != nil {
		admin.Close()
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}

	b := &Broker{
		cfg:         cfg,
		factory:     factory,
		admin:       admin,
		producer:    producer,
		logger:      logger,
		subs:        make(map[string]*subscription),
		reportsDone: make(chan struct{}),
	}
	go b.deliveryReports()
	return b, nil
}

// deliveryReports logs failed deliveries until the producer is closed.
func (b *Broker) deliveryReports() {
	defer close(b.reportsDone)
	for e := range b.producer.Events() {
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				b.logger.Warn("Message delivery failed",
					zap.String("topic", topicOf(ev)),
					zap.String("message_id", headerValue(ev, messageIDHeader)),
					zap.Error(ev.TopicPartition.Error))
			}
		case kafka.Error:
			b.logger.Warn("Kafka producer error", zap.Error(ev))
		}
	}
}

func (b *Broker) checkOpen() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return broker.ErrClosed
	}
	return nil
}

func (b *Broker) timeoutMs() int {
	return int(b.cfg.OperationTimeout / time.Millisecond)
}

func (b *Broker) TopicExists(ctx context.Context, topic string) (bool, error) {
	if err := b.checkOpen(); err != nil {
		return false, err
	}
	_, ok, err := b.topicMetadata(topic)
	return ok, err
}

func (b *Broker) topicMetadata(topic string) (kafka.TopicMetadata, bool, error) {
	md, err := b.admin.GetMetadata(&topic, false, b.timeoutMs())
	if err != nil {
		return kafka.TopicMetadata{}, false, fmt.Errorf("failed to get metadata for %s: %w", topic, err)
	}
	t, ok := md.Topics[topic]
	if !ok {
		return kafka.TopicMetadata{}, false, nil
	}
	switch t.Error.Code() {
	case kafka.ErrNoError:
		return t, true, nil
	case kafka.ErrUnknownTopicOrPart, kafka.ErrUnknownTopic:
		return kafka.TopicMetadata{}, false, nil
	default:
		return kafka.TopicMetadata{}, false, fmt.Errorf("metadata for %s: %w", topic, t.Error)
	}
}

func (b *Broker) CreateTopic(ctx context.Context, topic string) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	results, err := b.admin.CreateTopics(ctx, []kafka.TopicSpecification{{
		Topic:             topic,
		NumPartitions:     b.cfg.Partitions,
		ReplicationFactor: b.cfg.ReplicationFactor,
	}}, kafka.SetAdminOperationTimeout(b.cfg.OperationTimeout))
	if err != nil {
		return fmt.Errorf("CreateTopics request failed: %w", err)
	}

	for _, res := range results {
		if res.Topic != topic {
			continue
		}
		switch res.Error.Code() {
		case kafka.ErrNoError:
			b.logger.Debug("Topic created", zap.String("topic", topic))
			return nil
		case kafka.ErrTopicAlreadyExists:
			return broker.ErrAlreadyExists
		default:
			return fmt.Errorf("failed to create topic %s: %w", topic, res.Error)
		}
	}
	return fmt.Errorf("no CreateTopics result for %s", topic)
}

// Publish enqueues the message and returns the id carried in its headers.
// Delivery failures are reported asynchronously to the log.
func (b *Broker) Publish(ctx context.Context, topic string, data []byte) (string, error) {
	if err := b.checkOpen(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	err := b.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Value:          data,
		Headers:        []kafka.Header{{Key: messageIDHeader, Value: []byte(id)}},
		Timestamp:      time.Now(),
	}, nil)
	if err != nil {
		return "", fmt.Errorf("failed to produce to %s: %w", topic, err)
	}
	return id, nil
}

// SubscriptionExists reports whether this process holds the subscription.
// Consumer groups created elsewhere carry no topic binding and are not reported.
func (b *Broker) SubscriptionExists(ctx context.Context, name string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false, broker.ErrClosed
	}
	_, ok := b.subs[name]
	return ok, nil
}

// CreateSubscription pins consumer group name at the end of topic and joins it.
func (b *Broker) CreateSubscription(ctx context.Context, topic, name string) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return broker.ErrClosed
	}
	if _, ok := b.subs[name]; ok {
		b.mu.Unlock()
		return broker.ErrAlreadyExists
	}
	b.mu.Unlock()

	md, exists, err := b.topicMetadata(topic)
	if err != nil {
		return err
	}
	if !exists {
		return broker.ErrNotFound
	}

	consumer, err := b.factory.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  b.cfg.Brokers,
		"group.id":           name,
		"auto.offset.reset":  "latest",
		"enable.auto.commit": false,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}
	if err := b.pinStartOffsets(consumer, topic, md.Partitions); err != nil {
		_ = consumer.Close()
		return err
	}
	if err := consumer.Subscribe(topic, nil); err != nil {
		_ = consumer.Close()
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[name]; ok {
		_ = consumer.Close()
		return broker.ErrAlreadyExists
	}
	b.subs[name] = &subscription{name: name, topic: topic, consumer: consumer, deleted: make(chan struct{})}
	b.logger.Debug("Subscription created", zap.String("topic", topic), zap.String("subscription", name))
	return nil
}

// pinStartOffsets commits the group's offsets at each partition's high
// watermark. Partitions are assigned lazily on the first poll, and
// auto.offset.reset=latest would skip anything produced before then.
func (b *Broker) pinStartOffsets(consumer Consumer, topic string, partitions []kafka.PartitionMetadata) error {
	offsets := make([]kafka.TopicPartition, 0, len(partitions))
	for _, p := range partitions {
		_, high, err := consumer.QueryWatermarkOffsets(topic, p.ID, b.timeoutMs())
		if err != nil {
			return fmt.Errorf("failed to query watermarks for %s[%d]: %w", topic, p.ID, err)
		}
		offsets = append(offsets, kafka.TopicPartition{Topic: &topic, Partition: p.ID, Offset: kafka.Offset(high)})
	}
	if len(offsets) == 0 {
		return nil
	}
	if _, err := consumer.CommitOffsets(offsets); err != nil {
		return fmt.Errorf("failed to commit start offsets for %s: %w", topic, err)
	}
	return nil
}

// Receive polls the subscription's consumer until ctx is done or the subscription is deleted.
func (b *Broker) Receive(ctx context.Context, name string, handler broker.Handler) error {
	b.mu.Lock()
	s, ok := b.subs[name]
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return broker.ErrClosed
	}
	if !ok {
		return broker.ErrNotFound
	}

	s.recvMu.Lock()
	defer s.recvMu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.deleted:
			if b.checkOpen() != nil {
				return broker.ErrClosed
			}
			return broker.ErrNotFound
		default:
		}

		msg, err := s.consumer.ReadMessage(b.cfg.PollTimeout)
		if err != nil {
			if kerr, ok := err.(kafka.Error); ok {
				if kerr.Code() == kafka.ErrTimedOut {
					continue
				}
				if kerr.IsFatal() {
					return fmt.Errorf("consumer %s: %w", name, kerr)
				}
			}
			b.logger.Warn("Consumer error", zap.String("subscription", name), zap.Error(err))
			continue
		}

		id := headerValue(msg, messageIDHeader)
		if id == "" {
			id = fmt.Sprintf("%d-%d", msg.TopicPartition.Partition, msg.TopicPartition.Offset)
		}
		m := msg
		handler(ctx, broker.NewMessage(id, msg.Value, msg.Timestamp, func() {
			if _, err := s.consumer.CommitMessage(m); err != nil {
				b.logger.Warn("Failed to commit offset", zap.String("subscription", name), zap.Error(err))
			}
		}))
	}
}

// DeleteSubscription stops the consumer and deletes its consumer group.
func (b *Broker) DeleteSubscription(ctx context.Context, name string) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return broker.ErrClosed
	}
	s, ok := b.subs[name]
	if ok {
		delete(b.subs, name)
	}
	b.mu.Unlock()

	if ok {
		b.stopConsumer(s)
	}

	res, err := b.admin.DeleteConsumerGroups(ctx, []string{name},
		kafka.SetAdminRequestTimeout(b.cfg.OperationTimeout))
	if err != nil {
		return fmt.Errorf("DeleteConsumerGroups request failed: %w", err)
	}
	for _, gr := range res.ConsumerGroupResults {
		if gr.Group != name {
			continue
		}
		switch gr.Error.Code() {
		case kafka.ErrNoError:
		case kafka.ErrGroupIDNotFound:
			if !ok {
				return broker.ErrNotFound
			}
		default:
			return fmt.Errorf("failed to delete consumer group %s: %w", name, gr.Error)
		}
	}

	b.logger.Debug("Subscription deleted", zap.String("subscription", name))
	return nil
}

// stopConsumer waits for any Receive to return, then closes the consumer.
func (b *Broker) stopConsumer(s *subscription) {
	close(s.deleted)
	s.recvMu.Lock()
	defer s.recvMu.Unlock()
	if err := s.consumer.Close(); err != nil {
		b.logger.Warn("Failed to close consumer", zap.String("subscription", s.name), zap.Error(err))
	}
}

// ListSubscriptions returns this process's subscriptions together with every
// consumer group on the cluster, sorted.
func (b *Broker) ListSubscriptions(ctx context.Context) ([]string, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, broker.ErrClosed
	}
	seen := make(map[string]struct{}, len(b.subs))
	for name := range b.subs {
		seen[name] = struct{}{}
	}
	b.mu.Unlock()

	res, err := b.admin.ListConsumerGroups(ctx, kafka.SetAdminRequestTimeout(b.cfg.OperationTimeout))
	if err != nil {
		return nil, fmt.Errorf("ListConsumerGroups request failed: %w", err)
	}
	for _, g := range res.Valid {
		seen[g.GroupID] = struct{}{}
	}
	for _, e := range res.Errors {
		b.logger.Debug("Consumer group listing error", zap.Error(e))
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Close stops every consumer, flushes the producer and releases the clients.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[string]*subscription)
	b.mu.Unlock()

	for _, s := range subs {
		b.stopConsumer(s)
	}

	if remaining := b.producer.Flush(b.timeoutMs()); remaining > 0 {
		b.logger.Warn("Producer closed with undelivered messages", zap.Int("remaining", remaining))
	}
	b.producer.Close()
	<-b.reportsDone
	b.admin.Close()
	return nil
}

func topicOf(m *kafka.Message) string {
	if m.TopicPartition.Topic == nil {
		return ""
	}
	return *m.TopicPartition.Topic
}

func headerValue(m *kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
