package kafka

import (
	"context"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// AdminClient is the subset of *kafka.AdminClient the broker uses.
type AdminClient interface {
	CreateTopics(ctx context.Context, topics []kafka.TopicSpecification, options ...kafka.CreateTopicsAdminOption) ([]kafka.TopicResult, error)
	GetMetadata(topic *string, allTopics bool, timeoutMs int) (*kafka.Metadata, error)
	ListConsumerGroups(ctx context.Context, options ...kafka.ListConsumerGroupsAdminOption) (kafka.ListConsumerGroupsResult, error)
	DeleteConsumerGroups(ctx context.Context, groups []string, options ...kafka.DeleteConsumerGroupsAdminOption) (kafka.DeleteConsumerGroupsResult, error)
	Close()
}

// Consumer is the subset of *kafka.Consumer the broker uses.
type Consumer interface {
	Subscribe(topic string, rebalanceCb kafka.RebalanceCb) error
	QueryWatermarkOffsets(topic string, partition int32, timeoutMs int) (low, high int64, err error)
	CommitOffsets(offsets []kafka.TopicPartition) ([]kafka.TopicPartition, error)
	ReadMessage(timeout time.Duration) (*kafka.Message, error)
	CommitMessage(m *kafka.Message) ([]kafka.TopicPartition, error)
	Close() error
}

// Producer is the subset of *kafka.Producer the broker uses.
type Producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Events() chan kafka.Event
	Flush(timeoutMs int) int
	Close()
}

// ClientFactory creates Kafka clients.
type ClientFactory interface {
	NewAdminClient(conf *kafka.ConfigMap) (AdminClient, error)
	NewProducer(conf *kafka.ConfigMap) (Producer, error)
	NewConsumer(conf *kafka.ConfigMap) (Consumer, error)
}

// confluentFactory creates real librdkafka clients.
type confluentFactory struct{}

func (confluentFactory) NewAdminClient(conf *kafka.ConfigMap) (AdminClient, error) {
	c, err := kafka.NewAdminClient(conf)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (confluentFactory) NewProducer(conf *kafka.ConfigMap) (Producer, error) {
	c, err := kafka.NewProducer(conf)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (confluentFactory) NewConsumer(conf *kafka.ConfigMap) (Consumer, error) {
	c, err := kafka.NewConsumer(conf)
	if err != nil {
		return nil, err
	}
	return c, nil
}
