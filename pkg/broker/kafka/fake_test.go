package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// fakeCluster is an in-memory stand-in for a Kafka cluster: one partition per
// topic, consumer groups tracked by name. Like a real group consumer, a
// subscribed consumer resolves its position on the first ReadMessage, from
// the group's committed offset or else the end of the log.
type fakeCluster struct {
	mu        sync.Mutex
	topics    map[string][]*kafka.Message
	groups    map[string]bool
	committed map[string]kafka.Offset

	createErr  error
	produceErr error
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{
		topics:    make(map[string][]*kafka.Message),
		groups:    make(map[string]bool),
		committed: make(map[string]kafka.Offset),
	}
}

func (c *fakeCluster) NewAdminClient(*kafka.ConfigMap) (AdminClient, error) {
	return &fakeAdmin{c: c}, nil
}

func (c *fakeCluster) NewProducer(*kafka.ConfigMap) (Producer, error) {
	return &fakeProducer{c: c, events: make(chan kafka.Event, 64)}, nil
}

func (c *fakeCluster) NewConsumer(conf *kafka.ConfigMap) (Consumer, error) {
	group, err := conf.Get("group.id", "")
	if err != nil {
		return nil, err
	}
	return &fakeConsumer{c: c, group: group.(string)}, nil
}

func (c *fakeCluster) groupExists(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.groups[name]
}

type fakeAdmin struct {
	c *fakeCluster
}

func (a *fakeAdmin) CreateTopics(ctx context.Context, topics []kafka.TopicSpecification, _ ...kafka.CreateTopicsAdminOption) ([]kafka.TopicResult, error) {
	a.c.mu.Lock()
	defer a.c.mu.Unlock()
	if a.c.createErr != nil {
		return nil, a.c.createErr
	}
	results := make([]kafka.TopicResult, 0, len(topics))
	for _, t := range topics {
		res := kafka.TopicResult{Topic: t.Topic}
		if _, ok := a.c.topics[t.Topic]; ok {
			res.Error = kafka.NewError(kafka.ErrTopicAlreadyExists, "topic already exists", false)
		} else {
			a.c.topics[t.Topic] = nil
		}
		results = append(results, res)
	}
	return results, nil
}

func (a *fakeAdmin) GetMetadata(topic *string, _ bool, _ int) (*kafka.Metadata, error) {
	a.c.mu.Lock()
	defer a.c.mu.Unlock()
	md := &kafka.Metadata{Topics: make(map[string]kafka.TopicMetadata)}
	if topic == nil {
		return md, nil
	}
	tm := kafka.TopicMetadata{Topic: *topic}
	if _, ok := a.c.topics[*topic]; ok {
		tm.Partitions = []kafka.PartitionMetadata{{ID: 0}}
	} else {
		tm.Error = kafka.NewError(kafka.ErrUnknownTopicOrPart, "unknown topic", false)
	}
	md.Topics[*topic] = tm
	return md, nil
}

func (a *fakeAdmin) ListConsumerGroups(context.Context, ...kafka.ListConsumerGroupsAdminOption) (kafka.ListConsumerGroupsResult, error) {
	a.c.mu.Lock()
	defer a.c.mu.Unlock()
	var res kafka.ListConsumerGroupsResult
	for g := range a.c.groups {
		res.Valid = append(res.Valid, kafka.ConsumerGroupListing{GroupID: g})
	}
	return res, nil
}

func (a *fakeAdmin) DeleteConsumerGroups(_ context.Context, groups []string, _ ...kafka.DeleteConsumerGroupsAdminOption) (kafka.DeleteConsumerGroupsResult, error) {
	a.c.mu.Lock()
	defer a.c.mu.Unlock()
	var res kafka.DeleteConsumerGroupsResult
	for _, g := range groups {
		r := kafka.ConsumerGroupResult{Group: g}
		if !a.c.groups[g] {
			r.Error = kafka.NewError(kafka.ErrGroupIDNotFound, "group not found", false)
		}
		delete(a.c.groups, g)
		res.ConsumerGroupResults = append(res.ConsumerGroupResults, r)
	}
	return res, nil
}

func (a *fakeAdmin) Close() {}

type fakeProducer struct {
	c      *fakeCluster
	events chan kafka.Event
}

func (p *fakeProducer) Produce(msg *kafka.Message, _ chan kafka.Event) error {
	p.c.mu.Lock()
	if p.c.produceErr != nil {
		p.c.mu.Unlock()
		return p.c.produceErr
	}
	topic := *msg.TopicPartition.Topic
	delivered := *msg
	log, ok := p.c.topics[topic]
	if ok {
		delivered.TopicPartition.Partition = 0
		delivered.TopicPartition.Offset = kafka.Offset(len(log))
		p.c.topics[topic] = append(log, &delivered)
	} else {
		delivered.TopicPartition.Error = kafka.NewError(kafka.ErrUnknownTopicOrPart, "unknown topic", false)
	}
	p.c.mu.Unlock()

	p.events <- &delivered
	return nil
}

func (p *fakeProducer) Events() chan kafka.Event { return p.events }

func (p *fakeProducer) Flush(int) int { return 0 }

func (p *fakeProducer) Close() { close(p.events) }

type fakeConsumer struct {
	c        *fakeCluster
	group    string
	topic    string
	offset   int
	assigned bool
	closed   bool
}

func (fc *fakeConsumer) Subscribe(topic string, _ kafka.RebalanceCb) error {
	fc.c.mu.Lock()
	defer fc.c.mu.Unlock()
	fc.topic = topic
	fc.c.groups[fc.group] = true
	return nil
}

func (fc *fakeConsumer) QueryWatermarkOffsets(topic string, _ int32, _ int) (int64, int64, error) {
	fc.c.mu.Lock()
	defer fc.c.mu.Unlock()
	return 0, int64(len(fc.c.topics[topic])), nil
}

func (fc *fakeConsumer) CommitOffsets(offsets []kafka.TopicPartition) ([]kafka.TopicPartition, error) {
	fc.c.mu.Lock()
	defer fc.c.mu.Unlock()
	for _, tp := range offsets {
		fc.c.committed[fc.group] = tp.Offset
	}
	return offsets, nil
}

func (fc *fakeConsumer) ReadMessage(timeout time.Duration) (*kafka.Message, error) {
	deadline := time.Now().Add(timeout)
	for {
		fc.c.mu.Lock()
		if fc.closed {
			fc.c.mu.Unlock()
			return nil, kafka.NewError(kafka.ErrState, "consumer closed", true)
		}
		log := fc.c.topics[fc.topic]
		if !fc.assigned {
			fc.assigned = true
			if off, ok := fc.c.committed[fc.group]; ok {
				fc.offset = int(off)
			} else {
				fc.offset = len(log)
			}
		}
		if fc.offset < len(log) {
			msg := log[fc.offset]
			fc.offset++
			fc.c.mu.Unlock()
			return msg, nil
		}
		fc.c.mu.Unlock()

		if time.Now().After(deadline) {
			return nil, kafka.NewError(kafka.ErrTimedOut, "timed out", false)
		}
		time.Sleep(time.Millisecond)
	}
}

func (fc *fakeConsumer) CommitMessage(m *kafka.Message) ([]kafka.TopicPartition, error) {
	fc.c.mu.Lock()
	defer fc.c.mu.Unlock()
	fc.c.committed[fc.group] = m.TopicPartition.Offset + 1
	return []kafka.TopicPartition{m.TopicPartition}, nil
}

func (fc *fakeConsumer) Close() error {
	fc.c.mu.Lock()
	defer fc.c.mu.Unlock()
	fc.closed = true
	return nil
}
