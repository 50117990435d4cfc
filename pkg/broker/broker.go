// Package broker defines the managed-broker capability the event stream is built on.
//
// A broker exposes named topics and named subscriptions bound to a topic. Each
// subscription receives every message published to its topic after it was created.
// Backends live in subpackages: memory, gossip, kafka and gcp.
package broker

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAlreadyExists is returned by CreateTopic and CreateSubscription when the
	// resource was created concurrently by someone else.
	ErrAlreadyExists = errors.New("broker: resource already exists")

	// ErrNotFound is returned when a named subscription or topic does not exist.
	ErrNotFound = errors.New("broker: resource not found")

	// ErrClosed is returned by operations on a closed broker.
	ErrClosed = errors.New("broker: closed")
)

// Message is a single delivery from a subscription.
type Message struct {
	ID          string
	Data        []byte
	PublishTime time.Time

	ack func()
}

// NewMessage builds a message whose Ack runs ack. ack may be nil.
func NewMessage(id string, data []byte, publishTime time.Time, ack func()) *Message {
	return &Message{ID: id, Data: data, PublishTime: publishTime, ack: ack}
}

// Ack acknowledges the message so the broker does not redeliver it.
func (m *Message) Ack() {
	if m.ack != nil {
		m.ack()
	}
}

// Handler is invoked for each message received on a subscription.
type Handler func(ctx context.Context, msg *Message)

// Broker is the topic/subscription capability consumed by the event stream.
type Broker interface {
	TopicExists(ctx context.Context, topic string) (bool, error)
	// CreateTopic returns ErrAlreadyExists if the topic exists.
	CreateTopic(ctx context.Context, topic string) error
	// Publish returns the broker-assigned message id, or "" when assignment is asynchronous.
	Publish(ctx context.Context, topic string, data []byte) (string, error)

	SubscriptionExists(ctx context.Context, name string) (bool, error)
	// CreateSubscription returns ErrAlreadyExists if the subscription exists.
	CreateSubscription(ctx context.Context, topic, name string) error
	// Receive delivers messages to handler until ctx is done or a terminal error occurs.
	// It returns nil when ctx is cancelled.
	Receive(ctx context.Context, name string, handler Handler) error
	// DeleteSubscription returns ErrNotFound if the subscription does not exist.
	DeleteSubscription(ctx context.Context, name string) error
	ListSubscriptions(ctx context.Context) ([]string, error)

	Close() error
}
