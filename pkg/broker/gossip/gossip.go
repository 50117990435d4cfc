// Package gossip implements broker.Broker over libp2p gossipsub.
//
// Topics are joined lazily and cached, namespaced as "<namespace>.<topic>".
// Subscriptions are local: each is a gossipsub subscription on this host, so
// fan-out across listeners and across hosts comes from gossipsub itself.
// Gossipsub has no acknowledgements; Ack is a no-op.
package gossip

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/dwn-plugins/pkg/broker"
)

// Broker is a gossipsub-backed broker.Broker.
type Broker struct {
	pubsub        *pubsub.PubSub
	topics        map[string]*pubsub.Topic
	subscriptions map[string]*subscription
	namespace     string
	logger        *zap.Logger
	node          *Node // owned, may be nil
	closed        bool
	mu            sync.RWMutex
}

// subscription holds subscription data
type subscription struct {
	topic string
	sub   *pubsub.Subscription
}

var _ broker.Broker = (*Broker)(nil)

// New creates a broker over an existing gossipsub instance. Close does not close ps.
func New(ps *pubsub.PubSub, namespace string, logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{
		pubsub:        ps,
		topics:        make(map[string]*pubsub.Topic),
		subscriptions: make(map[string]*subscription),
		namespace:     namespace,
		logger:        logger,
	}
}

// NewWithNode starts a libp2p node and returns a broker that owns it.
func NewWithNode(ctx context.Context, opts HostOptions, namespace string, logger *zap.Logger) (*Broker, error) {
	n, err := StartNode(ctx, opts, logger)
	if err != nil {
		return nil, err
	}
	b := New(n.PubSub, namespace, logger)
	b.node = n
	return b, nil
}

// Node returns the owned libp2p node, or nil.
func (b *Broker) Node() *Node { return b.node }

func (b *Broker) namespaced(topic string) string {
	return fmt.Sprintf("%s.%s", b.namespace, topic)
}

func (b *Broker) TopicExists(ctx context.Context, topic string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false, broker.ErrClosed
	}
	_, ok := b.topics[b.namespaced(topic)]
	return ok, nil
}

func (b *Broker) CreateTopic(ctx context.Context, topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return broker.ErrClosed
	}
	name := b.namespaced(topic)
	if _, ok := b.topics[name]; ok {
		return broker.ErrAlreadyExists
	}
	t, err := b.pubsub.Join(name)
	if err != nil {
		return fmt.Errorf("failed to join topic %s: %w", name, err)
	}
	b.topics[name] = t
	b.logger.Debug("Joined topic", zap.String("topic", name))
	return nil
}

// Publish sends data on the topic. Gossipsub assigns ids internally, so the returned id is empty.
func (b *Broker) Publish(ctx context.Context, topic string, data []byte) (string, error) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return "", broker.ErrClosed
	}
	t, ok := b.topics[b.namespaced(topic)]
	b.mu.RUnlock()
	if !ok {
		return "", broker.ErrNotFound
	}

	if err := t.Publish(ctx, data); err != nil {
		return "", fmt.Errorf("failed to publish message: %w", err)
	}
	return "", nil
}

func (b *Broker) SubscriptionExists(ctx context.Context, name string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false, broker.ErrClosed
	}
	_, ok := b.subscriptions[name]
	return ok, nil
}

// CreateSubscription subscribes to the topic immediately so messages published
// before the first Receive are buffered.
func (b *Broker) CreateSubscription(ctx context.Context, topic, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return broker.ErrClosed
	}
	if _, ok := b.subscriptions[name]; ok {
		return broker.ErrAlreadyExists
	}
	t, ok := b.topics[b.namespaced(topic)]
	if !ok {
		return broker.ErrNotFound
	}
	sub, err := t.Subscribe()
	if err != nil {
		return fmt.Errorf("failed to subscribe to topic: %w", err)
	}
	b.subscriptions[name] = &subscription{topic: topic, sub: sub}
	b.logger.Debug("Subscription created", zap.String("topic", topic), zap.String("subscription", name))
	return nil
}

// Receive loops sub.Next until ctx is done or the subscription is deleted.
func (b *Broker) Receive(ctx context.Context, name string, handler broker.Handler) error {
	b.mu.RLock()
	s, ok := b.subscriptions[name]
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return broker.ErrClosed
	}
	if !ok {
		return broker.ErrNotFound
	}

	for {
		msg, err := s.sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.mu.RLock()
			closed := b.closed
			b.mu.RUnlock()
			if closed {
				return broker.ErrClosed
			}
			if errors.Is(err, pubsub.ErrSubscriptionCancelled) {
				return broker.ErrNotFound
			}
			return fmt.Errorf("receive on %s: %w", name, err)
		}

		handler(ctx, broker.NewMessage(msg.ID, msg.Data, time.Now(), nil))
	}
}

func (b *Broker) DeleteSubscription(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return broker.ErrClosed
	}
	s, ok := b.subscriptions[name]
	if !ok {
		return broker.ErrNotFound
	}
	s.sub.Cancel()
	delete(b.subscriptions, name)
	b.logger.Debug("Subscription deleted", zap.String("subscription", name))
	return nil
}

// ListSubscriptions returns this host's subscription names in sorted order.
func (b *Broker) ListSubscriptions(ctx context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, broker.ErrClosed
	}
	names := make([]string, 0, len(b.subscriptions))
	for name := range b.subscriptions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Close cancels all subscriptions, leaves all topics and stops the owned node.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true

	for _, s := range b.subscriptions {
		s.sub.Cancel()
	}
	b.subscriptions = make(map[string]*subscription)

	for _, t := range b.topics {
		_ = t.Close()
	}
	b.topics = make(map[string]*pubsub.Topic)
	b.mu.Unlock()

	if b.node != nil {
		return b.node.Close()
	}
	return nil
}
