// Package gcp implements broker.Broker on Google Cloud Pub/Sub.
package gcp

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/DeBrosOfficial/dwn-plugins/pkg/broker"
)

// Config selects the project and how to reach Pub/Sub.
type Config struct {
	ProjectID       string
	CredentialsFile string
	// EmulatorHost, when set, connects without TLS or credentials.
	EmulatorHost string
}

// Broker is a Pub/Sub-backed broker.Broker.
type Broker struct {
	client *pubsub.Client
	logger *zap.Logger

	mu     sync.Mutex
	topics map[string]*pubsub.Topic

	closed atomic.Bool
}

var _ broker.Broker = (*Broker)(nil)

// New connects to Pub/Sub for cfg.ProjectID. Extra client options are appended.
func New(ctx context.Context, cfg Config, logger *zap.Logger, opts ...option.ClientOption) (*Broker, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("gcp project id is required")
	}

	var clientOpts []option.ClientOption
	switch {
	case cfg.EmulatorHost != "":
		clientOpts = append(clientOpts,
			option.WithEndpoint(cfg.EmulatorHost),
			option.WithoutAuthentication(),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	case cfg.CredentialsFile != "":
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	clientOpts = append(clientOpts, opts...)

	client, err := pubsub.NewClient(ctx, cfg.ProjectID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	return NewWithClient(client, logger), nil
}

// NewWithClient wraps an existing client. Close closes it.
func NewWithClient(client *pubsub.Client, logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{
		client: client,
		logger: logger,
		topics: make(map[string]*pubsub.Topic),
	}
}

// topic returns the cached publisher handle for id.
func (b *Broker) topic(id string) *pubsub.Topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[id]
	if !ok {
		t = b.client.Topic(id)
		b.topics[id] = t
	}
	return t
}

// mapError translates gRPC status codes into broker sentinels.
func (b *Broker) mapError(err error) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.AlreadyExists:
		return broker.ErrAlreadyExists
	case codes.NotFound:
		return broker.ErrNotFound
	}
	if b.closed.Load() {
		return broker.ErrClosed
	}
	return err
}

func (b *Broker) TopicExists(ctx context.Context, topic string) (bool, error) {
	if b.closed.Load() {
		return false, broker.ErrClosed
	}
	ok, err := b.client.Topic(topic).Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check topic %s: %w", topic, err)
	}
	return ok, nil
}

func (b *Broker) CreateTopic(ctx context.Context, topic string) error {
	if b.closed.Load() {
		return broker.ErrClosed
	}
	if _, err := b.client.CreateTopic(ctx, topic); err != nil {
		return b.mapError(err)
	}
	b.logger.Debug("Topic created", zap.String("topic", topic))
	return nil
}

// Publish hands the message to the client's batcher and returns without
// waiting for the server id. The outcome is logged when it arrives.
func (b *Broker) Publish(ctx context.Context, topic string, data []byte) (string, error) {
	if b.closed.Load() {
		return "", broker.ErrClosed
	}
	res := b.topic(topic).Publish(ctx, &pubsub.Message{Data: data})

	go func() {
		id, err := res.Get(context.Background())
		if err != nil {
			b.logger.Warn("Publish failed", zap.String("topic", topic), zap.Error(err))
			return
		}
		b.logger.Debug("Message published", zap.String("topic", topic), zap.String("message_id", id))
	}()
	return "", nil
}

func (b *Broker) SubscriptionExists(ctx context.Context, name string) (bool, error) {
	if b.closed.Load() {
		return false, broker.ErrClosed
	}
	ok, err := b.client.Subscription(name).Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check subscription %s: %w", name, err)
	}
	return ok, nil
}

func (b *Broker) CreateSubscription(ctx context.Context, topic, name string) error {
	if b.closed.Load() {
		return broker.ErrClosed
	}
	_, err := b.client.CreateSubscription(ctx, name, pubsub.SubscriptionConfig{
		Topic: b.client.Topic(topic),
	})
	if err != nil {
		return b.mapError(err)
	}
	b.logger.Debug("Subscription created", zap.String("topic", topic), zap.String("subscription", name))
	return nil
}

// Receive streams messages until ctx is done or the subscription goes away.
func (b *Broker) Receive(ctx context.Context, name string, handler broker.Handler) error {
	if b.closed.Load() {
		return broker.ErrClosed
	}
	sub := b.client.Subscription(name)
	sub.ReceiveSettings.NumGoroutines = 1

	err := sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		handler(ctx, broker.NewMessage(msg.ID, msg.Data, msg.PublishTime, msg.Ack))
	})
	if err != nil {
		return b.mapError(err)
	}
	if ctx.Err() == nil && b.closed.Load() {
		return broker.ErrClosed
	}
	return nil
}

func (b *Broker) DeleteSubscription(ctx context.Context, name string) error {
	if b.closed.Load() {
		return broker.ErrClosed
	}
	if err := b.client.Subscription(name).Delete(ctx); err != nil {
		return b.mapError(err)
	}
	b.logger.Debug("Subscription deleted", zap.String("subscription", name))
	return nil
}

// ListSubscriptions returns every subscription in the project, sorted.
func (b *Broker) ListSubscriptions(ctx context.Context) ([]string, error) {
	if b.closed.Load() {
		return nil, broker.ErrClosed
	}
	var names []string
	it := b.client.Subscriptions(ctx)
	for {
		sub, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list subscriptions: %w", err)
		}
		names = append(names, sub.ID())
	}
	sort.Strings(names)
	return names, nil
}

// Close flushes pending publishes and closes the client.
func (b *Broker) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.mu.Lock()
	for _, t := range b.topics {
		t.Stop()
	}
	b.topics = make(map[string]*pubsub.Topic)
	b.mu.Unlock()
	return b.client.Close()
}
