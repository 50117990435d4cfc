// Package memory is an in-process broker.Broker for tests and local development.
//
// Every subscription keeps an unbounded queue. A message handed to a receiver but
// not acknowledged when that receiver returns is put back at the head of the queue.
package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DeBrosOfficial/dwn-plugins/pkg/broker"
)

type envelope struct {
	seq         uint64
	data        []byte
	publishTime time.Time
}

type subscription struct {
	name     string
	topic    string
	queue    []*envelope
	inflight map[uint64]*envelope
	notify   chan struct{}
	deleted  chan struct{}
}

func (s *subscription) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Broker is an in-memory broker.Broker. The zero value is not usable; call New.
type Broker struct {
	logger *zap.Logger

	mu     sync.Mutex
	topics map[string]map[string]*subscription // topic -> subscription name -> subscription
	subs   map[string]*subscription
	seq    uint64
	closed chan struct{}
	once   sync.Once
}

var _ broker.Broker = (*Broker)(nil)

// New creates an empty in-memory broker.
func New(logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{
		logger: logger,
		topics: make(map[string]map[string]*subscription),
		subs:   make(map[string]*subscription),
		closed: make(chan struct{}),
	}
}

func (b *Broker) isClosed() bool {
	select {
	case <-b.closed:
		return true
	default:
		return false
	}
}

func (b *Broker) TopicExists(ctx context.Context, topic string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isClosed() {
		return false, broker.ErrClosed
	}
	_, ok := b.topics[topic]
	return ok, nil
}

func (b *Broker) CreateTopic(ctx context.Context, topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isClosed() {
		return broker.ErrClosed
	}
	if _, ok := b.topics[topic]; ok {
		return broker.ErrAlreadyExists
	}
	b.topics[topic] = make(map[string]*subscription)
	b.logger.Debug("Topic created", zap.String("topic", topic))
	return nil
}

// Publish fans data out to every subscription of topic and returns its sequence number.
func (b *Broker) Publish(ctx context.Context, topic string, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isClosed() {
		return "", broker.ErrClosed
	}
	subs, ok := b.topics[topic]
	if !ok {
		return "", broker.ErrNotFound
	}

	b.seq++
	env := &envelope{seq: b.seq, data: append([]byte(nil), data...), publishTime: time.Now()}
	for _, s := range subs {
		s.queue = append(s.queue, env)
		s.signal()
	}
	return strconv.FormatUint(env.seq, 10), nil
}

func (b *Broker) SubscriptionExists(ctx context.Context, name string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isClosed() {
		return false, broker.ErrClosed
	}
	_, ok := b.subs[name]
	return ok, nil
}

func (b *Broker) CreateSubscription(ctx context.Context, topic, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isClosed() {
		return broker.ErrClosed
	}
	subs, ok := b.topics[topic]
	if !ok {
		return broker.ErrNotFound
	}
	if _, ok := b.subs[name]; ok {
		return broker.ErrAlreadyExists
	}
	s := &subscription{
		name:     name,
		topic:    topic,
		inflight: make(map[uint64]*envelope),
		notify:   make(chan struct{}, 1),
		deleted:  make(chan struct{}),
	}
	subs[name] = s
	b.subs[name] = s
	b.logger.Debug("Subscription created", zap.String("topic", topic), zap.String("subscription", name))
	return nil
}

// Receive delivers queued messages to handler one at a time until ctx is done,
// the subscription is deleted or the broker is closed.
func (b *Broker) Receive(ctx context.Context, name string, handler broker.Handler) error {
	b.mu.Lock()
	s, ok := b.subs[name]
	b.mu.Unlock()
	if !ok {
		return broker.ErrNotFound
	}

	delivered := make(map[uint64]struct{})
	defer b.requeue(s, delivered)

	for {
		if ctx.Err() != nil {
			return nil
		}

		b.mu.Lock()
		if len(s.queue) > 0 {
			env := s.queue[0]
			s.queue = s.queue[1:]
			s.inflight[env.seq] = env
			delivered[env.seq] = struct{}{}
			b.mu.Unlock()

			seq := env.seq
			msg := broker.NewMessage(strconv.FormatUint(seq, 10), env.data, env.publishTime, func() {
				b.ack(s, seq)
			})
			handler(ctx, msg)
			continue
		}
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil
		case <-s.deleted:
			return broker.ErrNotFound
		case <-b.closed:
			return broker.ErrClosed
		case <-s.notify:
		}
	}
}

func (b *Broker) ack(s *subscription, seq uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(s.inflight, seq)
}

// requeue puts messages this receiver delivered but never acked back at the head of the queue.
func (b *Broker) requeue(s *subscription, delivered map[uint64]struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var pending []*envelope
	for seq := range delivered {
		if env, ok := s.inflight[seq]; ok {
			pending = append(pending, env)
			delete(s.inflight, seq)
		}
	}
	if len(pending) == 0 {
		return
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].seq < pending[j].seq })
	s.queue = append(pending, s.queue...)
	s.signal()
	b.logger.Debug("Requeued unacknowledged messages",
		zap.String("subscription", s.name), zap.Int("count", len(pending)))
}

func (b *Broker) DeleteSubscription(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isClosed() {
		return broker.ErrClosed
	}
	s, ok := b.subs[name]
	if !ok {
		return broker.ErrNotFound
	}
	delete(b.subs, name)
	delete(b.topics[s.topic], name)
	close(s.deleted)
	b.logger.Debug("Subscription deleted", zap.String("subscription", name))
	return nil
}

// ListSubscriptions returns subscription names in sorted order.
func (b *Broker) ListSubscriptions(ctx context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isClosed() {
		return nil, broker.ErrClosed
	}
	names := make([]string, 0, len(b.subs))
	for name := range b.subs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Pending reports how many messages are queued or in flight for a subscription.
func (b *Broker) Pending(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.subs[name]
	if !ok {
		return 0
	}
	return len(s.queue) + len(s.inflight)
}

// Close stops all receivers. It is safe to call more than once.
func (b *Broker) Close() error {
	b.once.Do(func() {
		b.mu.Lock()
		close(b.closed)
		b.mu.Unlock()
	})
	return nil
}
