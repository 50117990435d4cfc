package eventstream

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DeBrosOfficial/dwn-plugins/pkg/broker"
	"github.com/DeBrosOfficial/dwn-plugins/pkg/broker/memory"
	"github.com/DeBrosOfficial/dwn-plugins/pkg/contracts"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// hookBroker wraps the memory broker and lets tests replace single operations.
type hookBroker struct {
	*memory.Broker

	topicExists        func(ctx context.Context, topic string) (bool, error)
	createTopic        func(ctx context.Context, topic string) error
	subscriptionExists func(ctx context.Context, name string) (bool, error)
	createSubscription func(ctx context.Context, topic, name string) error
	receive            func(ctx context.Context, name string, h broker.Handler) error
	deleteSubscription func(ctx context.Context, name string) error
	listSubscriptions  func(ctx context.Context) ([]string, error)

	createTopicCalls atomic.Int32
	receiveCalls     atomic.Int32
	closeCalls       atomic.Int32
}

func newHookBroker() *hookBroker {
	return &hookBroker{Broker: memory.New(nil)}
}

func (h *hookBroker) TopicExists(ctx context.Context, topic string) (bool, error) {
	if h.topicExists != nil {
		return h.topicExists(ctx, topic)
	}
	return h.Broker.TopicExists(ctx, topic)
}

func (h *hookBroker) CreateTopic(ctx context.Context, topic string) error {
	h.createTopicCalls.Add(1)
	if h.createTopic != nil {
		return h.createTopic(ctx, topic)
	}
	return h.Broker.CreateTopic(ctx, topic)
}

func (h *hookBroker) SubscriptionExists(ctx context.Context, name string) (bool, error) {
	if h.subscriptionExists != nil {
		return h.subscriptionExists(ctx, name)
	}
	return h.Broker.SubscriptionExists(ctx, name)
}

func (h *hookBroker) CreateSubscription(ctx context.Context, topic, name string) error {
	if h.createSubscription != nil {
		return h.createSubscription(ctx, topic, name)
	}
	return h.Broker.CreateSubscription(ctx, topic, name)
}

func (h *hookBroker) Receive(ctx context.Context, name string, handler broker.Handler) error {
	h.receiveCalls.Add(1)
	if h.receive != nil {
		return h.receive(ctx, name, handler)
	}
	return h.Broker.Receive(ctx, name, handler)
}

func (h *hookBroker) DeleteSubscription(ctx context.Context, name string) error {
	if h.deleteSubscription != nil {
		return h.deleteSubscription(ctx, name)
	}
	return h.Broker.DeleteSubscription(ctx, name)
}

func (h *hookBroker) ListSubscriptions(ctx context.Context) ([]string, error) {
	if h.listSubscriptions != nil {
		return h.listSubscriptions(ctx)
	}
	return h.Broker.ListSubscriptions(ctx)
}

func (h *hookBroker) Close() error {
	h.closeCalls.Add(1)
	return h.Broker.Close()
}

type call struct {
	tenant  string
	event   contracts.MessageEvent
	indexes contracts.KeyValues
}

// recorder is a listener that remembers every invocation.
type recorder struct {
	mu    sync.Mutex
	calls []call
}

func (r *recorder) listen(tenant string, event contracts.MessageEvent, indexes contracts.KeyValues) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{tenant: tenant, event: event, indexes: indexes})
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *recorder) last() call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[len(r.calls)-1]
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ProjectID = "test-project"
	cfg.ProvisionBackoff = time.Millisecond
	cfg.RestartBackoff = 5 * time.Millisecond
	return cfg
}

// openStream returns an open stream over b that records reported errors.
func openStream(t *testing.T, b broker.Broker, cfg Config) (*Stream, *errorSink) {
	t.Helper()
	sink := &errorSink{}
	s := New(cfg, WithBroker(b), WithErrorHandler(sink.handle))
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s, sink
}

type errorSink struct {
	mu   sync.Mutex
	errs []error
}

func (e *errorSink) handle(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errs = append(e.errs, err)
}

func (e *errorSink) all() []error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]error(nil), e.errs...)
}
