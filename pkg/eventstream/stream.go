// Package eventstream implements the tenant-scoped event stream on top of a broker.Broker.
//
// Every tenant has one topic. Every listener gets its own broker subscription to
// that topic, named after the tenant and the listener id, so each listener
// receives every event independently.
package eventstream

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/DeBrosOfficial/dwn-plugins/pkg/broker"
	"github.com/DeBrosOfficial/dwn-plugins/pkg/contracts"
	"github.com/DeBrosOfficial/dwn-plugins/pkg/errors"
)

// ErrStreamNotOpen is reported through the error handler when Emit is called on
// a closed stream, and returned by Subscribe and Subscriptions after Close.
var ErrStreamNotOpen = errors.NewWithCode(errors.CodeFailedPrecondition, "event stream is not open")

// BrokerFactory builds the broker client for a project.
type BrokerFactory func(ctx context.Context, projectID string) (broker.Broker, error)

// ErrorHandler receives errors that are reported rather than returned.
type ErrorHandler func(err error)

// Option configures a Stream.
type Option func(*Stream)

// WithBroker injects a broker. The stream does not close it.
func WithBroker(b broker.Broker) Option {
	return func(s *Stream) { s.broker = b }
}

// WithBrokerFactory builds the broker on first use. The stream owns and closes it.
func WithBrokerFactory(f BrokerFactory) Option {
	return func(s *Stream) { s.factory = f }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Stream) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithErrorHandler sets the handler for reported errors. The default logs them.
func WithErrorHandler(h ErrorHandler) Option {
	return func(s *Stream) { s.errorHandler = h }
}

// Stream is the contracts.EventStream implementation.
type Stream struct {
	cfg          Config
	logger       *zap.Logger
	errorHandler ErrorHandler
	factory      BrokerFactory

	open atomic.Bool

	mu     sync.Mutex
	closed bool // set by Close, cleared by Open
	broker broker.Broker
	owned  bool
	prov   *Provisioner
	subs   map[string]*Subscription // by broker subscription name
}

var _ contracts.EventStream = (*Stream)(nil)

// New creates a closed stream.
func New(cfg Config, opts ...Option) *Stream {
	s := &Stream{
		cfg:    cfg.withDefaults(),
		logger: zap.NewNop(),
		subs:   make(map[string]*Subscription),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.errorHandler == nil {
		s.errorHandler = func(err error) {
			s.logger.Error("Event stream error", zap.Error(err))
		}
	}
	if s.broker != nil {
		s.prov = NewProvisioner(s.broker, s.cfg, s.logger)
	}
	return s
}

// IsOpen reports whether the stream is open.
func (s *Stream) IsOpen() bool { return s.open.Load() }

// Open marks the stream open. When a factory and a project are configured the
// broker is built here, and a factory failure is the only error returned.
func (s *Stream) Open(ctx context.Context) error {
	s.mu.Lock()
	s.closed = false
	s.mu.Unlock()

	if s.cfg.ProjectID != "" && s.factory != nil {
		if _, _, err := s.client(ctx); err != nil {
			return err
		}
	}
	if !s.open.Swap(true) {
		s.logger.Info("Event stream opened", zap.String("project_id", s.cfg.ProjectID))
	}
	return nil
}

// client returns the broker and provisioner, building the broker from the factory on first use.
// A closed stream does not rebuild the broker it released.
func (s *Stream) client(ctx context.Context) (broker.Broker, *Provisioner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, nil, ErrStreamNotOpen
	}
	if s.broker != nil {
		return s.broker, s.prov, nil
	}
	if s.factory == nil {
		return nil, nil, errors.NewConfigError("broker", "no broker or broker factory configured")
	}

	b, err := s.factory(ctx, s.cfg.ProjectID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to create broker client")
	}
	s.broker = b
	s.owned = true
	s.prov = NewProvisioner(b, s.cfg, s.logger)
	return s.broker, s.prov, nil
}

func (s *Stream) requireProject() error {
	if s.cfg.ProjectID == "" {
		return errors.NewConfigError("stream.project_id", "project id is not set")
	}
	return nil
}

// Subscribe registers listener for the tenant's events under id.
// Subscribing twice with the same tenant and id replaces the registry entry
// without closing the earlier handle; callers should avoid it.
func (s *Stream) Subscribe(ctx context.Context, tenant, id string, listener contracts.EventListener) (contracts.EventSubscription, error) {
	if err := s.requireProject(); err != nil {
		return nil, err
	}
	if listener == nil {
		return nil, errors.NewWithCode(errors.CodeInvalidArgument, "listener must not be nil")
	}

	b, prov, err := s.client(ctx)
	if err != nil {
		return nil, err
	}

	sub, err := subscribe(ctx, subscribeParams{
		broker:   b,
		prov:     prov,
		logger:   s.logger,
		cfg:      s.cfg,
		tenant:   tenant,
		id:       id,
		listener: listener,
		onClose:  s.unregister,
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if _, dup := s.subs[sub.Name()]; dup {
		s.logger.Warn("Replacing registered subscription", zap.String("subscription", sub.Name()))
	}
	s.subs[sub.Name()] = sub
	s.mu.Unlock()

	return sub, nil
}

func (s *Stream) unregister(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs[sub.Name()] == sub {
		delete(s.subs, sub.Name())
	}
}

// Emit publishes an event for the tenant. The broker's message id is not awaited.
// Emitting on a closed stream, encode failures and publish failures are reported
// through the error handler and Emit returns nil.
func (s *Stream) Emit(ctx context.Context, tenant string, event contracts.MessageEvent, indexes contracts.KeyValues) error {
	if err := s.requireProject(); err != nil {
		return err
	}
	if !s.open.Load() {
		s.errorHandler(ErrStreamNotOpen)
		return nil
	}

	b, prov, err := s.client(ctx)
	if err != nil {
		return err
	}

	topic := TopicName(tenant)
	if err := prov.EnsureTopic(ctx, topic); err != nil {
		return err
	}

	data, err := Encode(Envelope{Tenant: tenant, Event: event, Indexes: indexes})
	if err != nil {
		s.errorHandler(err)
		return nil
	}

	id, err := b.Publish(ctx, topic, data)
	if err != nil {
		s.errorHandler(errors.Wrapf(err, "failed to publish to %s", topic))
		return nil
	}
	s.logger.Debug("Event published", zap.String("topic", topic), zap.String("message_id", id))
	return nil
}

// Close marks the stream closed, closes every subscription it created and
// closes the broker if the stream built it. Failures are logged.
func (s *Stream) Close(ctx context.Context) error {
	s.open.Store(false)

	s.mu.Lock()
	s.closed = true
	subs := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Close(ctx); err != nil {
			s.logger.Warn("Failed to close subscription",
				zap.String("subscription", sub.Name()), zap.Error(err))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owned && s.broker != nil {
		if err := s.broker.Close(); err != nil {
			s.logger.Warn("Failed to close broker", zap.Error(err))
		}
		s.broker = nil
		s.prov = nil
		s.owned = false
	}

	s.logger.Info("Event stream closed", zap.Int("subscriptions_closed", len(subs)))
	return nil
}

// Subscriptions lists the broker subscriptions created by this package, across all processes.
func (s *Stream) Subscriptions(ctx context.Context) ([]string, error) {
	b, _, err := s.client(ctx)
	if err != nil {
		return nil, err
	}
	names, err := b.ListSubscriptions(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list subscriptions")
	}
	out := make([]string, 0, len(names))
	for _, name := range names {
		if strings.HasPrefix(name, SubscriptionPrefix) {
			out = append(out, name)
		}
	}
	return out, nil
}

// Active returns the number of subscriptions currently registered with the stream.
func (s *Stream) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
