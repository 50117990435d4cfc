package eventstream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/DeBrosOfficial/dwn-plugins/pkg/broker"
	"github.com/DeBrosOfficial/dwn-plugins/pkg/contracts"
	"github.com/DeBrosOfficial/dwn-plugins/pkg/errors"
)

// State is the lifecycle state of a Subscription.
type State int32

const (
	StateUnsubscribed State = iota
	StateProvisioning
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnsubscribed:
		return "unsubscribed"
	case StateProvisioning:
		return "provisioning"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Subscription binds one listener to one broker subscription.
//
// Two goroutines run while it is active: the receive loop, which acknowledges
// and decodes broker messages, and the dispatcher, which calls the listener.
type Subscription struct {
	id     string
	tenant string
	topic  string
	name   string

	listener contracts.EventListener
	broker   broker.Broker
	prov     *Provisioner
	logger   *zap.Logger

	restartBackoff time.Duration
	beforeInvoke   func()

	state   atomic.Int32
	closeMu sync.Mutex

	// gate is held while deciding whether to start a listener call.
	gate    sync.Mutex
	stopped bool
	// began is closed once the committed listener call has been entered.
	// Nil while the dispatcher is idle.
	began chan struct{}

	cancel      context.CancelFunc
	queue       chan Envelope
	stop        chan struct{}
	receiveDone chan struct{}

	onClose func(*Subscription)
}

var _ contracts.EventSubscription = (*Subscription)(nil)

type subscribeParams struct {
	broker   broker.Broker
	prov     *Provisioner
	logger   *zap.Logger
	cfg      Config
	tenant   string
	id       string
	listener contracts.EventListener
	onClose  func(*Subscription)
}

// subscribe provisions the tenant topic and the listener's subscription, then
// starts delivery.
func subscribe(ctx context.Context, p subscribeParams) (*Subscription, error) {
	s := &Subscription{
		id:             p.id,
		tenant:         p.tenant,
		topic:          TopicName(p.tenant),
		name:           SubscriptionName(p.tenant, p.id),
		listener:       p.listener,
		broker:         p.broker,
		prov:           p.prov,
		restartBackoff: p.cfg.RestartBackoff,
		beforeInvoke:   p.cfg.beforeInvoke,
		queue:          make(chan Envelope, p.cfg.DispatchBuffer),
		stop:           make(chan struct{}),
		receiveDone:    make(chan struct{}),
		onClose:        p.onClose,
	}
	s.logger = p.logger.With(zap.String("tenant", p.tenant), zap.String("subscription", s.name))

	s.setState(StateProvisioning)
	if err := s.prov.EnsureTopic(ctx, s.topic); err != nil {
		s.setState(StateClosed)
		return nil, err
	}
	if err := s.prov.EnsureSubscription(ctx, s.topic, s.name); err != nil {
		s.setState(StateClosed)
		return nil, err
	}

	// Delivery outlives the subscribe call.
	recvCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	go s.dispatch()
	go s.receiveLoop(recvCtx)

	s.setState(StateActive)
	s.logger.Debug("Subscription active", zap.String("id", s.id))
	return s, nil
}

// ID returns the caller-supplied identifier.
func (s *Subscription) ID() string { return s.id }

// Name returns the broker subscription name.
func (s *Subscription) Name() string { return s.name }

// Tenant returns the tenant the subscription listens to.
func (s *Subscription) Tenant() string { return s.tenant }

// State returns the current lifecycle state.
func (s *Subscription) State() State { return State(s.state.Load()) }

func (s *Subscription) setState(st State) { s.state.Store(int32(st)) }

// handle is the broker-level message handler.
func (s *Subscription) handle(ctx context.Context, msg *broker.Message) {
	// Ack first so a failing listener never causes redelivery.
	msg.Ack()

	env, err := Decode(msg.Data)
	if err != nil {
		s.logger.Warn("Dropping undecodable message", zap.String("message_id", msg.ID), zap.Error(err))
		return
	}

	select {
	case s.queue <- env:
	case <-s.stop:
	case <-ctx.Done():
	}
}

func (s *Subscription) receiveLoop(ctx context.Context) {
	defer close(s.receiveDone)

	delay := s.restartBackoff
	for {
		err := s.broker.Receive(ctx, s.name, s.handle)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, broker.ErrClosed) {
			s.logger.Warn("Broker closed, receive loop stopped")
			return
		}

		s.logger.Warn("Receive loop ended, restarting",
			zap.Duration("backoff", delay), zap.Error(err))
		if !broker.Sleep(ctx, broker.Jitter(delay, 0)) {
			return
		}
		delay = broker.NextBackoff(delay, maxRestartBackoff)

		if errors.Is(err, broker.ErrNotFound) {
			// Subscription removed behind our back; provision it again.
			if perr := s.prov.EnsureTopic(ctx, s.topic); perr != nil {
				s.logger.Warn("Failed to restore topic", zap.Error(perr))
				continue
			}
			if perr := s.prov.EnsureSubscription(ctx, s.topic, s.name); perr != nil {
				s.logger.Warn("Failed to restore subscription", zap.Error(perr))
			}
		}
	}
}

func (s *Subscription) dispatch() {
	for {
		select {
		case <-s.stop:
			return
		case env := <-s.queue:
			s.gate.Lock()
			if s.stopped {
				s.gate.Unlock()
				return
			}
			began := make(chan struct{})
			s.began = began
			s.gate.Unlock()

			if s.beforeInvoke != nil {
				s.beforeInvoke()
			}
			s.invoke(env, began)

			s.gate.Lock()
			s.began = nil
			s.gate.Unlock()
		}
	}
}

// invoke calls the listener, containing panics and errors.
func (s *Subscription) invoke(env Envelope, began chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Listener panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	close(began)
	if err := s.listener(env.Tenant, env.Event, env.Indexes); err != nil {
		s.logger.Warn("Listener returned error", zap.Error(err))
	}
}

// detach stops listener calls and the receive loop, waiting for Receive to return.
// A listener call the dispatcher already committed to is waited on until it
// has been entered, so none starts after detach returns. It is not waited on
// to finish, so a listener may close its own handle.
func (s *Subscription) detach(ctx context.Context) {
	s.gate.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.stop)
	}
	began := s.began
	s.gate.Unlock()

	if began != nil {
		select {
		case <-began:
		case <-ctx.Done():
			s.logger.Warn("Timed out waiting for dispatched listener call", zap.Error(ctx.Err()))
		}
	}

	if s.cancel != nil {
		s.cancel()
	}

	select {
	case <-s.receiveDone:
	case <-ctx.Done():
		s.logger.Warn("Timed out waiting for receive loop to stop", zap.Error(ctx.Err()))
	}
}

// Close detaches the listener and deletes the broker subscription. It is
// idempotent and safe for concurrent use, including from inside the listener.
// A failed delete is returned, but the handle is closed regardless.
func (s *Subscription) Close(ctx context.Context) error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	if s.State() == StateClosed {
		return nil
	}
	s.setState(StateClosing)

	exists, err := s.broker.SubscriptionExists(ctx, s.name)
	if err != nil {
		s.logger.Debug("Existence check failed on close, deleting anyway", zap.Error(err))
		exists = true
	}

	s.detach(ctx)

	var deleteErr error
	if exists {
		if err := s.broker.DeleteSubscription(ctx, s.name); err != nil && !errors.Is(err, broker.ErrNotFound) {
			deleteErr = errors.Wrapf(err, "failed to delete subscription %s", s.name)
			s.logger.Warn("Failed to delete subscription", zap.Error(err))
		}
	}

	s.setState(StateClosed)
	if s.onClose != nil {
		s.onClose(s)
	}
	s.logger.Debug("Subscription closed", zap.String("id", s.id))
	return deleteErr
}
