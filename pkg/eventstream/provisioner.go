package eventstream

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/DeBrosOfficial/dwn-plugins/pkg/broker"
	"github.com/DeBrosOfficial/dwn-plugins/pkg/errors"
)

// Provisioner makes sure topics and subscriptions exist before they are used.
// Creation races are absorbed. Other failures are retried with jittered backoff;
// once retries are exhausted the failure is logged (fail-soft) or returned as a
// *errors.ProvisioningError when strict.
type Provisioner struct {
	broker   broker.Broker
	logger   *zap.Logger
	attempts int
	backoff  time.Duration
	strict   bool
}

// NewProvisioner creates a provisioner over b.
func NewProvisioner(b broker.Broker, cfg Config, logger *zap.Logger) *Provisioner {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provisioner{
		broker:   b,
		logger:   logger,
		attempts: cfg.ProvisionAttempts,
		backoff:  cfg.ProvisionBackoff,
		strict:   cfg.StrictProvisioning,
	}
}

// EnsureTopic makes sure the named topic exists.
func (p *Provisioner) EnsureTopic(ctx context.Context, name string) error {
	return p.ensure(ctx, "topic", name,
		func(ctx context.Context) (bool, error) { return p.broker.TopicExists(ctx, name) },
		func(ctx context.Context) error { return p.broker.CreateTopic(ctx, name) },
	)
}

// EnsureSubscription makes sure the named subscription exists and is bound to topic.
func (p *Provisioner) EnsureSubscription(ctx context.Context, topic, name string) error {
	return p.ensure(ctx, "subscription", name,
		func(ctx context.Context) (bool, error) { return p.broker.SubscriptionExists(ctx, name) },
		func(ctx context.Context) error { return p.broker.CreateSubscription(ctx, topic, name) },
	)
}

func (p *Provisioner) ensure(
	ctx context.Context,
	kind, name string,
	exists func(context.Context) (bool, error),
	create func(context.Context) error,
) error {
	var lastErr error
	delay := p.backoff
	attempt := 0

	for attempt < p.attempts {
		attempt++

		ok, err := exists(ctx)
		if err != nil {
			// Treat as absent; creation reports the real state.
			p.logger.Debug("Existence check failed, attempting creation",
				zap.String("kind", kind), zap.String("name", name), zap.Error(err))
		} else if ok {
			return nil
		}

		err = create(ctx)
		if err == nil {
			p.logger.Debug("Resource created", zap.String("kind", kind), zap.String("name", name))
			return nil
		}
		if errors.Is(err, broker.ErrAlreadyExists) {
			p.logger.Debug("Resource created concurrently",
				zap.String("kind", kind), zap.String("name", name))
			return nil
		}

		lastErr = err
		p.logger.Warn("Failed to provision resource",
			zap.String("kind", kind),
			zap.String("name", name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.attempts),
			zap.Error(err))

		if attempt < p.attempts {
			if !broker.Sleep(ctx, broker.Jitter(delay, 0)) {
				lastErr = ctx.Err()
				break
			}
			delay = broker.NextBackoff(delay, maxProvisionBackoff)
		}
	}

	if p.strict {
		return errors.NewProvisioningError(kind, name, attempt, lastErr)
	}

	p.logger.Warn("Continuing without provisioned resource",
		zap.String("kind", kind), zap.String("name", name), zap.Error(lastErr))
	return nil
}
