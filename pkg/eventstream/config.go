package eventstream

import (
	"time"

	"github.com/DeBrosOfficial/dwn-plugins/pkg/config"
)

const (
	defaultProvisionAttempts = 3
	defaultProvisionBackoff  = 200 * time.Millisecond
	defaultDispatchBuffer    = 256
	maxProvisionBackoff      = 5 * time.Second
	defaultRestartBackoff    = 500 * time.Millisecond
	maxRestartBackoff        = 30 * time.Second
)

// Config controls a Stream.
type Config struct {
	// ProjectID scopes broker resources. Subscribe and Emit fail with a config error without it.
	ProjectID string
	// StrictProvisioning turns exhausted provisioning retries into a returned error.
	StrictProvisioning bool
	ProvisionAttempts  int
	ProvisionBackoff   time.Duration
	// DispatchBuffer is the per-subscription queue between receive and listener.
	DispatchBuffer int
	// RestartBackoff is the initial delay before restarting a failed receive loop.
	RestartBackoff time.Duration

	// beforeInvoke runs between committing to a listener call and making it. Tests only.
	beforeInvoke func()
}

// DefaultConfig returns the defaults with no project configured.
func DefaultConfig() Config {
	return Config{
		ProvisionAttempts: defaultProvisionAttempts,
		ProvisionBackoff:  defaultProvisionBackoff,
		DispatchBuffer:    defaultDispatchBuffer,
		RestartBackoff:    defaultRestartBackoff,
	}
}

// FromConfig builds a Config from the daemon's stream section.
func FromConfig(sc config.StreamConfig) Config {
	return Config{
		ProjectID:          sc.ProjectID,
		StrictProvisioning: sc.StrictProvisioning,
		ProvisionAttempts:  sc.ProvisionAttempts,
		ProvisionBackoff:   sc.ProvisionBackoff,
		DispatchBuffer:     sc.DispatchBuffer,
	}
}

func (c Config) withDefaults() Config {
	if c.ProvisionAttempts <= 0 {
		c.ProvisionAttempts = defaultProvisionAttempts
	}
	if c.ProvisionBackoff < 0 {
		c.ProvisionBackoff = defaultProvisionBackoff
	}
	if c.DispatchBuffer <= 0 {
		c.DispatchBuffer = defaultDispatchBuffer
	}
	if c.RestartBackoff <= 0 {
		c.RestartBackoff = defaultRestartBackoff
	}
	return c
}
