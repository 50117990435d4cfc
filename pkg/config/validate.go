package config

import (
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
)

// ValidationError represents a single validation error with context.
type ValidationError struct {
	Path    string // e.g., "broker.gossip.bootstrap_peers[0]"
	Message string // e.g., "invalid multiaddr"
	Hint    string // e.g., "expected /ip{4,6}/.../tcp/<port>/p2p/<peerID>"
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s; %s", e.Path, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validate performs comprehensive validation of the entire config.
// It aggregates all errors and returns them, allowing the caller to print all issues at once.
// A missing stream.project_id is not reported here: the stream surfaces it per operation.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateStream()...)
	errs = append(errs, c.validateBroker()...)
	errs = append(errs, c.validateDataStore()...)
	errs = append(errs, c.validateGateway()...)
	errs = append(errs, c.validateLogging()...)

	return errs
}

func (c *Config) validateStream() []error {
	var errs []error
	sc := c.Stream

	if sc.ProvisionAttempts < 1 {
		errs = append(errs, ValidationError{
			Path:    "stream.provision_attempts",
			Message: fmt.Sprintf("must be >= 1; got %d", sc.ProvisionAttempts),
		})
	}
	if sc.ProvisionBackoff < 0 {
		errs = append(errs, ValidationError{
			Path:    "stream.provision_backoff",
			Message: fmt.Sprintf("must be >= 0; got %v", sc.ProvisionBackoff),
		})
	}
	if sc.DispatchBuffer < 1 {
		errs = append(errs, ValidationError{
			Path:    "stream.dispatch_buffer",
			Message: fmt.Sprintf("must be >= 1; got %d", sc.DispatchBuffer),
		})
	}

	return errs
}

func (c *Config) validateBroker() []error {
	var errs []error
	bc := c.Broker

	switch bc.Backend {
	case "memory":
	case "gossip":
		errs = append(errs, validateGossip(bc.Gossip)...)
		if bc.Namespace == "" {
			errs = append(errs, ValidationError{
				Path:    "broker.namespace",
				Message: "must not be empty for the gossip backend",
			})
		}
	case "kafka":
		if strings.TrimSpace(bc.Kafka.Brokers) == "" {
			errs = append(errs, ValidationError{
				Path:    "broker.kafka.brokers",
				Message: "must not be empty",
				Hint:    "comma separated host:port list",
			})
		} else {
			for i, b := range strings.Split(bc.Kafka.Brokers, ",") {
				if err := validateHostPort(strings.TrimSpace(b)); err != nil {
					errs = append(errs, ValidationError{
						Path:    fmt.Sprintf("broker.kafka.brokers[%d]", i),
						Message: err.Error(),
					})
				}
			}
		}
		if bc.Kafka.Partitions < 1 {
			errs = append(errs, ValidationError{
				Path:    "broker.kafka.partitions",
				Message: fmt.Sprintf("must be >= 1; got %d", bc.Kafka.Partitions),
			})
		}
		if bc.Kafka.ReplicationFactor < 1 {
			errs = append(errs, ValidationError{
				Path:    "broker.kafka.replication_factor",
				Message: fmt.Sprintf("must be >= 1; got %d", bc.Kafka.ReplicationFactor),
			})
		}
	case "gcp":
		if bc.GCP.EmulatorHost != "" {
			if err := validateHostPort(bc.GCP.EmulatorHost); err != nil {
				errs = append(errs, ValidationError{
					Path:    "broker.gcp.emulator_host",
					Message: err.Error(),
				})
			}
		}
	default:
		errs = append(errs, ValidationError{
			Path:    "broker.backend",
			Message: fmt.Sprintf("invalid value %q", bc.Backend),
			Hint:    "allowed values: memory, gossip, kafka, gcp",
		})
	}

	return errs
}

func validateGossip(gc GossipConfig) []error {
	var errs []error

	if len(gc.ListenAddresses) == 0 {
		errs = append(errs, ValidationError{
			Path:    "broker.gossip.listen_addresses",
			Message: "must not be empty",
		})
	}

	seen := make(map[string]bool)
	for i, addr := range gc.ListenAddresses {
		path := fmt.Sprintf("broker.gossip.listen_addresses[%d]", i)

		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			errs = append(errs, ValidationError{
				Path:    path,
				Message: fmt.Sprintf("invalid multiaddr: %v", err),
				Hint:    "expected /ip{4,6}/.../tcp/<port>",
			})
			continue
		}

		tcpAddr, err := manet.ToNetAddr(ma)
		if err != nil {
			errs = append(errs, ValidationError{
				Path:    path,
				Message: fmt.Sprintf("cannot convert multiaddr to network address: %v", err),
				Hint:    "ensure multiaddr contains /tcp/<port>",
			})
			continue
		}

		// Port 0 asks the OS for a free port.
		if tcp, ok := tcpAddr.(*net.TCPAddr); ok && (tcp.Port < 0 || tcp.Port > 65535) {
			errs = append(errs, ValidationError{
				Path:    path,
				Message: fmt.Sprintf("invalid TCP port %d", tcp.Port),
				Hint:    "port must be between 0 and 65535",
			})
		}

		if seen[addr] {
			errs = append(errs, ValidationError{
				Path:    path,
				Message: "duplicate listen address",
			})
		}
		seen[addr] = true
	}

	seenPeers := make(map[string]bool)
	for i, peer := range gc.BootstrapPeers {
		path := fmt.Sprintf("broker.gossip.bootstrap_peers[%d]", i)

		ma, err := multiaddr.NewMultiaddr(peer)
		if err != nil {
			errs = append(errs, ValidationError{
				Path:    path,
				Message: fmt.Sprintf("invalid multiaddr: %v", err),
				Hint:    "expected /ip{4,6}/.../tcp/<port>/p2p/<peerID>",
			})
			continue
		}

		if _, err := ma.ValueForProtocol(multiaddr.P_P2P); err != nil {
			errs = append(errs, ValidationError{
				Path:    path,
				Message: "missing /p2p/<peerID> component",
				Hint:    "expected /ip{4,6}/.../tcp/<port>/p2p/<peerID>",
			})
		}

		if seenPeers[peer] {
			errs = append(errs, ValidationError{
				Path:    path,
				Message: "duplicate peer",
			})
		}
		seenPeers[peer] = true
	}

	return errs
}

func (c *Config) validateDataStore() []error {
	var errs []error
	dc := c.DataStore

	switch dc.Backend {
	case "sqlite":
		if dc.DSN == "" {
			errs = append(errs, ValidationError{
				Path:    "datastore.dsn",
				Message: "must not be empty",
				Hint:    "path to the sqlite database file",
			})
		}
	case "rqlite":
		u, err := url.Parse(dc.DSN)
		if dc.DSN == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, ValidationError{
				Path:    "datastore.dsn",
				Message: fmt.Sprintf("invalid rqlite URL %q", dc.DSN),
				Hint:    "expected http(s)://host:port",
			})
		}
	case "azblob":
		if dc.Azure.AccountName == "" {
			errs = append(errs, ValidationError{
				Path:    "datastore.azure.account_name",
				Message: "must not be empty",
			})
		}
		if dc.Azure.AccessKey == "" {
			errs = append(errs, ValidationError{
				Path:    "datastore.azure.access_key",
				Message: "must not be empty",
			})
		}
		if dc.Azure.Container == "" {
			errs = append(errs, ValidationError{
				Path:    "datastore.azure.container",
				Message: "must not be empty",
			})
		}
	case "gcs":
		if dc.GCS.Bucket == "" {
			errs = append(errs, ValidationError{
				Path:    "datastore.gcs.bucket",
				Message: "must not be empty",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Path:    "datastore.backend",
			Message: fmt.Sprintf("invalid value %q", dc.Backend),
			Hint:    "allowed values: sqlite, rqlite, azblob, gcs",
		})
	}

	for i, server := range dc.Cache.OlricServers {
		if err := validateHostPort(server); err != nil {
			errs = append(errs, ValidationError{
				Path:    fmt.Sprintf("datastore.cache.olric_servers[%d]", i),
				Message: err.Error(),
			})
		}
	}
	if len(dc.Cache.OlricServers) > 0 && dc.Cache.DMap == "" {
		errs = append(errs, ValidationError{
			Path:    "datastore.cache.dmap",
			Message: "required when olric_servers is set",
		})
	}

	return errs
}

func (c *Config) validateGateway() []error {
	var errs []error
	gc := c.Gateway

	if gc.ListenAddr == "" {
		errs = append(errs, ValidationError{
			Path:    "gateway.listen_addr",
			Message: "must not be empty",
		})
	} else if _, _, err := net.SplitHostPort(gc.ListenAddr); err != nil {
		errs = append(errs, ValidationError{
			Path:    "gateway.listen_addr",
			Message: err.Error(),
			Hint:    "expected [host]:port, e.g. :8080",
		})
	}
	if gc.RequestTimeout <= 0 {
		errs = append(errs, ValidationError{
			Path:    "gateway.request_timeout",
			Message: fmt.Sprintf("must be > 0; got %v", gc.RequestTimeout),
		})
	}
	if gc.PingInterval <= 0 {
		errs = append(errs, ValidationError{
			Path:    "gateway.ping_interval",
			Message: fmt.Sprintf("must be > 0; got %v", gc.PingInterval),
		})
	}

	return errs
}

func (c *Config) validateLogging() []error {
	var errs []error
	log := c.Logging

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[log.Level] {
		errs = append(errs, ValidationError{
			Path:    "logging.level",
			Message: fmt.Sprintf("invalid value %q", log.Level),
			Hint:    "allowed values: debug, info, warn, error",
		})
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[log.Format] {
		errs = append(errs, ValidationError{
			Path:    "logging.format",
			Message: fmt.Sprintf("invalid value %q", log.Format),
			Hint:    "allowed values: json, console",
		})
	}

	if log.OutputFile != "" && filepath.Base(log.OutputFile) == "." {
		errs = append(errs, ValidationError{
			Path:    "logging.output_file",
			Message: fmt.Sprintf("invalid path %q", log.OutputFile),
		})
	}

	return errs
}

// validateHostPort validates a host:port address format.
func validateHostPort(hostPort string) error {
	host, port, err := net.SplitHostPort(hostPort)
	if err != nil {
		return fmt.Errorf("expected format host:port")
	}
	if host == "" {
		return fmt.Errorf("host must not be empty")
	}
	if port == "" {
		return fmt.Errorf("port must not be empty")
	}
	return nil
}
