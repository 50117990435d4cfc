package config

import (
	"time"

	"github.com/multiformats/go-multiaddr"
)

// Config represents the main configuration for the dwnd daemon
type Config struct {
	Stream    StreamConfig    `yaml:"stream"`
	Broker    BrokerConfig    `yaml:"broker"`
	DataStore DataStoreConfig `yaml:"datastore"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// StreamConfig contains event stream configuration
type StreamConfig struct {
	ProjectID          string        `yaml:"project_id"`          // Broker project; Subscribe/Emit fail without it
	StrictProvisioning bool          `yaml:"strict_provisioning"` // Return provisioning failures instead of logging them
	ProvisionAttempts  int           `yaml:"provision_attempts"`  // Total attempts per resource (default: 3)
	ProvisionBackoff   time.Duration `yaml:"provision_backoff"`   // Base retry delay (default: 200ms)
	DispatchBuffer     int           `yaml:"dispatch_buffer"`     // Per-subscription dispatcher queue size
}

// BrokerConfig selects and configures the broker backend
type BrokerConfig struct {
	Backend   string       `yaml:"backend"`   // memory, gossip, kafka, gcp
	Namespace string       `yaml:"namespace"` // Topic namespace for the gossip backend
	Kafka     KafkaConfig  `yaml:"kafka"`
	Gossip    GossipConfig `yaml:"gossip"`
	GCP       GCPConfig    `yaml:"gcp"`
}

// KafkaConfig contains Kafka connection settings
type KafkaConfig struct {
	Brokers           string `yaml:"brokers"`            // bootstrap.servers
	Partitions        int    `yaml:"partitions"`         // Partitions for created topics
	ReplicationFactor int    `yaml:"replication_factor"` // Replication factor for created topics
}

// GossipConfig contains libp2p host settings
type GossipConfig struct {
	ListenAddresses []string `yaml:"listen_addresses"` // LibP2P listen addresses
	BootstrapPeers  []string `yaml:"bootstrap_peers"`  // Full multiaddrs with /p2p/<peerID>
}

// GCPConfig contains Google Cloud Pub/Sub settings
type GCPConfig struct {
	CredentialsFile string `yaml:"credentials_file"` // Service account JSON; empty uses ADC
	EmulatorHost    string `yaml:"emulator_host"`    // host:port of a Pub/Sub emulator
}

// DataStoreConfig selects and configures the blob store backend
type DataStoreConfig struct {
	Backend string      `yaml:"backend"` // sqlite, rqlite, azblob, gcs
	DSN     string      `yaml:"dsn"`     // sqlite file path or rqlite URL
	Azure   AzureConfig `yaml:"azure"`
	GCS     GCSConfig   `yaml:"gcs"`
	Cache   CacheConfig `yaml:"cache"`
}

// GCSConfig contains Google Cloud Storage settings
type GCSConfig struct {
	Bucket          string `yaml:"bucket"`
	ProjectID       string `yaml:"project_id"`       // Creates the bucket when set and missing
	CredentialsFile string `yaml:"credentials_file"` // Service account JSON; empty uses ADC
	Endpoint        string `yaml:"endpoint"`         // Emulator endpoint; disables auth
}

// AzureConfig contains Azure Blob Storage credentials
type AzureConfig struct {
	AccountName string `yaml:"account_name"`
	AccessKey   string `yaml:"access_key"`
	Container   string `yaml:"container"`
	ServiceURL  string `yaml:"service_url"` // Defaults to https://<account>.blob.core.windows.net/
}

// CacheConfig contains the optional olric read-through cache settings
type CacheConfig struct {
	OlricServers []string      `yaml:"olric_servers"` // Empty disables the cache
	DMap         string        `yaml:"dmap"`
	Timeout      time.Duration `yaml:"timeout"`
}

// GatewayConfig contains HTTP gateway settings
type GatewayConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`     // e.g. ":8080"
	RequestTimeout time.Duration `yaml:"request_timeout"` // Applies to non-websocket routes
	PingInterval   time.Duration `yaml:"ping_interval"`   // Websocket keepalive
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level"`       // debug, info, warn, error
	Format     string `yaml:"format"`      // json, console
	OutputFile string `yaml:"output_file"` // Empty for stdout
}

// ParseMultiaddrs converts the gossip listen addresses to multiaddr objects
func (c *Config) ParseMultiaddrs() ([]multiaddr.Multiaddr, error) {
	var addrs []multiaddr.Multiaddr
	for _, addr := range c.Broker.Gossip.ListenAddresses {
		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, ma)
	}
	return addrs, nil
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Stream: StreamConfig{
			ProvisionAttempts: 3,
			ProvisionBackoff:  200 * time.Millisecond,
			DispatchBuffer:    256,
		},
		Broker: BrokerConfig{
			Backend:   "memory",
			Namespace: "dwn",
			Kafka: KafkaConfig{
				Brokers:           "localhost:9092",
				Partitions:        1,
				ReplicationFactor: 1,
			},
			Gossip: GossipConfig{
				ListenAddresses: []string{"/ip4/0.0.0.0/tcp/4101"},
				BootstrapPeers:  []string{},
			},
		},
		DataStore: DataStoreConfig{
			Backend: "sqlite",
			DSN:     "./data/dwn-blobs.db",
			Cache: CacheConfig{
				DMap:    "dwn-blobs",
				Timeout: 10 * time.Second,
			},
		},
		Gateway: GatewayConfig{
			ListenAddr:     ":8080",
			RequestTimeout: 60 * time.Second,
			PingInterval:   30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
