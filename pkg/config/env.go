package config

import "strings"

// Environment variables that override file configuration.
const (
	EnvProjectID      = "DWN_PROJECT_ID"
	EnvBroker         = "DWN_BROKER"
	EnvDataStoreDSN   = "DWN_DATASTORE_DSN"
	EnvGatewayURL     = "DWN_GATEWAY_URL"
	DefaultGatewayURL = "http://localhost:8080"
)

// ApplyEnv overlays environment overrides onto the config. lookup is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvProjectID); ok && strings.TrimSpace(v) != "" {
		c.Stream.ProjectID = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvBroker); ok && v != "" {
		c.Broker.Backend = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := lookup(EnvDataStoreDSN); ok && v != "" {
		c.DataStore.DSN = v
	}
}
