package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/DeBrosOfficial/dwn-plugins/pkg/broker"
	"github.com/DeBrosOfficial/dwn-plugins/pkg/broker/gcp"
	"github.com/DeBrosOfficial/dwn-plugins/pkg/broker/gossip"
	"github.com/DeBrosOfficial/dwn-plugins/pkg/broker/kafka"
	"github.com/DeBrosOfficial/dwn-plugins/pkg/broker/memory"
	"github.com/DeBrosOfficial/dwn-plugins/pkg/config"
	"github.com/DeBrosOfficial/dwn-plugins/pkg/datastore"
	"github.com/DeBrosOfficial/dwn-plugins/pkg/datastore/azblob"
	"github.com/DeBrosOfficial/dwn-plugins/pkg/datastore/gcsstore"
	"github.com/DeBrosOfficial/dwn-plugins/pkg/datastore/olriccache"
	"github.com/DeBrosOfficial/dwn-plugins/pkg/datastore/sqlstore"
	"github.com/DeBrosOfficial/dwn-plugins/pkg/eventstream"
)

// brokerFactory returns the factory for the configured backend. The stream
// calls it once, with the configured project.
func brokerFactory(bc config.BrokerConfig, logger *zap.Logger) (eventstream.BrokerFactory, error) {
	switch bc.Backend {
	case "memory":
		return func(ctx context.Context, projectID string) (broker.Broker, error) {
			return memory.New(logger), nil
		}, nil
	case "gossip":
		return func(ctx context.Context, projectID string) (broker.Broker, error) {
			b, err := gossip.NewWithNode(ctx, gossip.HostOptions{
				ListenAddresses: bc.Gossip.ListenAddresses,
				BootstrapPeers:  bc.Gossip.BootstrapPeers,
			}, bc.Namespace, logger)
			if err != nil {
				return nil, err
			}
			return b, nil
		}, nil
	case "kafka":
		return func(ctx context.Context, projectID string) (broker.Broker, error) {
			b, err := kafka.New(kafka.Config{
				Brokers:           bc.Kafka.Brokers,
				Partitions:        bc.Kafka.Partitions,
				ReplicationFactor: bc.Kafka.ReplicationFactor,
			}, logger)
			if err != nil {
				return nil, err
			}
			return b, nil
		}, nil
	case "gcp":
		return func(ctx context.Context, projectID string) (broker.Broker, error) {
			b, err := gcp.New(ctx, gcp.Config{
				ProjectID:       projectID,
				CredentialsFile: bc.GCP.CredentialsFile,
				EmulatorHost:    bc.GCP.EmulatorHost,
			}, logger)
			if err != nil {
				return nil, err
			}
			return b, nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown broker backend %q", bc.Backend)
	}
}

// buildDataStore builds the configured store, wrapped in the olric cache when
// cache servers are configured. The result is not opened.
func buildDataStore(ctx context.Context, dc config.DataStoreConfig, logger *zap.Logger) (datastore.Store, error) {
	var store datastore.Store
	switch dc.Backend {
	case "sqlite":
		store = sqlstore.New(sqlstore.Config{Driver: sqlstore.DriverSQLite, DSN: dc.DSN}, logger)
	case "rqlite":
		store = sqlstore.New(sqlstore.Config{Driver: sqlstore.DriverRQLite, DSN: dc.DSN}, logger)
	case "azblob":
		s, err := azblob.New(azblob.Config{
			AccountName: dc.Azure.AccountName,
			AccessKey:   dc.Azure.AccessKey,
			Container:   dc.Azure.Container,
			ServiceURL:  dc.Azure.ServiceURL,
		}, logger)
		if err != nil {
			return nil, err
		}
		store = s
	case "gcs":
		s, err := gcsstore.New(ctx, gcsstore.Config{
			Bucket:          dc.GCS.Bucket,
			ProjectID:       dc.GCS.ProjectID,
			CredentialsFile: dc.GCS.CredentialsFile,
			Endpoint:        dc.GCS.Endpoint,
		}, logger)
		if err != nil {
			return nil, err
		}
		store = s
	default:
		return nil, fmt.Errorf("unknown datastore backend %q", dc.Backend)
	}

	if len(dc.Cache.OlricServers) == 0 {
		return store, nil
	}
	cache, err := olriccache.NewDMapCache(olriccache.Config{
		Servers: dc.Cache.OlricServers,
		DMap:    dc.Cache.DMap,
		Timeout: dc.Cache.Timeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect blob cache: %w", err)
	}
	return olriccache.New(store, cache, logger, olriccache.WithOwnedCache()), nil
}
