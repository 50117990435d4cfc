// Package contracts defines the interface contracts between the DWN host runtime
// and the plugins in this repository.
//
// Interfaces:
//   - EventStream / EventSubscription / EventListener: tenant-scoped event notifications
//   - DataStore: durable storage for message payloads keyed by tenant, record and data CID
//
// Implementations live in pkg/eventstream and pkg/datastore. The host runtime should
// depend on this package only.
package contracts
