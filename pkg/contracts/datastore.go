package contracts

import (
	"context"
	"io"
)

// PutResult describes a stored payload.
type PutResult struct {
	DataCID  string `json:"dataCid"`
	DataSize int64  `json:"dataSize"`
}

// GetResult carries a stored payload. Data must be closed by the caller.
type GetResult struct {
	DataCID  string        `json:"dataCid"`
	DataSize int64         `json:"dataSize"`
	Data     io.ReadCloser `json:"-"`
}

// DataStore stores message payloads addressed by tenant, record id and data CID.
type DataStore interface {
	// Open prepares the store for use.
	Open(ctx context.Context) error

	// Close releases any resources held by the store.
	Close(ctx context.Context) error

	// Put stores the payload read from data. If the payload already exists the
	// write is skipped and the size of data is reported.
	Put(ctx context.Context, tenant, recordID, dataCID string, data io.Reader) (*PutResult, error)

	// Get returns the payload, or a NotFoundError when it does not exist.
	Get(ctx context.Context, tenant, recordID, dataCID string) (*GetResult, error)

	// Delete removes the payload. Deleting an absent payload is not an error.
	Delete(ctx context.Context, tenant, recordID, dataCID string) error

	// Clear removes every payload in the store.
	Clear(ctx context.Context) error
}
