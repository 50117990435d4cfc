// Package gcsstore is a datastore.Store on Google Cloud Storage. Each object
// lives in one bucket under the datastore key, with the datastore metadata
// stored as object metadata.
package gcsstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/DeBrosOfficial/dwn-plugins/pkg/contracts"
	"github.com/DeBrosOfficial/dwn-plugins/pkg/datastore"
	"github.com/DeBrosOfficial/dwn-plugins/pkg/errors"
)

// Config identifies the bucket and how to reach Cloud Storage.
type Config struct {
	Bucket string
	// ProjectID is used to create the bucket when it does not exist.
	// Empty means the bucket must already exist.
	ProjectID       string
	CredentialsFile string
	// Endpoint, when set, connects without credentials, e.g. to a local emulator.
	Endpoint string
}

// Store keeps blobs in one bucket.
type Store struct {
	client    *storage.Client
	bucket    *storage.BucketHandle
	name      string
	projectID string
	owned     bool
	logger    *zap.Logger
}

var _ datastore.Store = (*Store)(nil)

// New creates a Cloud Storage client for cfg. Close closes it.
func New(ctx context.Context, cfg Config, logger *zap.Logger, opts ...option.ClientOption) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}

	var clientOpts []option.ClientOption
	switch {
	case cfg.Endpoint != "":
		clientOpts = append(clientOpts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	case cfg.CredentialsFile != "":
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	clientOpts = append(clientOpts, opts...)

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	s := NewWithClient(client, cfg.Bucket, cfg.ProjectID, logger)
	s.owned = true
	return s, nil
}

// NewWithClient uses an existing client. Close leaves it open.
func NewWithClient(client *storage.Client, bucket, projectID string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		client:    client,
		bucket:    client.Bucket(bucket),
		name:      bucket,
		projectID: projectID,
		logger:    logger,
	}
}

func storageError(message string, err error) error {
	return errors.NewServiceError("gcs", errors.CodeStorageError, message, err)
}

// Open checks the bucket, creating it when a project is configured.
func (s *Store) Open(ctx context.Context) error {
	_, err := s.bucket.Attrs(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrBucketNotExist) {
		return storageError(fmt.Sprintf("failed to read bucket %s", s.name), err)
	}
	if s.projectID == "" {
		return storageError(fmt.Sprintf("bucket %s does not exist", s.name), err)
	}
	if err := s.bucket.Create(ctx, s.projectID, nil); err != nil && !isStatus(err, http.StatusConflict) {
		return storageError(fmt.Sprintf("failed to create bucket %s", s.name), err)
	}
	s.logger.Info("Bucket created", zap.String("bucket", s.name))
	return nil
}

// Close releases the client if the store created it.
func (s *Store) Close(ctx context.Context) error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

// Put writes data unless the object already exists.
func (s *Store) Put(ctx context.Context, tenant, recordID, dataCID string, r io.Reader) (*contracts.PutResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read data")
	}

	key := datastore.Key(tenant, recordID, dataCID)
	result := &contracts.PutResult{DataCID: dataCID, DataSize: int64(len(data))}
	obj := s.bucket.Object(key)

	if _, err := obj.Attrs(ctx); err == nil {
		s.logger.Debug("Object exists, skipping write", zap.String("key", key))
		return result, nil
	} else if !errors.Is(err, storage.ErrObjectNotExist) {
		return nil, storageError(fmt.Sprintf("failed to stat %s", key), err)
	}

	w := obj.If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	w.Metadata = datastore.Metadata(tenant, dataCID, data)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, storageError(fmt.Sprintf("failed to write %s", key), err)
	}
	if err := w.Close(); err != nil {
		if isStatus(err, http.StatusPreconditionFailed) {
			s.logger.Debug("Object created concurrently, skipping write", zap.String("key", key))
			return result, nil
		}
		return nil, storageError(fmt.Sprintf("failed to write %s", key), err)
	}

	s.logger.Debug("Stored object", zap.String("key", key), zap.Int("size", len(data)))
	return result, nil
}

// Get reads the object and verifies it against its recorded checksum.
func (s *Store) Get(ctx context.Context, tenant, recordID, dataCID string) (*contracts.GetResult, error) {
	key := datastore.Key(tenant, recordID, dataCID)
	obj := s.bucket.Object(key)

	attrs, err := obj.Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, errors.NewNotFoundError("blob", key)
	}
	if err != nil {
		return nil, storageError(fmt.Sprintf("failed to stat %s", key), err)
	}

	rd, err := obj.NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, errors.NewNotFoundError("blob", key)
	}
	if err != nil {
		return nil, storageError(fmt.Sprintf("failed to open %s", key), err)
	}
	defer rd.Close()

	data, err := io.ReadAll(rd)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", key)
	}

	md := attrs.Metadata
	if !datastore.Verify(data, md[datastore.MetaChecksum]) {
		return nil, errors.NewDataLossError(key, "checksum mismatch")
	}

	storedCID := md[datastore.MetaDataCID]
	if storedCID == "" {
		storedCID = dataCID
	}
	size := int64(len(data))
	if v, err := strconv.ParseInt(md[datastore.MetaDataSize], 10, 64); err == nil && v != size {
		return nil, errors.NewDataLossError(key, fmt.Sprintf("size mismatch: recorded %d, read %d", v, size))
	}

	return &contracts.GetResult{
		DataCID:  storedCID,
		DataSize: size,
		Data:     io.NopCloser(bytes.NewReader(data)),
	}, nil
}

// Delete removes the object. A missing object is not an error.
func (s *Store) Delete(ctx context.Context, tenant, recordID, dataCID string) error {
	key := datastore.Key(tenant, recordID, dataCID)
	err := s.bucket.Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return storageError(fmt.Sprintf("failed to delete %s", key), err)
	}
	return nil
}

// Clear deletes every object under the store prefix.
func (s *Store) Clear(ctx context.Context) error {
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: datastore.Prefix + "/"})

	deleted := 0
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return storageError("failed to list objects", err)
		}
		err = s.bucket.Object(attrs.Name).Delete(ctx)
		if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			return storageError(fmt.Sprintf("failed to delete %s", attrs.Name), err)
		}
		deleted++
	}

	s.logger.Info("Bucket cleared", zap.String("bucket", s.name), zap.Int("objects", deleted))
	return nil
}

func isStatus(err error, code int) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == code
}
