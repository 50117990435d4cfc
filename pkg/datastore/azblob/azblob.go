// Package azblob is a datastore.Store on Azure Blob Storage. Each object is one
// block blob in a single container, with the datastore metadata stored as blob metadata.
package azblob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	azsdk "github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/dwn-plugins/pkg/contracts"
	"github.com/DeBrosOfficial/dwn-plugins/pkg/datastore"
	"github.com/DeBrosOfficial/dwn-plugins/pkg/errors"
)

// BlobClient is the subset of *azblob.Client the store uses.
type BlobClient interface {
	CreateContainer(ctx context.Context, containerName string, o *azsdk.CreateContainerOptions) (azsdk.CreateContainerResponse, error)
	UploadBuffer(ctx context.Context, containerName string, blobName string, buffer []byte, o *azsdk.UploadBufferOptions) (azsdk.UploadBufferResponse, error)
	DownloadStream(ctx context.Context, containerName string, blobName string, o *azsdk.DownloadStreamOptions) (azsdk.DownloadStreamResponse, error)
	DeleteBlob(ctx context.Context, containerName string, blobName string, o *azsdk.DeleteBlobOptions) (azsdk.DeleteBlobResponse, error)
	NewListBlobsFlatPager(containerName string, o *azsdk.ListBlobsFlatOptions) *runtime.Pager[azsdk.ListBlobsFlatResponse]
}

// Config identifies the storage account and container.
type Config struct {
	AccountName string
	AccessKey   string
	Container   string
	// ServiceURL overrides https://<account>.blob.core.windows.net/, e.g. for Azurite.
	ServiceURL string
}

// Store keeps blobs in one container.
type Store struct {
	client    BlobClient
	container string
	logger    *zap.Logger
}

var _ datastore.Store = (*Store)(nil)

// New builds a shared-key client for cfg.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	cred, err := azsdk.NewSharedKeyCredential(cfg.AccountName, cfg.AccessKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure shared key credential: %w", err)
	}

	serviceURL := cfg.ServiceURL
	if serviceURL == "" {
		serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AccountName)
	}
	client, err := azsdk.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure Blob client: %w", err)
	}

	return NewWithClient(client, cfg.Container, logger), nil
}

// NewWithClient uses an existing client.
func NewWithClient(client BlobClient, container string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{client: client, container: container, logger: logger}
}

// Open creates the container if it does not exist.
func (s *Store) Open(ctx context.Context) error {
	_, err := s.client.CreateContainer(ctx, s.container, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return errors.NewServiceError("azblob", errors.CodeStorageError,
			fmt.Sprintf("failed to create container %s", s.container), err)
	}
	return nil
}

// Close is a no-op; the client holds no connections that need releasing.
func (s *Store) Close(ctx context.Context) error { return nil }

// Put uploads data unless the blob already exists.
func (s *Store) Put(ctx context.Context, tenant, recordID, dataCID string, r io.Reader) (*contracts.PutResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read data")
	}

	key := datastore.Key(tenant, recordID, dataCID)
	result := &contracts.PutResult{DataCID: dataCID, DataSize: int64(len(data))}

	etagAny := azcore.ETagAny
	_, err = s.client.UploadBuffer(ctx, s.container, key, data, &azsdk.UploadBufferOptions{
		Metadata: toAzureMetadata(datastore.Metadata(tenant, dataCID, data)),
		AccessConditions: &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfNoneMatch: &etagAny},
		},
	})
	if bloberror.HasCode(err, bloberror.BlobAlreadyExists, bloberror.ConditionNotMet) {
		s.logger.Debug("Object exists, skipping write", zap.String("key", key))
		return result, nil
	}
	if err != nil {
		return nil, errors.NewServiceError("azblob", errors.CodeStorageError,
			fmt.Sprintf("failed to upload %s", key), err)
	}

	s.logger.Debug("Stored object", zap.String("key", key), zap.Int("size", len(data)))
	return result, nil
}

// Get downloads the blob and verifies it against its recorded checksum.
func (s *Store) Get(ctx context.Context, tenant, recordID, dataCID string) (*contracts.GetResult, error) {
	key := datastore.Key(tenant, recordID, dataCID)

	resp, err := s.client.DownloadStream(ctx, s.container, key, nil)
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return nil, errors.NewNotFoundError("blob", key)
	}
	if err != nil {
		return nil, errors.NewServiceError("azblob", errors.CodeStorageError,
			fmt.Sprintf("failed to download %s", key), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", key)
	}

	md := fromAzureMetadata(resp.Metadata)
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

// Delete removes the blob. A missing blob is not an error.
func (s *Store) Delete(ctx context.Context, tenant, recordID, dataCID string) error {
	key := datastore.Key(tenant, recordID, dataCID)
	_, err := s.client.DeleteBlob(ctx, s.container, key, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
		return errors.NewServiceError("azblob", errors.CodeStorageError,
			fmt.Sprintf("failed to delete %s", key), err)
	}
	return nil
}

// Clear deletes every blob under the store prefix.
func (s *Store) Clear(ctx context.Context) error {
	prefix := datastore.Prefix + "/"
	pager := s.client.NewListBlobsFlatPager(s.container, &azsdk.ListBlobsFlatOptions{Prefix: &prefix})

	deleted := 0
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return errors.NewServiceError("azblob", errors.CodeStorageError, "failed to list blobs", err)
		}
		if page.Segment == nil {
			continue
		}
		for _, item := range page.Segment.BlobItems {
			if item == nil || item.Name == nil {
				continue
			}
			_, err := s.client.DeleteBlob(ctx, s.container, *item.Name, nil)
			if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
				return errors.NewServiceError("azblob", errors.CodeStorageError,
					fmt.Sprintf("failed to delete %s", *item.Name), err)
			}
			deleted++
		}
	}

	s.logger.Info("Blob container cleared", zap.String("container", s.container), zap.Int("objects", deleted))
	return nil
}

func toAzureMetadata(md map[string]string) map[string]*string {
	out := make(map[string]*string, len(md))
	for k, v := range md {
		v := v
		out[k] = &v
	}
	return out
}

// fromAzureMetadata flattens blob metadata. Azure may return keys with altered case.
func fromAzureMetadata(md map[string]*string) map[string]string {
	out := make(map[string]string, len(md))
	for k, v := range md {
		if v != nil {
			out[strings.ToLower(k)] = *v
		}
	}
	return out
}
