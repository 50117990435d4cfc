package gcsstore

import (
	"context"
	"strings"
	"testing"

	"github.com/fsouza/fake-gcs-server/fakestorage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DeBrosOfficial/dwn-plugins/pkg/datastore"
	"github.com/DeBrosOfficial/dwn-plugins/pkg/datastore/storetest"
)

func newFakeServer(t *testing.T) *fakestorage.Server {
	t.Helper()
	server, err := fakestorage.NewServerWithOptions(fakestorage.Options{NoListener: true})
	require.NoError(t, err)
	t.Cleanup(server.Stop)
	return server
}

func newTestStore(t *testing.T, server *fakestorage.Server) *Store {
	t.Helper()
	server.CreateBucketWithOpts(fakestorage.CreateBucketOpts{Name: "dwn-blobs"})
	s := NewWithClient(server.Client(), "dwn-blobs", "", nil)
	require.NoError(t, s.Open(context.Background()))
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestStoreSuite(t *testing.T) {
	storetest.Run(t, storetest.Harness{
		New: func(t *testing.T) datastore.Store {
			return newTestStore(t, newFakeServer(t))
		},
		Corrupt: func(t *testing.T, s datastore.Store, key string) {
			gs := s.(*Store)
			ctx := context.Background()
			obj := gs.bucket.Object(key)
			attrs, err := obj.Attrs(ctx)
			require.NoError(t, err)

			w := obj.NewWriter(ctx)
			w.Metadata = attrs.Metadata
			_, err = w.Write([]byte("tampered"))
			require.NoError(t, err)
			require.NoError(t, w.Close())
		},
	})
}

func TestObjectLayoutAndMetadata(t *testing.T) {
	server := newFakeServer(t)
	s := newTestStore(t, server)
	ctx := context.Background()

	_, err := s.Put(ctx, "did:ex:alice", "rec1", "cid1", strings.NewReader("hello"))
	require.NoError(t, err)

	obj, err := server.GetObject("dwn-blobs", datastore.Key("did:ex:alice", "rec1", "cid1"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(obj.Content))
	assert.Equal(t, "cid1", obj.Metadata[datastore.MetaDataCID])
	assert.Equal(t, "5", obj.Metadata[datastore.MetaDataSize])
	assert.Equal(t, datastore.Checksum([]byte("hello")), obj.Metadata[datastore.MetaChecksum])
}

func TestClearLeavesForeignObjects(t *testing.T) {
	server := newFakeServer(t)
	s := newTestStore(t, server)
	ctx := context.Background()

	server.CreateObject(fakestorage.Object{
		ObjectAttrs: fakestorage.ObjectAttrs{BucketName: "dwn-blobs", Name: "other/keep"},
		Content:     []byte("x"),
	})
	_, err := s.Put(ctx, "t", "r", "c", strings.NewReader("data"))
	require.NoError(t, err)

	require.NoError(t, s.Clear(ctx))

	_, err = server.GetObject("dwn-blobs", "other/keep")
	assert.NoError(t, err)
	_, err = server.GetObject("dwn-blobs", datastore.Key("t", "r", "c"))
	assert.Error(t, err)
}

func TestOpenCreatesMissingBucket(t *testing.T) {
	server := newFakeServer(t)
	s := NewWithClient(server.Client(), "fresh-bucket", "test-project", nil)
	require.NoError(t, s.Open(context.Background()))

	_, err := server.Client().Bucket("fresh-bucket").Attrs(context.Background())
	assert.NoError(t, err)
}

func TestOpenMissingBucketWithoutProject(t *testing.T) {
	server := newFakeServer(t)
	s := NewWithClient(server.Client(), "absent", "", nil)
	assert.Error(t, s.Open(context.Background()))
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{}, nil)
	assert.Error(t, err)
}
