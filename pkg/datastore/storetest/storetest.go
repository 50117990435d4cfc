// Package storetest is the behavioral suite every datastore backend runs.
package storetest

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DeBrosOfficial/dwn-plugins/pkg/datastore"
	"github.com/DeBrosOfficial/dwn-plugins/pkg/errors"
)

// Harness builds a fresh, opened store for one subtest.
type Harness struct {
	New func(t *testing.T) datastore.Store
	// Corrupt overwrites the stored bytes of key without touching its checksum.
	// The checksum case is skipped when nil.
	Corrupt func(t *testing.T, s datastore.Store, key string)
}

// Run executes the suite.
func Run(t *testing.T, h Harness) {
	t.Run("PutGetRoundTrip", func(t *testing.T) { testPutGet(t, h.New(t)) })
	t.Run("PutExistingSkipsWrite", func(t *testing.T) { testPutExisting(t, h.New(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, h.New(t)) })
	t.Run("DeleteIdempotent", func(t *testing.T) { testDelete(t, h.New(t)) })
	t.Run("ClearEmptiesStore", func(t *testing.T) { testClear(t, h.New(t)) })
	t.Run("TenantsAreSeparate", func(t *testing.T) { testTenants(t, h.New(t)) })
	if h.Corrupt != nil {
		t.Run("ChecksumMismatch", func(t *testing.T) {
			s := h.New(t)
			testChecksum(t, s, func(key string) { h.Corrupt(t, s, key) })
		})
	}
}

func put(t *testing.T, s datastore.Store, tenant, record, cid, data string) {
	t.Helper()
	res, err := s.Put(context.Background(), tenant, record, cid, strings.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, cid, res.DataCID)
	assert.EqualValues(t, len(data), res.DataSize)
}

func read(t *testing.T, s datastore.Store, tenant, record, cid string) string {
	t.Helper()
	res, err := s.Get(context.Background(), tenant, record, cid)
	require.NoError(t, err)
	defer res.Data.Close()
	b, err := io.ReadAll(res.Data)
	require.NoError(t, err)
	assert.Equal(t, cid, res.DataCID)
	assert.EqualValues(t, len(b), res.DataSize)
	return string(b)
}

func testPutGet(t *testing.T, s datastore.Store) {
	payload := string(bytes.Repeat([]byte{0x00, 0xff, 'a'}, 1000))
	put(t, s, "did:example:alice", "rec1", "cid1", payload)
	assert.Equal(t, payload, read(t, s, "did:example:alice", "rec1", "cid1"))
}

func testPutExisting(t *testing.T, s datastore.Store) {
	put(t, s, "alice", "rec1", "cid1", "first")

	res, err := s.Put(context.Background(), "alice", "rec1", "cid1", strings.NewReader("second!"))
	require.NoError(t, err)
	assert.EqualValues(t, len("second!"), res.DataSize)

	assert.Equal(t, "first", read(t, s, "alice", "rec1", "cid1"))
}

func testGetMissing(t *testing.T, s datastore.Store) {
	_, err := s.Get(context.Background(), "alice", "nope", "cid")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err), "got %v", err)
}

func testDelete(t *testing.T, s datastore.Store) {
	ctx := context.Background()
	put(t, s, "alice", "rec1", "cid1", "data")

	require.NoError(t, s.Delete(ctx, "alice", "rec1", "cid1"))
	_, err := s.Get(ctx, "alice", "rec1", "cid1")
	assert.True(t, errors.IsNotFound(err))

	require.NoError(t, s.Delete(ctx, "alice", "rec1", "cid1"))
}

func testClear(t *testing.T, s datastore.Store) {
	ctx := context.Background()
	put(t, s, "alice", "rec1", "cid1", "a")
	put(t, s, "bob", "rec2", "cid2", "b")

	require.NoError(t, s.Clear(ctx))

	_, err := s.Get(ctx, "alice", "rec1", "cid1")
	assert.True(t, errors.IsNotFound(err))
	_, err = s.Get(ctx, "bob", "rec2", "cid2")
	assert.True(t, errors.IsNotFound(err))

	put(t, s, "alice", "rec1", "cid1", "again")
	assert.Equal(t, "again", read(t, s, "alice", "rec1", "cid1"))
}

func testTenants(t *testing.T, s datastore.Store) {
	put(t, s, "alice", "rec1", "cid1", "alice-data")
	put(t, s, "bob", "rec1", "cid1", "bob-data")
	assert.Equal(t, "alice-data", read(t, s, "alice", "rec1", "cid1"))
	assert.Equal(t, "bob-data", read(t, s, "bob", "rec1", "cid1"))
}

func testChecksum(t *testing.T, s datastore.Store, corrupt func(key string)) {
	put(t, s, "alice", "rec1", "cid1", "original")
	corrupt(datastore.Key("alice", "rec1", "cid1"))

	_, err := s.Get(context.Background(), "alice", "rec1", "cid1")
	require.Error(t, err)
	assert.True(t, errors.IsDataLoss(err), "got %v", err)
}
