// Package datastore holds what the blob store backends share: the object key
// layout, the integrity checksum and the Store interface.
package datastore

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/DeBrosOfficial/dwn-plugins/pkg/contracts"
)

// Prefix is the namespace every object key lives under. Clear removes exactly this prefix.
const Prefix = "dataStore"

// Metadata keys stored alongside each object.
const (
	MetaTenant   = "tenant"
	MetaDataCID  = "datacid"
	MetaDataSize = "datasize"
	MetaChecksum = "checksum"
)

// Store is a contracts.DataStore. Backends implement it directly.
type Store interface {
	contracts.DataStore
}

// Key returns the object key for a record's data.
func Key(tenant, recordID, dataCID string) string {
	return fmt.Sprintf("%s/%s/%s_%s", Prefix, tenant, recordID, dataCID)
}

// TenantPrefix returns the key prefix holding all of a tenant's objects.
func TenantPrefix(tenant string) string {
	return Prefix + "/" + tenant + "/"
}

// IsStoreKey reports whether key lives under Prefix.
func IsStoreKey(key string) bool {
	return strings.HasPrefix(key, Prefix+"/")
}

// Checksum returns the hex blake2b-256 digest of data.
func Checksum(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Metadata builds the metadata map persisted with an object.
func Metadata(tenant, dataCID string, data []byte) map[string]string {
	return map[string]string{
		MetaTenant:   tenant,
		MetaDataCID:  dataCID,
		MetaDataSize: strconv.Itoa(len(data)),
		MetaChecksum: Checksum(data),
	}
}

// Verify checks data against the checksum recorded at write time.
// An empty checksum is accepted for objects written without one.
func Verify(data []byte, checksum string) bool {
	return checksum == "" || Checksum(data) == checksum
}
