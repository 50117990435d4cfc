// Package sqlstore is a datastore.Store over database/sql. It runs on a local
// sqlite3 file or on an rqlite cluster through the gorqlite driver.
package sqlstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"io"
	"sync"

	_ "github.com/mattn/go-sqlite3"       // sqlite3 driver
	_ "github.com/rqlite/gorqlite/stdlib" // rqlite driver
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/dwn-plugins/pkg/contracts"
	"github.com/DeBrosOfficial/dwn-plugins/pkg/datastore"
	"github.com/DeBrosOfficial/dwn-plugins/pkg/errors"
)

// Driver names accepted by Config.
const (
	DriverSQLite = "sqlite3"
	DriverRQLite = "rqlite"
)

// Config selects the database.
type Config struct {
	Driver string
	DSN    string
}

// Store keeps blobs in the blob_storage table.
type Store struct {
	cfg    Config
	logger *zap.Logger

	mu    sync.RWMutex
	db    *sql.DB
	owned bool
}

var _ datastore.Store = (*Store)(nil)

// New returns a store that opens its own connection on Open.
func New(cfg Config, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{cfg: cfg, logger: logger}
}

// NewWithDB uses a connection managed by the caller. Close leaves it open.
func NewWithDB(db *sql.DB, logger *zap.Logger) *Store {
	s := New(Config{}, logger)
	s.db = db
	return s
}

// Open connects if needed and creates the table.
func (s *Store) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		db, err := sql.Open(s.cfg.Driver, s.cfg.DSN)
		if err != nil {
			return errors.Wrapf(err, "failed to open %s database", s.cfg.Driver)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return errors.NewServiceError(s.cfg.Driver, errors.CodeUnavailable, "database unreachable", err)
		}
		s.db = db
		s.owned = true
	}
	return s.initTables(ctx)
}

// initTables creates the blob table and its tenant index.
func (s *Store) initTables(ctx context.Context) error {
	createTableSQL := `
		CREATE TABLE IF NOT EXISTS blob_storage (
			key TEXT NOT NULL PRIMARY KEY,
			tenant TEXT NOT NULL,
			data_cid TEXT NOT NULL,
			data_size INTEGER NOT NULL,
			checksum TEXT NOT NULL,
			value TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`

	createIndexSQL := `
		CREATE INDEX IF NOT EXISTS idx_blob_storage_tenant
		ON blob_storage(tenant)
	`

	if _, err := s.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("failed to create blob table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, createIndexSQL); err != nil {
		return fmt.Errorf("failed to create blob index: %w", err)
	}

	s.logger.Debug("Blob tables initialized")
	return nil
}

// Close releases the connection if the store opened it.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil || !s.owned {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	s.owned = false
	return err
}

func (s *Store) conn() (*sql.DB, error) {
	if s.db == nil {
		return nil, errors.NewWithCode(errors.CodeFailedPrecondition, "datastore is not open")
	}
	return s.db, nil
}

// Put stores data under the record's key. An existing object is left untouched.
func (s *Store) Put(ctx context.Context, tenant, recordID, dataCID string, r io.Reader) (*contracts.PutResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read data")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	key := datastore.Key(tenant, recordID, dataCID)
	result := &contracts.PutResult{DataCID: dataCID, DataSize: int64(len(data))}

	exists, err := s.exists(ctx, db, key)
	if err != nil {
		return nil, err
	}
	if exists {
		s.logger.Debug("Object exists, skipping write", zap.String("key", key))
		return result, nil
	}

	// Values go through base64 so sqlite3 and rqlite's JSON API store them the same way.
	query := `
		INSERT OR IGNORE INTO blob_storage (key, tenant, data_cid, data_size, checksum, value)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = db.ExecContext(ctx, query, key, tenant, dataCID, len(data),
		datastore.Checksum(data), base64.StdEncoding.EncodeToString(data))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to store %s", key)
	}

	s.logger.Debug("Stored object", zap.String("key", key), zap.Int("size", len(data)))
	return result, nil
}

func (s *Store) exists(ctx context.Context, db *sql.DB, key string) (bool, error) {
	var one int
	err := db.QueryRowContext(ctx, `SELECT 1 FROM blob_storage WHERE key = ? LIMIT 1`, key).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "failed to check %s", key)
	}
	return true, nil
}

// Get returns the object, or a NotFoundError when it is absent.
func (s *Store) Get(ctx context.Context, tenant, recordID, dataCID string) (*contracts.GetResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	key := datastore.Key(tenant, recordID, dataCID)
	query := `SELECT data_cid, checksum, value FROM blob_storage WHERE key = ?`

	var storedCID, checksum, encoded string
	err = db.QueryRowContext(ctx, query, key).Scan(&storedCID, &checksum, &encoded)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("blob", key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get %s", key)
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.NewDataLossError(key, "stored value is not valid base64")
	}
	if !datastore.Verify(data, checksum) {
		return nil, errors.NewDataLossError(key, "checksum mismatch")
	}

	return &contracts.GetResult{
		DataCID:  storedCID,
		DataSize: int64(len(data)),
		Data:     io.NopCloser(bytes.NewReader(data)),
	}, nil
}

// Delete removes the object. Deleting an absent object is not an error.
func (s *Store) Delete(ctx context.Context, tenant, recordID, dataCID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.conn()
	if err != nil {
		return err
	}

	key := datastore.Key(tenant, recordID, dataCID)
	result, err := db.ExecContext(ctx, `DELETE FROM blob_storage WHERE key = ?`, key)
	if err != nil {
		return errors.Wrapf(err, "failed to delete %s", key)
	}

	rows, _ := result.RowsAffected()
	s.logger.Debug("Deleted object", zap.String("key", key), zap.Int64("rows", rows))
	return nil
}

// Clear removes every object in the store.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.conn()
	if err != nil {
		return err
	}

	result, err := db.ExecContext(ctx, `DELETE FROM blob_storage WHERE key LIKE ?`, datastore.Prefix+"/%")
	if err != nil {
		return errors.Wrap(err, "failed to clear blob storage")
	}

	rows, _ := result.RowsAffected()
	s.logger.Info("Blob storage cleared", zap.Int64("objects", rows))
	return nil
}
