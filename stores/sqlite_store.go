package stores

import (
	"fmt"
	"maps"
	"net/url"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// sqliteDefaults are driver parameters applied unless Options override them.
// Immediate transactions take the write lock up front; other writers wait
// up to busy_timeout.
var sqliteDefaults = map[string]string{
	"_busy_timeout": "5000",
	"_txlock":       "immediate",
}

// SQLiteStore implements the stores on a SQLite database.
type SQLiteStore struct {
	gormStore
	path string
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(config *StoreConfig) (*SQLiteStore, error) {
	if config.Type != "sqlite" {
		return nil, fmt.Errorf("invalid store type for SQLite store: %s", config.Type)
	}

	store := &SQLiteStore{
		path: config.Connection,
	}

	if err := store.Connect(config); err != nil {
		return nil, fmt.Errorf("failed to connect to SQLite database: %w", err)
	}

	return store, nil
}

// NewSQLiteStoreSimple creates a new SQLite store with just a file path
func NewSQLiteStoreSimple(dbPath string) (*SQLiteStore, error) {
	config := NewStoreConfig("sqlite", dbPath)
	// SQLite serializes writers; one connection avoids "database is locked".
	config.MaxOpenConns = 1
	return NewSQLiteStore(config)
}

// Connect establishes a connection to the SQLite database
func (s *SQLiteStore) Connect(config *StoreConfig) error {
	db, err := gorm.Open(sqlite.Open(sqliteDSN(s.path, config.Options)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to SQLite database: %w", err)
	}

	s.db = db
	if err := s.configurePool(config); err != nil {
		return err
	}

	return s.migrate()
}

// sqliteDSN appends driver parameters to path. Option keys may omit the
// driver's leading underscore, so "journal_mode" sets "_journal_mode".
func sqliteDSN(path string, options map[string]string) string {
	params := maps.Clone(sqliteDefaults)
	for k, v := range options {
		if !strings.HasPrefix(k, "_") {
			k = "_" + k
		}
		params[k] = v
	}
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + values.Encode()
}
