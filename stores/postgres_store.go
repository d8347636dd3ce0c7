package stores

import (
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// PostgresStore implements the stores on PostgreSQL.
type PostgresStore struct {
	gormStore
	dsn string
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(config *StoreConfig) (*PostgresStore, error) {
	if config.Type != "postgres" {
		return nil, fmt.Errorf("invalid store type for PostgreSQL store: %s", config.Type)
	}

	store := &PostgresStore{
		dsn: config.Connection,
	}

	if err := store.Connect(config); err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	return store, nil
}

// Connect establishes a connection to the PostgreSQL database
func (s *PostgresStore) Connect(config *StoreConfig) error {
	db, err := gorm.Open(postgres.Open(postgresDSN(s.dsn, config.Options)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	s.db = db
	if err := s.configurePool(config); err != nil {
		return err
	}

	return s.migrate()
}

// postgresDSN adds Options as connection runtime parameters, for example
// search_path or application_name. Both URL and key=value DSNs are accepted.
func postgresDSN(dsn string, options map[string]string) string {
	if len(options) == 0 {
		return dsn
	}
	keys := slices.Sorted(maps.Keys(options))

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		if u, err := url.Parse(dsn); err == nil {
			q := u.Query()
			for _, k := range keys {
				q.Set(k, options[k])
			}
			u.RawQuery = q.Encode()
			return u.String()
		}
	}

	var b strings.Builder
	b.WriteString(dsn)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%s", k, quoteDSNValue(options[k]))
	}
	return b.String()
}

func quoteDSNValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}
