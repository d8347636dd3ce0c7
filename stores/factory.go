package stores

import "fmt"

// Store is everything the application persists: turns, scraped knowledge
// and execution traces, all behind one connection pool.
type Store interface {
	ConversationStore
	KnowledgeStore
	TraceStore
}

// NewStore creates a new store based on the configuration
func NewStore(config *StoreConfig) (Store, error) {
	switch config.Type {
	case "sqlite":
		store, err := NewSQLiteStore(config)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "postgres":
		store, err := NewPostgresStore(config)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported store type: %s", config.Type)
	}
}
