package stores

import (
	"context"
	"errors"
	"time"

	"github.com/Desarso/ragchat/models"
)

var (
	// ErrNotFound means no turns exist for a conversation. For a fresh
	// conversation this is the normal "start empty" case.
	ErrNotFound = errors.New("not found")
	// ErrPersistence wraps any underlying storage fault.
	ErrPersistence = errors.New("persistence error")
)

// Turn is one persisted unit of conversation content. The auto-increment ID
// is the ordering sequence within a conversation.
type Turn struct {
	ID             uint      `gorm:"primarykey"`
	CreatedAt      time.Time `gorm:"index"`
	ConversationID string    `gorm:"size:255;index;not null"`
	Content        string    `gorm:"type:text;not null"` // canonical serialized envelope
	Sender         string    `gorm:"size:50;not null"`   // "user" | "assistant" ("agent" on legacy rows)
}

// Decode returns the typed role and content of the turn.
func (t Turn) Decode() (models.HistoryEntry, error) {
	return models.DecodeTurn(t.Sender, t.Content)
}

// PendingTurn is a turn waiting to be written.
type PendingTurn struct {
	Content string
	Role    models.Role
}

// ConversationSummary holds basic conversation metadata for listing
type ConversationSummary struct {
	ConversationID string
	Timestamp      time.Time // latest turn
	FirstMessage   string    // text of the first user turn
}

// ConversationStore is the append-only turn log.
type ConversationStore interface {
	// Append writes one turn in its own transaction and returns its id.
	Append(ctx context.Context, conversationID, content string, role models.Role) (uint, error)
	// AppendBatch writes turns in order within one transaction.
	AppendBatch(ctx context.Context, conversationID string, turns []PendingTurn) error
	// List returns turns ordered by sequence, or ErrNotFound when there are none.
	List(ctx context.Context, conversationID string) ([]Turn, error)
	// ListConversations returns summaries, most recent first. Empty is not an error.
	ListConversations(ctx context.Context) ([]ConversationSummary, error)
	// Delete removes every turn of a conversation, or returns ErrNotFound.
	Delete(ctx context.Context, conversationID string) (int64, error)

	Ping() error
	Close() error
}

// StoreConfig holds configuration for database stores
type StoreConfig struct {
	Type            string            `json:"type" yaml:"type"`             // "sqlite" or "postgres"
	Connection      string            `json:"connection" yaml:"connection"` // DSN or file path
	MaxOpenConns    int               `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int               `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration     `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	Options         map[string]string `json:"options" yaml:"options"`
}

// NewStoreConfig creates a new store configuration
func NewStoreConfig(storeType, connection string) *StoreConfig {
	return &StoreConfig{
		Type:            storeType,
		Connection:      connection,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		Options:         make(map[string]string),
	}
}

// WithOption adds an option to the store configuration
func (c *StoreConfig) WithOption(key, value string) *StoreConfig {
	if c.Options == nil {
		c.Options = make(map[string]string)
	}
	c.Options[key] = value
	return c
}
