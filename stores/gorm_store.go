package stores

import (
	"context"
	"fmt"

	"github.com/Desarso/ragchat/models"
	"gorm.io/gorm"
)

// gormStore implements ConversationStore, KnowledgeStore and TraceStore on
// any GORM dialect. Each call checks a connection out of the database/sql
// pool only for its own duration.
type gormStore struct {
	db *gorm.DB
}

func (s *gormStore) migrate() error {
	if err := s.db.AutoMigrate(&Turn{}, &Website{}, &ContentChunk{}, &ExecutionTrace{}); err != nil {
		return fmt.Errorf("failed to migrate database schema: %w", err)
	}
	return nil
}

func (s *gormStore) configurePool(config *StoreConfig) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	if config.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	}
	return nil
}

// Close closes the database connection
func (s *gormStore) Close() error {
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

// Ping checks if the database connection is alive
func (s *gormStore) Ping() error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}

	return sqlDB.Ping()
}

// Append writes a single turn.
func (s *gormStore) Append(ctx context.Context, conversationID, content string, role models.Role) (uint, error) {
	if s.db == nil {
		return 0, fmt.Errorf("%w: database connection is nil", ErrPersistence)
	}
	turn := Turn{
		ConversationID: conversationID,
		Content:        content,
		Sender:         string(role),
	}
	if err := s.db.WithContext(ctx).Create(&turn).Error; err != nil {
		return 0, fmt.Errorf("%w: failed to create turn record: %v", ErrPersistence, err)
	}
	return turn.ID, nil
}

// AppendBatch writes turns in order; either all of them land or none do.
func (s *gormStore) AppendBatch(ctx context.Context, conversationID string, turns []PendingTurn) error {
	if len(turns) == 0 {
		return nil
	}
	if s.db == nil {
		return fmt.Errorf("%w: database connection is nil", ErrPersistence)
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, pt := range turns {
			turn := Turn{
				ConversationID: conversationID,
				Content:        pt.Content,
				Sender:         string(pt.Role),
			}
			// One insert per turn keeps id order equal to slice order.
			if err := tx.Create(&turn).Error; err != nil {
				return fmt.Errorf("turn %d: %v", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: failed to append %d turns: %v", ErrPersistence, len(turns), err)
	}
	return nil
}

// List retrieves turns for a conversation in sequence order.
func (s *gormStore) List(ctx context.Context, conversationID string) ([]Turn, error) {
	if s.db == nil {
		return nil, fmt.Errorf("%w: database connection is nil", ErrPersistence)
	}

	var turns []Turn
	if err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id ASC").
		Find(&turns).Error; err != nil {
		return nil, fmt.Errorf("%w: failed to fetch turns: %v", ErrPersistence, err)
	}
	if len(turns) == 0 {
		return nil, fmt.Errorf("%w: no messages found for conversation %s", ErrNotFound, conversationID)
	}
	return turns, nil
}

// conversationRow is the grouped listing query result.
type conversationRow struct {
	ConversationID string
	LastID         uint
	FirstUserID    *uint
}

// ListConversations returns one summary per conversation, most recent first.
// Ordering uses the latest turn id, which grows with time.
func (s *gormStore) ListConversations(ctx context.Context) ([]ConversationSummary, error) {
	if s.db == nil {
		return nil, fmt.Errorf("%w: database connection is nil", ErrPersistence)
	}

	var rows []conversationRow
	err := s.db.WithContext(ctx).Model(&Turn{}).
		Select("conversation_id, MAX(id) AS last_id, MIN(CASE WHEN sender = ? THEN id END) AS first_user_id", string(models.RoleUser)).
		Group("conversation_id").
		Order("last_id DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list conversations: %v", ErrPersistence, err)
	}
	if len(rows) == 0 {
		return []ConversationSummary{}, nil
	}

	ids := make([]uint, 0, len(rows)*2)
	for _, r := range rows {
		ids = append(ids, r.LastID)
		if r.FirstUserID != nil {
			ids = append(ids, *r.FirstUserID)
		}
	}
	var turns []Turn
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&turns).Error; err != nil {
		return nil, fmt.Errorf("%w: failed to load conversation turns: %v", ErrPersistence, err)
	}
	byID := make(map[uint]Turn, len(turns))
	for _, t := range turns {
		byID[t.ID] = t
	}

	summaries := make([]ConversationSummary, 0, len(rows))
	for _, r := range rows {
		summary := ConversationSummary{
			ConversationID: r.ConversationID,
			Timestamp:      byID[r.LastID].CreatedAt,
		}
		if r.FirstUserID != nil {
			summary.FirstMessage = firstMessageText(byID[*r.FirstUserID])
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// firstMessageText is a display helper; an undecodable row shows its raw
// stored text rather than failing the whole listing.
func firstMessageText(t Turn) string {
	entry, err := t.Decode()
	if err != nil {
		return t.Content
	}
	return models.TextOf(entry.Content)
}

// Delete removes all turns of a conversation.
func (s *gormStore) Delete(ctx context.Context, conversationID string) (int64, error) {
	if s.db == nil {
		return 0, fmt.Errorf("%w: database connection is nil", ErrPersistence)
	}
	res := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID).Delete(&Turn{})
	if res.Error != nil {
		return 0, fmt.Errorf("%w: failed to delete conversation: %v", ErrPersistence, res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, fmt.Errorf("%w: no messages found for conversation %s", ErrNotFound, conversationID)
	}
	return res.RowsAffected, nil
}
