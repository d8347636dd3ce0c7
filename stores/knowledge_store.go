package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Website status values.
const (
	WebsiteStatusPending   = "pending"
	WebsiteStatusCompleted = "completed"
	WebsiteStatusFailed    = "failed"
)

// Website is a scraped (or to-be-scraped) page.
type Website struct {
	ID        uint       `gorm:"primarykey" json:"id"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	URL       string     `gorm:"size:2048;uniqueIndex;not null" json:"url"`
	Title     string     `gorm:"size:512" json:"title"`
	Status    string     `gorm:"size:50;index" json:"status"`
	ScrapedAt *time.Time `json:"scraped_at,omitempty"`
}

// ContentChunk is one embedded slice of a website's text.
type ContentChunk struct {
	ID            uint `gorm:"primarykey"`
	CreatedAt     time.Time
	WebsiteID     uint      `gorm:"index;not null"`
	Website       Website   `gorm:"constraint:OnDelete:CASCADE"`
	ChunkIndex    int       `gorm:"not null"`
	ChunkText     string    `gorm:"type:text;not null"`
	EmbeddingJSON string    `gorm:"type:text"`
	Embedding     []float32 `gorm:"-"`
}

// BeforeSave marshals Embedding to EmbeddingJSON
func (c *ContentChunk) BeforeSave(tx *gorm.DB) error {
	if c.Embedding != nil {
		data, err := json.Marshal(c.Embedding)
		if err != nil {
			return err
		}
		c.EmbeddingJSON = string(data)
	}
	return nil
}

// AfterFind unmarshals EmbeddingJSON to Embedding
func (c *ContentChunk) AfterFind(tx *gorm.DB) error {
	if c.EmbeddingJSON != "" {
		return json.Unmarshal([]byte(c.EmbeddingJSON), &c.Embedding)
	}
	return nil
}

// KnowledgeStore persists scraped websites and their chunks.
type KnowledgeStore interface {
	UpsertWebsite(ctx context.Context, url, title, status string) (*Website, error)
	UpdateWebsiteStatus(ctx context.Context, id uint, status string) error
	FindWebsiteByURL(ctx context.Context, url string) (*Website, error)
	ListWebsites(ctx context.Context, status string) ([]Website, error)
	// ReplaceChunks swaps a website's chunks atomically.
	ReplaceChunks(ctx context.Context, websiteID uint, chunks []ContentChunk) error
	CountChunks(ctx context.Context, websiteID uint) (int64, error)
	// AllChunks loads every embedded chunk with its website preloaded.
	AllChunks(ctx context.Context) ([]ContentChunk, error)
}

// UpsertWebsite creates or updates the website at url. An empty title keeps
// the stored one.
func (s *gormStore) UpsertWebsite(ctx context.Context, url, title, status string) (*Website, error) {
	site := Website{URL: url, Title: title, Status: status}
	columns := []string{"status", "updated_at"}
	if title != "" {
		columns = append(columns, "title")
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "url"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(&site).Error
	if err != nil {
		return nil, fmt.Errorf("%w: failed to upsert website: %v", ErrPersistence, err)
	}
	// On conflict some dialects leave the primary key unset, and the kept
	// title is only known to the database.
	if site.ID == 0 || title == "" {
		return s.FindWebsiteByURL(ctx, url)
	}
	return &site, nil
}

func (s *gormStore) UpdateWebsiteStatus(ctx context.Context, id uint, status string) error {
	updates := map[string]interface{}{"status": status}
	if status == WebsiteStatusCompleted {
		updates["scraped_at"] = time.Now()
	}
	res := s.db.WithContext(ctx).Model(&Website{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("%w: failed to update website status: %v", ErrPersistence, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: website %d", ErrNotFound, id)
	}
	return nil
}

func (s *gormStore) FindWebsiteByURL(ctx context.Context, url string) (*Website, error) {
	var site Website
	err := s.db.WithContext(ctx).Where("url = ?", url).First(&site).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: website %s", ErrNotFound, url)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to find website: %v", ErrPersistence, err)
	}
	return &site, nil
}

// ListWebsites returns websites with the given status, or all when status is empty.
func (s *gormStore) ListWebsites(ctx context.Context, status string) ([]Website, error) {
	q := s.db.WithContext(ctx).Order("id ASC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var sites []Website
	if err := q.Find(&sites).Error; err != nil {
		return nil, fmt.Errorf("%w: failed to list websites: %v", ErrPersistence, err)
	}
	return sites, nil
}

func (s *gormStore) ReplaceChunks(ctx context.Context, websiteID uint, chunks []ContentChunk) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("website_id = ?", websiteID).Delete(&ContentChunk{}).Error; err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		for i := range chunks {
			chunks[i].WebsiteID = websiteID
		}
		return tx.Omit("Website").CreateInBatches(chunks, 100).Error
	})
	if err != nil {
		return fmt.Errorf("%w: failed to store chunks: %v", ErrPersistence, err)
	}
	return nil
}

func (s *gormStore) CountChunks(ctx context.Context, websiteID uint) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&ContentChunk{}).Where("website_id = ?", websiteID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("%w: failed to count chunks: %v", ErrPersistence, err)
	}
	return n, nil
}

func (s *gormStore) AllChunks(ctx context.Context) ([]ContentChunk, error) {
	var chunks []ContentChunk
	err := s.db.WithContext(ctx).
		Preload("Website").
		Where("embedding_json <> ''").
		Order("id ASC").
		Find(&chunks).Error
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load chunks: %v", ErrPersistence, err)
	}
	return chunks, nil
}
