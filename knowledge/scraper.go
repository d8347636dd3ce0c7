// Package knowledge scrapes websites into embedded chunks and retrieves the
// chunks most similar to a query.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Desarso/ragchat/stores"
)

const (
	DefaultScrapeAttempts = 3
	maxPageBytes          = 5 * 1024 * 1024

	noTitleFound = "no title found"
)

// ErrInvalidURL is returned for URLs that are not absolute http(s) URLs.
var ErrInvalidURL = errors.New("invalid URL")

// ScrapeResult describes a stored website.
type ScrapeResult struct {
	Website     stores.Website
	ChunksCount int
	Message     string
}

// httpGet is a package-level var so tests can mock it.
var httpGet = defaultHTTPGet

func defaultHTTPGet(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "ragchat/1.0 (website indexer)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain")
	return http.DefaultClient.Do(req)
}

// ValidateURL accepts absolute http and https URLs with a host.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: %s", ErrInvalidURL, raw)
	}
	return nil
}

// Scraper fetches a page, chunks and embeds its text, and stores the chunks.
type Scraper struct {
	Store        stores.KnowledgeStore
	Embedder     Embedder
	Attempts     int
	RetryDelay   time.Duration
	ChunkSize    int
	ChunkOverlap int
	Logger       *slog.Logger
}

func NewScraper(store stores.KnowledgeStore, embedder Embedder, logger *slog.Logger) *Scraper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scraper{
		Store:        store,
		Embedder:     embedder,
		Attempts:     DefaultScrapeAttempts,
		RetryDelay:   time.Second,
		ChunkSize:    DefaultChunkSize,
		ChunkOverlap: DefaultChunkOverlap,
		Logger:       logger,
	}
}

// ScrapeAndStore indexes a website. A website that already completed is
// returned as is.
func (s *Scraper) ScrapeAndStore(ctx context.Context, rawURL string) (ScrapeResult, error) {
	return s.scrape(ctx, strings.TrimSpace(rawURL), false)
}

// Rescrape indexes a website again even if it already completed.
func (s *Scraper) Rescrape(ctx context.Context, rawURL string) (ScrapeResult, error) {
	return s.scrape(ctx, strings.TrimSpace(rawURL), true)
}

func (s *Scraper) scrape(ctx context.Context, target string, force bool) (ScrapeResult, error) {
	if err := ValidateURL(target); err != nil {
		return ScrapeResult{}, err
	}
	logger := s.Logger.With("url", target)

	if !force {
		existing, err := s.Store.FindWebsiteByURL(ctx, target)
		switch {
		case err == nil && existing.Status == stores.WebsiteStatusCompleted:
			count, err := s.Store.CountChunks(ctx, existing.ID)
			if err != nil {
				return ScrapeResult{}, err
			}
			logger.Info("website already scraped", "website_id", existing.ID)
			return ScrapeResult{Website: *existing, ChunksCount: int(count), Message: "Website already scraped."}, nil
		case err != nil && !errors.Is(err, stores.ErrNotFound):
			return ScrapeResult{}, err
		}
	}

	site, err := s.Store.UpsertWebsite(ctx, target, "", stores.WebsiteStatusPending)
	if err != nil {
		return ScrapeResult{}, err
	}

	result, err := s.index(ctx, site, logger)
	if err != nil {
		logger.Error("scrape failed", "error", err)
		if uerr := s.Store.UpdateWebsiteStatus(ctx, site.ID, stores.WebsiteStatusFailed); uerr != nil {
			logger.Warn("failed to mark website failed", "error", uerr)
		}
		return ScrapeResult{}, err
	}
	return result, nil
}

func (s *Scraper) index(ctx context.Context, site *stores.Website, logger *slog.Logger) (ScrapeResult, error) {
	raw, err := s.fetch(ctx, site.URL)
	if err != nil {
		return ScrapeResult{}, err
	}

	title, text := ExtractPage(raw)
	if title == "" {
		title = noTitleFound
	}
	if site, err = s.Store.UpsertWebsite(ctx, site.URL, title, stores.WebsiteStatusPending); err != nil {
		return ScrapeResult{}, err
	}

	chunks := ChunkText(text, s.ChunkSize, s.ChunkOverlap)
	if len(chunks) == 0 {
		logger.Warn("website has no content to chunk")
		if err := s.Store.ReplaceChunks(ctx, site.ID, nil); err != nil {
			return ScrapeResult{}, err
		}
		if err := s.Store.UpdateWebsiteStatus(ctx, site.ID, stores.WebsiteStatusCompleted); err != nil {
			return ScrapeResult{}, err
		}
		site.Status = stores.WebsiteStatusCompleted
		return ScrapeResult{Website: *site, Message: "Website scraped successfully but has no content to chunk."}, nil
	}

	vectors, err := s.Embedder.Embed(ctx, chunks)
	if err != nil {
		return ScrapeResult{}, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(vectors) != len(chunks) {
		return ScrapeResult{}, fmt.Errorf("failed to generate embeddings: %w", errEmbeddingCount)
	}

	rows := make([]stores.ContentChunk, len(chunks))
	for i, c := range chunks {
		rows[i] = stores.ContentChunk{ChunkIndex: i, ChunkText: c, Embedding: vectors[i]}
	}
	if err := s.Store.ReplaceChunks(ctx, site.ID, rows); err != nil {
		return ScrapeResult{}, err
	}
	if err := s.Store.UpdateWebsiteStatus(ctx, site.ID, stores.WebsiteStatusCompleted); err != nil {
		return ScrapeResult{}, err
	}
	site.Status = stores.WebsiteStatusCompleted

	logger.Info("website indexed", "title", title, "chunks", len(rows))
	return ScrapeResult{Website: *site, ChunksCount: len(rows)}, nil
}

// fetch retrieves the page body, retrying failed attempts.
func (s *Scraper) fetch(ctx context.Context, target string) (string, error) {
	attempts := s.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		body, err := fetchOnce(ctx, target)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		s.Logger.Warn("fetch attempt failed", "url", target, "attempt", attempt, "error", err)
		if attempt < attempts && s.RetryDelay > 0 {
			select {
			case <-time.After(s.RetryDelay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return "", fmt.Errorf("failed to scrape website after %d attempts: %w", attempts, lastErr)
}

func fetchOnce(ctx context.Context, target string) (string, error) {
	resp, err := httpGet(ctx, target)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("HTTP %d fetching %s", resp.StatusCode, target)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	return string(body), nil
}
