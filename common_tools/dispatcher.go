package common_tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Desarso/ragchat/knowledge"
	"github.com/Desarso/ragchat/models"
)

const defaultQueryLimit = knowledge.DefaultRetrievalLimit

// WebsiteScraper indexes a website into the knowledge store.
type WebsiteScraper interface {
	ScrapeAndStore(ctx context.Context, url string) (knowledge.ScrapeResult, error)
}

// ChunkRetriever returns stored content relevant to a query, already
// formatted for the model.
type ChunkRetriever interface {
	QueryRelevantChunks(ctx context.Context, query string, limit int) string
}

// Dispatcher routes tool calls by name. It holds no per-request state and
// is safe for concurrent use.
type Dispatcher struct {
	Scraper   WebsiteScraper
	Retriever ChunkRetriever
	Logger    *slog.Logger
}

func NewDispatcher(scraper WebsiteScraper, retriever ChunkRetriever, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{Scraper: scraper, Retriever: retriever, Logger: logger}
}

// Declarations returns the tools this dispatcher can execute.
func (d *Dispatcher) Declarations() []models.FunctionDeclaration {
	return DefaultTools()
}

// Dispatch runs the named tool and returns its output. Failures are
// reported as text, never as an error.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args map[string]interface{}) string {
	parsed, err := models.ParseToolArgs(name, args)
	if err != nil {
		d.Logger.Error("invalid tool arguments", "tool", name, "error", err)
		return fmt.Sprintf("Error: %v", err)
	}

	switch a := parsed.(type) {
	case models.WebsiteSearchArgs:
		return d.websiteSearch(ctx, a)
	case models.QueryDatabaseArgs:
		return d.queryDatabase(ctx, a)
	default:
		d.Logger.Warn("unknown function call", "tool", name)
		return fmt.Sprintf("Error: Unknown function '%s'", name)
	}
}

func (d *Dispatcher) websiteSearch(ctx context.Context, args models.WebsiteSearchArgs) string {
	d.Logger.Info("handling website_search", "url", args.WebsiteURL)
	if d.Scraper == nil {
		return "Error scraping website: scraper is not configured"
	}

	res, err := d.Scraper.ScrapeAndStore(ctx, args.WebsiteURL)
	if err != nil {
		d.Logger.Error("website search failed", "url", args.WebsiteURL, "error", err)
		return fmt.Sprintf("Error scraping website: %v", err)
	}

	title := res.Website.Title
	if title == "" {
		title = "Unknown"
	}
	if res.Message != "" {
		return fmt.Sprintf("%s Title: %s, Chunks: %d", res.Message, title, res.ChunksCount)
	}
	return fmt.Sprintf("Website scraped successfully. Title: %s, Chunks stored: %d", title, res.ChunksCount)
}

func (d *Dispatcher) queryDatabase(ctx context.Context, args models.QueryDatabaseArgs) string {
	d.Logger.Info("handling query_database", "query", previewQuery(args.UserQuery, 50))
	if d.Retriever == nil {
		return "Error: Failed to search database: retriever is not configured"
	}

	out := d.Retriever.QueryRelevantChunks(ctx, args.UserQuery, defaultQueryLimit)
	d.Logger.Info("database query completed", "chars", len(out))
	return out
}

// previewQuery shortens q to at most n runes for logging.
func previewQuery(q string, n int) string {
	runes := []rune(q)
	if len(runes) <= n {
		return q
	}
	return string(runes[:n]) + "..."
}
