package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Desarso/ragchat/stores"
	"github.com/robfig/cron/v3"
)

// Rescraper re-indexes a website regardless of its status.
type Rescraper interface {
	Rescrape(ctx context.Context, rawURL string) (ScrapeResult, error)
}

// Refresher periodically re-scrapes websites whose last scrape failed, and
// completed websites older than MaxAge when MaxAge is set.
type Refresher struct {
	Store   stores.KnowledgeStore
	Scraper Rescraper
	MaxAge  time.Duration
	Timeout time.Duration
	Logger  *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running sync.Mutex
}

func NewRefresher(store stores.KnowledgeStore, scraper Rescraper, maxAge time.Duration, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{
		Store:   store,
		Scraper: scraper,
		MaxAge:  maxAge,
		Timeout: 10 * time.Minute,
		Logger:  logger,
	}
}

// Start schedules refresh runs. schedule accepts standard cron expressions
// and descriptors such as "@every 1h".
func (r *Refresher) Start(schedule string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return fmt.Errorf("refresher already started")
	}

	c := cron.New()
	id, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.Timeout)
		defer cancel()
		r.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", schedule, err)
	}
	c.Start()
	r.cron = c

	if next := c.Entry(id).Next; !next.IsZero() {
		r.Logger.Info("website refresher scheduled", "schedule", schedule, "next_run", next.Format(time.RFC3339))
	}
	return nil
}

// Stop halts scheduling and waits for a running refresh to finish.
func (r *Refresher) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// RunOnce performs one refresh pass and returns the number of websites
// re-scraped successfully. Overlapping passes are skipped.
func (r *Refresher) RunOnce(ctx context.Context) int {
	if !r.running.TryLock() {
		r.Logger.Info("refresh already running, skipping")
		return 0
	}
	defer r.running.Unlock()

	due, err := r.dueWebsites(ctx)
	if err != nil {
		r.Logger.Error("failed to list websites for refresh", "error", err)
		return 0
	}

	refreshed := 0
	for _, site := range due {
		if ctx.Err() != nil {
			break
		}
		res, err := r.Scraper.Rescrape(ctx, site.URL)
		if err != nil {
			r.Logger.Warn("website refresh failed", "url", site.URL, "error", err)
			continue
		}
		refreshed++
		r.Logger.Info("website refreshed", "url", site.URL, "chunks", res.ChunksCount)
	}
	return refreshed
}

func (r *Refresher) dueWebsites(ctx context.Context) ([]stores.Website, error) {
	due, err := r.Store.ListWebsites(ctx, stores.WebsiteStatusFailed)
	if err != nil {
		return nil, err
	}
	if r.MaxAge <= 0 {
		return due, nil
	}

	completed, err := r.Store.ListWebsites(ctx, stores.WebsiteStatusCompleted)
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(-r.MaxAge)
	for _, site := range completed {
		if site.ScrapedAt == nil || site.ScrapedAt.Before(cutoff) {
			due = append(due, site)
		}
	}
	return due, nil
}
