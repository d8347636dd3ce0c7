package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/Desarso/ragchat/stores"
)

const DefaultRetrievalLimit = 5

const noRelevantChunks = "No relevant information found in the database for this query. You may need to scrape a website first using the website_search tool."

// Retriever ranks stored chunks by cosine similarity to a query.
type Retriever struct {
	Store    stores.KnowledgeStore
	Embedder Embedder
	Logger   *slog.Logger
}

func NewRetriever(store stores.KnowledgeStore, embedder Embedder, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{Store: store, Embedder: embedder, Logger: logger}
}

// ScoredChunk is a chunk and its similarity to the query.
type ScoredChunk struct {
	Chunk stores.ContentChunk
	Score float64
}

// Search returns up to limit chunks, most similar first.
func (r *Retriever) Search(ctx context.Context, query string, limit int) ([]ScoredChunk, error) {
	if limit <= 0 {
		limit = DefaultRetrievalLimit
	}
	vectors, err := r.Embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("failed to embed query: %w", errEmbeddingCount)
	}
	queryVec := vectors[0]

	chunks, err := r.Store.AllChunks(ctx)
	if err != nil {
		return nil, err
	}

	scored := make([]ScoredChunk, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Embedding) != len(queryVec) {
			continue
		}
		scored = append(scored, ScoredChunk{Chunk: c, Score: cosineSimilarity(queryVec, c.Embedding)})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// QueryRelevantChunks renders the top chunks for the model. Failures come
// back as explanatory text.
func (r *Retriever) QueryRelevantChunks(ctx context.Context, query string, limit int) string {
	results, err := r.Search(ctx, query, limit)
	if err != nil {
		r.Logger.Error("chunk search failed", "error", err)
		return fmt.Sprintf("Error: Failed to search database: %v", err)
	}
	if len(results) == 0 {
		return noRelevantChunks
	}
	return FormatChunks(results)
}

// FormatChunks renders chunks as title/url/content blocks separated by
// blank lines.
func FormatChunks(results []ScoredChunk) string {
	var b strings.Builder
	for _, r := range results {
		title := r.Chunk.Website.Title
		if title == "" {
			title = "Unknown"
		}
		url := r.Chunk.Website.URL
		if url == "" {
			url = "Unknown"
		}
		fmt.Fprintf(&b, "Website Title: %s\n", title)
		fmt.Fprintf(&b, "Website URL: %s\n", url)
		fmt.Fprintf(&b, "Chunk Content: %s\n", r.Chunk.ChunkText)
		b.WriteString("\n\n")
	}
	return b.String()
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
