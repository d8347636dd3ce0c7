package knowledge

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"

	ai "github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

// Embedder turns texts into vectors, one per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

var errEmbeddingCount = errors.New("embedding count does not match input count")

// embeddingClient is the subset of *ai.Client used by OpenAIEmbedder.
type embeddingClient interface {
	CreateEmbeddings(ctx context.Context, conv ai.EmbeddingRequestConverter) (ai.EmbeddingResponse, error)
}

// OpenAIEmbedder calls the OpenAI embeddings endpoint.
type OpenAIEmbedder struct {
	Model ai.EmbeddingModel

	client embeddingClient
}

func NewOpenAIEmbedder(apiKey, baseURL string, model ai.EmbeddingModel) *OpenAIEmbedder {
	cfg := ai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = ai.SmallEmbedding3
	}
	return &OpenAIEmbedder{Model: model, client: ai.NewClientWithConfig(cfg)}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.client.CreateEmbeddings(ctx, ai.EmbeddingRequest{
		Input: texts,
		Model: e.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d, want %d", errEmbeddingCount, len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for i, d := range resp.Data {
		idx := d.Index
		if idx < 0 || idx >= len(out) {
			idx = i
		}
		out[idx] = d.Embedding
	}
	return out, nil
}

// contentEmbedder is the subset of the genai Models service used here.
type contentEmbedder interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

const DefaultGeminiEmbeddingModel = "text-embedding-004"

// GeminiEmbedder calls the Gemini embedContent endpoint.
type GeminiEmbedder struct {
	Model string

	models contentEmbedder
}

func NewGeminiEmbedder(ctx context.Context, apiKey, model string) (*GeminiEmbedder, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	if model == "" {
		model = DefaultGeminiEmbeddingModel
	}
	return &GeminiEmbedder{Model: model, models: client.Models}, nil
}

func (e *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	contents := make([]*genai.Content, 0, len(texts))
	for _, t := range texts {
		contents = append(contents, genai.NewContentFromText(t, genai.RoleUser))
	}
	resp, err := e.models.EmbedContent(ctx, e.Model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("gemini embeddings: %w", err)
	}
	if resp == nil || len(resp.Embeddings) != len(texts) {
		got := 0
		if resp != nil {
			got = len(resp.Embeddings)
		}
		return nil, fmt.Errorf("%w: got %d, want %d", errEmbeddingCount, got, len(texts))
	}
	out := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		if emb != nil {
			out[i] = emb.Values
		}
	}
	return out, nil
}

// CachedEmbedder memoizes vectors per text in a bounded LRU.
// Safe for concurrent use.
type CachedEmbedder struct {
	next     Embedder
	capacity int

	mu    sync.Mutex
	order *list.List // front is most recently used
	items map[string]*list.Element
}

type cacheEntry struct {
	text   string
	vector []float32
}

const DefaultEmbeddingCacheSize = 1024

func NewCachedEmbedder(next Embedder, capacity int) *CachedEmbedder {
	if capacity <= 0 {
		capacity = DefaultEmbeddingCacheSize
	}
	return &CachedEmbedder{
		next:     next,
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

// Embed serves hits from the cache and sends only misses downstream.
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int

	c.mu.Lock()
	for i, t := range texts {
		if el, ok := c.items[t]; ok {
			c.order.MoveToFront(el)
			out[i] = el.Value.(*cacheEntry).vector
			continue
		}
		missTexts = append(missTexts, t)
		missIdx = append(missIdx, i)
	}
	c.mu.Unlock()

	if len(missTexts) == 0 {
		return out, nil
	}

	vectors, err := c.next.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missTexts) {
		return nil, fmt.Errorf("%w: got %d, want %d", errEmbeddingCount, len(vectors), len(missTexts))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for j, v := range vectors {
		out[missIdx[j]] = v
		c.put(missTexts[j], v)
	}
	return out, nil
}

// Len reports the number of cached vectors.
func (c *CachedEmbedder) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *CachedEmbedder) put(text string, vector []float32) {
	if el, ok := c.items[text]; ok {
		el.Value.(*cacheEntry).vector = vector
		c.order.MoveToFront(el)
		return
	}
	c.items[text] = c.order.PushFront(&cacheEntry{text: text, vector: vector})
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).text)
	}
}
