// Package ragchat wires the retrieval-augmented chat service together.
package ragchat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Desarso/ragchat/common_tools"
	"github.com/Desarso/ragchat/knowledge"
	"github.com/Desarso/ragchat/models"
	"github.com/Desarso/ragchat/models/gemini"
	"github.com/Desarso/ragchat/models/openai"
	"github.com/Desarso/ragchat/server"
	"github.com/Desarso/ragchat/sessions"
	"github.com/Desarso/ragchat/stores"
	"github.com/gin-gonic/gin"
	ai "github.com/sashabaranov/go-openai"
)

const shutdownTimeout = 30 * time.Second

// App is the assembled service.
type App struct {
	Config    *Config
	Logger    *slog.Logger
	Store     stores.Store
	Agent     *sessions.Agent
	Scraper   *knowledge.Scraper
	Refresher *knowledge.Refresher
	HTTP      *http.Server
}

// NewApp builds every component from cfg. The caller owns Close.
func NewApp(ctx context.Context, cfg *Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	store, err := stores.NewStore(&cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Type, err)
	}

	completer, err := newCompleter(ctx, cfg, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	embedder, err := newEmbedder(ctx, cfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	scraper := knowledge.NewScraper(store, embedder, logger.With("component", "scraper"))
	retriever := knowledge.NewRetriever(store, embedder, logger.With("component", "retriever"))
	dispatcher := common_tools.NewDispatcher(scraper, retriever, logger.With("component", "tools"))

	agent := sessions.NewAgent(completer, dispatcher, store, logger.With("component", "agent"))
	agent.Traces = store
	agent.MaxIterations = cfg.MaxIterations

	srv := server.New(agent, store, store, scraper, logger.With("component", "http"))
	srv.AllowedOrigins = cfg.AllowedOrigins

	app := &App{
		Config:  cfg,
		Logger:  logger,
		Store:   store,
		Agent:   agent,
		Scraper: scraper,
		HTTP:    srv.HTTPServer(cfg.Addr, cfg.Prefix, cfg.WriteTimeout),
	}
	if cfg.RefreshSchedule != "" {
		app.Refresher = knowledge.NewRefresher(store, scraper, cfg.RefreshMaxAge, logger.With("component", "refresher"))
	}
	return app, nil
}

func newCompleter(ctx context.Context, cfg *Config, logger *slog.Logger) (models.Completer, error) {
	var model models.Model
	switch cfg.Provider {
	case ProviderGemini:
		g, err := gemini.New(ctx, cfg.GeminiAPIKey, cfg.CompletionModel(), logger.With("provider", "gemini"))
		if err != nil {
			return nil, err
		}
		model = g
	default:
		model = openai.New(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.CompletionModel(), logger.With("provider", "openai"))
	}

	completer := models.NewRetryingCompleter(model, cfg.Attempts, logger.With("component", "completer"))
	completer.AttemptTimeout = cfg.AttemptTimeout
	return completer, nil
}

func newEmbedder(ctx context.Context, cfg *Config) (knowledge.Embedder, error) {
	var base knowledge.Embedder
	switch cfg.EmbeddingProvider {
	case ProviderGemini:
		g, err := knowledge.NewGeminiEmbedder(ctx, cfg.GeminiAPIKey, cfg.EmbeddingModel)
		if err != nil {
			return nil, err
		}
		base = g
	default:
		base = knowledge.NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, ai.EmbeddingModel(cfg.EmbeddingModel))
	}
	return knowledge.NewCachedEmbedder(base, cfg.EmbeddingCacheSize), nil
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	if a.Refresher != nil {
		if err := a.Refresher.Start(a.Config.RefreshSchedule); err != nil {
			return err
		}
		defer a.Refresher.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("server listening", "addr", a.Config.Addr, "prefix", a.Config.Prefix,
			"provider", a.Config.Provider, "model", a.Config.CompletionModel(), "store", a.Config.Store.Type)
		if err := a.HTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.Logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.HTTP.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Close releases the store.
func (a *App) Close() error {
	return a.Store.Close()
}
