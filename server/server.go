// Package server exposes the chat agent and the knowledge base over HTTP.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/Desarso/ragchat/knowledge"
	"github.com/Desarso/ragchat/sessions"
	"github.com/Desarso/ragchat/stores"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const DefaultPrefix = "/api"

// WebsiteScraper indexes a website on demand.
type WebsiteScraper interface {
	ScrapeAndStore(ctx context.Context, url string) (knowledge.ScrapeResult, error)
}

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	Agent     *sessions.Agent
	Store     stores.ConversationStore
	Knowledge stores.KnowledgeStore
	Scraper   WebsiteScraper
	Logger    *slog.Logger

	// AllowedOrigins lists CORS origins; "*" allows any.
	AllowedOrigins []string

	upgrader websocket.Upgrader
}

func New(agent *sessions.Agent, store stores.ConversationStore, kb stores.KnowledgeStore, scraper WebsiteScraper, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		Agent:          agent,
		Store:          store,
		Knowledge:      kb,
		Scraper:        scraper,
		Logger:         logger,
		AllowedOrigins: []string{"*"},
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.originAllowed,
	}
	return s
}

// Router builds the gin engine with every route mounted under prefix.
func (s *Server) Router(prefix string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(s.Logger), s.cors())

	r := router.Group(prefix)
	r.GET("/health", s.handleHealth)

	chat := r.Group("/chat")
	chat.POST("/message", s.handleChatMessage)
	chat.POST("/conversation_history", s.handleConversationHistory)
	chat.GET("/all_conversations", s.handleAllConversations)
	chat.DELETE("/conversation", s.handleDeleteConversation)
	chat.GET("/ws", s.handleWebSocket)

	websites := r.Group("/websites")
	websites.POST("/scrape", s.handleScrapeWebsite)
	websites.GET("", s.handleListWebsites)

	return router
}

// HTTPServer wraps the router in an http.Server with sane timeouts. The
// write timeout covers a full agent run.
func (s *Server) HTTPServer(addr, prefix string, writeTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Router(prefix),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      writeTimeout,
	}
}

func (s *Server) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}
