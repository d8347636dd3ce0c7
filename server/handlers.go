package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Desarso/ragchat/knowledge"
	"github.com/Desarso/ragchat/models"
	"github.com/Desarso/ragchat/sessions"
	"github.com/Desarso/ragchat/stores"
	"github.com/gin-gonic/gin"
)

// requireJSON rejects bodies that are not declared as JSON. A missing
// Content-Type is a bad request rather than an unsupported one.
func requireJSON(c *gin.Context) bool {
	if c.GetHeader("Content-Type") == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Request body is required and must be valid JSON"})
		return false
	}
	if c.ContentType() != gin.MIMEJSON {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "Content-Type must be application/json"})
		return false
	}
	return true
}

// bindBody decodes the JSON body into req, answering 400 on failure.
func bindBody(c *gin.Context, req interface{}) bool {
	if !requireJSON(c) {
		return false
	}
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Request body is required and must be valid JSON"})
		return false
	}
	return true
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.Store.Ping(); err != nil {
		s.Logger.Error("health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *Server) handleChatMessage(c *gin.Context) {
	var req models.ChatRequest
	if !bindBody(c, &req) {
		return
	}
	if req.Message == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message is required in request body"})
		return
	}
	message := strings.TrimSpace(*req.Message)
	if message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message cannot be empty"})
		return
	}

	session := s.Agent.NewChatSession(strings.TrimSpace(req.ConversationID))
	logger := s.Logger.With("conversation_id", session.ConversationID)

	// A client disconnect must not abandon a half-finished run.
	ctx := context.WithoutCancel(c.Request.Context())
	result, err := session.Run(ctx, message)
	if err != nil {
		logger.Error("chat run failed", "error", err)
		switch {
		case errors.Is(err, sessions.ErrEmptyMessage):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Message cannot be empty"})
		case errors.Is(err, sessions.ErrPersistUserMessage):
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save user message"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "An unexpected error occurred while processing your message"})
		}
		return
	}

	c.JSON(http.StatusOK, models.ChatResponse{
		Response:       result.FinalText,
		ConversationID: result.ConversationID,
	})
}

func (s *Server) handleConversationHistory(c *gin.Context) {
	var req models.ConversationRequest
	if !bindBody(c, &req) {
		return
	}
	conversationID := strings.TrimSpace(req.ConversationID)
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Conversation ID is required in request body and cannot be empty"})
		return
	}

	turns, err := s.Store.List(c.Request.Context(), conversationID)
	if errors.Is(err, stores.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("No messages found for conversation %s", conversationID)})
		return
	}
	if err != nil {
		s.Logger.Error("failed to load conversation history", "conversation_id", conversationID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "An unexpected error occurred while retrieving conversation history"})
		return
	}

	history := make([]models.ChatMessageResponse, 0, len(turns))
	for _, turn := range turns {
		entry, err := turn.Decode()
		if err != nil {
			s.Logger.Error("stored turn is malformed", "conversation_id", conversationID, "turn_id", turn.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "An unexpected error occurred while retrieving conversation history"})
			return
		}
		history = append(history, models.NewChatMessageResponse(turn.ID, conversationID, entry, turn.CreatedAt))
	}
	c.JSON(http.StatusOK, gin.H{"conversation_history": history})
}

func (s *Server) handleAllConversations(c *gin.Context) {
	summaries, err := s.Store.ListConversations(c.Request.Context())
	if err != nil {
		s.Logger.Error("failed to list conversations", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "An unexpected error occurred while retrieving all conversations"})
		return
	}

	conversations := make([]models.ConversationSummaryResponse, 0, len(summaries))
	for _, sum := range summaries {
		conversations = append(conversations, models.ConversationSummaryResponse{
			ConversationID: sum.ConversationID,
			Timestamp:      sum.Timestamp,
			FirstMessage:   sum.FirstMessage,
		})
	}
	c.JSON(http.StatusOK, gin.H{"conversations": conversations})
}

func (s *Server) handleDeleteConversation(c *gin.Context) {
	var req models.ConversationRequest
	if !bindBody(c, &req) {
		return
	}
	conversationID := strings.TrimSpace(req.ConversationID)
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Conversation ID is required in request body and cannot be empty"})
		return
	}

	deleted, err := s.Store.Delete(c.Request.Context(), conversationID)
	if errors.Is(err, stores.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("No messages found for conversation %s", conversationID)})
		return
	}
	if err != nil {
		s.Logger.Error("failed to delete conversation", "conversation_id", conversationID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "An unexpected error occurred while deleting conversation"})
		return
	}
	s.Logger.Info("conversation deleted", "conversation_id", conversationID, "turns", deleted)
	c.JSON(http.StatusOK, gin.H{"message": "Conversation deleted successfully", "deleted": deleted})
}

func (s *Server) handleScrapeWebsite(c *gin.Context) {
	var req models.ScrapeRequest
	if !bindBody(c, &req) {
		return
	}
	target := strings.TrimSpace(req.URL)
	if target == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "URL cannot be empty"})
		return
	}
	if err := knowledge.ValidateURL(target); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid URL: %s", target)})
		return
	}

	ctx := context.WithoutCancel(c.Request.Context())
	result, err := s.Scraper.ScrapeAndStore(ctx, target)
	if err != nil {
		s.Logger.Error("website scrape failed", "url", target, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to scrape website"})
		return
	}

	message := result.Message
	if message == "" {
		message = "Website scraped and chunks stored successfully"
	}
	c.JSON(http.StatusOK, gin.H{
		"message":      message,
		"website":      result.Website,
		"chunks_count": result.ChunksCount,
	})
}

func (s *Server) handleListWebsites(c *gin.Context) {
	status := c.Query("status")
	switch status {
	case "", stores.WebsiteStatusPending, stores.WebsiteStatusCompleted, stores.WebsiteStatusFailed:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid status: %s", status)})
		return
	}

	sites, err := s.Knowledge.ListWebsites(c.Request.Context(), status)
	if err != nil {
		s.Logger.Error("failed to list websites", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "An unexpected error occurred while retrieving websites"})
		return
	}
	if sites == nil {
		sites = []stores.Website{}
	}
	c.JSON(http.StatusOK, gin.H{"websites": sites})
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	s.Logger.Info("websocket connected", "remote", c.ClientIP())
	s.Agent.NewWebSocketSession(conn).Serve(context.WithoutCancel(c.Request.Context()))
}
