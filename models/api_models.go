package models

import "time"

// ChatRequest is the body of POST /chat/message.
type ChatRequest struct {
	Message        *string `json:"message"`
	ConversationID string  `json:"conversation_id"`
}

// ChatResponse is returned for a completed chat request.
type ChatResponse struct {
	Response       string `json:"response"`
	ConversationID string `json:"conversation_id"`
}

// ConversationRequest is the body of the history and delete endpoints.
type ConversationRequest struct {
	ConversationID string `json:"conversation_id"`
}

// ChatMessageResponse defines the structure for turns returned by the chat history API endpoint.
type ChatMessageResponse struct {
	ID             uint      `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Type           string    `json:"type"`              // "message" or "function_call_output"
	Content        string    `json:"content,omitempty"` // message text
	CallID         string    `json:"call_id,omitempty"`
	Output         string    `json:"output,omitempty"` // tool output
	ShowUser       bool      `json:"show_user"`
	Timestamp      time.Time `json:"timestamp"`
}

// NewChatMessageResponse flattens a decoded turn for the API.
func NewChatMessageResponse(id uint, conversationID string, entry HistoryEntry, ts time.Time) ChatMessageResponse {
	resp := ChatMessageResponse{
		ID:             id,
		ConversationID: conversationID,
		Role:           entry.Role,
		Type:           entry.Content.ContentType(),
		ShowUser:       entry.Content.Visible(),
		Timestamp:      ts,
	}
	switch c := entry.Content.(type) {
	case Message:
		resp.Content = c.Text
	case ToolResult:
		resp.CallID = c.CallID
		resp.Output = c.Output
	}
	return resp
}

// ConversationSummaryResponse is one row of GET /chat/all_conversations.
type ConversationSummaryResponse struct {
	ConversationID string    `json:"conversation_id"`
	Timestamp      time.Time `json:"timestamp"`
	FirstMessage   string    `json:"first_message"`
}

// ScrapeRequest is the body of POST /websites/scrape.
type ScrapeRequest struct {
	URL string `json:"url"`
}
