package sessions

import (
	"context"
	"errors"
	"strings"

	"github.com/Desarso/ragchat/models"
	"github.com/gorilla/websocket"
)

// Serve reads chat frames until the peer disconnects. Each frame runs one
// agent loop and is answered with {response, conversation_id} or {error}.
// A frame without conversation_id continues the conversation of the
// previous frame on this connection.
func (ws *WebSocketSession) Serve(ctx context.Context) {
	defer ws.Conn.Close()

	conversationID := ""
	for {
		var req WebSocketChatRequest
		if err := ws.Conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ws.Logger.Warn("websocket read failed", "error", err)
			}
			break
		}

		if strings.TrimSpace(req.Message) == "" {
			if err := ws.Writer.WriteError("Message cannot be empty"); err != nil {
				ws.Logger.Warn("websocket write failed", "error", err)
				break
			}
			continue
		}
		if req.ConversationID != "" {
			conversationID = req.ConversationID
		}

		session := ws.Agent.NewChatSession(conversationID)
		conversationID = session.ConversationID

		result, err := session.Run(ctx, req.Message)
		if err != nil {
			ws.Logger.Error("chat run failed", "conversation_id", conversationID, "error", err)
			if werr := ws.Writer.WriteError(publicError(err)); werr != nil {
				break
			}
			continue
		}

		resp := models.ChatResponse{Response: result.FinalText, ConversationID: result.ConversationID}
		if err := ws.Writer.WriteResponse(resp); err != nil {
			ws.Logger.Warn("websocket write failed", "error", err)
			break
		}
	}

	ws.Logger.Info("websocket session ended", "conversation_id", conversationID)
}

// publicError is the caller-facing text for a failed run.
func publicError(err error) string {
	switch {
	case errors.Is(err, ErrEmptyMessage):
		return "Message cannot be empty"
	case errors.Is(err, ErrCompletionFailed):
		return "The assistant is temporarily unavailable. Please try again."
	default:
		return "An internal error occurred while processing your message"
	}
}
