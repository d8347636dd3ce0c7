package sessions

import (
	"log/slog"
	"time"

	"github.com/Desarso/ragchat/models"
	"github.com/Desarso/ragchat/stores"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Agent holds the collaborators shared by every session. All of them are
// safe for concurrent use, so one Agent serves all requests.
type Agent struct {
	Completer     models.Completer
	Dispatcher    ToolDispatcher
	Store         stores.ConversationStore
	Traces        stores.TraceStore
	SystemPrompt  string
	MaxIterations int
	Logger        *slog.Logger
}

// NewAgent creates an Agent with the default prompt and iteration cap.
func NewAgent(completer models.Completer, dispatcher ToolDispatcher, store stores.ConversationStore, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		Completer:     completer,
		Dispatcher:    dispatcher,
		Store:         store,
		SystemPrompt:  DefaultSystemPrompt,
		MaxIterations: DefaultMaxIterations,
		Logger:        logger,
	}
}

// NewChatSession creates a session for conversationID, generating a new id
// when it is empty.
func (a *Agent) NewChatSession(conversationID string) *ChatSession {
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	return &ChatSession{
		ConversationID: conversationID,
		Completer:      a.Completer,
		Dispatcher:     a.Dispatcher,
		Store:          a.Store,
		Traces:         a.Traces,
		SystemPrompt:   a.SystemPrompt,
		MaxIterations:  a.MaxIterations,
		Logger:         a.Logger.With("conversation_id", conversationID),
	}
}

// NewWebSocketSession creates a session bound to conn.
func (a *Agent) NewWebSocketSession(conn *websocket.Conn) *WebSocketSession {
	logger := a.Logger.With("transport", "ws", "remote", conn.RemoteAddr().String())
	return &WebSocketSession{
		Agent:  a,
		Conn:   conn,
		Writer: &WebSocketWriter{Conn: conn, WriteTimeout: 10 * time.Second},
		Logger: logger,
	}
}
