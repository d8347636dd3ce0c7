package sessions

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Desarso/ragchat/models"
	"github.com/Desarso/ragchat/stores"
	"github.com/gorilla/websocket"
)

var (
	// ErrCompletionFailed means the completion service gave up after its
	// retry budget. Turns from earlier iterations are still persisted.
	ErrCompletionFailed = errors.New("completion failed")
	// ErrEmptyMessage is returned for a blank user message.
	ErrEmptyMessage = errors.New("message cannot be empty")
	// ErrPersistUserMessage means the inbound message could not be stored;
	// nothing else happened.
	ErrPersistUserMessage = errors.New("failed to save user message")
)

// DefaultMaxIterations bounds the number of completion calls per run.
const DefaultMaxIterations = 10

// Outcome is how a successful run terminated.
type Outcome string

const (
	OutcomeDone          Outcome = "done"
	OutcomeIterationCap  Outcome = "iteration_cap"
	OutcomeEmptyResponse Outcome = "empty_response"
)

func (o Outcome) traceStatus() string {
	switch o {
	case OutcomeIterationCap:
		return stores.TraceStatusIterationCap
	case OutcomeEmptyResponse:
		return stores.TraceStatusEmptyResponse
	}
	return stores.TraceStatusEnd
}

// Result is what a run hands back to its caller. FinalText may be empty
// when the model never produced a message.
type Result struct {
	FinalText      string
	ConversationID string
	Iterations     int
	Outcome        Outcome
}

// ToolDispatcher executes tool calls by name and describes the tools it offers.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, name string, args map[string]interface{}) string
	Declarations() []models.FunctionDeclaration
}

// ChatSession runs the agent loop for one conversation.
type ChatSession struct {
	ConversationID string
	Completer      models.Completer
	Dispatcher     ToolDispatcher
	Store          stores.ConversationStore
	Traces         stores.TraceStore // optional
	SystemPrompt   string
	MaxIterations  int
	Logger         *slog.Logger
}

// loopState is the working state of one run.
type loopState struct {
	history   []models.HistoryEntry
	iteration int
	finalText string
	newTurns  []models.HistoryEntry
}

func (st *loopState) record(entry models.HistoryEntry) {
	st.history = append(st.history, entry)
	st.newTurns = append(st.newTurns, entry)
}

// WebSocketWriter serializes writes to a WebSocket connection.
type WebSocketWriter struct {
	Conn         *websocket.Conn
	WriteTimeout time.Duration
	mu           sync.Mutex
}

func (w *WebSocketWriter) WriteResponse(resp interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.WriteTimeout > 0 {
		w.Conn.SetWriteDeadline(time.Now().Add(w.WriteTimeout))
	}
	return w.Conn.WriteJSON(resp)
}

func (w *WebSocketWriter) WriteError(message string) error {
	return w.WriteResponse(map[string]string{"error": message})
}

// WebSocketChatRequest is one inbound frame.
type WebSocketChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
}

// WebSocketSession answers chat frames on one connection, one at a time.
type WebSocketSession struct {
	Agent  *Agent
	Conn   *websocket.Conn
	Writer *WebSocketWriter
	Logger *slog.Logger
}
