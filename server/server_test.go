package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/Desarso/ragchat/common_tools"
	"github.com/Desarso/ragchat/knowledge"
	"github.com/Desarso/ragchat/models"
	"github.com/Desarso/ragchat/sessions"
	"github.com/Desarso/ragchat/stores"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// queueCompleter returns its responses in order, then plain "ok" text.
type queueCompleter struct {
	mu        sync.Mutex
	responses []models.Model_Response
	err       error
	calls     int
}

func (q *queueCompleter) Complete(context.Context, []models.HistoryEntry, string, []models.FunctionDeclaration) (models.Model_Response, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	if q.err != nil {
		return models.Model_Response{}, q.err
	}
	if len(q.responses) == 0 {
		return models.Model_Response{Parts: []models.Model_Part{models.TextPart("ok")}}, nil
	}
	next := q.responses[0]
	q.responses = q.responses[1:]
	return next, nil
}

type fakeScraper struct {
	result knowledge.ScrapeResult
	err    error
	urls   []string
}

func (f *fakeScraper) ScrapeAndStore(_ context.Context, url string) (knowledge.ScrapeResult, error) {
	f.urls = append(f.urls, url)
	return f.result, f.err
}

type fakeRetriever struct{}

func (fakeRetriever) QueryRelevantChunks(_ context.Context, query string, _ int) string {
	return "Website Title: Shop\nWebsite URL: https://shop.example\nChunk Content: returns within 30 days\n"
}

type testEnv struct {
	store     stores.Store
	completer *queueCompleter
	scraper   *fakeScraper
	router    *gin.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := stores.NewSQLiteStoreSimple(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := &testEnv{
		store:     store,
		completer: &queueCompleter{},
		scraper:   &fakeScraper{},
	}
	dispatcher := common_tools.NewDispatcher(env.scraper, fakeRetriever{}, logger)
	agent := sessions.NewAgent(env.completer, dispatcher, store, logger)
	env.router = New(agent, store, store, env.scraper, logger).Router(DefaultPrefix)
	return env
}

func (e *testEnv) do(method, path, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) postJSON(path string, body interface{}) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestChatMessageRunsToolsAndAnswers(t *testing.T) {
	env := newTestEnv(t)
	env.completer.responses = []models.Model_Response{
		{Parts: []models.Model_Part{models.FunctionCallPart("call_1", "query_database", map[string]interface{}{"user_query": "returns"})}},
		{Parts: []models.Model_Part{models.TextPart("You can return items within 30 days.")}},
	}

	w := env.postJSON("/api/chat/message", map[string]string{"message": "What is the return policy?"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp models.ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "You can return items within 30 days.", resp.Response)
	require.NotEmpty(t, resp.ConversationID)

	w = env.postJSON("/api/chat/conversation_history", map[string]string{"conversation_id": resp.ConversationID})
	require.Equal(t, http.StatusOK, w.Code)

	var history struct {
		ConversationHistory []models.ChatMessageResponse `json:"conversation_history"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	require.Len(t, history.ConversationHistory, 3)

	assert.Equal(t, models.RoleUser, history.ConversationHistory[0].Role)
	assert.Equal(t, "What is the return policy?", history.ConversationHistory[0].Content)
	assert.True(t, history.ConversationHistory[0].ShowUser)

	assert.Equal(t, "function_call_output", history.ConversationHistory[1].Type)
	assert.Equal(t, "call_1", history.ConversationHistory[1].CallID)
	assert.Contains(t, history.ConversationHistory[1].Output, "returns within 30 days")
	assert.False(t, history.ConversationHistory[1].ShowUser)

	assert.Equal(t, models.RoleAssistant, history.ConversationHistory[2].Role)
	assert.Equal(t, "You can return items within 30 days.", history.ConversationHistory[2].Content)
}

func TestChatMessageContinuesConversation(t *testing.T) {
	env := newTestEnv(t)

	w := env.postJSON("/api/chat/message", map[string]string{"message": "hi", "conversation_id": "conv-1"})
	require.Equal(t, http.StatusOK, w.Code)
	w = env.postJSON("/api/chat/message", map[string]string{"message": "again", "conversation_id": "conv-1"})
	require.Equal(t, http.StatusOK, w.Code)

	turns, err := env.store.List(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Len(t, turns, 4)
}

func TestChatMessageRequiresJSONContentType(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/api/chat/message", "text/plain", `{"message":"hi"}`)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
	assert.Equal(t, "Content-Type must be application/json", decode(t, w)["error"])
	assert.Equal(t, 0, env.completer.calls)
}

func TestChatMessageMissingContentTypeIsBadRequest(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/api/chat/message", "", `{"message":"hi"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Request body is required and must be valid JSON", decode(t, w)["error"])
	assert.Equal(t, 0, env.completer.calls)
}

func TestChatMessageValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing body", "", "Request body is required and must be valid JSON"},
		{"invalid json", "{not json", "Request body is required and must be valid JSON"},
		{"missing message", `{"conversation_id":"c1"}`, "Message is required in request body"},
		{"blank message", `{"message":"   "}`, "Message cannot be empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(http.MethodPost, "/api/chat/message", "application/json", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.want, decode(t, w)["error"])
		})
	}
	assert.Equal(t, 0, env.completer.calls)

	summaries, err := env.store.ListConversations(context.Background())
	require.NoError(t, err)
	assert.Empty(t, summaries)
}

func TestChatMessageCompletionFailure(t *testing.T) {
	env := newTestEnv(t)
	env.completer.err = errors.New("provider down")

	w := env.postJSON("/api/chat/message", map[string]string{"message": "hi", "conversation_id": "c1"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode(t, w)
	assert.Equal(t, "An unexpected error occurred while processing your message", body["error"])
	assert.NotContains(t, w.Body.String(), "provider down")

	// The user message was stored before the run failed.
	turns, err := env.store.List(context.Background(), "c1")
	require.NoError(t, err)
	assert.Len(t, turns, 1)
}

func TestConversationHistoryErrors(t *testing.T) {
	env := newTestEnv(t)

	w := env.postJSON("/api/chat/conversation_history", map[string]string{"conversation_id": " "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Conversation ID is required in request body and cannot be empty", decode(t, w)["error"])

	w = env.postJSON("/api/chat/conversation_history", map[string]string{"conversation_id": "missing"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "No messages found for conversation missing", decode(t, w)["error"])

	w = env.do(http.MethodPost, "/api/chat/conversation_history", "text/plain", `{"conversation_id":"x"}`)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestAllConversations(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/api/chat/all_conversations", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"conversations":[]}`, w.Body.String())

	require.Equal(t, http.StatusOK, env.postJSON("/api/chat/message", map[string]string{"message": "first question", "conversation_id": "a"}).Code)
	require.Equal(t, http.StatusOK, env.postJSON("/api/chat/message", map[string]string{"message": "second question", "conversation_id": "b"}).Code)

	w = env.do(http.MethodGet, "/api/chat/all_conversations", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Conversations []models.ConversationSummaryResponse `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Conversations, 2)
	assert.Equal(t, "b", resp.Conversations[0].ConversationID)
	assert.Equal(t, "second question", resp.Conversations[0].FirstMessage)
	assert.Equal(t, "a", resp.Conversations[1].ConversationID)
}

func TestDeleteConversation(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.postJSON("/api/chat/message", map[string]string{"message": "hi", "conversation_id": "gone"}).Code)

	w := env.do(http.MethodDelete, "/api/chat/conversation", "application/json", `{"conversation_id":"gone"}`)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Conversation deleted successfully", body["message"])
	assert.Equal(t, float64(2), body["deleted"])

	w = env.postJSON("/api/chat/conversation_history", map[string]string{"conversation_id": "gone"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(http.MethodDelete, "/api/chat/conversation", "application/json", `{"conversation_id":"gone"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/api/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, w.Body.String())
}

func TestScrapeWebsite(t *testing.T) {
	env := newTestEnv(t)
	env.scraper.result = knowledge.ScrapeResult{
		Website:     stores.Website{ID: 1, URL: "https://shop.example", Title: "Shop", Status: stores.WebsiteStatusCompleted},
		ChunksCount: 4,
	}

	w := env.postJSON("/api/websites/scrape", map[string]string{"url": " https://shop.example "})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "Website scraped and chunks stored successfully", body["message"])
	assert.Equal(t, float64(4), body["chunks_count"])
	assert.Equal(t, "Shop", body["website"].(map[string]interface{})["title"])
	assert.Equal(t, []string{"https://shop.example"}, env.scraper.urls)
}

func TestScrapeWebsiteValidation(t *testing.T) {
	env := newTestEnv(t)

	w := env.postJSON("/api/websites/scrape", map[string]string{"url": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "URL cannot be empty", decode(t, w)["error"])

	w = env.postJSON("/api/websites/scrape", map[string]string{"url": "ftp://files.example"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid URL: ftp://files.example", decode(t, w)["error"])

	env.scraper.err = errors.New("boom")
	w = env.postJSON("/api/websites/scrape", map[string]string{"url": "https://shop.example"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Failed to scrape website", decode(t, w)["error"])
}

func TestListWebsites(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.store.UpsertWebsite(ctx, "https://a.example", "A", stores.WebsiteStatusCompleted)
	require.NoError(t, err)
	_, err = env.store.UpsertWebsite(ctx, "https://b.example", "B", stores.WebsiteStatusFailed)
	require.NoError(t, err)

	w := env.do(http.MethodGet, "/api/websites?status=failed", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Websites []stores.Website `json:"websites"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Websites, 1)
	assert.Equal(t, "https://b.example", resp.Websites[0].URL)

	w = env.do(http.MethodGet, "/api/websites?status=bogus", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/chat/message", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestWebSocketChat(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/chat/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"message": "hello", "conversation_id": "ws-1"}))
	var resp models.ChatResponse
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, "ok", resp.Response)
	assert.Equal(t, "ws-1", resp.ConversationID)
}
