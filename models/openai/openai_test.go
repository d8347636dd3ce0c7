package openai

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	models "github.com/Desarso/ragchat/models"
	ai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChatClient struct {
	resp ai.ChatCompletionResponse
	err  error
	req  ai.ChatCompletionRequest
}

func (f *fakeChatClient) CreateChatCompletion(_ context.Context, req ai.ChatCompletionRequest) (ai.ChatCompletionResponse, error) {
	f.req = req
	return f.resp, f.err
}

func newTestModel(client chatClient) *OpenAI_Model {
	return &OpenAI_Model{Logger: slog.New(slog.NewTextHandler(io.Discard, nil)), client: client}
}

func TestModelRequestBuildsMessagesAndTools(t *testing.T) {
	client := &fakeChatClient{}
	history := []models.HistoryEntry{
		{Role: models.RoleUser, Content: models.NewMessage("hi")},
		{Role: models.RoleAssistant, Content: models.NewToolResult("call_1", "data")},
	}
	tools := []models.FunctionDeclaration{{
		Name:        "query_database",
		Description: "search",
		Parameters:  models.Parameters{Type: "object", Properties: map[string]interface{}{}},
	}}

	_, err := newTestModel(client).Model_Request(context.Background(), history, "be helpful", tools)
	require.NoError(t, err)

	req := client.req
	assert.Equal(t, DefaultModel, req.Model)
	require.Len(t, req.Messages, 3)
	assert.Equal(t, ai.ChatMessageRoleSystem, req.Messages[0].Role)
	assert.Equal(t, "be helpful", req.Messages[0].Content)
	assert.Equal(t, ai.ChatMessageRoleUser, req.Messages[1].Role)
	assert.JSONEq(t, `{"type":"message","content":"hi","show_user":true}`, req.Messages[1].Content)
	assert.Equal(t, ai.ChatMessageRoleAssistant, req.Messages[2].Role)

	require.Len(t, req.Tools, 1)
	assert.Equal(t, "query_database", req.Tools[0].Function.Name)
}

func TestModelRequestParsesResponse(t *testing.T) {
	client := &fakeChatClient{resp: ai.ChatCompletionResponse{Choices: []ai.ChatCompletionChoice{{
		Message: ai.ChatCompletionMessage{
			Content: "Looking it up.",
			ToolCalls: []ai.ToolCall{
				{ID: "call_1", Type: ai.ToolTypeFunction, Function: ai.FunctionCall{Name: "query_database", Arguments: `{"user_query":"returns"}`}},
				{ID: "call_2", Type: ai.ToolTypeFunction, Function: ai.FunctionCall{Name: "website_search", Arguments: `not json`}},
			},
		},
	}}}}

	resp, err := newTestModel(client).Model_Request(context.Background(), []models.HistoryEntry{{Role: models.RoleUser, Content: models.NewMessage("q")}}, "", nil)
	require.NoError(t, err)
	require.Len(t, resp.Parts, 3)

	assert.Equal(t, "Looking it up.", *resp.Parts[0].Text)
	assert.Equal(t, "call_1", resp.Parts[1].FunctionCall.ID)
	assert.Equal(t, "returns", resp.Parts[1].FunctionCall.Args["user_query"])
	assert.Equal(t, "website_search", resp.Parts[2].FunctionCall.Name)
	assert.Empty(t, resp.Parts[2].FunctionCall.Args)
}

func TestClassify(t *testing.T) {
	assert.True(t, models.IsTransient(classify(&ai.APIError{HTTPStatusCode: http.StatusTooManyRequests})))
	assert.True(t, models.IsTransient(classify(&ai.APIError{HTTPStatusCode: http.StatusBadGateway})))
	assert.False(t, models.IsTransient(classify(&ai.APIError{HTTPStatusCode: http.StatusUnauthorized})))
	assert.True(t, models.IsTransient(classify(&ai.RequestError{HTTPStatusCode: 0, Err: errors.New("reset")})))
	assert.False(t, models.IsTransient(classify(errors.New("bad request body"))))
}
