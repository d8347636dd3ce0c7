// Package openai adapts OpenAI-compatible chat completion endpoints to the
// models.Model interface.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	models "github.com/Desarso/ragchat/models"
	ai "github.com/sashabaranov/go-openai"
)

const DefaultModel = "gpt-4o-mini"

// chatClient is the subset of *ai.Client used here.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, request ai.ChatCompletionRequest) (ai.ChatCompletionResponse, error)
}

// OpenAI_Model implements models.Model on top of the Chat Completions API.
// Any OpenAI-compatible base URL works.
type OpenAI_Model struct {
	Model       string
	Temperature *float32
	MaxTokens   int
	Logger      *slog.Logger

	client chatClient
}

// New builds a model bound to apiKey. baseURL may be empty for the default.
func New(apiKey, baseURL, model string, logger *slog.Logger) *OpenAI_Model {
	cfg := ai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAI_Model{
		Model:  model,
		Logger: logger,
		client: ai.NewClientWithConfig(cfg),
	}
}

// Model_Request implements models.Model. It makes exactly one request.
func (o *OpenAI_Model) Model_Request(ctx context.Context, history []models.HistoryEntry, systemPrompt string, tools []models.FunctionDeclaration) (models.Model_Response, error) {
	req, err := o.buildRequest(history, systemPrompt, tools)
	if err != nil {
		return models.Model_Response{}, err
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return models.Model_Response{}, classify(err)
	}
	return o.toModelResponse(resp), nil
}

func (o *OpenAI_Model) buildRequest(history []models.HistoryEntry, systemPrompt string, tools []models.FunctionDeclaration) (ai.ChatCompletionRequest, error) {
	rendered, err := models.ToModelMessages(history)
	if err != nil {
		return ai.ChatCompletionRequest{}, fmt.Errorf("failed to render history: %w", err)
	}

	messages := make([]ai.ChatCompletionMessage, 0, len(rendered)+1)
	if systemPrompt != "" {
		messages = append(messages, ai.ChatCompletionMessage{
			Role:    ai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	for _, m := range rendered {
		role := ai.ChatMessageRoleUser
		if m.Role == models.RoleAssistant {
			role = ai.ChatMessageRoleAssistant
		}
		messages = append(messages, ai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	modelToUse := o.Model
	if modelToUse == "" {
		modelToUse = DefaultModel
	}

	req := ai.ChatCompletionRequest{
		Model:     modelToUse,
		Messages:  messages,
		MaxTokens: o.MaxTokens,
	}
	if o.Temperature != nil {
		req.Temperature = *o.Temperature
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, ai.Tool{
			Type: ai.ToolTypeFunction,
			Function: &ai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters.Schema(),
			},
		})
	}
	return req, nil
}

// toModelResponse keeps the provider's item order: text first, then tool
// calls, per choice.
func (o *OpenAI_Model) toModelResponse(resp ai.ChatCompletionResponse) models.Model_Response {
	out := models.Model_Response{}
	for _, choice := range resp.Choices {
		if choice.Message.Content != "" {
			out.Parts = append(out.Parts, models.TextPart(choice.Message.Content))
		}
		for _, tc := range choice.Message.ToolCalls {
			if tc.Type != "" && tc.Type != ai.ToolTypeFunction {
				continue
			}
			args := map[string]interface{}{}
			if tc.Function.Arguments != "" {
				if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
					o.Logger.Warn("failed to unmarshal tool call arguments", "tool", tc.Function.Name, "error", err)
					args = map[string]interface{}{}
				}
			}
			out.Parts = append(out.Parts, models.FunctionCallPart(tc.ID, tc.Function.Name, args))
		}
	}
	return out
}

// classify marks network failures, rate limits and server errors as transient.
func classify(err error) error {
	var apiErr *ai.APIError
	if errors.As(err, &apiErr) {
		if retryableStatus(apiErr.HTTPStatusCode) {
			return models.Transient(err)
		}
		return err
	}
	var reqErr *ai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == 0 || retryableStatus(reqErr.HTTPStatusCode) {
			return models.Transient(err)
		}
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return models.Transient(err)
	}
	return err
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}
