// Package gemini adapts the Gemini API to the models.Model interface.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	models "github.com/Desarso/ragchat/models"
	"google.golang.org/genai"
)

const DefaultModel = "gemini-2.0-flash"

// generator is the subset of the genai Models service used here.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type Gemini_Model struct {
	Model  string
	Logger *slog.Logger

	models generator
}

// New creates a Gemini model using the Gemini API backend.
func New(ctx context.Context, apiKey, model string, logger *slog.Logger) (*Gemini_Model, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gemini_Model{Model: model, Logger: logger, models: client.Models}, nil
}

// Model_Request implements models.Model with a single GenerateContent call.
func (g *Gemini_Model) Model_Request(ctx context.Context, history []models.HistoryEntry, systemPrompt string, tools []models.FunctionDeclaration) (models.Model_Response, error) {
	contents, err := toContents(history)
	if err != nil {
		return models.Model_Response{}, err
	}

	config := &genai.GenerateContentConfig{}
	if systemPrompt != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: systemPrompt}}}
	}
	if len(tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(tools))
		for _, t := range tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: t.Parameters.Schema(),
			})
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	modelToUse := g.Model
	if modelToUse == "" {
		modelToUse = DefaultModel
	}

	resp, err := g.models.GenerateContent(ctx, modelToUse, contents, config)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return models.Model_Response{}, err
		}
		// The Gemini API does not expose a stable typed error; treat every
		// provider failure as retryable and let the attempt budget bound it.
		return models.Model_Response{}, models.Transient(err)
	}
	return toModelResponse(resp), nil
}

func toContents(history []models.HistoryEntry) ([]*genai.Content, error) {
	rendered, err := models.ToModelMessages(history)
	if err != nil {
		return nil, fmt.Errorf("failed to render history: %w", err)
	}
	contents := make([]*genai.Content, 0, len(rendered))
	for _, m := range rendered {
		role := "user"
		if m.Role == models.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}
	return contents, nil
}

func toModelResponse(resp *genai.GenerateContentResponse) models.Model_Response {
	out := models.Model_Response{}
	if resp == nil || len(resp.Candidates) == 0 {
		return out
	}
	// Only the first candidate is used; others are alternatives, not continuations.
	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		return out
	}
	for _, part := range candidate.Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		if part.FunctionCall != nil {
			args := part.FunctionCall.Args
			if args == nil {
				args = map[string]interface{}{}
			}
			out.Parts = append(out.Parts, models.FunctionCallPart(part.FunctionCall.ID, part.FunctionCall.Name, args))
			continue
		}
		if part.Text != "" {
			out.Parts = append(out.Parts, models.TextPart(part.Text))
		}
	}
	return out
}
