package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Desarso/ragchat/models"
	"github.com/Desarso/ragchat/stores"
	"github.com/google/uuid"
)

// Run persists userText, replays the conversation and drives the model
// until it answers, stops answering, or hits the iteration cap.
//
// Errors: the user turn failing to persist wraps ErrPersistUserMessage and
// stores.ErrPersistence, undecodable history wraps models.ErrMalformedContent, and an exhausted
// completion service wraps ErrCompletionFailed. Failing to persist the
// turns produced by the loop is logged only.
func (s *ChatSession) Run(ctx context.Context, userText string) (Result, error) {
	result := Result{ConversationID: s.ConversationID}
	if strings.TrimSpace(userText) == "" {
		return result, ErrEmptyMessage
	}

	traceID := uuid.NewString()
	logger := s.logger().With("trace_id", traceID)
	start := time.Now()

	if err := s.saveUserMessage(ctx, userText); err != nil {
		logger.Error("failed to save user message", "error", err)
		return result, err
	}

	history, err := s.loadHistory(ctx)
	if err != nil {
		logger.Error("failed to load history", "error", err)
		return result, err
	}

	state := &loopState{history: history}
	traces := &traceRecorder{conversationID: s.ConversationID, traceID: traceID}

	outcome, runErr := s.loop(ctx, state, traces, logger)
	s.flush(ctx, state, runErr != nil, logger)

	result.FinalText = state.finalText
	result.Iterations = state.iteration
	result.Outcome = outcome

	if runErr != nil {
		traces.loop(stores.TraceStatusError, state.iteration, time.Since(start), map[string]any{"error": runErr.Error()})
	} else {
		traces.loop(outcome.traceStatus(), state.iteration, time.Since(start), nil)
	}
	s.saveTraces(ctx, traces, logger)

	if runErr != nil {
		return result, runErr
	}
	logger.Info("agent run finished",
		"outcome", outcome,
		"iterations", state.iteration,
		"new_turns", len(state.newTurns),
		"duration", time.Since(start))
	return result, nil
}

func (s *ChatSession) maxIterations() int {
	if s.MaxIterations > 0 {
		return s.MaxIterations
	}
	return DefaultMaxIterations
}

func (s *ChatSession) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default().With("conversation_id", s.ConversationID)
}

// saveUserMessage writes the inbound message before anything else happens.
func (s *ChatSession) saveUserMessage(ctx context.Context, text string) error {
	serialized, err := models.Serialize(models.NewMessage(text))
	if err != nil {
		return err
	}
	if _, err := s.Store.Append(ctx, s.ConversationID, serialized, models.RoleUser); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistUserMessage, err)
	}
	return nil
}

// loadHistory replays the stored conversation. A conversation without turns
// starts empty; a turn that cannot be decoded fails the request.
func (s *ChatSession) loadHistory(ctx context.Context) ([]models.HistoryEntry, error) {
	turns, err := s.Store.List(ctx, s.ConversationID)
	if errors.Is(err, stores.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}

	history := make([]models.HistoryEntry, 0, len(turns))
	for _, t := range turns {
		entry, err := t.Decode()
		if err != nil {
			return nil, fmt.Errorf("turn %d of conversation %s: %w", t.ID, s.ConversationID, err)
		}
		history = append(history, entry)
	}
	return history, nil
}

func (s *ChatSession) loop(ctx context.Context, state *loopState, traces *traceRecorder, logger *slog.Logger) (Outcome, error) {
	tools := s.Dispatcher.Declarations()
	limit := s.maxIterations()

	for state.iteration < limit {
		state.iteration++

		resp, err := s.Completer.Complete(ctx, state.history, s.SystemPrompt, tools)
		if err != nil {
			return "", fmt.Errorf("%w: iteration %d: %w", ErrCompletionFailed, state.iteration, err)
		}

		toolCalls, messages := s.applyResponse(ctx, state, resp, traces, logger)
		switch {
		case toolCalls > 0:
			logger.Debug("tool calls executed, continuing", "iteration", state.iteration, "tool_calls", toolCalls)
			continue
		case messages > 0:
			return OutcomeDone, nil
		default:
			logger.Warn("completion returned neither tool calls nor a message", "iteration", state.iteration)
			return OutcomeEmptyResponse, nil
		}
	}

	logger.Warn("iteration cap reached", "max_iterations", limit, "has_final_text", state.finalText != "")
	return OutcomeIterationCap, nil
}

// applyResponse walks the output items in order, dispatching tool calls and
// recording messages. It returns how many of each it saw.
func (s *ChatSession) applyResponse(ctx context.Context, state *loopState, resp models.Model_Response, traces *traceRecorder, logger *slog.Logger) (toolCalls, messages int) {
	for _, part := range resp.Parts {
		// An empty message item still counts as the model's answer.
		if part.Text != nil {
			state.record(models.HistoryEntry{Role: models.RoleAssistant, Content: models.NewMessage(*part.Text)})
			state.finalText = *part.Text
			messages++
		}

		if part.FunctionCall == nil {
			continue
		}
		fc := part.FunctionCall
		callID := fc.ID
		if callID == "" {
			callID = "call_" + uuid.NewString()
			logger.Warn("tool call without id, generated one", "tool", fc.Name, "call_id", callID)
		}

		started := time.Now()
		output := s.Dispatcher.Dispatch(ctx, fc.Name, fc.Args)
		traces.dispatch(callID, fc.Name, time.Since(started), len(output))

		state.record(models.HistoryEntry{Role: models.RoleAssistant, Content: models.NewToolResult(callID, output)})
		toolCalls++
	}
	return toolCalls, messages
}

// flush writes the run's new turns in one batch. aborted marks a run that
// ended in an error, whose transcript is therefore partial.
func (s *ChatSession) flush(ctx context.Context, state *loopState, aborted bool, logger *slog.Logger) {
	if len(state.newTurns) == 0 {
		return
	}

	pending := make([]stores.PendingTurn, 0, len(state.newTurns))
	for _, entry := range state.newTurns {
		serialized, err := models.Serialize(entry.Content)
		if err != nil {
			logger.Error("failed to serialize turn, transcript not saved", "error", err)
			return
		}
		pending = append(pending, stores.PendingTurn{Content: serialized, Role: entry.Role})
	}

	if err := s.Store.AppendBatch(ctx, s.ConversationID, pending); err != nil {
		logger.Error("failed to save agent turns", "turns", len(pending), "error", err)
		return
	}
	if aborted {
		logger.Warn("partial flush of aborted run", "turns", len(pending))
	}
}

func (s *ChatSession) saveTraces(ctx context.Context, traces *traceRecorder, logger *slog.Logger) {
	if s.Traces == nil || len(traces.events) == 0 {
		return
	}
	if err := s.Traces.SaveTraces(ctx, traces.events); err != nil {
		logger.Warn("failed to save execution traces", "error", err)
	}
}

// traceRecorder buffers execution traces for one run.
type traceRecorder struct {
	conversationID string
	traceID        string
	events         []*stores.ExecutionTrace
}

func (r *traceRecorder) dispatch(callID, tool string, took time.Duration, outputLen int) {
	r.events = append(r.events, &stores.ExecutionTrace{
		ConversationID: r.conversationID,
		ToolCallID:     callID,
		TraceID:        r.traceID,
		Tool:           tool,
		Operation:      "dispatch",
		Status:         stores.TraceStatusEnd,
		Label:          "Dispatched " + tool,
		Details:        map[string]any{"output_chars": outputLen},
		Timestamp:      time.Now().UnixMilli(),
		DurationMS:     took.Milliseconds(),
	})
}

func (r *traceRecorder) loop(status string, iterations int, took time.Duration, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	details["iterations"] = iterations
	r.events = append(r.events, &stores.ExecutionTrace{
		ConversationID: r.conversationID,
		TraceID:        r.traceID,
		Operation:      "loop",
		Status:         status,
		Label:          "Agent loop " + status,
		Details:        details,
		Timestamp:      time.Now().UnixMilli(),
		DurationMS:     took.Milliseconds(),
	})
}
