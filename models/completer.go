package models

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrEmptyHistory is returned when a completion is requested with no history.
// It is a caller error and is never retried.
var ErrEmptyHistory = errors.New("conversation history is empty")

// Model is a single-attempt completion provider.
type Model interface {
	Model_Request(ctx context.Context, history []HistoryEntry, systemPrompt string, tools []FunctionDeclaration) (Model_Response, error)
}

// Completer is the completion service as seen by the agent loop.
type Completer interface {
	Complete(ctx context.Context, history []HistoryEntry, systemPrompt string, tools []FunctionDeclaration) (Model_Response, error)
}

// TransientError marks a provider failure worth retrying (network, timeout,
// rate limit, 5xx).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable. A nil err stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is marked retryable or is a per-attempt
// deadline.
func IsTransient(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// RetryingCompleter calls Model up to Attempts times on transient failure.
// Each attempt is a fresh request with its own timeout.
type RetryingCompleter struct {
	Model          Model
	Attempts       int
	Backoff        time.Duration
	AttemptTimeout time.Duration
	Logger         *slog.Logger
}

// NewRetryingCompleter wraps model with the given attempt budget.
func NewRetryingCompleter(model Model, attempts int, logger *slog.Logger) *RetryingCompleter {
	if attempts < 1 {
		attempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryingCompleter{
		Model:          model,
		Attempts:       attempts,
		Backoff:        time.Second,
		AttemptTimeout: 60 * time.Second,
		Logger:         logger,
	}
}

// Complete implements Completer.
func (r *RetryingCompleter) Complete(ctx context.Context, history []HistoryEntry, systemPrompt string, tools []FunctionDeclaration) (Model_Response, error) {
	if len(history) == 0 {
		return Model_Response{}, ErrEmptyHistory
	}

	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := r.attempt(ctx, history, systemPrompt, tools)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !IsTransient(err) || ctx.Err() != nil {
			break
		}
		r.Logger.Warn("completion attempt failed", "attempt", attempt, "of", attempts, "error", err)
		if attempt < attempts && r.Backoff > 0 {
			select {
			case <-time.After(r.Backoff * time.Duration(attempt)):
			case <-ctx.Done():
				return Model_Response{}, fmt.Errorf("completion cancelled: %w", ctx.Err())
			}
		}
	}
	return Model_Response{}, fmt.Errorf("completion failed after %d attempt(s): %w", attempts, lastErr)
}

func (r *RetryingCompleter) attempt(ctx context.Context, history []HistoryEntry, systemPrompt string, tools []FunctionDeclaration) (Model_Response, error) {
	if r.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.AttemptTimeout)
		defer cancel()
	}
	return r.Model.Model_Request(ctx, history, systemPrompt, tools)
}
