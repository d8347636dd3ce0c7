package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Trace status values.
const (
	TraceStatusEnd           = "end"
	TraceStatusError         = "error"
	TraceStatusIterationCap  = "iteration_cap"
	TraceStatusEmptyResponse = "empty_response"
)

// ExecutionTrace records one tool dispatch or one agent-loop termination.
// Indexed by conversation_id and tool_call_id for efficient retrieval
type ExecutionTrace struct {
	ID             uint           `gorm:"primarykey" json:"-"`
	CreatedAt      time.Time      `json:"-"`
	ConversationID string         `gorm:"index:idx_trace_conv;not null" json:"conversation_id"`
	ToolCallID     string         `gorm:"index:idx_trace_conv;index:idx_trace_tool" json:"tool_call_id,omitempty"`
	TraceID        string         `gorm:"not null" json:"trace_id"`
	Tool           string         `json:"tool,omitempty"`
	Operation      string         `json:"operation"` // "dispatch" or "loop"
	Status         string         `gorm:"not null" json:"status"`
	Label          string         `json:"label"`
	DetailsJSON    string         `gorm:"type:text" json:"-"`         // Stored as JSON string
	Details        map[string]any `gorm:"-" json:"details,omitempty"` // Not stored, computed from DetailsJSON
	Timestamp      int64          `gorm:"not null" json:"timestamp"`
	DurationMS     int64          `json:"duration_ms,omitempty"`
}

// BeforeSave marshals Details to DetailsJSON
func (t *ExecutionTrace) BeforeSave(tx *gorm.DB) error {
	if t.Details != nil {
		data, err := json.Marshal(t.Details)
		if err != nil {
			return err
		}
		t.DetailsJSON = string(data)
	}
	return nil
}

// AfterFind unmarshals DetailsJSON to Details
func (t *ExecutionTrace) AfterFind(tx *gorm.DB) error {
	if t.DetailsJSON != "" {
		return json.Unmarshal([]byte(t.DetailsJSON), &t.Details)
	}
	return nil
}

// TraceStore interface for trace persistence operations
type TraceStore interface {
	SaveTraces(ctx context.Context, traces []*ExecutionTrace) error
	TracesByConversation(ctx context.Context, conversationID string) ([]*ExecutionTrace, error)
}

// SaveTraces saves multiple trace events in a batch
func (s *gormStore) SaveTraces(ctx context.Context, traces []*ExecutionTrace) error {
	if len(traces) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).CreateInBatches(traces, 100).Error; err != nil {
		return fmt.Errorf("%w: failed to save traces: %v", ErrPersistence, err)
	}
	return nil
}

// TracesByConversation retrieves all traces for a conversation, ordered by timestamp
func (s *gormStore) TracesByConversation(ctx context.Context, conversationID string) ([]*ExecutionTrace, error) {
	var traces []*ExecutionTrace
	err := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID).
		Order("timestamp ASC, id ASC").
		Find(&traces).Error
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load traces: %v", ErrPersistence, err)
	}
	return traces, nil
}
