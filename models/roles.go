package models

import (
	"errors"
	"fmt"
)

// Role identifies the sender of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"

	// legacySenderAgent is what older rows store for assistant turns.
	legacySenderAgent = "agent"
)

var ErrUnknownRole = errors.New("unknown role")

// ParseRole maps a persisted sender string to a Role. "agent" is accepted as
// a synonym for "assistant".
func ParseRole(sender string) (Role, error) {
	switch sender {
	case string(RoleUser):
		return RoleUser, nil
	case string(RoleAssistant), legacySenderAgent:
		return RoleAssistant, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, sender)
}

// HistoryEntry is one decoded turn of working history.
type HistoryEntry struct {
	Role    Role
	Content Content
}

// DecodeTurn decodes a persisted (sender, content) pair. Any failure is
// fatal for the enclosing request; callers must not skip the turn.
func DecodeTurn(sender, serialized string) (HistoryEntry, error) {
	role, err := ParseRole(sender)
	if err != nil {
		return HistoryEntry{}, fmt.Errorf("%w: %w", ErrMalformedContent, err)
	}
	content, err := Deserialize(serialized)
	if err != nil {
		return HistoryEntry{}, err
	}
	return HistoryEntry{Role: role, Content: content}, nil
}

// ModelMessage is one history entry rendered for a completion provider.
type ModelMessage struct {
	Role    Role
	Content string
}

// ToModelMessages renders working history in model format, preserving order.
func ToModelMessages(history []HistoryEntry) ([]ModelMessage, error) {
	out := make([]ModelMessage, 0, len(history))
	for i, entry := range history {
		text, err := ToModelFormat(entry.Content)
		if err != nil {
			return nil, fmt.Errorf("history entry %d: %w", i, err)
		}
		out = append(out, ModelMessage{Role: entry.Role, Content: text})
	}
	return out, nil
}
