package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Content type tags as persisted in the "type" field of an envelope.
const (
	ContentTypeMessage    = "message"
	ContentTypeToolResult = "function_call_output"
)

// ErrMalformedContent is returned when a persisted envelope cannot be decoded.
var ErrMalformedContent = errors.New("malformed content")

// Content is one turn of conversation content. It is either a Message or a
// ToolResult; no other implementations exist.
type Content interface {
	ContentType() string
	Visible() bool
	isContent()
}

// Message is natural-language text written by the user or the model.
type Message struct {
	Text     string
	ShowUser bool
}

// NewMessage returns a Message that is shown to the user.
func NewMessage(text string) Message {
	return Message{Text: text, ShowUser: true}
}

func (Message) ContentType() string { return ContentTypeMessage }
func (m Message) Visible() bool     { return m.ShowUser }
func (Message) isContent()          {}

// ToolResult is the output of one dispatched tool call, keyed by the call id
// the completion service issued for it.
type ToolResult struct {
	CallID   string
	Output   string
	ShowUser bool
}

// NewToolResult returns a ToolResult hidden from the user.
func NewToolResult(callID, output string) ToolResult {
	return ToolResult{CallID: callID, Output: output, ShowUser: false}
}

func (ToolResult) ContentType() string { return ContentTypeToolResult }
func (t ToolResult) Visible() bool     { return t.ShowUser }
func (ToolResult) isContent()          {}

// envelope is the canonical persisted form. Pointer fields let Deserialize
// tell an absent field from an empty one.
type envelope struct {
	Type     string  `json:"type"`
	Content  *string `json:"content,omitempty"`
	CallID   *string `json:"call_id,omitempty"`
	Output   *string `json:"output,omitempty"`
	ShowUser *bool   `json:"show_user,omitempty"`
}

// Serialize renders content in its canonical persisted form.
func Serialize(c Content) (string, error) {
	var env envelope
	switch v := c.(type) {
	case Message:
		env = envelope{Type: ContentTypeMessage, Content: &v.Text, ShowUser: &v.ShowUser}
	case *Message:
		return Serialize(*v)
	case ToolResult:
		env = envelope{Type: ContentTypeToolResult, CallID: &v.CallID, Output: &v.Output, ShowUser: &v.ShowUser}
	case *ToolResult:
		return Serialize(*v)
	default:
		return "", fmt.Errorf("cannot serialize content of type %T", c)
	}

	b, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s envelope: %w", env.Type, err)
	}
	return string(b), nil
}

// Deserialize decodes a canonical envelope. Unknown tags and missing required
// fields are reported as ErrMalformedContent.
func Deserialize(s string) (Content, error) {
	var env envelope
	if err := json.Unmarshal([]byte(s), &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedContent, err)
	}

	switch env.Type {
	case ContentTypeMessage:
		if env.Content == nil {
			return nil, fmt.Errorf("%w: message envelope missing content", ErrMalformedContent)
		}
		msg := NewMessage(*env.Content)
		if env.ShowUser != nil {
			msg.ShowUser = *env.ShowUser
		}
		return msg, nil

	case ContentTypeToolResult:
		if env.CallID == nil || env.Output == nil {
			return nil, fmt.Errorf("%w: function_call_output envelope missing call_id or output", ErrMalformedContent)
		}
		tr := NewToolResult(*env.CallID, *env.Output)
		if env.ShowUser != nil {
			tr.ShowUser = *env.ShowUser
		}
		return tr, nil

	case "":
		return nil, fmt.Errorf("%w: envelope missing type", ErrMalformedContent)
	default:
		return nil, fmt.Errorf("%w: unknown content type %q", ErrMalformedContent, env.Type)
	}
}

// ToModelFormat renders content the way it is shown to the completion
// service. The model receives the full envelope, show_user included; the
// system prompt tells it where tool outputs live.
func ToModelFormat(c Content) (string, error) {
	return Serialize(c)
}

// TextOf returns the human-readable text carried by content: the message
// text or the tool output.
func TextOf(c Content) string {
	switch v := c.(type) {
	case Message:
		return v.Text
	case ToolResult:
		return v.Output
	}
	return ""
}
