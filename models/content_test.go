package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		content Content
	}{
		{"visible message", NewMessage("What is the return policy?")},
		{"hidden message", Message{Text: "internal note", ShowUser: false}},
		{"empty message", NewMessage("")},
		{"tool result", NewToolResult("call_1", "Website Title: Shop\n")},
		{"visible tool result", ToolResult{CallID: "call_2", Output: "ok", ShowUser: true}},
		{"unicode", NewMessage("héllo \"quoted\" \n newline")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Serialize(tt.content)
			require.NoError(t, err)
			got, err := Deserialize(s)
			require.NoError(t, err)
			assert.Equal(t, tt.content, got)
		})
	}
}

func TestSerializeCanonicalForm(t *testing.T) {
	s, err := Serialize(NewMessage("hi"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"message","content":"hi","show_user":true}`, s)

	s, err = Serialize(NewToolResult("call_1", "out"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"function_call_output","call_id":"call_1","output":"out","show_user":false}`, s)

	ptr := NewMessage("via pointer")
	s, err = Serialize(&ptr)
	require.NoError(t, err)
	assert.Contains(t, s, "via pointer")
}

func TestDeserializeDefaultsShowUser(t *testing.T) {
	msg, err := Deserialize(`{"type":"message","content":"hello"}`)
	require.NoError(t, err)
	assert.Equal(t, NewMessage("hello"), msg)
	assert.True(t, msg.Visible())

	tr, err := Deserialize(`{"type":"function_call_output","call_id":"c","output":"o"}`)
	require.NoError(t, err)
	assert.Equal(t, NewToolResult("c", "o"), tr)
	assert.False(t, tr.Visible())
}

func TestDeserializeRejectsMalformed(t *testing.T) {
	for name, raw := range map[string]string{
		"not json":         "plain text",
		"missing type":     `{"content":"hi"}`,
		"unknown type":     `{"type":"image","content":"x"}`,
		"message no text":  `{"type":"message"}`,
		"result no output": `{"type":"function_call_output","call_id":"c"}`,
		"result no id":     `{"type":"function_call_output","output":"o"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Deserialize(raw)
			assert.ErrorIs(t, err, ErrMalformedContent)
		})
	}
}

func TestTextOf(t *testing.T) {
	assert.Equal(t, "hi", TextOf(NewMessage("hi")))
	assert.Equal(t, "out", TextOf(NewToolResult("c", "out")))
}

func TestParseRole(t *testing.T) {
	role, err := ParseRole("user")
	require.NoError(t, err)
	assert.Equal(t, RoleUser, role)

	role, err = ParseRole("agent")
	require.NoError(t, err)
	assert.Equal(t, RoleAssistant, role)

	_, err = ParseRole("system")
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestDecodeTurn(t *testing.T) {
	entry, err := DecodeTurn("assistant", `{"type":"message","content":"answer","show_user":true}`)
	require.NoError(t, err)
	assert.Equal(t, HistoryEntry{Role: RoleAssistant, Content: NewMessage("answer")}, entry)

	_, err = DecodeTurn("robot", `{"type":"message","content":"x"}`)
	assert.ErrorIs(t, err, ErrMalformedContent)
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestToModelMessagesKeepsOrder(t *testing.T) {
	history := []HistoryEntry{
		{Role: RoleUser, Content: NewMessage("q")},
		{Role: RoleAssistant, Content: NewToolResult("call_1", "data")},
		{Role: RoleAssistant, Content: NewMessage("a")},
	}
	msgs, err := ToModelMessages(history)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.JSONEq(t, `{"type":"function_call_output","call_id":"call_1","output":"data","show_user":false}`, msgs[1].Content)
	assert.Contains(t, msgs[2].Content, `"content":"a"`)
}

func TestParseToolArgs(t *testing.T) {
	args, err := ParseToolArgs(ToolWebsiteSearch, map[string]interface{}{"website_url": " https://shop.example "})
	require.NoError(t, err)
	assert.Equal(t, WebsiteSearchArgs{WebsiteURL: "https://shop.example"}, args)

	args, err = ParseToolArgs(ToolQueryDatabase, map[string]interface{}{"user_query": "returns"})
	require.NoError(t, err)
	assert.Equal(t, QueryDatabaseArgs{UserQuery: "returns"}, args)

	_, err = ParseToolArgs(ToolWebsiteSearch, map[string]interface{}{})
	assert.EqualError(t, err, "website_url is required for website_search function")

	_, err = ParseToolArgs(ToolQueryDatabase, map[string]interface{}{"user_query": 42})
	assert.EqualError(t, err, "user_query is required for query_database function")

	args, err = ParseToolArgs("get_weather", map[string]interface{}{"city": "Oslo"})
	require.NoError(t, err)
	assert.Equal(t, "get_weather", args.ToolName())
}

func TestParametersSchema(t *testing.T) {
	schema := Parameters{Type: "object", Properties: map[string]interface{}{}}.Schema()
	assert.Equal(t, []string{}, schema["required"])
	assert.Equal(t, "object", schema["type"])
}
