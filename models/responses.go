package models

// Model_Response is one completion-service response: an ordered sequence of
// output items, each either text or a function call.
type Model_Response struct {
	Parts []Model_Part `json:"parts"`
}

// FunctionCall is a tool-call request emitted by the model.
type FunctionCall struct {
	ID   string                 `json:"id,omitempty"` // Unique ID for this specific call instance
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

// Model_Part is one output item. Exactly one of Text or FunctionCall is set.
type Model_Part struct {
	Text         *string       `json:"text,omitempty"`
	FunctionCall *FunctionCall `json:"functionCall,omitempty"`
}

// TextPart builds a text output item.
func TextPart(text string) Model_Part {
	return Model_Part{Text: &text}
}

// FunctionCallPart builds a function-call output item.
func FunctionCallPart(id, name string, args map[string]interface{}) Model_Part {
	return Model_Part{FunctionCall: &FunctionCall{ID: id, Name: name, Args: args}}
}
