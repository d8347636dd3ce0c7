package models

// FunctionDeclaration describes a tool to the completion service.
type FunctionDeclaration struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Parameters  Parameters `json:"parameters"`
}

// Parameters defines the JSON Schema for function parameters
type Parameters struct {
	Type       string                 `json:"type"`
	Properties map[string]interface{} `json:"properties"`
	Required   []string               `json:"required"`
}

// Schema returns the parameters as a plain JSON-schema map.
func (p Parameters) Schema() map[string]interface{} {
	required := p.Required
	if required == nil {
		required = []string{}
	}
	return map[string]interface{}{
		"type":       p.Type,
		"properties": p.Properties,
		"required":   required,
	}
}
