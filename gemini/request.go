package gemini

import "errors"

// generateContentRequest is the request body shared by generateContent,
// streamGenerateContent and countTokens. The streaming flag lives in the URL,
// not the body.
type generateContentRequest struct {
	Contents          []Content         `json:"contents"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
	SafetySettings    []SafetySetting   `json:"safetySettings,omitempty"`
	Tools             []Tool            `json:"tools,omitempty"`
	ToolConfig        *ToolConfig       `json:"toolConfig,omitempty"`
	SystemInstruction *Content          `json:"systemInstruction,omitempty"`
}

var errNoContents = errors.New("contents must not be empty")

// newRequest assembles the request body from the model's settings and the
// given contents. It is pure: the model is read, never written.
func (m *GenerativeModel) newRequest(contents []Content) (*generateContentRequest, error) {
	if len(contents) == 0 {
		return nil, contentError(errNoContents)
	}
	return &generateContentRequest{
		Contents:          contents,
		GenerationConfig:  m.GenerationConfig,
		SafetySettings:    m.SafetySettings,
		Tools:             m.Tools,
		ToolConfig:        m.ToolConfig,
		SystemInstruction: m.SystemInstruction,
	}, nil
}
