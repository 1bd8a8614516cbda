package gemini

import (
	"fmt"
	"net/http"
	"strings"
)

// Conversation roles. The API only accepts "user" and "model" inside
// contents; RoleSystem is reserved for system instructions.
const (
	RoleUser   = "user"
	RoleModel  = "model"
	RoleSystem = "system"
)

// Content is a single turn in a conversation: an attributed, ordered
// sequence of parts. Part order is significant and preserved end-to-end.
type Content struct {
	Role  string `json:"role,omitempty"` // "user" | "model"
	Parts []Part `json:"parts"`
}

// Part carries one piece of a turn. Exactly one field is set; a part with
// no pointer field set is a text part (possibly empty).
type Part struct {
	Text                string               `json:"text,omitempty"`
	InlineData          *Blob                `json:"inlineData,omitempty"`
	FileData            *FileData            `json:"fileData,omitempty"`
	FunctionCall        *FunctionCall        `json:"functionCall,omitempty"`
	FunctionResponse    *FunctionResponse    `json:"functionResponse,omitempty"`
	ExecutableCode      *ExecutableCode      `json:"executableCode,omitempty"`
	CodeExecutionResult *CodeExecutionResult `json:"codeExecutionResult,omitempty"`
}

// Blob is raw media bytes sent inline with the request. Data is
// base64-encoded on the wire by the JSON codec.
type Blob struct {
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

// FileData references previously uploaded media by URI.
type FileData struct {
	MIMEType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri"`
}

// FunctionCall is a function invocation requested by the model.
type FunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// FunctionResponse carries the result of a function invocation back to the
// model.
type FunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response,omitempty"`
}

// ExecutableCode is code generated by the model for execution.
type ExecutableCode struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

// CodeExecutionResult is the outcome of running ExecutableCode.
type CodeExecutionResult struct {
	Outcome string `json:"outcome"`
	Output  string `json:"output,omitempty"`
}

// isText reports whether p is a text part (no non-text field set).
func (p Part) isText() bool {
	return p.InlineData == nil && p.FileData == nil && p.FunctionCall == nil &&
		p.FunctionResponse == nil && p.ExecutableCode == nil && p.CodeExecutionResult == nil
}

// Text returns a text part.
func Text(s string) Part {
	return Part{Text: s}
}

// Data returns an inline-data part carrying raw bytes of the given MIME type.
// The bytes are forwarded as declared; use ImageData when the input should be
// verified first.
func Data(mimeType string, data []byte) Part {
	return Part{InlineData: &Blob{MIMEType: mimeType, Data: data}}
}

// ImageData returns an inline-data part for an image, where format is the
// bare subtype ("png", "jpeg", ...). The bytes are sniffed and must match the
// declared format; mismatched or unrecognizable bytes fail with an
// invalid-content error rather than being sent as-is.
func ImageData(format string, data []byte) (Part, error) {
	want := "image/" + format
	if len(data) == 0 {
		return Part{}, contentError(fmt.Errorf("empty %s image data", format))
	}
	sniffed := http.DetectContentType(data)
	if sniffed != want {
		return Part{}, contentError(fmt.Errorf("image data sniffed as %q, not %q", sniffed, want))
	}
	return Data(want, data), nil
}

// FileURI returns a file-data part referencing uploaded media.
func FileURI(mimeType, uri string) Part {
	return Part{FileData: &FileData{MIMEType: mimeType, FileURI: uri}}
}

// NewFunctionCall returns a function-call part.
func NewFunctionCall(name string, args map[string]any) Part {
	return Part{FunctionCall: &FunctionCall{Name: name, Args: args}}
}

// NewFunctionResponse returns a function-response part.
func NewFunctionResponse(name string, response map[string]any) Part {
	return Part{FunctionResponse: &FunctionResponse{Name: name, Response: response}}
}

// NewUserContent wraps parts in a user-attributed turn.
func NewUserContent(parts ...Part) Content {
	return Content{Role: RoleUser, Parts: parts}
}

// NewModelContent wraps parts in a model-attributed turn.
func NewModelContent(parts ...Part) Content {
	return Content{Role: RoleModel, Parts: parts}
}

// withDefaultRole returns a copy of c with Role set to role when unset.
func withDefaultRole(c Content, role string) Content {
	if strings.TrimSpace(c.Role) == "" {
		c.Role = role
	}
	return c
}

// joinText concatenates the text parts of a parts sequence.
func joinText(parts []Part) string {
	var sb strings.Builder
	for _, p := range parts {
		if p.isText() {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}
