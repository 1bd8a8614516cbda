package gemini

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind is the closed classification of a generate-content failure.
type ErrorKind string

const (
	// ErrKindInvalidAPIKey means the API rejected the key used for the call.
	ErrKindInvalidAPIKey ErrorKind = "invalid_api_key"
	// ErrKindUnsupportedLocation means the API refused to serve the caller's
	// region.
	ErrKindUnsupportedLocation ErrorKind = "unsupported_location"
	// ErrKindPromptBlocked means the prompt itself was rejected; see
	// BlockReason and Response.PromptFeedback.
	ErrKindPromptBlocked ErrorKind = "prompt_blocked"
	// ErrKindStoppedEarly means generation terminated for a reason other
	// than a normal stop; see FinishReason.
	ErrKindStoppedEarly ErrorKind = "stopped_early"
	// ErrKindInvalidContent means caller-supplied content failed validation
	// before any request was sent.
	ErrKindInvalidContent ErrorKind = "invalid_content"
	// ErrKindInternal covers transport failures, undecodable payloads and
	// anything else that does not match a more specific kind.
	ErrKindInternal ErrorKind = "internal"
)

// RPCStatus is the error payload the API attaches to non-2xx responses.
type RPCStatus struct {
	Code    int               `json:"code"`
	Message string            `json:"message"`
	Status  string            `json:"status"`
	Details []json.RawMessage `json:"details,omitempty"`
}

type rpcErrorBody struct {
	Error *RPCStatus `json:"error"`
}

// ResponseError is the error type for generate-content operations. Kind is
// always set; the remaining fields are populated where they apply (RPC for
// protocol errors, Response for semantic ones).
type ResponseError struct {
	Kind       ErrorKind
	Message    string
	HTTPStatus int

	// RPC is the decoded error payload, when one was available.
	RPC *RPCStatus

	// BlockReason and Response are set for prompt_blocked errors;
	// FinishReason and Response for stopped_early ones.
	BlockReason  BlockReason
	FinishReason FinishReason
	Response     *GenerateContentResponse

	Cause error
}

func (e *ResponseError) Error() string {
	var b strings.Builder
	b.WriteString("gemini: ")
	b.WriteString(string(e.Kind))

	msg := strings.TrimSpace(e.Message)
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if msg == "" && e.HTTPStatus != 0 {
		msg = http.StatusText(e.HTTPStatus)
	}
	if msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	}
	if e.HTTPStatus != 0 {
		fmt.Fprintf(&b, " (http %d)", e.HTTPStatus)
	}
	return b.String()
}

func (e *ResponseError) Unwrap() error { return e.Cause }

// AsResponseError unwraps err to a *ResponseError if there is one.
func AsResponseError(err error) (*ResponseError, bool) {
	var re *ResponseError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

func isKind(err error, kind ErrorKind) bool {
	re, ok := AsResponseError(err)
	return ok && re.Kind == kind
}

// IsInvalidAPIKey reports whether err is an API-key rejection.
func IsInvalidAPIKey(err error) bool { return isKind(err, ErrKindInvalidAPIKey) }

// IsUnsupportedLocation reports whether err is a geo-restriction rejection.
func IsUnsupportedLocation(err error) bool { return isKind(err, ErrKindUnsupportedLocation) }

// IsPromptBlocked reports whether err means the prompt was blocked.
func IsPromptBlocked(err error) bool { return isKind(err, ErrKindPromptBlocked) }

// IsStoppedEarly reports whether err means generation stopped abnormally.
func IsStoppedEarly(err error) bool { return isKind(err, ErrKindStoppedEarly) }

// CountTokensError wraps any failure of a countTokens call. Token counting
// has no blocking or finish-reason semantics, so every failure is uniform.
type CountTokensError struct {
	Cause error
}

func (e *CountTokensError) Error() string {
	return "gemini: count tokens: " + e.Cause.Error()
}

func (e *CountTokensError) Unwrap() error { return e.Cause }

func contentError(cause error) *ResponseError {
	return &ResponseError{Kind: ErrKindInvalidContent, Cause: cause}
}

func internalError(cause error) *ResponseError {
	return &ResponseError{Kind: ErrKindInternal, Cause: cause}
}

// classifyTransport maps a transport-level failure. Some transports fold the
// server's JSON error payload into the error text; one decode pass is
// attempted against it before giving up (best effort, no shape assumed).
func classifyTransport(err error) *ResponseError {
	var re *ResponseError
	if errors.As(err, &re) {
		return re
	}
	if rpc := extractRPCStatus(err.Error()); rpc != nil {
		ce := classifyRPC(0, rpc)
		ce.Cause = err
		return ce
	}
	return internalError(err)
}

// classifyHTTP maps a non-2xx response, refining it through the decoded RPC
// payload when the body has one.
func classifyHTTP(statusCode int, body []byte) *ResponseError {
	var decoded rpcErrorBody
	if err := json.Unmarshal(body, &decoded); err != nil || decoded.Error == nil {
		return &ResponseError{
			Kind:       ErrKindInternal,
			Message:    strings.TrimSpace(string(body)),
			HTTPStatus: statusCode,
		}
	}
	return classifyRPC(statusCode, decoded.Error)
}

// classifyRPC applies the recognition rules to a decoded RPC payload.
// Matching is substring-based: upstream wording varies by locale and version,
// so exact equality would be brittle.
func classifyRPC(statusCode int, rpc *RPCStatus) *ResponseError {
	re := &ResponseError{
		Kind:       ErrKindInternal,
		Message:    rpc.Message,
		HTTPStatus: statusCode,
		RPC:        rpc,
	}
	m := strings.ToLower(rpc.Status + " " + rpc.Message)
	switch {
	case strings.Contains(m, "api key") || strings.Contains(m, "api_key"):
		re.Kind = ErrKindInvalidAPIKey
	case strings.Contains(m, "location") &&
		(strings.Contains(m, "not supported") || strings.Contains(m, "unsupported")):
		re.Kind = ErrKindUnsupportedLocation
	}
	return re
}

// checkResponse gates a successfully decoded unary response: a blocked
// prompt or a non-stop finish reason is surfaced as an error, never returned
// as a value. A unary response must carry at least one candidate.
func checkResponse(resp *GenerateContentResponse) *ResponseError {
	if cerr := checkChunk(resp); cerr != nil {
		return cerr
	}
	if len(resp.Candidates) == 0 {
		return &ResponseError{Kind: ErrKindInternal, Message: "response has no candidates"}
	}
	return nil
}

// extractRPCStatus scans s for an embedded JSON error payload and decodes it.
// Returns nil when no usable payload is found.
func extractRPCStatus(s string) *RPCStatus {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return nil
	}
	raw := []byte(s[start : end+1])

	var wrapped rpcErrorBody
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Error != nil &&
		(wrapped.Error.Message != "" || wrapped.Error.Status != "") {
		return wrapped.Error
	}
	var bare RPCStatus
	if err := json.Unmarshal(raw, &bare); err == nil && (bare.Message != "" || bare.Status != "") {
		return &bare
	}
	return nil
}
