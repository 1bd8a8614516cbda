// Package testutil provides a mock Generative Language API server for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/gorilla/mux"
)

// MockAPI is an httptest.Server that simulates the generateContent,
// streamGenerateContent and countTokens endpoints. Configure the exported
// fields before issuing requests.
type MockAPI struct {
	Server *httptest.Server

	// Reply configuration
	ReplyText    string
	FinishReason string // unary response and final chunk; defaults to "STOP"
	BlockReason  string // when set, responses carry promptFeedback and no candidates

	// Failure injection
	StatusCode      int    // when non-zero, every call fails with this status and ErrorBody
	ErrorBody       string
	StreamFailAfter int    // drop the connection after this many chunks (0 = never)

	TotalTokens int

	// Captured request state
	LastPath    string
	LastAPIKey  string
	LastRequest map[string]any
}

// NewMockAPI creates and starts a mock server replying with the given text.
func NewMockAPI(replyText string) *MockAPI {
	m := &MockAPI{
		ReplyText:    replyText,
		FinishReason: "STOP",
		TotalTokens:  7,
	}
	r := mux.NewRouter()
	r.PathPrefix("/v1beta/models/").Methods(http.MethodPost).HandlerFunc(m.handle)
	m.Server = httptest.NewServer(r)
	return m
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.Server.Close()
}

// URL returns the base URL of the mock server.
func (m *MockAPI) URL() string {
	return m.Server.URL
}

func (m *MockAPI) handle(w http.ResponseWriter, r *http.Request) {
	m.LastPath = r.URL.Path
	m.LastAPIKey = r.Header.Get("x-goog-api-key")

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	m.LastRequest = body

	if m.StatusCode != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(m.StatusCode)
		fmt.Fprint(w, m.ErrorBody)
		return
	}

	// Model routes match as one path segment ("{model}:{method}"), so the
	// method is dispatched by suffix.
	switch {
	case strings.HasSuffix(r.URL.Path, ":streamGenerateContent"):
		m.writeStream(w)
	case strings.HasSuffix(r.URL.Path, ":generateContent"):
		m.writeUnary(w)
	case strings.HasSuffix(r.URL.Path, ":countTokens"):
		m.writeCountTokens(w)
	default:
		http.NotFound(w, r)
	}
}

func (m *MockAPI) writeUnary(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	if m.BlockReason != "" {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"promptFeedback": map[string]any{"blockReason": m.BlockReason},
		})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"candidates": []any{candidate(m.ReplyText, m.FinishReason)},
		"usageMetadata": map[string]any{
			"promptTokenCount":     3,
			"candidatesTokenCount": 4,
			"totalTokenCount":      m.TotalTokens,
		},
	})
}

func (m *MockAPI) writeCountTokens(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"totalTokens": m.TotalTokens})
}

func (m *MockAPI) writeStream(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, hasFlusher := w.(http.Flusher)
	flush := func() {
		if hasFlusher {
			flusher.Flush()
		}
	}

	if m.BlockReason != "" {
		writeChunk(w, map[string]any{
			"promptFeedback": map[string]any{"blockReason": m.BlockReason},
		})
		flush()
		return
	}

	chunks := splitChunks(m.ReplyText)
	for i, text := range chunks {
		if m.StreamFailAfter > 0 && i == m.StreamFailAfter {
			flush()
			// Drop the connection mid-stream so the client sees a broken read.
			panic(http.ErrAbortHandler)
		}
		finish := ""
		if i == len(chunks)-1 {
			finish = m.FinishReason
		}
		writeChunk(w, map[string]any{
			"candidates": []any{candidate(text, finish)},
		})
		flush()
	}
}

func writeChunk(w http.ResponseWriter, chunk map[string]any) {
	data, _ := json.Marshal(chunk)
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func candidate(text, finishReason string) map[string]any {
	c := map[string]any{
		"content": map[string]any{
			"role":  "model",
			"parts": []any{map[string]any{"text": text}},
		},
		"index": 0,
	}
	if finishReason != "" {
		c["finishReason"] = finishReason
	}
	return c
}

// splitChunks splits a reply into word-sized stream chunks that concatenate
// back to the original text.
func splitChunks(s string) []string {
	words := strings.Fields(s)
	if len(words) == 0 {
		return []string{s}
	}
	chunks := make([]string, len(words))
	for i, word := range words {
		if i == 0 {
			chunks[i] = word
			continue
		}
		chunks[i] = " " + word
	}
	return chunks
}
