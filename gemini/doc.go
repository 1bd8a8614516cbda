// Package gemini is a client for the Generative Language REST API.
//
// A Client owns transport settings; GenerativeModel binds it to one model id
// and exposes GenerateContent, GenerateContentStream and CountTokens. A
// ChatSession layered on top accumulates a conversation, committing each
// exchange to history only after the call fully succeeds.
//
// All failures surface as typed errors: *ResponseError with a closed Kind
// set for generation calls, *CountTokensError for token counting. Nothing is
// retried internally.
package gemini
