package gemini

import (
	"context"
	"sync"
)

// ChatSession owns a conversation's history and keeps it transactional:
// every send appends either nothing (failure) or exactly one user turn plus
// one model turn (success). Appends are atomic — no observer ever sees a
// half-appended pair — but concurrent sends on one session are not serialized
// against each other; that ordering is the caller's to arrange.
type ChatSession struct {
	model *GenerativeModel

	mu      sync.Mutex
	history []Content
}

// StartChat opens a session seeded with the given history. Seed turns
// without a role are stored as user turns.
func (m *GenerativeModel) StartChat(history ...Content) *ChatSession {
	seeded := make([]Content, len(history))
	for i, c := range history {
		seeded[i] = withDefaultRole(c, RoleUser)
	}
	return &ChatSession{model: m, history: seeded}
}

// History returns a copy of the conversation so far.
func (cs *ChatSession) History() []Content {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return append([]Content(nil), cs.history...)
}

// SendMessage sends parts as the next user turn and returns the model's
// reply. On success the user turn and the reply are appended to history; on
// failure history is untouched and the classified error is returned as-is.
func (cs *ChatSession) SendMessage(ctx context.Context, parts ...Part) (*GenerateContentResponse, error) {
	userContent, request := cs.nextRequest(parts)

	resp, err := cs.model.GenerateContent(ctx, request...)
	if err != nil {
		return nil, err
	}

	// checkResponse guarantees at least one candidate here.
	modelContent := withDefaultRole(resp.Candidates[0].Content, RoleModel)
	cs.append(userContent, modelContent)
	return resp, nil
}

// SendMessageStream sends parts as the next user turn and returns the reply
// chunk stream. Chunks are forwarded to the caller as they arrive and joined
// locally; only a clean end of stream commits the user turn and the joined
// model turn to history. Any mid-stream error, or closing the stream early,
// leaves history untouched.
func (cs *ChatSession) SendMessageStream(ctx context.Context, parts ...Part) (*ResponseStream, error) {
	userContent, request := cs.nextRequest(parts)

	stream, err := cs.model.GenerateContentStream(ctx, request...)
	if err != nil {
		return nil, err
	}

	joiner := &contentJoiner{}
	stream.onChunk = func(chunk *GenerateContentResponse) {
		if len(chunk.Candidates) > 0 {
			joiner.add(chunk.Candidates[0].Content)
		}
	}
	stream.onDone = func() {
		cs.append(userContent, joiner.result())
	}
	return stream, nil
}

// nextRequest snapshots history plus the new user turn. The snapshot is
// taken under the lock so it never catches a pair mid-append.
func (cs *ChatSession) nextRequest(parts []Part) (Content, []Content) {
	userContent := withDefaultRole(Content{Parts: parts}, RoleUser)

	cs.mu.Lock()
	defer cs.mu.Unlock()
	request := make([]Content, 0, len(cs.history)+1)
	request = append(request, cs.history...)
	request = append(request, userContent)
	return userContent, request
}

func (cs *ChatSession) append(userContent, modelContent Content) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.history = append(cs.history, userContent, modelContent)
}
