package integration

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zhengjr9/gemini-client/gemini"
	"github.com/zhengjr9/gemini-client/test/testutil"
)

const (
	testAPIKey = "test-api-key-12345"

	apiKeyErrorBody = `{"error":{"code":400,"message":"API key not valid. Please pass a valid API key.","status":"INVALID_ARGUMENT"}}`
	locationBody    = `{"error":{"code":400,"message":"User location is not supported for the API use.","status":"FAILED_PRECONDITION"}}`
)

func newModel(t *testing.T, mock *testutil.MockAPI) *gemini.GenerativeModel {
	t.Helper()
	client := gemini.NewClient(testAPIKey,
		gemini.WithEndpoint(mock.URL()),
		gemini.WithTimeout(10*time.Second),
		gemini.WithLogger(zaptest.NewLogger(t)),
	)
	return client.GenerativeModel("gemini-pro")
}

func TestChat_SendMessage(t *testing.T) {
	mock := testutil.NewMockAPI("Hi")
	defer mock.Close()

	chat := newModel(t, mock).StartChat()
	resp, err := chat.SendMessage(context.Background(), gemini.Text("Hello"))
	require.NoError(t, err)
	assert.Equal(t, "Hi", resp.Text())

	history := chat.History()
	require.Len(t, history, 2)
	assert.Equal(t, gemini.RoleUser, history[0].Role)
	assert.Equal(t, "Hello", history[0].Parts[0].Text)
	assert.Equal(t, gemini.RoleModel, history[1].Role)
	assert.Equal(t, "Hi", history[1].Parts[0].Text)

	assert.Equal(t, testAPIKey, mock.LastAPIKey)
}

// After N successful sends, history holds exactly 2N turns, and each request
// carries the full conversation so far.
func TestChat_HistoryPairing(t *testing.T) {
	mock := testutil.NewMockAPI("reply")
	defer mock.Close()

	chat := newModel(t, mock).StartChat()
	for i := 1; i <= 3; i++ {
		_, err := chat.SendMessage(context.Background(), gemini.Text("turn"))
		require.NoError(t, err)
		assert.Len(t, chat.History(), 2*i)
	}

	contents, ok := mock.LastRequest["contents"].([]any)
	require.True(t, ok)
	assert.Len(t, contents, 5, "third request = 4 history turns + 1 new turn")
}

func TestChat_SendMessage_InvalidAPIKey(t *testing.T) {
	mock := testutil.NewMockAPI("unused")
	mock.StatusCode = 401
	mock.ErrorBody = apiKeyErrorBody
	defer mock.Close()

	chat := newModel(t, mock).StartChat()
	_, err := chat.SendMessage(context.Background(), gemini.Text("Hello"))
	assert.True(t, gemini.IsInvalidAPIKey(err), "got %v", err)
	assert.Empty(t, chat.History(), "a failed send must not touch history")
}

func TestChat_SendMessage_StoppedEarly(t *testing.T) {
	mock := testutil.NewMockAPI("truncated reply")
	mock.FinishReason = "SAFETY"
	defer mock.Close()

	chat := newModel(t, mock).StartChat()
	_, err := chat.SendMessage(context.Background(), gemini.Text("Hello"))
	require.True(t, gemini.IsStoppedEarly(err), "got %v", err)
	re, _ := gemini.AsResponseError(err)
	assert.Equal(t, gemini.FinishReasonSafety, re.FinishReason)
	assert.Empty(t, chat.History())
}

func TestChat_SendMessage_PromptBlocked(t *testing.T) {
	mock := testutil.NewMockAPI("unused")
	mock.BlockReason = "SAFETY"
	defer mock.Close()

	chat := newModel(t, mock).StartChat()
	_, err := chat.SendMessage(context.Background(), gemini.Text("Hello"))
	assert.True(t, gemini.IsPromptBlocked(err), "got %v", err)
	assert.Empty(t, chat.History())
}

func TestChat_SendMessageStream(t *testing.T) {
	mock := testutil.NewMockAPI("Hello from the mock API")
	defer mock.Close()

	chat := newModel(t, mock).StartChat()
	stream, err := chat.SendMessageStream(context.Background(), gemini.Text("Hi there"))
	require.NoError(t, err)
	defer stream.Close()

	var chunks int
	var text string
	for {
		chunk, err := stream.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		chunks++
		text += chunk.Text()
	}
	assert.Greater(t, chunks, 1, "the mock must actually stream")
	assert.Equal(t, "Hello from the mock API", text)

	history := chat.History()
	require.Len(t, history, 2)
	assert.Equal(t, gemini.RoleUser, history[0].Role)
	assert.Equal(t, gemini.RoleModel, history[1].Role)
	require.Len(t, history[1].Parts, 1, "streamed text must be joined into one part")
	assert.Equal(t, "Hello from the mock API", history[1].Parts[0].Text)
}

// A stream that breaks mid-way must deliver the chunks it got and then the
// error, and must leave history exactly as it was.
func TestChat_SendMessageStream_MidStreamFailure(t *testing.T) {
	mock := testutil.NewMockAPI("one two three four five six")
	mock.StreamFailAfter = 3
	defer mock.Close()

	chat := newModel(t, mock).StartChat()
	stream, err := chat.SendMessageStream(context.Background(), gemini.Text("Hello"))
	require.NoError(t, err)
	defer stream.Close()

	var chunks int
	var streamErr error
	for {
		_, err := stream.Next()
		if err != nil {
			streamErr = err
			break
		}
		chunks++
	}
	assert.Equal(t, 3, chunks)
	require.Error(t, streamErr)
	assert.NotErrorIs(t, streamErr, io.EOF)
	assert.Empty(t, chat.History(), "a broken stream must not touch history")
}

func TestChat_SendMessageStream_CloseBeforeEnd(t *testing.T) {
	mock := testutil.NewMockAPI("one two three four five six")
	defer mock.Close()

	chat := newModel(t, mock).StartChat()
	stream, err := chat.SendMessageStream(context.Background(), gemini.Text("Hello"))
	require.NoError(t, err)

	_, err = stream.Next()
	require.NoError(t, err)
	stream.Close()

	assert.Empty(t, chat.History(), "an abandoned stream must not touch history")
}

func TestChat_SendMessageStream_FinishReasonGating(t *testing.T) {
	mock := testutil.NewMockAPI("partial reply here")
	mock.FinishReason = "SAFETY"
	defer mock.Close()

	chat := newModel(t, mock).StartChat()
	stream, err := chat.SendMessageStream(context.Background(), gemini.Text("Hello"))
	require.NoError(t, err)
	defer stream.Close()

	var streamErr error
	for {
		_, err := stream.Next()
		if err != nil {
			streamErr = err
			break
		}
	}
	assert.True(t, gemini.IsStoppedEarly(streamErr), "got %v", streamErr)
	assert.Empty(t, chat.History())
}

func TestChat_SeededHistory(t *testing.T) {
	mock := testutil.NewMockAPI("Hi again")
	defer mock.Close()

	seed := []gemini.Content{
		{Parts: []gemini.Part{gemini.Text("earlier question")}}, // role defaulted
		gemini.NewModelContent(gemini.Text("earlier answer")),
	}
	chat := newModel(t, mock).StartChat(seed...)

	history := chat.History()
	require.Len(t, history, 2)
	assert.Equal(t, gemini.RoleUser, history[0].Role)

	_, err := chat.SendMessage(context.Background(), gemini.Text("next"))
	require.NoError(t, err)
	assert.Len(t, chat.History(), 4)

	contents, ok := mock.LastRequest["contents"].([]any)
	require.True(t, ok)
	assert.Len(t, contents, 3, "seeded turns must precede the new turn")
}

func TestGenerateContent_UnsupportedLocation(t *testing.T) {
	mock := testutil.NewMockAPI("unused")
	mock.StatusCode = 400
	mock.ErrorBody = locationBody
	defer mock.Close()

	model := newModel(t, mock)
	_, err := model.GenerateContent(context.Background(), gemini.NewUserContent(gemini.Text("Hello")))
	assert.True(t, gemini.IsUnsupportedLocation(err), "got %v", err)
}

func TestCountTokens(t *testing.T) {
	mock := testutil.NewMockAPI("unused")
	mock.TotalTokens = 21
	defer mock.Close()

	model := newModel(t, mock)
	resp, err := model.CountTokens(context.Background(), gemini.NewUserContent(gemini.Text("Hello")))
	require.NoError(t, err)
	assert.Equal(t, 21, resp.TotalTokens)
	assert.Contains(t, mock.LastPath, ":countTokens")
}
