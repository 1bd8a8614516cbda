package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/zhengjr9/gemini-client/internal/sse"
)

// ErrStreamClosed is returned by Next after Close has been called.
var ErrStreamClosed = errors.New("gemini: stream closed")

// GenerateContentStream opens a streaming generation call and returns the
// chunk sequence. The same semantic gates as GenerateContent apply per chunk:
// a blocked prompt or an abnormal finish reason terminates the stream with an
// error.
func (m *GenerativeModel) GenerateContentStream(ctx context.Context, contents ...Content) (*ResponseStream, error) {
	req, err := m.newRequest(contents)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, internalError(fmt.Errorf("marshal request: %w", err))
	}

	url := m.client.methodURL(m.Name, "streamGenerateContent") + "?alt=sse"
	ctx, cancel := context.WithCancel(ctx)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, internalError(fmt.Errorf("build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("x-goog-api-key", m.client.apiKey)

	// No client timeout on streams; the context carries the deadline. The
	// transport is shared with unary calls so proxy settings are preserved.
	streamClient := &http.Client{Transport: m.client.streamTransport}
	m.logger.Debug("opening stream", zap.String("url", url))
	resp, err := streamClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, classifyTransport(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		return nil, classifyHTTP(resp.StatusCode, raw)
	}

	ch := make(chan streamItem, 16)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		scanner := sse.NewScanner(resp.Body)
		for {
			item, last := nextItem(scanner)
			if item != nil {
				select {
				case ch <- *item:
				case <-ctx.Done():
					return
				}
			}
			if last {
				return
			}
		}
	}()

	return &ResponseStream{ch: ch, cancel: cancel, logger: m.logger}, nil
}

// nextItem reads and gates one frame. last reports that the stream is over,
// whether cleanly or not.
func nextItem(scanner *sse.Scanner) (item *streamItem, last bool) {
	frame, err := scanner.Next()
	if err == io.EOF {
		return nil, true
	}
	if err != nil {
		return &streamItem{err: classifyTransport(err)}, true
	}

	var chunk GenerateContentResponse
	if err := json.Unmarshal(frame, &chunk); err != nil {
		return &streamItem{err: internalError(fmt.Errorf("decode chunk: %w", err))}, true
	}
	if cerr := checkChunk(&chunk); cerr != nil {
		return &streamItem{err: cerr}, true
	}
	return &streamItem{resp: &chunk}, false
}

// checkChunk gates one streamed chunk. Unlike unary responses, a chunk with
// no candidates is legal (e.g. a trailing usage-only frame) and intermediate
// chunks carry no finish reason.
func checkChunk(resp *GenerateContentResponse) *ResponseError {
	if fb := resp.PromptFeedback; fb != nil &&
		fb.BlockReason != "" && fb.BlockReason != BlockReasonUnspecified {
		return &ResponseError{
			Kind:        ErrKindPromptBlocked,
			Message:     fmt.Sprintf("prompt blocked: %s", fb.BlockReason),
			BlockReason: fb.BlockReason,
			Response:    resp,
		}
	}
	if len(resp.Candidates) == 0 {
		return nil
	}
	if fr := resp.Candidates[0].FinishReason; fr != "" &&
		fr != FinishReasonStop && fr != FinishReasonUnspecified {
		return &ResponseError{
			Kind:         ErrKindStoppedEarly,
			Message:      fmt.Sprintf("generation stopped: %s", fr),
			FinishReason: fr,
			Response:     resp,
		}
	}
	return nil
}

type streamItem struct {
	resp *GenerateContentResponse
	err  error
}

// ResponseStream is a lazy, single-pass sequence of response chunks. It is
// for a single consumer; Next and Close must not be called concurrently.
// Termination is sticky: once Next has returned an error (io.EOF included),
// every later call returns the same error.
type ResponseStream struct {
	ch     chan streamItem
	cancel context.CancelFunc
	logger *zap.Logger

	err    error
	closed bool

	// Hooks used by ChatSession to observe the chunks it forwards. onDone
	// fires only on clean end of stream, never on error or Close.
	onChunk func(*GenerateContentResponse)
	onDone  func()
}

// Next returns the next chunk. It returns io.EOF when the stream has ended
// cleanly, ErrStreamClosed after Close, and a classified error when the
// stream terminated abnormally.
func (s *ResponseStream) Next() (*GenerateContentResponse, error) {
	if s.closed {
		return nil, ErrStreamClosed
	}
	if s.err != nil {
		return nil, s.err
	}

	item, ok := <-s.ch
	if !ok {
		s.err = io.EOF
		s.cancel()
		if s.onDone != nil {
			s.onDone()
		}
		return nil, io.EOF
	}
	if item.err != nil {
		s.err = item.err
		s.cancel()
		s.logger.Debug("stream terminated", zap.Error(item.err))
		return nil, item.err
	}
	if s.onChunk != nil {
		s.onChunk(item.resp)
	}
	return item.resp, nil
}

// Close abandons the stream and releases the underlying transport stream.
// No chunk is delivered after Close.
func (s *ResponseStream) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.cancel()
}

// contentJoiner folds streamed contents into one model turn: consecutive
// text runs collapse into single text parts, non-text parts keep their
// arrival order.
type contentJoiner struct {
	parts []Part
	text  strings.Builder
}

func (j *contentJoiner) add(c Content) {
	for _, p := range c.Parts {
		if p.isText() {
			j.text.WriteString(p.Text)
			continue
		}
		j.flushText()
		j.parts = append(j.parts, p)
	}
}

func (j *contentJoiner) flushText() {
	if j.text.Len() == 0 {
		return
	}
	j.parts = append(j.parts, Text(j.text.String()))
	j.text.Reset()
}

func (j *contentJoiner) result() Content {
	j.flushText()
	return Content{Role: RoleModel, Parts: j.parts}
}

// JoinResponses folds streamed chunks into the single model turn they add up
// to, using each chunk's first candidate. The joined text is invariant to how
// the stream happened to be chunked.
func JoinResponses(chunks ...*GenerateContentResponse) Content {
	var j contentJoiner
	for _, chunk := range chunks {
		if chunk == nil || len(chunk.Candidates) == 0 {
			continue
		}
		j.add(chunk.Candidates[0].Content)
	}
	return j.result()
}
