package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultEndpoint = "https://generativelanguage.googleapis.com"
	apiVersion      = "v1beta"
	defaultTimeout  = 120 * time.Second
)

// Client talks to the Generative Language API. It is safe for concurrent use
// and holds no per-conversation state; see ChatSession for that.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	// streamTransport is used by streaming requests (no client timeout, the
	// context carries the deadline, but the same proxy settings).
	streamTransport http.RoundTripper
	logger          *zap.Logger
}

// Option configures a Client.
type Option func(*options)

type options struct {
	endpoint   string
	timeout    time.Duration
	proxyURL   string
	httpClient *http.Client
	logger     *zap.Logger
}

// WithEndpoint overrides the API base URL (e.g. for a regional endpoint or a
// test server).
func WithEndpoint(endpoint string) Option {
	return func(o *options) { o.endpoint = endpoint }
}

// WithTimeout sets the per-request round-trip timeout for unary calls.
// Streaming calls are bounded by the caller's context instead.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithProxy routes requests through the given HTTP/HTTPS proxy URL. When
// unset, the environment proxy applies.
func WithProxy(proxyURL string) Option {
	return func(o *options) { o.proxyURL = proxyURL }
}

// WithHTTPClient supplies a custom *http.Client. Its transport is reused for
// streaming requests; its timeout applies to unary calls only.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithLogger attaches a logger. Nil (the default) disables logging.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// NewClient constructs a Client authenticated with the given API key.
func NewClient(apiKey string, opts ...Option) *Client {
	o := options{endpoint: defaultEndpoint, timeout: defaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	transport := &http.Transport{}
	if o.proxyURL != "" {
		if parsed, err := url.Parse(o.proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(parsed)
		}
	} else {
		transport.Proxy = http.ProxyFromEnvironment
	}

	httpClient := o.httpClient
	var streamTransport http.RoundTripper = transport
	if httpClient == nil {
		httpClient = &http.Client{Timeout: o.timeout, Transport: transport}
	} else if httpClient.Transport != nil {
		streamTransport = httpClient.Transport
	}

	return &Client{
		endpoint:        strings.TrimRight(o.endpoint, "/"),
		apiKey:          apiKey,
		httpClient:      httpClient,
		streamTransport: streamTransport,
		logger:          o.logger,
	}
}

// GenerativeModel binds the client to one model id. The exported fields hold
// per-model settings forwarded verbatim with every request; set them before
// issuing calls, not concurrently with them.
type GenerativeModel struct {
	Name              string
	GenerationConfig  *GenerationConfig
	SafetySettings    []SafetySetting
	Tools             []Tool
	ToolConfig        *ToolConfig
	SystemInstruction *Content

	client *Client
	logger *zap.Logger
}

// GenerativeModel returns a handle for the named model.
func (c *Client) GenerativeModel(name string) *GenerativeModel {
	return &GenerativeModel{
		Name:   name,
		client: c,
		logger: c.logger.With(zap.String("model", name)),
	}
}

func (c *Client) methodURL(model, method string) string {
	return fmt.Sprintf("%s/%s/models/%s:%s", c.endpoint, apiVersion, model, method)
}

// GenerateContent sends contents as one generation request and returns the
// full response. A blocked prompt or an abnormal finish reason is returned as
// an error, never as a response value.
func (m *GenerativeModel) GenerateContent(ctx context.Context, contents ...Content) (*GenerateContentResponse, error) {
	req, err := m.newRequest(contents)
	if err != nil {
		return nil, err
	}

	var resp GenerateContentResponse
	if err := m.client.doJSON(ctx, m.client.methodURL(m.Name, "generateContent"), req, &resp); err != nil {
		return nil, err
	}
	if cerr := checkResponse(&resp); cerr != nil {
		return nil, cerr
	}
	return &resp, nil
}

// CountTokens reports the token count of contents under this model's
// settings. Any failure is wrapped as *CountTokensError.
func (m *GenerativeModel) CountTokens(ctx context.Context, contents ...Content) (*CountTokensResponse, error) {
	req, err := m.newRequest(contents)
	if err != nil {
		return nil, &CountTokensError{Cause: err}
	}

	var resp CountTokensResponse
	if err := m.client.doJSON(ctx, m.client.methodURL(m.Name, "countTokens"), req, &resp); err != nil {
		return nil, &CountTokensError{Cause: err}
	}
	return &resp, nil
}

// doJSON performs one unary round trip: encode, POST, classify failures,
// decode into out.
func (c *Client) doJSON(ctx context.Context, url string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return internalError(fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return internalError(fmt.Errorf("build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	c.logger.Debug("sending request", zap.String("url", url))
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return internalError(fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		cerr := classifyHTTP(resp.StatusCode, raw)
		c.logger.Debug("request failed",
			zap.Int("status", resp.StatusCode),
			zap.String("kind", string(cerr.Kind)),
		)
		return cerr
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return internalError(fmt.Errorf("decode response: %w", err))
	}
	return nil
}
