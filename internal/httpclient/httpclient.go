package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/opentranslator/client/internal/apperrors"
	"github.com/opentranslator/client/internal/metrics"
)

const (
	defaultTimeout = 30 * time.Second
	userAgent      = "opentranslator-client/1.0.0 (+https://github.com/opentranslator/client)"
)

// Interceptor mutates an outbound request before it is sent. Interceptors are
// named: setting one under an existing name replaces the previous hook, so a
// re-registered auth hook never stacks duplicate headers.
type Interceptor func(req *http.Request) error

// Client wraps outbound HTTP with base URL, default headers, per-call timeout
// overrides and an interceptor chain.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu           sync.RWMutex
	interceptors map[string]Interceptor
	order        []string
}

// New creates a client rooted at baseURL. The base timeout applies to calls
// that do not override it.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: timeout},
		interceptors: make(map[string]Interceptor),
	}
}

// BaseURL returns the configured base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetInterceptor registers an interceptor under name, replacing any previous
// interceptor with the same name.
func (c *Client) SetInterceptor(name string, fn Interceptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.interceptors[name]; !exists {
		c.order = append(c.order, name)
	}
	c.interceptors[name] = fn
}

// RemoveInterceptor deregisters the named interceptor; unknown names are a no-op
func (c *Client) RemoveInterceptor(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.interceptors[name]; !exists {
		return
	}
	delete(c.interceptors, name)
	for i, n := range c.order {
		if n == name {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// HasInterceptor reports whether an interceptor is registered under name
func (c *Client) HasInterceptor(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.interceptors[name]
	return ok
}

// Response is the decoded outcome of a request. StatusCode is always set when
// the transport succeeded; services interpret non-2xx codes themselves.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

// OK returns true for 2xx responses
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Decode unmarshals the response body into v
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// ServerMessage extracts a structured error message from a response body,
// accepting both {"message": ...} and {"error": {"message": ...}} shapes.
// Returns "" when the body carries neither.
func (r *Response) ServerMessage() string {
	var flat struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(r.Body, &flat); err == nil {
		if flat.Message != "" {
			return flat.Message
		}
		if flat.Detail != "" {
			return flat.Detail
		}
	}

	var nested struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(r.Body, &nested); err == nil && nested.Error.Message != "" {
		return nested.Error.Message
	}
	return ""
}

// requestOptions holds per-call overrides
type requestOptions struct {
	timeout     time.Duration
	body        io.Reader
	contentType string
}

// RequestOption customizes a single request
type RequestOption func(*requestOptions)

// WithTimeout overrides the client timeout for one call
func WithTimeout(d time.Duration) RequestOption {
	return func(o *requestOptions) {
		o.timeout = d
	}
}

// WithJSON attaches a JSON-encoded request body
func WithJSON(v any) RequestOption {
	return func(o *requestOptions) {
		data, err := json.Marshal(v)
		if err != nil {
			// surfaced as a request build failure in Do
			o.body = &errReader{err: err}
			return
		}
		o.body = bytes.NewReader(data)
		o.contentType = "application/json"
	}
}

// WithBody attaches a raw request body with an explicit content type
func WithBody(body io.Reader, contentType string) RequestOption {
	return func(o *requestOptions) {
		o.body = body
		o.contentType = contentType
	}
}

type errReader struct{ err error }

func (e *errReader) Read([]byte) (int, error) { return 0, e.err }

// Do performs a request against path (joined to the base URL) and reads the
// full response body. Transport failures come back as AppErrors: timeouts as
// CodeTimeout, everything else as CodeConnectionLost. HTTP error statuses are
// not errors at this layer.
func (c *Client) Do(ctx context.Context, method, path string, opts ...RequestOption) (*Response, error) {
	options := &requestOptions{}
	for _, opt := range opts {
		opt(options)
	}

	if options.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, options.timeout)
		defer cancel()
	}

	url := c.baseURL + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, method, url, options.body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if options.contentType != "" {
		req.Header.Set("Content-Type", options.contentType)
	}

	if err := c.applyInterceptors(req); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.Default().RecordRequest(method, path, 0, time.Since(start))
		return nil, classifyTransportError(err, method+" "+path)
	}
	defer resp.Body.Close()
	metrics.Default().RecordRequest(method, path, resp.StatusCode, time.Since(start))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.ConnectionLost("failed to read response body").WithCause(err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       body,
		Header:     resp.Header,
	}, nil
}

// applyInterceptors runs the chain in registration order
func (c *Client) applyInterceptors(req *http.Request) error {
	c.mu.RLock()
	chain := make([]Interceptor, 0, len(c.order))
	for _, name := range c.order {
		chain = append(chain, c.interceptors[name])
	}
	c.mu.RUnlock()

	for _, fn := range chain {
		if err := fn(req); err != nil {
			return err
		}
	}
	return nil
}

// classifyTransportError maps low-level transport failures to the error taxonomy
func classifyTransportError(err error, operation string) error {
	if errors.Is(err, context.Canceled) {
		return context.Canceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Timeout(operation).WithCause(err)
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperrors.Timeout(operation).WithCause(err)
	}

	return apperrors.ConnectionLost(fmt.Sprintf("%s failed: network unreachable or connection refused", operation)).WithCause(err)
}
