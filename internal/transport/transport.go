// Package transport issues exchange requests against the streaming
// generation endpoint and hands back the raw response body.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/opencode-ai/chatstream/pkg/types"
)

// Request is the body of one exchange request.
type Request struct {
	SessionID string          `json:"sessionID"`
	Content   string          `json:"content"`
	Messages  []types.Message `json:"messages,omitempty"` // prior history in full mode
}

// Transport opens a streaming response for req. The caller closes the body.
// Cancelling ctx aborts both the request and any in-progress body read.
type Transport interface {
	Stream(ctx context.Context, req *Request) (io.ReadCloser, error)
}

// StatusError is returned for a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// StatusCode returns the HTTP status code.
func (e *StatusError) StatusCode() int { return e.Code }

// NetworkError wraps a connection-level failure. It is always transient.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string   { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *NetworkError) Unwrap() error   { return e.Err }
func (e *NetworkError) Transient() bool { return true }

const maxErrorBody = 512

// HTTPTransport posts requests as JSON and expects a text/event-stream body.
type HTTPTransport struct {
	endpoint string
	client   *http.Client
	header   http.Header
}

// Option configures an HTTPTransport.
type Option func(*HTTPTransport)

// WithHTTPClient replaces the default client. The client should not set an
// overall Timeout since response bodies are long-lived streams.
func WithHTTPClient(c *http.Client) Option {
	return func(t *HTTPTransport) {
		t.client = c
	}
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return func(t *HTTPTransport) {
		t.header.Add(key, value)
	}
}

// NewHTTP creates a transport posting to endpoint.
func NewHTTP(endpoint string, opts ...Option) *HTTPTransport {
	t := &HTTPTransport{
		endpoint: endpoint,
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: 60 * time.Second,
				IdleConnTimeout:       90 * time.Second,
			},
		},
		header: make(http.Header),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Endpoint returns the URL requests are posted to.
func (t *HTTPTransport) Endpoint() string {
	return t.endpoint
}

// Stream implements Transport.
func (t *HTTPTransport) Stream(ctx context.Context, req *Request) (io.ReadCloser, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, vs := range t.header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &NetworkError{Op: "request", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	return &streamBody{ctx: ctx, rc: resp.Body}, nil
}

// streamBody tags mid-stream read failures so they classify as transient, and
// reports cancellation as the context error rather than a socket error.
type streamBody struct {
	ctx context.Context
	rc  io.ReadCloser
}

func (b *streamBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if err == nil || errors.Is(err, io.EOF) {
		return n, err
	}
	if ctxErr := b.ctx.Err(); ctxErr != nil {
		return n, ctxErr
	}
	return n, &NetworkError{Op: "read", Err: err}
}

func (b *streamBody) Close() error {
	return b.rc.Close()
}
