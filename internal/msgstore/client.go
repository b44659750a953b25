// Package msgstore is the client for the remote message-store service that
// persists sessions and their messages.
package msgstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/opencode-ai/chatstream/pkg/types"
)

// ErrNotFound is matched by an *APIError with status 404.
var ErrNotFound = errors.New("not found")

// Client is the message-store port used by the session store and poller.
type Client interface {
	CreateSession(ctx context.Context, title string) (*types.Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
	ListMessages(ctx context.Context, sessionID string) ([]types.Message, error)
	AddMessage(ctx context.Context, sessionID string, msg types.Message) (types.Message, error)
	UpdateMessage(ctx context.Context, sessionID, messageID, content string) (types.Message, error)
	DeleteMessage(ctx context.Context, sessionID, messageID string) error
}

// APIError is a non-2xx reply from the service.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("message store: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("message store: %d %s", e.Status, e.Message)
}

// StatusCode returns the HTTP status.
func (e *APIError) StatusCode() int { return e.Status }

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// HTTPClient talks JSON to the service's /api routes.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

// NewHTTPClient creates a client for the service at baseURL.
func NewHTTPClient(baseURL string, hc *http.Client) *HTTPClient {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
	}
}

func (c *HTTPClient) CreateSession(ctx context.Context, title string) (*types.Session, error) {
	var session types.Session
	body := map[string]string{"title": title}
	if err := c.do(ctx, http.MethodPost, "/api/sessions", body, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *HTTPClient) DeleteSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "/api/sessions/"+url.PathEscape(sessionID), nil, nil)
}

func (c *HTTPClient) ListMessages(ctx context.Context, sessionID string) ([]types.Message, error) {
	var msgs []types.Message
	if err := c.do(ctx, http.MethodGet, messagesPath(sessionID), nil, &msgs); err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []types.Message{}
	}
	return msgs, nil
}

// AddMessage stores msg and returns the stored record, whose ID and CreatedAt
// are assigned by the service.
func (c *HTTPClient) AddMessage(ctx context.Context, sessionID string, msg types.Message) (types.Message, error) {
	var stored types.Message
	if err := c.do(ctx, http.MethodPost, messagesPath(sessionID), msg, &stored); err != nil {
		return types.Message{}, err
	}
	return stored, nil
}

func (c *HTTPClient) UpdateMessage(ctx context.Context, sessionID, messageID, content string) (types.Message, error) {
	var stored types.Message
	body := map[string]string{"content": content}
	if err := c.do(ctx, http.MethodPatch, messagesPath(sessionID)+"/"+url.PathEscape(messageID), body, &stored); err != nil {
		return types.Message{}, err
	}
	return stored, nil
}

func (c *HTTPClient) DeleteMessage(ctx context.Context, sessionID, messageID string) error {
	return c.do(ctx, http.MethodDelete, messagesPath(sessionID)+"/"+url.PathEscape(messageID), nil, nil)
}

func messagesPath(sessionID string) string {
	return "/api/sessions/" + url.PathEscape(sessionID) + "/messages"
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var er errorResponse
		if json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&er) == nil && er.Error.Message != "" {
			apiErr.Code = er.Error.Code
			apiErr.Message = er.Error.Message
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
