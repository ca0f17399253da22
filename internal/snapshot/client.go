// ABOUTME: REST client for the support platform's conversation endpoints
// ABOUTME: Paginated list/detail/message reads plus the agent's send and state actions

package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/2389/agent-console/internal/store"
)

// ErrUnauthorized is returned when the backend rejects the session token.
// It is terminal for the session.
var ErrUnauthorized = errors.New("unauthorized")

// ErrNotFound is returned for unknown conversations.
var ErrNotFound = errors.New("not found")

// Page is one page of a paginated collection.
type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}

// ListQuery narrows a conversation listing on the server side.
type ListQuery struct {
	States     []store.State
	AssigneeID string
	Channels   []store.Channel
	Search     string
	Limit      int
}

// SendRequest is the body of a message send.
type SendRequest struct {
	ClientMessageID string `json:"client_message_id"`
	Content         string `json:"content"`
	ContentType     string `json:"content_type,omitempty"`
}

// errorBody is the JSON error envelope the backend returns.
type errorBody struct {
	Error string `json:"error"`
}

// Client talks to the REST boundary.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client. A nil httpClient uses one with timeout.
func NewClient(baseURL, token string, httpClient *http.Client, timeout time.Duration) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http:    httpClient,
	}
}

// ListConversations fetches one page of conversations.
func (c *Client) ListConversations(ctx context.Context, q ListQuery, cursor string) (*Page[store.Conversation], error) {
	params := url.Values{}
	for _, s := range q.States {
		params.Add("state", string(s))
	}
	for _, ch := range q.Channels {
		params.Add("channel", string(ch))
	}
	if q.AssigneeID != "" {
		params.Set("assignee", q.AssigneeID)
	}
	if q.Search != "" {
		params.Set("q", q.Search)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	var page Page[store.Conversation]
	if err := c.do(ctx, http.MethodGet, "/conversations?"+params.Encode(), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// GetConversation fetches one conversation.
func (c *Client) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	var conv store.Conversation
	if err := c.do(ctx, http.MethodGet, "/conversations/"+url.PathEscape(id), nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListMessages fetches one page of a conversation's history, oldest first.
func (c *Client) ListMessages(ctx context.Context, id, cursor string, limit int) (*Page[store.Message], error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	var page Page[store.Message]
	path := "/conversations/" + url.PathEscape(id) + "/messages?" + params.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// SendMessage posts an agent reply. The server echoes it on the real-time
// channel carrying the same client message id.
func (c *Client) SendMessage(ctx context.Context, id string, req SendRequest) (*store.Message, error) {
	var msg store.Message
	if err := c.do(ctx, http.MethodPost, "/conversations/"+url.PathEscape(id)+"/messages", req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SetState changes a conversation's lifecycle state.
func (c *Client) SetState(ctx context.Context, id string, state store.State) error {
	body := map[string]string{"state": string(state)}
	return c.do(ctx, http.MethodPatch, "/conversations/"+url.PathEscape(id), body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 300:
		return handleErrorResponse(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// handleErrorResponse extracts the error message from non-2xx responses.
func handleErrorResponse(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var e errorBody
	if json.Unmarshal(data, &e) == nil && e.Error != "" {
		return fmt.Errorf("backend error (%d): %s", resp.StatusCode, e.Error)
	}
	return fmt.Errorf("backend returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
}
