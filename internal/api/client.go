// Package api provides the REST client for the marketplace messaging
// endpoints. The backend owns persistence; this client only speaks the
// request/response contracts.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/mstepanenko/craftchat/internal/models"
)

// Client talks to the marketplace messages API.
type Client struct {
	baseURL    string
	token      func() string
	httpClient *http.Client
}

// New creates a new messages API client. If baseURL is empty, uses the
// CRAFTCHAT_SERVER_URL env var or defaults to localhost:8080. The token
// function is consulted per request so a refreshed credential is picked up
// without rebuilding the client.
func New(baseURL string, token func() string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("CRAFTCHAT_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8080/api"
	}

	timeout := 15 * time.Second
	if t := os.Getenv("CRAFTCHAT_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// BaseURL returns the configured API base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// APIError is a non-2xx response from the backend.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error: %d - %s", e.Status, e.Body)
}

// do executes one JSON request and decodes the response into result.
func (c *Client) do(ctx context.Context, method, path string, payload, result any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != nil {
		if tok := c.token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Body: string(raw)}
	}

	if result != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// conversationsResponse wraps GET /messages/conversations.
type conversationsResponse struct {
	Conversations []models.Conversation `json:"conversations"`
}

// threadResponse wraps GET /messages/conversation/{id}.
type threadResponse struct {
	OtherUserID int64            `json:"otherUserId"`
	Messages    []models.Message `json:"messages"`
}

// sendRequest is the body of POST /messages/send.
type sendRequest struct {
	ReceiverID int64  `json:"receiverId"`
	Content    string `json:"content"`
}

// unreadCountResponse wraps the unread count endpoints.
type unreadCountResponse struct {
	UnreadCount int `json:"unreadCount"`
}

// Conversations fetches the conversation list, one summary per counterpart.
func (c *Client) Conversations(ctx context.Context) ([]models.Conversation, error) {
	var resp conversationsResponse
	if err := c.do(ctx, http.MethodGet, "/messages/conversations", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// Thread fetches the full message history with one counterpart, ordered by
// the server.
func (c *Client) Thread(ctx context.Context, otherUserID int64) ([]models.Message, error) {
	var resp threadResponse
	path := fmt.Sprintf("/messages/conversation/%d", otherUserID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// Send posts a new message and returns the persisted copy with its
// server-assigned ID.
func (c *Client) Send(ctx context.Context, receiverID int64, content string) (models.Message, error) {
	var msg models.Message
	err := c.do(ctx, http.MethodPost, "/messages/send", sendRequest{
		ReceiverID: receiverID,
		Content:    content,
	}, &msg)
	return msg, err
}

// MarkRead marks a single message as read.
func (c *Client) MarkRead(ctx context.Context, messageID int64) error {
	path := fmt.Sprintf("/messages/%d/read", messageID)
	return c.do(ctx, http.MethodPatch, path, nil, nil)
}

// MarkConversationRead marks every message from otherUserID as read.
func (c *Client) MarkConversationRead(ctx context.Context, otherUserID int64) error {
	path := fmt.Sprintf("/messages/conversation/%d/read", otherUserID)
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// UnreadCount fetches the authoritative total of unread messages.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var resp unreadCountResponse
	if err := c.do(ctx, http.MethodGet, "/messages/unread/count", nil, &resp); err != nil {
		return 0, err
	}
	return resp.UnreadCount, nil
}

// UnreadCountFrom fetches the unread count for one counterpart.
func (c *Client) UnreadCountFrom(ctx context.Context, otherUserID int64) (int, error) {
	var resp unreadCountResponse
	path := fmt.Sprintf("/messages/unread/count/%d", otherUserID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return 0, err
	}
	return resp.UnreadCount, nil
}
