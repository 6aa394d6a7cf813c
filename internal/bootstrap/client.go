// Package bootstrap wraps the session-bootstrap REST API: one call that
// turns an initial message into a conversation id the websocket connection
// is then scoped to. The rest of the REST surface is out of scope here.
package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gosuda/hubstream/internal/auth"
)

// Conversation is the bootstrap response.
type Conversation struct {
	ID     string `json:"conversation_id"`
	Domain string `json:"domain,omitempty"`
}

// Client calls the bootstrap endpoint.
type Client struct {
	baseURL string
	tokens  auth.TokenSource
	httpc   *http.Client
}

// New creates a bootstrap client.
func New(baseURL string, tokens auth.TokenSource) *Client {
	return &Client{
		baseURL: baseURL,
		tokens:  tokens,
		httpc:   &http.Client{Timeout: 15 * time.Second},
	}
}

type createRequest struct {
	Message string `json:"message"`
	Domain  string `json:"domain,omitempty"`
}

// CreateConversation exchanges an initial message for a conversation id.
// A 401 maps to auth.ErrTokenExpired so callers halt instead of retrying.
func (c *Client) CreateConversation(ctx context.Context, message, domain string) (Conversation, error) {
	body, err := json.Marshal(createRequest{Message: message, Domain: domain})
	if err != nil {
		return Conversation{}, fmt.Errorf("bootstrap.Client.CreateConversation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return Conversation{}, fmt.Errorf("bootstrap.Client.CreateConversation: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if c.tokens != nil {
		tok, tokErr := c.tokens.Token()
		if tokErr != nil {
			return Conversation{}, fmt.Errorf("bootstrap.Client.CreateConversation: %w", tokErr)
		}
		req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return Conversation{}, fmt.Errorf("bootstrap.Client.CreateConversation: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Conversation{}, fmt.Errorf("bootstrap.Client.CreateConversation: %w", auth.ErrTokenExpired)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return Conversation{}, fmt.Errorf("bootstrap.Client.CreateConversation: unexpected status %d", resp.StatusCode)
	}

	var conv Conversation
	if err := json.NewDecoder(resp.Body).Decode(&conv); err != nil {
		return Conversation{}, fmt.Errorf("bootstrap.Client.CreateConversation: decode: %w", err)
	}
	if conv.ID == "" {
		return Conversation{}, fmt.Errorf("bootstrap.Client.CreateConversation: empty conversation id in response")
	}

	return conv, nil
}
