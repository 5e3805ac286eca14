package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/vadim/kidsight/internal/httpx/retry"
)

const (
	defaultBaseURL = "https://api.chatbridge.io"
	defaultTimeout = 30 * time.Second
)

// Client talks to the messaging provider's HTTP API. Every endpoint is
// templated by the per-child instance id and token, and every call goes
// through the retry policy.
type Client struct {
	baseURL string
	http    *resty.Client
	policy  retry.Policy
}

// ClientOption is a function that configures the Client
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithRetryPolicy sets the retry policy for all outbound calls
func WithRetryPolicy(p retry.Policy) ClientOption {
	return func(c *Client) {
		c.policy = p
	}
}

// WithHTTPClient sets a custom resty client
func WithHTTPClient(rc *resty.Client) ClientOption {
	return func(c *Client) {
		c.http = rc
	}
}

// New creates a new provider API client
func New(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		http:    resty.New().SetTimeout(defaultTimeout),
		policy:  retry.Default(4),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError represents a non-2xx response from the provider
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider API error: status %d: %s", e.Status, e.Body)
}

// Conversation is one remote chat thread as the provider reports it
type Conversation struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Type           string `json:"type"` // "user" or "group"
	LastActivityAt int64  `json:"lastActivityAt"` // unix ms, 0 when unknown
}

// IsGroup reports whether the provider tagged the thread as a group chat.
func (c Conversation) IsGroup() bool {
	return c.Type == "group"
}

// LastActivity converts the provider's activity timestamp; nil when absent.
func (c Conversation) LastActivity() *time.Time {
	if c.LastActivityAt == 0 {
		return nil
	}
	t := time.UnixMilli(c.LastActivityAt).UTC()
	return &t
}

// Message is one message as the provider reports it in chat history
type Message struct {
	ID          string `json:"id"`
	Timestamp   int64  `json:"timestamp"` // unix ms
	Type        string `json:"type"`
	FromMe      bool   `json:"fromMe"`
	Direction   string `json:"direction,omitempty"` // some instances tag "outgoing"/"incoming" instead of fromMe
	SenderID    string `json:"senderId,omitempty"`
	SenderName  string `json:"senderName,omitempty"`
	Text        string `json:"text,omitempty"`
	Caption     string `json:"caption,omitempty"`
	DownloadURL string `json:"downloadUrl,omitempty"`
	Thumbnail   string `json:"thumbnail,omitempty"`
}

// Outgoing reports whether the message was sent by the monitored account.
func (m Message) Outgoing() bool {
	return m.FromMe || m.Direction == "outgoing"
}

// Body returns the message text, falling back to the media caption.
func (m Message) Body() string {
	if m.Text != "" {
		return m.Text
	}
	return m.Caption
}

// ListConversations returns the provider's chat list, most recently active
// first.
// GET /instances/{id}/token/{token}/chats?pageSize=N
func (c *Client) ListConversations(ctx context.Context, instanceID, token string, pageSize int) ([]Conversation, error) {
	url := fmt.Sprintf("%s/instances/%s/token/%s/chats", c.baseURL, instanceID, token)

	resp, err := c.policy.Do(ctx, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetQueryParam("pageSize", fmt.Sprintf("%d", pageSize)).
			Get(url)
	})
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}

	var out []Conversation
	if err := c.decode(resp, &out); err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	return out, nil
}

// GetHistory returns up to count messages of a conversation's history.
// GET /instances/{id}/token/{token}/chats/{chatId}/messages?amount=N
func (c *Client) GetHistory(ctx context.Context, instanceID, token, chatID string, count int) ([]Message, error) {
	url := fmt.Sprintf("%s/instances/%s/token/%s/chats/%s/messages", c.baseURL, instanceID, token, chatID)

	resp, err := c.policy.Do(ctx, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetQueryParam("amount", fmt.Sprintf("%d", count)).
			Get(url)
	})
	if err != nil {
		return nil, fmt.Errorf("fetching history: %w", err)
	}

	var out []Message
	if err := c.decode(resp, &out); err != nil {
		return nil, fmt.Errorf("fetching history: %w", err)
	}
	return out, nil
}

// ResolveMedia asks the provider for a download location of a media message
// that arrived without one.
// GET /instances/{id}/token/{token}/chats/{chatId}/messages/{messageId}/media
func (c *Client) ResolveMedia(ctx context.Context, instanceID, token, chatID, messageID string) (string, error) {
	url := fmt.Sprintf("%s/instances/%s/token/%s/chats/%s/messages/%s/media",
		c.baseURL, instanceID, token, chatID, messageID)

	resp, err := c.policy.Do(ctx, func() (*resty.Response, error) {
		return c.http.R().SetContext(ctx).Get(url)
	})
	if err != nil {
		return "", fmt.Errorf("resolving media: %w", err)
	}

	var out struct {
		DownloadURL string `json:"downloadUrl"`
	}
	if err := c.decode(resp, &out); err != nil {
		return "", fmt.Errorf("resolving media: %w", err)
	}
	return out.DownloadURL, nil
}

// decode checks the response status and unmarshals the body
func (c *Client) decode(resp *resty.Response, out interface{}) error {
	if resp.StatusCode() >= 400 {
		return &APIError{Status: resp.StatusCode(), Body: string(resp.Body())}
	}

	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}
