package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	gocache "github.com/patrickmn/go-cache"
)

// ErrInvalidToken means the identity service rejected the bearer token.
var ErrInvalidToken = errors.New("invalid identity token")

const defaultTimeout = 10 * time.Second

// Client verifies bearer tokens against the parent-facing application and
// caches successful verifications so repeated runs do not hammer it.
type Client struct {
	baseURL string
	http    *resty.Client
	cache   *gocache.Cache
	ttl     time.Duration
}

// New creates an identity-verification client. ttl bounds how long a
// verified token is trusted without re-checking.
func New(baseURL string, ttl time.Duration) *Client {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Client{
		baseURL: baseURL,
		http:    resty.New().SetTimeout(defaultTimeout),
		cache:   gocache.New(ttl, 2*ttl),
		ttl:     ttl,
	}
}

// Verify resolves a bearer token to a principal id.
// GET {base}/api/v1/me
func (c *Client) Verify(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}

	if id, ok := c.cache.Get(token); ok {
		return id.(string), nil
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		Get(c.baseURL + "/api/v1/me")
	if err != nil {
		return "", fmt.Errorf("verifying token: %w", err)
	}

	switch {
	case resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden:
		return "", ErrInvalidToken
	case resp.StatusCode() >= 400:
		return "", fmt.Errorf("identity service error: status %d", resp.StatusCode())
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("decoding identity response: %w", err)
	}
	if out.ID == "" {
		return "", ErrInvalidToken
	}

	c.cache.Set(token, out.ID, c.ttl)
	return out.ID, nil
}
