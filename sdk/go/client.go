package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"learnledger/core"
)

// Option configures the Client.
type Option func(*Client)

// Client provides typed access to the LearnLedger HTTP + WebSocket API.
type Client struct {
	baseURL    string
	wsURL      string
	httpClient *http.Client
	headers    http.Header
}

// NewClient constructs a new SDK client targeting the given baseURL (e.g., http://localhost:8080/api).
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("baseURL is required")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	c := &Client{
		baseURL:    baseURL,
		wsURL:      deriveWSURL(baseURL),
		httpClient: http.DefaultClient,
		headers:    make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithAuthToken adds an Authorization: Bearer token header to all requests (HTTP + WS).
func WithAuthToken(token string) Option {
	return func(c *Client) {
		if strings.TrimSpace(token) != "" {
			c.headers.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithAPIKey adds an X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		if strings.TrimSpace(key) != "" {
			c.headers.Set("X-API-Key", key)
		}
	}
}

// WithHeader sets an arbitrary header applied to HTTP and WS calls.
func WithHeader(k, v string) Option {
	return func(c *Client) {
		if k != "" {
			c.headers.Set(k, v)
		}
	}
}

// RecordEvent submits a learning action for a user and returns the ledger's result.
func (c *Client) RecordEvent(ctx context.Context, userID string, ev EventRequest) (EventResult, error) {
	if strings.TrimSpace(userID) == "" {
		return EventResult{}, ErrEmptyUserID
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return EventResult{}, err
	}
	u := fmt.Sprintf("%s/users/%s/events", c.baseURL, url.PathEscape(userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return EventResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return EventResult{}, err
	}
	defer resp.Body.Close()

	var result EventResult
	if err := decodeJSON(resp, &result); err != nil {
		return EventResult{}, err
	}
	return result, nil
}

// Progress fetches the current progress ledger entry for a user.
func (c *Client) Progress(ctx context.Context, userID string) (Progress, error) {
	var p Progress
	err := c.getJSON(ctx, fmt.Sprintf("%s/users/%s/progress", c.baseURL, url.PathEscape(userID)), userID, &p)
	return p, err
}

// Grants fetches the user's reward grants.
func (c *Client) Grants(ctx context.Context, userID string) ([]Grant, error) {
	var grants []Grant
	err := c.getJSON(ctx, fmt.Sprintf("%s/users/%s/grants", c.baseURL, url.PathEscape(userID)), userID, &grants)
	return grants, err
}

// Achievements fetches the user's achievement history.
func (c *Client) Achievements(ctx context.Context, userID string) ([]Achievement, error) {
	var achievements []Achievement
	err := c.getJSON(ctx, fmt.Sprintf("%s/users/%s/achievements", c.baseURL, url.PathEscape(userID)), userID, &achievements)
	return achievements, err
}

// Rewards lists the active reward catalog.
func (c *Client) Rewards(ctx context.Context) ([]Reward, error) {
	var rewards []Reward
	err := c.getJSON(ctx, c.baseURL+"/rewards", "-", &rewards)
	return rewards, err
}

// Health probes /healthz and returns status + storage check.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	var hs HealthStatus
	err := c.getJSON(ctx, c.baseURL+"/healthz", "-", &hs)
	return hs, err
}

func (c *Client) getJSON(ctx context.Context, u, userID string, target any) error {
	if strings.TrimSpace(userID) == "" {
		return ErrEmptyUserID
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeJSON(resp, target)
}

// SubscribeEvents connects to the WebSocket stream and emits core.Event values.
// The returned channel closes when ctx is done or the connection drops.
func (c *Client) SubscribeEvents(ctx context.Context) (<-chan core.Event, error) {
	if c.wsURL == "" {
		return nil, errors.New("wsURL is not set; ensure baseURL is http/https")
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, c.wsURL, c.headers)
	if err != nil {
		return nil, err
	}

	out := make(chan core.Event, 32)
	go func() {
		defer close(out)
		defer conn.Close()
		for {
			select {
			case <-ctx.Done():
				return
			default:
				var evt core.Event
				if err := conn.ReadJSON(&evt); err != nil {
					return
				}
				select {
				case out <- evt:
				default:
					// drop if consumer is slow
				}
			}
		}
	}()
	return out, nil
}

func (c *Client) applyHeaders(r *http.Request) {
	for k, vals := range c.headers {
		for _, v := range vals {
			r.Header.Add(k, v)
		}
	}
}

func deriveWSURL(httpBase string) string {
	u, err := url.Parse(httpBase)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		// leave as-is for custom schemes
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String()
}
