// Package client is a typed client for the shipyard API and socket servers.
package client

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

	"github.com/gorilla/websocket"
)

const (
	defaultAPIBase    = "http://localhost:9000"
	defaultSocketBase = "ws://localhost:9002/ws"
)

// Client provides typed access to the shipyard API for interactive tools.
type Client struct {
	baseURL    string
	socketURL  string
	httpClient *http.Client
	dialer     *websocket.Dialer
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithSocketURL sets the websocket endpoint used by TailLogs.
func WithSocketURL(raw string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimSpace(raw); trimmed != "" {
			c.socketURL = trimmed
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = defaultAPIBase
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		socketURL:  defaultSocketBase,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		dialer:     websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(cli)
	}
	if _, err := url.Parse(cli.socketURL); err != nil {
		return nil, fmt.Errorf("invalid socket url: %w", err)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

func (c *Client) do(ctx context.Context, method, path string, body any, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	endpoint := c.baseURL + path
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return APIError{Status: resp.StatusCode, Message: extractError(resp.Body)}
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) string {
	var payload struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return ""
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Error)
}

// Deployment is the API's answer to a dispatch.
type Deployment struct {
	Status string `json:"status"`
	Slug   string `json:"projectSlug"`
	URL    string `json:"url"`
}

// Dispatch queues a build of gitURL.
func (c *Client) Dispatch(ctx context.Context, gitURL string) (Deployment, error) {
	var resp struct {
		Status string     `json:"status"`
		Data   Deployment `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/project", map[string]string{"gitURL": gitURL}, &resp); err != nil {
		return Deployment{}, err
	}
	resp.Data.Status = resp.Status
	return resp.Data, nil
}

// Session describes a recorded build.
type Session struct {
	Status    string    `json:"status"`
	Slug      string    `json:"projectSlug"`
	URL       string    `json:"url"`
	GitURL    string    `json:"gitURL"`
	Executor  string    `json:"executor"`
	CreatedAt time.Time `json:"createdAt"`
}

// Session fetches the build recorded under slug.
func (c *Client) Session(ctx context.Context, slug string) (Session, error) {
	var resp struct {
		Status string  `json:"status"`
		Data   Session `json:"data"`
	}
	path := "/project/" + url.PathEscape(slug)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return Session{}, err
	}
	resp.Data.Status = resp.Status
	return resp.Data, nil
}

// Recent lists up to limit builds, newest first. A non-positive limit uses the server default.
func (c *Client) Recent(ctx context.Context, limit int) ([]Session, error) {
	path := "/project"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Data []Session `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

type socketEvent struct {
	Event string `json:"event"`
	Data  string `json:"data"`
}

// TailLogs subscribes to slug on the socket server and calls fn for every line until ctx
// ends or the server closes the connection. The join acknowledgement is passed to fn too.
func (c *Client) TailLogs(ctx context.Context, slug string, fn func(line string)) error {
	conn, _, err := c.dialer.DialContext(ctx, c.socketURL, nil)
	if err != nil {
		return fmt.Errorf("dial socket: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	if err := conn.WriteJSON(socketEvent{Event: "subscribe", Data: slug}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	for {
		var evt socketEvent
		if err := conn.ReadJSON(&evt); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read socket: %w", err)
		}
		if evt.Event == "message" {
			fn(evt.Data)
		}
	}
}
