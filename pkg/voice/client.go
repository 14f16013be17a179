package voice

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

// DefaultURL is the realtime WebSocket endpoint.
const DefaultURL = "wss://api.openai.com/v1/realtime"

// Client dials realtime sessions. One client serves many calls.
type Client struct {
	apiKey     string
	url        string
	model      string
	project    string
	httpClient *http.Client
}

// Option configures the Client.
type Option func(*Client)

// WithURL overrides the WebSocket endpoint. Tests point this at a
// local server.
func WithURL(url string) Option {
	return func(c *Client) { c.url = url }
}

// WithModel selects the realtime model.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithProject sets the OpenAI project header.
func WithProject(project string) Option {
	return func(c *Client) { c.project = project }
}

// WithHTTPClient sets the HTTP client whose timeout bounds the
// WebSocket handshake.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a realtime client.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		url:        DefaultURL,
		model:      DefaultModel,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect establishes one realtime session and sends its configuration.
// The session config is fixed for the session's lifetime.
func (c *Client) Connect(ctx context.Context, config SessionConfig) (*Session, error) {
	url := fmt.Sprintf("%s?model=%s", c.url, c.model)

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+c.apiKey)
	headers.Set("OpenAI-Beta", "realtime=v1")
	if c.project != "" {
		headers.Set("OpenAI-Project", c.project)
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.httpClient.Timeout}
	conn, resp, err := dialer.DialContext(ctx, url, headers)
	if err != nil {
		if resp != nil {
			return nil, &Error{
				Code:       "connection_failed",
				Message:    fmt.Sprintf("dial: %v", err),
				HTTPStatus: resp.StatusCode,
			}
		}
		return nil, fmt.Errorf("voice: dial: %w", err)
	}

	s := newSession(conn, config)
	if err := s.configure(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("voice: configure session: %w", err)
	}
	go s.readLoop()
	return s, nil
}
