package ari

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// HTTPClient talks to Asterisk over the ARI REST API and WebSocket
// event stream.
type HTTPClient struct {
	baseURL    string // e.g. "http://127.0.0.1:8088/ari"
	username   string
	password   string
	httpClient *http.Client

	mu     sync.Mutex
	closed bool
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(c *HTTPClient) { c.httpClient = hc }
}

// NewHTTPClient creates an ARI client for the given base URL
// (typically "http://host:8088/ari") and credentials.
func NewHTTPClient(baseURL, username, password string, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		username:   username,
		password:   password,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx response from the ARI REST API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ari: http %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is an ARI 404, which on hangup paths
// means the channel already went away.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// do performs one REST call. out may be nil for commands with no
// interesting response body.
func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return fmt.Errorf("ari: build request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ari: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("ari: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("ari: decode response: %w", err)
		}
	}
	return nil
}

// Answer answers a channel.
func (c *HTTPClient) Answer(ctx context.Context, channelID string) error {
	return c.do(ctx, http.MethodPost, "/channels/"+channelID+"/answer", nil, nil)
}

// Hangup hangs up a channel.
func (c *HTTPClient) Hangup(ctx context.Context, channelID string) error {
	return c.do(ctx, http.MethodDelete, "/channels/"+channelID, nil, nil)
}

// Play starts media playback on a channel.
func (c *HTTPClient) Play(ctx context.Context, channelID, mediaURI string) (*Playback, error) {
	q := url.Values{"media": {mediaURI}}
	var pb Playback
	if err := c.do(ctx, http.MethodPost, "/channels/"+channelID+"/play", q, &pb); err != nil {
		return nil, err
	}
	return &pb, nil
}

// Originate creates a new outbound channel.
func (c *HTTPClient) Originate(ctx context.Context, req OriginateRequest) (*Channel, error) {
	q := url.Values{
		"endpoint": {req.Endpoint},
		"app":      {req.App},
	}
	if req.AppArgs != "" {
		q.Set("appArgs", req.AppArgs)
	}
	if req.Context != "" {
		q.Set("context", req.Context)
	}
	if req.TimeoutSeconds > 0 {
		q.Set("timeout", strconv.Itoa(req.TimeoutSeconds))
	}
	for k, v := range req.Variables {
		q.Set("variables["+k+"]", v)
	}

	var ch Channel
	if err := c.do(ctx, http.MethodPost, "/channels", q, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

// CreateExternalMedia creates an RTP-backed media channel.
func (c *HTTPClient) CreateExternalMedia(ctx context.Context, req ExternalMediaRequest) (*Channel, error) {
	q := url.Values{
		"app":           {req.App},
		"external_host": {req.ExternalHost},
		"format":        {req.Format},
	}
	if req.Direction != "" {
		q.Set("direction", req.Direction)
	}

	var ch Channel
	if err := c.do(ctx, http.MethodPost, "/channels/externalMedia", q, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

// CreateBridge creates a new bridge.
func (c *HTTPClient) CreateBridge(ctx context.Context, bridgeType string) (*Bridge, error) {
	q := url.Values{"type": {bridgeType}}
	var b Bridge
	if err := c.do(ctx, http.MethodPost, "/bridges", q, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// AddChannels places channels into a bridge.
func (c *HTTPClient) AddChannels(ctx context.Context, bridgeID string, channelIDs ...string) error {
	q := url.Values{"channel": {strings.Join(channelIDs, ",")}}
	return c.do(ctx, http.MethodPost, "/bridges/"+bridgeID+"/addChannel", q, nil)
}

// DestroyBridge tears a bridge down.
func (c *HTTPClient) DestroyBridge(ctx context.Context, bridgeID string) error {
	return c.do(ctx, http.MethodDelete, "/bridges/"+bridgeID, nil, nil)
}

// Channels lists all active channels.
func (c *HTTPClient) Channels(ctx context.Context) ([]Channel, error) {
	var chans []Channel
	if err := c.do(ctx, http.MethodGet, "/channels", nil, &chans); err != nil {
		return nil, err
	}
	return chans, nil
}

// Bridges lists all bridges.
func (c *HTTPClient) Bridges(ctx context.Context) ([]Bridge, error) {
	var bridges []Bridge
	if err := c.do(ctx, http.MethodGet, "/bridges", nil, &bridges); err != nil {
		return nil, err
	}
	return bridges, nil
}

// Subscribe opens the application event WebSocket.
func (c *HTTPClient) Subscribe(ctx context.Context, app string) (EventStream, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	wsURL, err := c.eventsURL(app)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: c.httpClient.Timeout,
	}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return nil, &APIError{
				StatusCode: resp.StatusCode,
				Message:    fmt.Sprintf("websocket dial: %v", err),
			}
		}
		return nil, fmt.Errorf("ari: websocket dial: %w", err)
	}

	s := &wsEventStream{
		conn:    conn,
		events:  make(chan *Event, 64),
		closeCh: make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// eventsURL converts the REST base URL into the events WebSocket URL.
// ARI authenticates the WebSocket via the api_key query parameter.
func (c *HTTPClient) eventsURL(app string) (string, error) {
	u, err := url.Parse(c.baseURL + "/events")
	if err != nil {
		return "", fmt.Errorf("ari: parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	q := u.Query()
	q.Set("app", app)
	q.Set("api_key", c.username+":"+c.password)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Close marks the client closed. Event streams are closed individually.
func (c *HTTPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// wsEventStream is the gorilla/websocket-backed EventStream.
type wsEventStream struct {
	conn    *websocket.Conn
	events  chan *Event
	closeCh chan struct{}

	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

func (s *wsEventStream) Events() <-chan *Event { return s.events }

func (s *wsEventStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *wsEventStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closeCh)
		err = s.conn.Close()
	})
	return err
}

func (s *wsEventStream) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// readLoop reads events until the connection drops or Close is called.
func (s *wsEventStream) readLoop() {
	defer close(s.events)

	for {
		select {
		case <-s.closeCh:
			return
		default:
		}

		_, message, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closeCh:
				// Clean close; ReadMessage fails once the conn is closed.
			default:
				s.setErr(fmt.Errorf("ari: event stream: %w", err))
			}
			return
		}

		var ev Event
		if err := json.Unmarshal(message, &ev); err != nil {
			slog.Warn("ari: dropping undecodable event", "error", err)
			continue
		}
		ev.Raw = message

		if slog.Default().Enabled(context.Background(), slog.LevelDebug) {
			slog.Debug("ari: event", "type", ev.Type, "len", len(message))
		}

		select {
		case <-s.closeCh:
			return
		case s.events <- &ev:
		}
	}
}

// Ensure HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
