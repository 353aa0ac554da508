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
	"strings"
	"sync"
	"time"

	"livesignal/internal/core/domain"
	"livesignal/pkg/validation"

	"github.com/gorilla/websocket"
)

// APIError is a non-2xx control plane response.
type APIError struct {
	Status  int
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return fmt.Sprintf("%s: %s (HTTP %d)", e.Code, e.Message, e.Status)
}

// Client talks to the livesignal control plane and opens signaling channels.
type Client struct {
	baseURL    string
	httpClient *http.Client
	dialer     *websocket.Dialer
	wsPath     string
	token      string
}

func New(baseURL string) (*Client, error) {
	if err := validation.ValidateURL(baseURL); err != nil {
		return nil, err
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		wsPath: "/live/ws",
	}, nil
}

// SetToken sets the bearer token sent with every request.
func (c *Client) SetToken(token string) {
	c.token = token
}

type StartResponse struct {
	SessionID    domain.SessionID    `json:"sessionId"`
	ChannelToken string              `json:"channelToken"`
	State        domain.SessionState `json:"state"`
	ExpiresIn    int                 `json:"expiresIn"`
}

type JoinResponse struct {
	SessionID    domain.SessionID `json:"sessionId"`
	ChannelToken string           `json:"channelToken"`
	ExpiresIn    int              `json:"expiresIn"`
}

type StopResponse struct {
	SessionID domain.SessionID    `json:"sessionId"`
	State     domain.SessionState `json:"state"`
}

func (c *Client) Start(ctx context.Context, maxViewers int) (*StartResponse, error) {
	var out StartResponse
	err := c.do(ctx, http.MethodPost, "/live/start", map[string]int{"maxViewers": maxViewers}, &out)
	return &out, err
}

func (c *Client) Join(ctx context.Context, sessionID domain.SessionID) (*JoinResponse, error) {
	var out JoinResponse
	err := c.do(ctx, http.MethodPost, "/live/join", map[string]domain.SessionID{"sessionId": sessionID}, &out)
	return &out, err
}

func (c *Client) Stop(ctx context.Context, sessionID domain.SessionID) (*StopResponse, error) {
	var out StopResponse
	err := c.do(ctx, http.MethodPost, "/live/stop", map[string]domain.SessionID{"sessionId": sessionID}, &out)
	return &out, err
}

func (c *Client) Session(ctx context.Context, sessionID domain.SessionID) (*domain.SessionRecord, error) {
	var out struct {
		Session *domain.SessionRecord `json:"session"`
	}
	if err := c.do(ctx, http.MethodGet, "/live/sessions/"+url.PathEscape(string(sessionID)), nil, &out); err != nil {
		return nil, err
	}
	return out.Session, nil
}

func (c *Client) Sessions(ctx context.Context) ([]*domain.SessionRecord, error) {
	var out struct {
		Sessions []*domain.SessionRecord `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, "/live/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		return apiErr
	}
	return json.Unmarshal(data, out)
}

// Dial opens a signaling channel with a channel token from Start or Join.
func (c *Client) Dial(ctx context.Context, channelToken string) (*Channel, error) {
	u, err := url.Parse(c.baseURL + c.wsPath)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.RawQuery = url.Values{"token": {channelToken}}.Encode()

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			apiErr := &APIError{Status: resp.StatusCode}
			if data, readErr := io.ReadAll(resp.Body); readErr == nil {
				_ = json.Unmarshal(data, apiErr)
			}
			return nil, apiErr
		}
		return nil, err
	}
	return &Channel{conn: conn}, nil
}

// Channel is an open signaling channel. Receive must be called from a single
// goroutine; Send is safe for concurrent use.
type Channel struct {
	conn *websocket.Conn

	mu  sync.Mutex
	seq uint64
}

// ErrClosed is returned by Receive once the server closed the channel.
var ErrClosed = errors.New("channel closed")

// Receive blocks for the next message. When the server closes the channel
// the error wraps ErrClosed and carries the close reason.
func (ch *Channel) Receive() (*domain.Message, error) {
	_, data, err := ch.conn.ReadMessage()
	if err != nil {
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			return nil, fmt.Errorf("%w: %s", ErrClosed, closeErr.Text)
		}
		return nil, err
	}
	var msg domain.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Send writes one message with the next sequence number.
func (ch *Channel) Send(kind domain.MessageKind, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.seq++
	return ch.conn.WriteJSON(&domain.Message{
		Kind:    kind,
		Seq:     ch.seq,
		Payload: raw,
	})
}

// Ack acknowledges a session-ending notice.
func (ch *Channel) Ack() error {
	return ch.Send(domain.KindControl, domain.ControlPayload{Action: domain.ActionAck})
}

// Close sends a normal close frame and closes the connection.
func (ch *Channel) Close() error {
	ch.mu.Lock()
	_ = ch.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	ch.mu.Unlock()
	return ch.conn.Close()
}

// DecodeControl returns the control event carried by a server message.
func DecodeControl(msg *domain.Message) (*domain.ControlEvent, error) {
	if msg.Kind != domain.KindControl {
		return nil, fmt.Errorf("%s is not a control message", msg.Kind)
	}
	var ev domain.ControlEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}
