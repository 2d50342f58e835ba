// Package client talks to a live-queue server: account calls over HTTP and a
// realtime session over websocket.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"live-queue/domain"
	"live-queue/domain/event"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type Account struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// StatusError is returned when the server answers with a non 2xx status.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server answered %d: %s", e.Status, e.Message)
}

func (c *Client) Register(ctx context.Context, name, email, password string) (Account, error) {
	var account Account
	err := c.post(ctx, "/api/auth/register", "", map[string]string{
		"name": name, "email": email, "password": password,
	}, &account)
	return account, err
}

func (c *Client) Login(ctx context.Context, email, password string) (Account, error) {
	var account Account
	err := c.post(ctx, "/api/auth/login", "", map[string]string{
		"email": email, "password": password,
	}, &account)
	return account, err
}

// Publish reports a committed mutation on behalf of the token owner.
func (c *Client) Publish(ctx context.Context, token string, t event.Type, item string, payload any) error {
	return c.post(ctx, "/api/events", token, map[string]any{"type": t, "item": item, "data": payload}, nil)
}

func (c *Client) Stats(ctx context.Context) (domain.Stats, error) {
	var stats domain.Stats
	err := c.do(ctx, http.MethodGet, "/stats", "", nil, &stats)
	return stats, err
}

func (c *Client) post(ctx context.Context, path, token string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, token, body, out)
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return &StatusError{Status: resp.StatusCode, Message: env.Message}
	}
	if out != nil && len(env.Data) > 0 {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

// Event is a server frame as seen by a client.
type Event struct {
	ID        string          `json:"id"`
	Type      event.Type      `json:"type"`
	Message   string          `json:"message"`
	User      string          `json:"user"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// Roster decodes a roster-snapshot payload.
func (e Event) Roster() (event.Roster, error) {
	var r event.Roster
	err := json.Unmarshal(e.Data, &r)
	return r, err
}

// Session is one realtime connection.
type Session struct {
	conn      *websocket.Conn
	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
	err       error
	mu        sync.Mutex
}

// Connect opens a realtime session authenticated with token.
// A refused handshake surfaces as a StatusError.
func (c *Client) Connect(ctx context.Context, token string) (*Session, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path = "/ws"

	header := http.Header{"Authorization": []string{"Bearer " + token}}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			var env envelope
			_ = json.NewDecoder(resp.Body).Decode(&env)
			return nil, &StatusError{Status: resp.StatusCode, Message: env.Message}
		}
		return nil, err
	}

	s := &Session{conn: conn, events: make(chan Event, 64), done: make(chan struct{})}
	go s.readLoop()
	return s, nil
}

// Events is closed when the connection ends; Err then tells why.
func (s *Session) Events() <-chan Event {
	return s.events
}

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) Typing(isTyping bool) error {
	return s.send(map[string]any{"type": event.TypingSignal, "data": map[string]bool{"isTyping": isTyping}})
}

func (s *Session) Ping() error {
	return s.send(map[string]any{"type": event.HeartbeatPing})
}

func (s *Session) RefreshRoster() error {
	return s.send(map[string]any{"type": event.RosterRefreshRequest})
}

// Close is safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		s.mu.Unlock()
		err = s.conn.Close()
	})
	return err
}

// Next waits for the next event of type t, skipping the others.
func (s *Session) Next(ctx context.Context, t event.Type) (Event, error) {
	for {
		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case evt, ok := <-s.events:
			if !ok {
				if err := s.Err(); err != nil {
					return Event{}, err
				}
				return Event{}, websocket.ErrCloseSent
			}
			if evt.Type == t {
				return evt, nil
			}
		}
	}
}

func (s *Session) send(frame any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(frame)
}

func (s *Session) readLoop() {
	defer close(s.events)
	for {
		var evt Event
		if err := s.conn.ReadJSON(&evt); err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.mu.Lock()
				s.err = err
				s.mu.Unlock()
			}
			return
		}
		select {
		case s.events <- evt:
		case <-s.done:
			return
		}
	}
}
