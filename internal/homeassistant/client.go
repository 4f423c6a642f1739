// Package homeassistant talks to Home Assistant over its WebSocket API:
// it keeps a registry of light states and areas up to date and calls services.
package homeassistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	// ErrAuthInvalid is returned when Home Assistant rejects the access token.
	ErrAuthInvalid = errors.New("home assistant authentication failed")
	// ErrNotConnected is returned by calls made while no session is active.
	ErrNotConnected = errors.New("not connected to home assistant")
	// errSessionClosed fails calls still pending when a session drops.
	errSessionClosed = errors.New("home assistant session closed")
)

// Client provides access to the Home Assistant WebSocket API.
// It holds at most one live session; Run keeps it connected.
type Client struct {
	endpoint string
	token    string
	timeout  time.Duration
	dialer   *websocket.Dialer

	mu      sync.RWMutex
	session *session
}

// NewClient creates a new client for the instance at baseURL (http or https).
func NewClient(baseURL, token string, timeout time.Duration) (*Client, error) {
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	endpoint, err := websocketURL(baseURL)
	if err != nil {
		return nil, err
	}

	return &Client{
		endpoint: endpoint,
		token:    token,
		timeout:  timeout,
		dialer: &websocket.Dialer{
			HandshakeTimeout: timeout,
			Proxy:            websocket.DefaultDialer.Proxy,
		},
	}, nil
}

// websocketURL maps http(s)://host[:port][/prefix] to ws(s)://.../api/websocket
func websocketURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid home assistant url: %w", err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid home assistant url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid home assistant url: missing host")
	}

	u.Path = strings.TrimRight(u.Path, "/")
	if !strings.HasSuffix(u.Path, "/api/websocket") {
		u.Path += "/api/websocket"
	}
	return u.String(), nil
}

// Endpoint returns the websocket URL in use
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Connected reports whether a session is currently active.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session != nil
}

// connect dials and authenticates a new session.
func (c *Client) connect(ctx context.Context) (*session, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, _, err := c.dialer.DialContext(dialCtx, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial home assistant: %w", err)
	}

	version, err := authenticate(conn, c.token, c.timeout)
	if err != nil {
		conn.Close()
		return nil, err
	}

	log.Info().Str("endpoint", c.endpoint).Str("version", version).Msg("Connected to Home Assistant")
	return newSession(conn), nil
}

// authenticate performs the auth_required / auth / auth_ok handshake.
func authenticate(conn *websocket.Conn, token string, timeout time.Duration) (string, error) {
	conn.SetReadDeadline(time.Now().Add(timeout))
	defer conn.SetReadDeadline(time.Time{})

	var msg incoming
	if err := conn.ReadJSON(&msg); err != nil {
		return "", fmt.Errorf("failed to read auth request: %w", err)
	}
	if msg.Type != "auth_required" {
		return "", fmt.Errorf("unexpected message %q before auth", msg.Type)
	}

	conn.SetWriteDeadline(time.Now().Add(timeout))
	err := conn.WriteJSON(map[string]interface{}{
		"type":         "auth",
		"access_token": token,
	})
	conn.SetWriteDeadline(time.Time{})
	if err != nil {
		return "", fmt.Errorf("failed to send auth: %w", err)
	}

	if err := conn.ReadJSON(&msg); err != nil {
		return "", fmt.Errorf("failed to read auth response: %w", err)
	}
	switch msg.Type {
	case "auth_ok":
		return msg.Version, nil
	case "auth_invalid":
		return "", fmt.Errorf("%w: %s", ErrAuthInvalid, msg.Message)
	default:
		return "", fmt.Errorf("unexpected auth response %q", msg.Type)
	}
}

func (c *Client) current() *session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

func (c *Client) setSession(s *session) {
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
}

// CallService invokes domain.service with the given service data.
func (c *Client) CallService(ctx context.Context, domain, service string, data map[string]interface{}) error {
	s := c.current()
	if s == nil {
		return ErrNotConnected
	}

	_, err := s.call(ctx, map[string]interface{}{
		"type":         "call_service",
		"domain":       domain,
		"service":      service,
		"service_data": data,
	})
	if err != nil {
		return fmt.Errorf("call %s.%s: %w", domain, service, err)
	}
	return nil
}

// GetStates returns all entity states
func (s *session) GetStates(ctx context.Context) ([]State, error) {
	var states []State
	if err := s.callInto(ctx, map[string]interface{}{"type": "get_states"}, &states); err != nil {
		return nil, fmt.Errorf("get_states: %w", err)
	}
	return states, nil
}

// ListAreas returns the area registry
func (s *session) ListAreas(ctx context.Context) ([]Area, error) {
	var areas []Area
	if err := s.callInto(ctx, map[string]interface{}{"type": "config/area_registry/list"}, &areas); err != nil {
		return nil, fmt.Errorf("area registry: %w", err)
	}
	return areas, nil
}

// ListEntities returns the entity registry
func (s *session) ListEntities(ctx context.Context) ([]EntityEntry, error) {
	var entities []EntityEntry
	if err := s.callInto(ctx, map[string]interface{}{"type": "config/entity_registry/list"}, &entities); err != nil {
		return nil, fmt.Errorf("entity registry: %w", err)
	}
	return entities, nil
}

// ListDevices returns the device registry
func (s *session) ListDevices(ctx context.Context) ([]DeviceEntry, error) {
	var devices []DeviceEntry
	if err := s.callInto(ctx, map[string]interface{}{"type": "config/device_registry/list"}, &devices); err != nil {
		return nil, fmt.Errorf("device registry: %w", err)
	}
	return devices, nil
}

// Subscribe registers handler for events of eventType. The handler runs on
// the session's read goroutine and must not block or issue calls.
func (s *session) Subscribe(ctx context.Context, eventType string, handler func(Event)) error {
	id := s.reserveID()

	s.mu.Lock()
	s.subs[id] = handler
	s.mu.Unlock()

	_, err := s.send(ctx, id, map[string]interface{}{
		"type":       "subscribe_events",
		"event_type": eventType,
	})
	if err != nil {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
		return fmt.Errorf("subscribe %s: %w", eventType, err)
	}
	return nil
}

// Ping checks the session is alive.
func (s *session) Ping(ctx context.Context) error {
	_, err := s.call(ctx, map[string]interface{}{"type": "ping"})
	return err
}

// session is one authenticated websocket connection.
type session struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan result
	subs    map[int64]func(Event)

	done    chan struct{}
	errOnce sync.Once
	err     error
}

func newSession(conn *websocket.Conn) *session {
	return &session{
		conn:    conn,
		pending: make(map[int64]chan result),
		subs:    make(map[int64]func(Event)),
		done:    make(chan struct{}),
	}
}

func (s *session) reserveID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return s.nextID
}

func (s *session) call(ctx context.Context, msg map[string]interface{}) (json.RawMessage, error) {
	return s.send(ctx, s.reserveID(), msg)
}

func (s *session) callInto(ctx context.Context, msg map[string]interface{}, out interface{}) error {
	payload, err := s.call(ctx, msg)
	if err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	return json.Unmarshal(payload, out)
}

// send writes msg with the given id and waits for the matching result.
func (s *session) send(ctx context.Context, id int64, msg map[string]interface{}) (json.RawMessage, error) {
	ch := make(chan result, 1)

	s.mu.Lock()
	s.pending[id] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}()

	msg["id"] = id

	s.writeMu.Lock()
	if deadline, ok := ctx.Deadline(); ok {
		s.conn.SetWriteDeadline(deadline)
	}
	err := s.conn.WriteJSON(msg)
	s.conn.SetWriteDeadline(time.Time{})
	s.writeMu.Unlock()
	if err != nil {
		s.fail(err)
		return nil, err
	}

	select {
	case r := <-ch:
		return r.payload, r.err
	case <-s.done:
		return nil, errSessionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// readLoop routes results to callers and events to subscribers until the
// connection fails.
func (s *session) readLoop() {
	for {
		var msg incoming
		if err := s.conn.ReadJSON(&msg); err != nil {
			s.fail(err)
			return
		}

		switch msg.Type {
		case "result", "pong":
			s.mu.Lock()
			ch, ok := s.pending[msg.ID]
			s.mu.Unlock()
			if !ok {
				continue
			}
			r := result{payload: msg.Result}
			if msg.Type == "result" && !msg.Success {
				r.err = msg.Error
				if msg.Error == nil {
					r.err = &APIError{Code: "unknown_error", Message: "command failed"}
				}
			}
			select {
			case ch <- r:
			default:
			}

		case "event":
			s.mu.Lock()
			handler, ok := s.subs[msg.ID]
			s.mu.Unlock()
			if ok && msg.Event != nil {
				handler(*msg.Event)
			}
		}
	}
}

// fail records the first error and closes the session.
func (s *session) fail(err error) {
	s.errOnce.Do(func() {
		s.err = err
		close(s.done)
		s.conn.Close()
	})
}

// Done is closed once the session is no longer usable.
func (s *session) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that ended the session.
func (s *session) Err() error {
	<-s.done
	return s.err
}

// Close ends the session.
func (s *session) Close() {
	s.writeMu.Lock()
	s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()
	s.fail(errSessionClosed)
}
