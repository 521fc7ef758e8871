package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"candle_dash/internal/modules/config"
	"candle_dash/pkg/logger"
)

// Client dials graphql-transport-ws subscriptions against the internal
// API. Shared process-wide; every Subscribe opens its own connection so a
// dead subscription never poisons another selection.
type Client struct {
	dialer   *websocket.Dialer
	endpoint string
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		endpoint: cfg.API.WSURL + "/graphql",
	}
}

// wsMessage is the graphql-transport-ws frame envelope.
type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Subscription is one live subscription. Events carries each next-message
// data payload in arrival order; the channel closes on completion, error
// or Close. After the channel closes Err reports the terminal error, nil
// for a graceful complete.
type Subscription struct {
	Events <-chan json.RawMessage

	conn *websocket.Conn
	id   string

	mu  sync.Mutex
	err error

	closeOnce sync.Once
}

func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) setErr(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

// Close stops the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = s.conn.Close()
	})
}

// Subscribe opens a connection, performs the connection_init/ack
// handshake and starts the named operation. Cancelling ctx closes the
// connection and terminates the event stream.
func (c *Client) Subscribe(ctx context.Context, query string, vars map[string]any) (*Subscription, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "graphqlws dial")
	}

	if err := writeMessage(conn, wsMessage{Type: "connection_init"}); err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "connection_init")
	}

	// The server must ack before any operation starts.
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	for {
		msg, err := readMessage(conn)
		if err != nil {
			_ = conn.Close()
			return nil, errors.Wrap(err, "await connection_ack")
		}
		if msg.Type == "connection_ack" {
			break
		}
		// ka / ping frames before the ack are legal, skip them.
	}
	_ = conn.SetReadDeadline(time.Time{})

	payload, err := sonic.Marshal(map[string]any{"query": query, "variables": vars})
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "marshal subscribe payload")
	}
	if err := writeMessage(conn, wsMessage{ID: "1", Type: "subscribe", Payload: payload}); err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "subscribe")
	}

	events := make(chan json.RawMessage)
	sub := &Subscription{Events: events, conn: conn, id: "1"}

	go func() {
		<-ctx.Done()
		sub.Close()
	}()

	go sub.readLoop(events)

	return sub, nil
}

func (s *Subscription) readLoop(events chan<- json.RawMessage) {
	defer close(events)

	for {
		msg, err := readMessage(s.conn)
		if err != nil {
			s.setErr(errors.Wrap(err, "graphqlws read"))
			return
		}

		switch msg.Type {
		case "next":
			var envelope struct {
				Data json.RawMessage `json:"data"`
			}
			if err := sonic.Unmarshal(msg.Payload, &envelope); err != nil {
				logger.Warn("graphqlws: bad next payload: %v", err)
				continue
			}
			events <- envelope.Data
		case "ping":
			_ = writeMessage(s.conn, wsMessage{Type: "pong"})
		case "error":
			s.setErr(errors.Errorf("graphqlws: server error: %s", string(msg.Payload)))
			return
		case "complete":
			// Graceful end of stream, Err stays nil.
			return
		}
	}
}

func writeMessage(conn *websocket.Conn, msg wsMessage) error {
	raw, err := sonic.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, raw)
}

func readMessage(conn *websocket.Conn) (wsMessage, error) {
	var msg wsMessage
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return msg, err
	}
	if err := sonic.Unmarshal(raw, &msg); err != nil {
		return msg, err
	}
	return msg, nil
}
