package events

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"voicecall-server/pkg/errors"
	"voicecall-server/pkg/metrics"
)

// ConnState is the stream client's connection state
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
)

// EventConnection is the synthetic event emitted when the stream
// (re)connects.
const EventConnection = "connection"

// Listener receives the data payload of a matching inbound message.
// Invocation order across listeners of one event is unspecified.
type Listener func(data json.RawMessage)

// envelope is the wire shape of inbound messages
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Config holds stream client configuration
type Config struct {
	URL                  string
	APIKey               string
	MaxReconnectAttempts int
	BaseDelay            time.Duration
	HandshakeTimeout     time.Duration
}

// StreamClient maintains a persistent websocket subscription to the call
// status push channel. Unsolicited closes trigger reconnects with a
// delay growing linearly in the attempt count; once the attempt budget
// is spent the client stays disconnected and it is up to the surrounding
// system to notice and alert.
type StreamClient struct {
	config Config
	logger *logrus.Logger
	dialer *websocket.Dialer

	mu             sync.Mutex
	conn           *websocket.Conn
	state          ConnState
	attempts       int
	closed         bool
	reconnectTimer *time.Timer

	listenerMu sync.Mutex
	listeners  map[string]map[int]Listener
	nextID     int
}

// NewStreamClient creates a client. Connect must be called to start the
// subscription.
func NewStreamClient(config Config, logger *logrus.Logger) *StreamClient {
	if config.MaxReconnectAttempts <= 0 {
		config.MaxReconnectAttempts = 5
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = time.Second
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 10 * time.Second
	}

	return &StreamClient{
		config: config,
		logger: logger,
		dialer: &websocket.Dialer{
			HandshakeTimeout: config.HandshakeTimeout,
		},
		state:     StateDisconnected,
		listeners: make(map[string]map[int]Listener),
	}
}

// Connect dials the push channel. On success the reconnect budget resets
// and a synthetic connection event is emitted. On failure a reconnect is
// scheduled and the dial error is returned.
func (c *StreamClient) Connect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.ErrStreamClosed
	}
	c.state = StateConnecting
	c.mu.Unlock()

	header := http.Header{}
	if c.config.APIKey != "" {
		header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	conn, _, err := c.dialer.Dial(c.config.URL, header)
	if err != nil {
		c.logger.WithField("url", c.config.URL).WithError(err).Warn("Event stream dial failed")
		c.handleDisconnect()
		return errors.Wrap(err, "event stream dial failed")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return errors.ErrStreamClosed
	}
	c.conn = conn
	c.state = StateConnected
	c.attempts = 0
	c.mu.Unlock()

	c.logger.WithField("url", c.config.URL).Info("Event stream connected")
	c.emit(EventConnection, json.RawMessage(`{"status":"connected"}`))

	go c.readLoop(conn)

	return nil
}

// readLoop consumes inbound messages until the connection drops
func (c *StreamClient) readLoop(conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				c.logger.WithError(err).Warn("Event stream connection lost")
				c.handleDisconnect()
			}
			return
		}

		var msg envelope
		if err := json.Unmarshal(payload, &msg); err != nil {
			// A malformed message never tears down the connection.
			c.logger.WithError(err).Error("Failed to decode event stream message")
			continue
		}

		c.emit(msg.Event, msg.Data)
	}
}

// handleDisconnect transitions to Disconnected and schedules the next
// reconnect attempt if the budget allows.
func (c *StreamClient) handleDisconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = StateDisconnected
	c.conn = nil

	if c.closed {
		return
	}

	if c.attempts >= c.config.MaxReconnectAttempts {
		c.logger.WithField("attempts", c.attempts).
			Error("Event stream reconnect budget exhausted, staying disconnected")
		return
	}

	c.attempts++
	delay := time.Duration(c.attempts) * c.config.BaseDelay
	c.logger.WithFields(logrus.Fields{
		"attempt":  c.attempts,
		"delay_ms": delay.Milliseconds(),
	}).Info("Scheduling event stream reconnect")

	metrics.RecordStreamReconnect()
	c.reconnectTimer = time.AfterFunc(delay, func() {
		_ = c.Connect()
	})
}

// On registers a listener for an event name and returns its handle
func (c *StreamClient) On(event string, listener Listener) int {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()

	if c.listeners[event] == nil {
		c.listeners[event] = make(map[int]Listener)
	}
	c.nextID++
	c.listeners[event][c.nextID] = listener

	return c.nextID
}

// Off removes a listener by its handle
func (c *StreamClient) Off(event string, id int) {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()

	delete(c.listeners[event], id)
}

// emit invokes every listener registered for the event
func (c *StreamClient) emit(event string, data json.RawMessage) {
	c.listenerMu.Lock()
	matched := make([]Listener, 0, len(c.listeners[event]))
	for _, l := range c.listeners[event] {
		matched = append(matched, l)
	}
	c.listenerMu.Unlock()

	for _, l := range matched {
		l(data)
	}
}

// State returns the current connection state
func (c *StreamClient) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Attempts returns the reconnect attempts consumed since the last
// successful connect.
func (c *StreamClient) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.attempts
}

// Close shuts the client down and suppresses further reconnects.
// Closing more than once is harmless.
func (c *StreamClient) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.state = StateDisconnected
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	c.logger.Info("Event stream closed")
}
