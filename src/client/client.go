package client

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"price-relay/src/logger"
	"price-relay/src/models"

	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// RelayClient is a Go consumer for the relay's downstream WebSocket protocol.
// It keeps its subscription set across reconnects and delivers every server
// message on the Updates channel.
// -----------------------------------------------------------------------------

const (
	clientWriteWait    = 5 * time.Second
	clientDialTimeout  = 10 * time.Second
	heartbeatInterval  = 30 * time.Second
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
)

// Update is one decoded server message. Exactly one of the payload fields is
// set, matching Type.
type Update struct {
	Type       string
	Price      *models.MPriceMessage
	Cached     *models.MCachedPrices
	Status     *models.MSubscriptionStatus
	Connection *models.MConnectionMessage
}

type RelayClient struct {
	URL    string
	Logger *logger.Logger

	// Updates carries every decoded server message. The consumer must drain
	// it; a full channel drops the oldest behavior in favor of blocking.
	Updates chan Update

	mu         sync.Mutex
	conn       *websocket.Conn
	subscribed map[string]struct{}
	closed     bool
	done       chan struct{}

	writeMu sync.Mutex
}

// -----------------------------------------------------------------------------

func NewRelayClient(url string, log *logger.Logger) *RelayClient {
	return &RelayClient{
		URL:        url,
		Logger:     log,
		Updates:    make(chan Update, 256),
		subscribed: make(map[string]struct{}),
		done:       make(chan struct{}),
	}
}

// -----------------------------------------------------------------------------

// Connect dials the relay and starts the read and heartbeat loops. The client
// reconnects on its own after that; Connect only fails if the first dial does.
func (c *RelayClient) Connect() error {
	conn, err := c.dial()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)
	go c.heartbeatLoop()
	return nil
}

// -----------------------------------------------------------------------------

func (c *RelayClient) dial() (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: clientDialTimeout}
	conn, _, err := dialer.Dial(c.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial relay at %s: %w", c.URL, err)
	}
	return conn, nil
}

// -----------------------------------------------------------------------------

// Subscribe requests symbols and remembers them for resubscription after a
// reconnect.
func (c *RelayClient) Subscribe(symbols []string) error {
	c.mu.Lock()
	for _, s := range symbols {
		c.subscribed[s] = struct{}{}
	}
	c.mu.Unlock()

	return c.sendCommand(models.ActionSubscribe, symbols)
}

// -----------------------------------------------------------------------------

func (c *RelayClient) Unsubscribe(symbols []string) error {
	c.mu.Lock()
	for _, s := range symbols {
		delete(c.subscribed, s)
	}
	c.mu.Unlock()

	return c.sendCommand(models.ActionUnsubscribe, symbols)
}

// -----------------------------------------------------------------------------

// Subscribed returns a snapshot of the remembered subscription set.
func (c *RelayClient) Subscribed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(c.subscribed))
	for s := range c.subscribed {
		out = append(out, s)
	}
	return out
}

// -----------------------------------------------------------------------------

func (c *RelayClient) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	close(c.done)
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// -----------------------------------------------------------------------------

func (c *RelayClient) sendCommand(action string, symbols []string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("not connected")
	}

	cmd := models.MClientCommand{Action: action, Symbols: symbols}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(clientWriteWait))
	return conn.WriteJSON(cmd)
}

// -----------------------------------------------------------------------------

func (c *RelayClient) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.sendCommand(models.ActionHeartbeat, nil); err != nil {
				c.Logger.Debug("Heartbeat send failed: %v", err)
			}
		}
	}
}

// -----------------------------------------------------------------------------

func (c *RelayClient) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(err)
			return
		}
		c.decode(data)
	}
}

// -----------------------------------------------------------------------------

func (c *RelayClient) decode(data []byte) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		c.Logger.Debug("Dropping undecodable message: %v", err)
		return
	}

	update := Update{Type: envelope.Type}
	var err error

	switch envelope.Type {
	case models.TypePrice:
		var msg models.MPriceMessage
		err = json.Unmarshal(data, &msg)
		update.Price = &msg
	case models.TypeCachedPrices:
		var msg models.MCachedPrices
		err = json.Unmarshal(data, &msg)
		update.Cached = &msg
	case models.TypeSubscriptionStatus:
		var msg models.MSubscriptionStatus
		err = json.Unmarshal(data, &msg)
		update.Status = &msg
	case models.TypeConnection:
		var msg models.MConnectionMessage
		err = json.Unmarshal(data, &msg)
		update.Connection = &msg
	default:
		c.Logger.Debug("Ignoring message of unknown type %q", envelope.Type)
		return
	}

	if err != nil {
		c.Logger.Debug("Dropping malformed %s message: %v", envelope.Type, err)
		return
	}

	select {
	case c.Updates <- update:
	case <-c.done:
	}
}

// -----------------------------------------------------------------------------

func (c *RelayClient) handleDisconnect(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.mu.Unlock()

	c.Logger.Warning("Connection lost (%v), reconnecting", cause)

	delay := reconnectBaseDelay
	for {
		select {
		case <-c.done:
			return
		case <-time.After(delay):
		}

		conn, err := c.dial()
		if err != nil {
			c.Logger.Warning("Reconnect failed: %v", err)
			delay *= 2
			if delay > reconnectMaxDelay {
				delay = reconnectMaxDelay
			}
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			conn.Close()
			return
		}
		c.conn = conn
		c.mu.Unlock()

		go c.readLoop(conn)
		c.resubscribe()
		return
	}
}

// -----------------------------------------------------------------------------

func (c *RelayClient) resubscribe() {
	symbols := c.Subscribed()
	if len(symbols) == 0 {
		return
	}
	if err := c.sendCommand(models.ActionSubscribe, symbols); err != nil {
		c.Logger.Error("Resubscribe after reconnect failed: %v", err)
		return
	}
	c.Logger.Info("Resubscribed %d symbols after reconnect", len(symbols))
}
