package upstream

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"price-relay/src/logger"
	"price-relay/src/models"
	"price-relay/src/subscription"

	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// Connection states
// -----------------------------------------------------------------------------

const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
)

const (
	writeWait      = 5 * time.Second
	dialTimeout    = 10 * time.Second
	maxBackoffWait = 30 * time.Second
)

// -----------------------------------------------------------------------------
// Manager owns the single outbound connection to the streaming price
// provider: connect, authenticate, heartbeat, resubscription on reconnect,
// and bounded exponential-backoff reconnection. There is exactly one Manager
// per process.
// -----------------------------------------------------------------------------

type Manager struct {
	Config models.MUpstreamConfig
	Logger *logger.Logger

	// Observers, set before the first Connect
	OnTick             func(models.MTick)
	OnSubscribeResult  func(models.MSubscribeResult)
	OnConnectionChange func(connected bool)

	// Demand reports whether any client or server-managed symbol still needs
	// the connection. Without demand a dropped connection stays down.
	Demand func() bool

	mu           sync.Mutex
	conn         *websocket.Conn
	state        string
	tracked      map[string]struct{}
	attempts     int
	alarmed      bool
	generation   int
	stop         chan struct{} // per-connection, closed on teardown
	lastActivity time.Time
	closed       bool

	writeMu sync.Mutex
}

// -----------------------------------------------------------------------------

func NewManager(cfg models.MUpstreamConfig, log *logger.Logger) *Manager {
	return &Manager{
		Config:  cfg,
		Logger:  log,
		state:   StateDisconnected,
		tracked: make(map[string]struct{}),
	}
}

// -----------------------------------------------------------------------------
// Public surface
// -----------------------------------------------------------------------------

// EnsureConnected starts a connection attempt if one is neither established
// nor in flight. New demand also clears an exhausted-reconnection alarm and
// restarts the attempt counter.
func (m *Manager) EnsureConnected() {
	m.mu.Lock()
	if m.closed || m.state != StateDisconnected {
		m.mu.Unlock()
		return
	}
	if m.alarmed {
		m.alarmed = false
		m.attempts = 0
	}
	m.mu.Unlock()

	go m.connect()
}

// -----------------------------------------------------------------------------

// Subscribe records the symbols as tracked and, when connected, sends one
// subscribe control message for the batch. While disconnected the symbols
// are picked up by the bulk resubscription on the next connect.
func (m *Manager) Subscribe(symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}

	m.mu.Lock()
	for _, s := range symbols {
		m.tracked[s] = struct{}{}
	}
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !connected {
		m.EnsureConnected()
		return nil
	}
	return m.sendControl(models.ActionSubscribe, symbols)
}

// -----------------------------------------------------------------------------

// Unsubscribe removes the symbols from the tracked set and, when connected,
// sends one unsubscribe control message.
func (m *Manager) Unsubscribe(symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}

	m.mu.Lock()
	for _, s := range symbols {
		delete(m.tracked, s)
	}
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !connected {
		return nil
	}
	return m.sendControl(models.ActionUnsubscribe, symbols)
}

// -----------------------------------------------------------------------------

// State returns the current connection state.
func (m *Manager) State() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connected reports whether the upstream socket is established.
func (m *Manager) Connected() bool {
	return m.State() == StateConnected
}

// Alarmed reports whether reconnection attempts have been exhausted.
func (m *Manager) Alarmed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alarmed
}

// TrackedCount returns the number of symbols the manager keeps subscribed.
func (m *Manager) TrackedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tracked)
}

// -----------------------------------------------------------------------------

// Close tears the connection down permanently (process shutdown).
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	conn := m.conn
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
	m.conn = nil
	m.state = StateDisconnected
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// -----------------------------------------------------------------------------
// Connection lifecycle
// -----------------------------------------------------------------------------

func (m *Manager) connect() {
	// Re-entrant guard: only one connect attempt may be in flight
	m.mu.Lock()
	if m.closed || m.state != StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.state = StateConnecting
	m.mu.Unlock()

	wsURL, err := m.buildURL()
	if err != nil {
		m.Logger.Error("Invalid upstream URL: %v", err)
		m.failConnect()
		return
	}

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.Dial(wsURL, nil)
	if err != nil {
		m.Logger.Warning("Upstream dial failed: %v", err)
		m.failConnect()
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		conn.Close()
		return
	}
	m.conn = conn
	m.state = StateConnected
	m.attempts = 0
	m.alarmed = false
	m.generation++
	gen := m.generation
	m.stop = make(chan struct{})
	stop := m.stop
	m.lastActivity = time.Now()
	resubscribe := make([]string, 0, len(m.tracked))
	for s := range m.tracked {
		resubscribe = append(resubscribe, s)
	}
	m.mu.Unlock()

	m.Logger.Info("Upstream connected (%d symbols to restore)", len(resubscribe))
	if m.OnConnectionChange != nil {
		m.OnConnectionChange(true)
	}

	go m.readLoop(conn, gen)
	go m.heartbeatLoop(conn, stop)
	go m.watchdogLoop(conn, stop)
	if len(resubscribe) > 0 {
		go m.resubscribeAll(resubscribe, stop)
	}
}

// -----------------------------------------------------------------------------

// failConnect handles a dial failure: back to disconnected, then the retry
// policy decides what happens next.
func (m *Manager) failConnect() {
	m.mu.Lock()
	m.state = StateDisconnected
	m.mu.Unlock()
	m.scheduleReconnect()
}

// -----------------------------------------------------------------------------

// handleClosed runs when the read loop for a live connection exits.
func (m *Manager) handleClosed(gen int, cause error) {
	m.mu.Lock()
	if gen != m.generation || m.closed {
		// A newer connection superseded this one
		m.mu.Unlock()
		return
	}
	conn := m.conn
	m.conn = nil
	m.state = StateDisconnected
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}

	m.Logger.Warning("Upstream connection closed: %v", cause)
	if m.OnConnectionChange != nil {
		m.OnConnectionChange(false)
	}

	m.scheduleReconnect()
}

// -----------------------------------------------------------------------------

// scheduleReconnect applies the reconnect policy: stay down without demand,
// otherwise back off quadratically up to the configured attempt limit.
func (m *Manager) scheduleReconnect() {
	if m.Demand != nil && !m.Demand() {
		m.Logger.Info("No active demand, staying disconnected")
		return
	}

	m.mu.Lock()
	if m.closed || m.state != StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.attempts++
	attempt := m.attempts
	if attempt > m.Config.MaxReconnectAttempts {
		m.alarmed = true
		m.mu.Unlock()
		m.Logger.Error("Reconnection attempts exhausted after %d tries, giving up until new demand",
			m.Config.MaxReconnectAttempts)
		return
	}
	m.mu.Unlock()

	delay := time.Duration(attempt*attempt) * time.Second
	if delay > maxBackoffWait {
		delay = maxBackoffWait
	}
	m.Logger.Info("Scheduling upstream reconnect attempt %d/%d in %v",
		attempt, m.Config.MaxReconnectAttempts, delay)

	time.AfterFunc(delay, m.connect)
}

// -----------------------------------------------------------------------------

func (m *Manager) buildURL() (string, error) {
	u, err := url.Parse(m.Config.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("apikey", m.Config.APIKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// -----------------------------------------------------------------------------
// Outbound
// -----------------------------------------------------------------------------

// sendControl writes one {action, params:{symbols}} frame.
func (m *Manager) sendControl(action string, symbols []string) error {
	msg := models.MUpstreamControl{Action: action}
	if len(symbols) > 0 {
		msg.Params = &models.MUpstreamParam{Symbols: strings.Join(symbols, ",")}
	}
	return m.writeJSON(msg)
}

// -----------------------------------------------------------------------------

func (m *Manager) writeJSON(v interface{}) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("upstream not connected")
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// -----------------------------------------------------------------------------

// resubscribeAll restores the tracked symbol set after a reconnect, in
// fixed-size batches with a delay in between so the provider's limit on
// subscription messages is respected.
func (m *Manager) resubscribeAll(symbols []string, stop chan struct{}) {
	batches := subscription.Chunk(symbols, m.Config.ResubscribeBatchSize)
	delay := time.Duration(m.Config.BatchDelayMillis) * time.Millisecond

	for i, batch := range batches {
		if i > 0 {
			select {
			case <-stop:
				return
			case <-time.After(delay):
			}
		}
		if err := m.sendControl(models.ActionSubscribe, batch); err != nil {
			m.Logger.Error("Resubscribe batch %d/%d failed: %v", i+1, len(batches), err)
			return
		}
	}
	m.Logger.Info("Resubscribed %d symbols in %d batches", len(symbols), len(batches))
}

// -----------------------------------------------------------------------------

func (m *Manager) heartbeatLoop(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(time.Duration(m.Config.HeartbeatSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := m.sendControl(models.ActionHeartbeat, nil); err != nil {
				return
			}
		}
	}
}

// -----------------------------------------------------------------------------

// watchdogLoop closes the socket when no inbound message has arrived for the
// configured stale window. Silently-dead connections never signal closure on
// their own; forcing the close kicks off the normal reconnect path.
func (m *Manager) watchdogLoop(conn *websocket.Conn, stop chan struct{}) {
	stale := time.Duration(m.Config.StaleAfterSeconds) * time.Second
	ticker := time.NewTicker(stale / 2)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			idle := time.Since(m.lastActivity)
			m.mu.Unlock()

			if idle > stale {
				m.Logger.Warning("No upstream activity for %v, forcing reconnect", idle.Round(time.Second))
				conn.Close()
				return
			}
		}
	}
}

// -----------------------------------------------------------------------------
// Inbound
// -----------------------------------------------------------------------------

func (m *Manager) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			m.handleClosed(gen, err)
			return
		}

		m.mu.Lock()
		m.lastActivity = time.Now()
		m.mu.Unlock()

		m.dispatch(raw)
	}
}

// -----------------------------------------------------------------------------

// dispatch discriminates the inbound frame shape: event frame, provider
// error, or bare price tick. Anything that matches no known shape is logged
// and dropped without touching the connection.
func (m *Manager) dispatch(raw []byte) {
	var msg models.MUpstreamMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		m.Logger.Warning("Dropping malformed upstream message: %v", err)
		return
	}

	switch {
	case msg.Event == models.EventHeartbeat:
		// liveness only, lastActivity already updated

	case msg.Event == models.EventSubscribeStatus || msg.Event == models.EventUnsubscribeStatus:
		if m.OnSubscribeResult != nil {
			m.OnSubscribeResult(parseStatusLists(msg))
		}

	case msg.Status == "error":
		m.Logger.Warning("Upstream error message: %s", msg.Message)

	// Zero-price frames are intentionally non-ticks: the provider uses
	// price 0 for placeholder frames, never for a real quote.
	case msg.Symbol != "" && msg.Price != 0:
		if m.OnTick != nil {
			m.OnTick(models.MTick{
				Symbol:     msg.Symbol,
				Price:      msg.Price,
				Timestamp:  msg.Timestamp,
				DayVolume:  msg.DayVolume,
				Exchange:   msg.Exchange,
				Source:     models.SourceStream,
				ReceivedAt: time.Now().Unix(),
			})
		}

	default:
		m.Logger.Warning("Dropping upstream message of unknown shape: %s", truncate(raw, 200))
	}
}

// -----------------------------------------------------------------------------

// parseStatusLists extracts the success/fails symbol lists from a
// subscription acknowledgment. The provider sends either plain symbol arrays
// or arrays of {symbol} objects depending on the event.
func parseStatusLists(msg models.MUpstreamMessage) models.MSubscribeResult {
	return models.MSubscribeResult{
		Success: parseSymbolList(msg.Success),
		Fails:   parseSymbolList(msg.Fails),
	}
}

func parseSymbolList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var plain []string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain
	}

	var objs []struct {
		Symbol string `json:"symbol"`
	}
	if err := json.Unmarshal(raw, &objs); err == nil {
		out := make([]string, 0, len(objs))
		for _, o := range objs {
			if o.Symbol != "" {
				out = append(out, o.Symbol)
			}
		}
		return out
	}
	return nil
}

// -----------------------------------------------------------------------------

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
