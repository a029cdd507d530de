package upstream

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"price-relay/src/logger"
	"price-relay/src/models"

	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// Fake streaming provider
// -----------------------------------------------------------------------------

type testProvider struct {
	srv    *httptest.Server
	frames chan models.MUpstreamControl
	conns  chan *websocket.Conn
	dials  int32
}

func newTestProvider(t *testing.T) *testProvider {
	t.Helper()

	p := &testProvider{
		frames: make(chan models.MUpstreamControl, 64),
		conns:  make(chan *websocket.Conn, 8),
	}

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		atomic.AddInt32(&p.dials, 1)
		p.conns <- conn

		for {
			var frame models.MUpstreamControl
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			p.frames <- frame
		}
	}))
	t.Cleanup(p.srv.Close)

	return p
}

func (p *testProvider) wsURL() string {
	return "ws" + strings.TrimPrefix(p.srv.URL, "http")
}

func (p *testProvider) waitConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-p.conns:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for upstream connection")
		return nil
	}
}

func (p *testProvider) waitFrame(t *testing.T) models.MUpstreamControl {
	t.Helper()
	select {
	case f := <-p.frames:
		return f
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for control frame")
		return models.MUpstreamControl{}
	}
}

// -----------------------------------------------------------------------------

func newTestManager(p *testProvider, batchSize int, maxAttempts int) *Manager {
	cfg := models.MUpstreamConfig{
		URL:                  p.wsURL(),
		APIKey:               "test-key",
		HeartbeatSeconds:     60,
		MaxReconnectAttempts: maxAttempts,
		ResubscribeBatchSize: batchSize,
		BatchDelayMillis:     10,
		StaleAfterSeconds:    300,
	}
	m := NewManager(cfg, logger.NewLogger("ERROR", "UpstreamTest"))
	m.Demand = func() bool { return true }
	return m
}

// -----------------------------------------------------------------------------

func TestSubscribeWhileConnected(t *testing.T) {
	p := newTestProvider(t)
	m := newTestManager(p, 100, 3)
	defer m.Close()

	m.EnsureConnected()
	p.waitConn(t)

	// Wait until the manager reports connected before sending
	waitFor(t, m.Connected)

	if err := m.Subscribe([]string{"AAPL", "MSFT"}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	frame := p.waitFrame(t)
	if frame.Action != models.ActionSubscribe {
		t.Errorf("expected subscribe action, got %q", frame.Action)
	}
	if frame.Params == nil || frame.Params.Symbols != "AAPL,MSFT" {
		t.Errorf("expected symbols AAPL,MSFT, got %+v", frame.Params)
	}
}

func TestResubscribeInBatchesAfterReconnect(t *testing.T) {
	p := newTestProvider(t)
	m := newTestManager(p, 20, 5)
	defer m.Close()

	var symbols []string
	for i := 0; i < 50; i++ {
		symbols = append(symbols, fmt.Sprintf("SYM%02d", i))
	}

	// Subscribe while disconnected: tracked set is built, connect kicks off
	if err := m.Subscribe(symbols); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	conn := p.waitConn(t)

	// Initial bulk subscription arrives batched
	total := collectSymbols(t, p, 50)
	if total != 50 {
		t.Fatalf("expected 50 symbols restored on connect, got %d", total)
	}

	// Drop the connection; the manager must reconnect and restore all 50
	conn.Close()
	p.waitConn(t)

	total = collectSymbols(t, p, 50)
	if total != 50 {
		t.Fatalf("expected 50 symbols restored after reconnect, got %d", total)
	}
	if m.Alarmed() {
		t.Error("successful reconnect must not leave the manager alarmed")
	}
}

// collectSymbols drains subscribe frames until want symbols were seen,
// verifying every batch respects the configured size.
func collectSymbols(t *testing.T, p *testProvider, want int) int {
	t.Helper()

	total := 0
	for total < want {
		frame := p.waitFrame(t)
		if frame.Action != models.ActionSubscribe {
			continue
		}
		batch := strings.Split(frame.Params.Symbols, ",")
		if len(batch) > 20 {
			t.Fatalf("batch of %d exceeds the configured size of 20", len(batch))
		}
		total += len(batch)
	}
	return total
}

func TestTickDispatch(t *testing.T) {
	p := newTestProvider(t)
	m := newTestManager(p, 100, 3)
	defer m.Close()

	ticks := make(chan models.MTick, 1)
	m.OnTick = func(tick models.MTick) { ticks <- tick }

	m.EnsureConnected()
	conn := p.waitConn(t)
	waitFor(t, m.Connected)

	conn.WriteJSON(map[string]interface{}{"symbol": "AAPL", "price": 150.2, "timestamp": 1700000000})

	select {
	case tick := <-ticks:
		if tick.Symbol != "AAPL" || tick.Price != 150.2 || tick.Source != models.SourceStream {
			t.Errorf("unexpected tick: %+v", tick)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for tick dispatch")
	}
}

func TestMalformedMessagesAreDropped(t *testing.T) {
	p := newTestProvider(t)
	m := newTestManager(p, 100, 3)
	defer m.Close()

	ticks := make(chan models.MTick, 2)
	m.OnTick = func(tick models.MTick) { ticks <- tick }

	m.EnsureConnected()
	conn := p.waitConn(t)
	waitFor(t, m.Connected)

	// Unknown shape, provider error, then a valid tick: only the tick lands
	conn.WriteMessage(websocket.TextMessage, []byte(`{"unexpected": true}`))
	conn.WriteMessage(websocket.TextMessage, []byte(`{"status": "error", "message": "bad symbol"}`))
	conn.WriteJSON(map[string]interface{}{"symbol": "MSFT", "price": 410.0, "timestamp": 1700000001})

	select {
	case tick := <-ticks:
		if tick.Symbol != "MSFT" {
			t.Errorf("expected the valid tick, got %+v", tick)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for tick after junk frames")
	}
	if m.State() != StateConnected {
		t.Error("protocol errors must not tear down the connection")
	}
}

func TestSubscribeStatusForwarded(t *testing.T) {
	p := newTestProvider(t)
	m := newTestManager(p, 100, 3)
	defer m.Close()

	results := make(chan models.MSubscribeResult, 1)
	m.OnSubscribeResult = func(r models.MSubscribeResult) { results <- r }

	m.EnsureConnected()
	conn := p.waitConn(t)
	waitFor(t, m.Connected)

	conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"event":"subscribe-status","success":["AAPL"],"fails":["BOGUS"]}`))

	select {
	case r := <-results:
		if len(r.Success) != 1 || r.Success[0] != "AAPL" {
			t.Errorf("unexpected success list: %v", r.Success)
		}
		if len(r.Fails) != 1 || r.Fails[0] != "BOGUS" {
			t.Errorf("unexpected fails list: %v", r.Fails)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for subscription status")
	}
}

func TestHeartbeatFramesSentWhileConnected(t *testing.T) {
	p := newTestProvider(t)
	m := newTestManager(p, 100, 3)
	m.Config.HeartbeatSeconds = 1
	defer m.Close()

	m.EnsureConnected()
	p.waitConn(t)
	waitFor(t, m.Connected)

	frame := p.waitFrame(t)
	if frame.Action != models.ActionHeartbeat {
		t.Errorf("expected heartbeat action, got %q", frame.Action)
	}
	if frame.Params != nil {
		t.Errorf("heartbeat must carry no params, got %+v", frame.Params)
	}
}

func TestWatchdogForcesReconnectOnSilentConnection(t *testing.T) {
	p := newTestProvider(t)
	m := newTestManager(p, 100, 3)
	m.Config.StaleAfterSeconds = 1
	defer m.Close()

	m.EnsureConnected()
	p.waitConn(t)
	waitFor(t, m.Connected)

	// The provider never sends anything; the watchdog must close the stale
	// socket and the manager must dial again on its own.
	waitFor(t, func() bool { return atomic.LoadInt32(&p.dials) >= 2 })
	waitFor(t, m.Connected)
}

func TestReconnectGivesUpAfterMaxAttempts(t *testing.T) {
	p := newTestProvider(t)
	m := newTestManager(p, 100, 1)
	defer m.Close()

	// Kill the provider so every dial fails
	p.srv.Close()

	m.EnsureConnected()

	// Attempt 1 fails immediately, retry after ~1s fails, then the alarm
	waitFor(t, m.Alarmed)
	if m.State() != StateDisconnected {
		t.Errorf("expected disconnected state after exhaustion, got %s", m.State())
	}
}

func TestNoReconnectWithoutDemand(t *testing.T) {
	p := newTestProvider(t)
	m := newTestManager(p, 100, 3)
	m.Demand = func() bool { return false }
	defer m.Close()

	m.EnsureConnected()
	conn := p.waitConn(t)
	waitFor(t, m.Connected)

	conn.Close()
	waitFor(t, func() bool { return m.State() == StateDisconnected })

	// Give a would-be reconnect time to fire; none should
	time.Sleep(1500 * time.Millisecond)
	if n := atomic.LoadInt32(&p.dials); n != 1 {
		t.Errorf("expected no redial without demand, saw %d dials", n)
	}
}

// -----------------------------------------------------------------------------

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}
