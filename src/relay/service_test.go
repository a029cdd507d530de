package relay

import (
	"sync"
	"testing"

	"price-relay/src/cache"
	"price-relay/src/logger"
	"price-relay/src/models"
	"price-relay/src/subscription"
	"price-relay/src/symbols"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// Test doubles
// -----------------------------------------------------------------------------

type fakeClient struct {
	id   uuid.UUID
	mu   sync.Mutex
	sent []interface{}
	open bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{id: uuid.New(), open: true}
}

func (f *fakeClient) ID() uuid.UUID { return f.id }

func (f *fakeClient) Send(v interface{}) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return false
	}
	f.sent = append(f.sent, v)
	return true
}

func (f *fakeClient) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeClient) messages() []interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]interface{}(nil), f.sent...)
}

func (f *fakeClient) prices() []models.MPriceMessage {
	var out []models.MPriceMessage
	for _, m := range f.messages() {
		if p, ok := m.(models.MPriceMessage); ok {
			out = append(out, p)
		}
	}
	return out
}

// -----------------------------------------------------------------------------

type fakeUpstreamControl struct {
	mu           sync.Mutex
	subscribed   [][]string
	unsubscribed [][]string
}

func (f *fakeUpstreamControl) Subscribe(syms []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, append([]string(nil), syms...))
	return nil
}

func (f *fakeUpstreamControl) Unsubscribe(syms []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, append([]string(nil), syms...))
	return nil
}

type fakePoller struct {
	mu      sync.Mutex
	symbols []string
}

func (f *fakePoller) UpdateSymbols(syms []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.symbols = append([]string(nil), syms...)
	return nil
}

func (f *fakePoller) current() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.symbols...)
}

// -----------------------------------------------------------------------------

func newTestService() (*Service, *fakeUpstreamControl, *fakePoller) {
	log := logger.NewLogger("ERROR", "RelayTest")
	streamReg := subscription.NewRegistry()
	pollReg := subscription.NewRegistry()
	ctl := &fakeUpstreamControl{}
	agg := subscription.NewAggregator(streamReg, ctl, 100, log)
	poller := &fakePoller{}

	svc := NewService(symbols.NewTranslator(log), cache.NewPriceCache(), streamReg, pollReg, agg, log)
	svc.Poller = poller
	return svc, ctl, poller
}

// -----------------------------------------------------------------------------

// Scenario: a client subscribes to a streaming and a polling symbol; only
// the streaming symbol goes upstream and the tick reaches just that client.
func TestSubscribeSplitsRoutesAndTargetsFanOut(t *testing.T) {
	svc, ctl, poller := newTestService()

	c1 := newFakeClient()
	c2 := newFakeClient()
	svc.Register(c1)
	svc.Register(c2)

	svc.Subscribe(c1, []string{"AAPL US", "SHEL LN"})

	// Only AAPL goes to the upstream; SHEL LN lands on the polling route
	require.Len(t, ctl.subscribed, 1)
	assert.Equal(t, []string{"AAPL"}, ctl.subscribed[0])
	assert.Equal(t, []string{"SHEL LN"}, poller.current())

	svc.HandleTick(models.MTick{Symbol: "AAPL", Price: 150.2, Timestamp: 100, Source: models.SourceStream})

	require.Len(t, c1.prices(), 1)
	assert.Equal(t, "AAPL", c1.prices()[0].Symbol)
	assert.Empty(t, c2.prices(), "uninterested clients must not receive the tick")
}

// Scenario: two clients share MSFT; the first disconnect must not
// unsubscribe upstream, the second must.
func TestSharedSymbolRefcounting(t *testing.T) {
	svc, ctl, _ := newTestService()

	c1, c2 := newFakeClient(), newFakeClient()
	svc.Register(c1)
	svc.Register(c2)
	svc.Subscribe(c1, []string{"MSFT US"})
	svc.Subscribe(c2, []string{"MSFT US"})

	svc.Unregister(c1)
	assert.Empty(t, ctl.unsubscribed, "MSFT still wanted by client 2")

	svc.Unregister(c2)
	require.Len(t, ctl.unsubscribed, 1)
	assert.Equal(t, []string{"MSFT"}, ctl.unsubscribed[0])
}

// Scenario: cold cache reports the miss explicitly; a later tick fills it.
func TestCachedBackfillMissThenHit(t *testing.T) {
	svc, _, _ := newTestService()

	c := newFakeClient()
	svc.Register(c)
	svc.Subscribe(c, []string{"NVDA US"})

	var backfill models.MCachedPrices
	found := false
	for _, m := range c.messages() {
		if cp, ok := m.(models.MCachedPrices); ok {
			backfill = cp
			found = true
		}
	}
	require.True(t, found, "subscribe must answer with a cached-prices message")
	assert.Equal(t, 0, backfill.Count)
	assert.Equal(t, 1, backfill.Missing)

	svc.HandleTick(models.MTick{Symbol: "NVDA", Price: 880.1, Timestamp: 100, Source: models.SourceStream})

	c2 := newFakeClient()
	svc.Register(c2)
	svc.Subscribe(c2, []string{"NVDA US"})

	var second models.MCachedPrices
	for _, m := range c2.messages() {
		if cp, ok := m.(models.MCachedPrices); ok {
			second = cp
		}
	}
	assert.Equal(t, 1, second.Count)
	assert.Equal(t, 0, second.Missing)
	require.Len(t, second.Prices, 1)
	assert.Equal(t, 880.1, second.Prices[0].Price)
}

// Server-managed symbols survive every client disconnect.
func TestTrackedSymbolsIndependentOfClients(t *testing.T) {
	svc, ctl, poller := newTestService()

	svc.SetTracked([]string{"SPY US", "SHEL LN"})
	require.Len(t, ctl.subscribed, 1)
	assert.Equal(t, []string{"SPY"}, ctl.subscribed[0])
	assert.Equal(t, []string{"SHEL LN"}, poller.current())

	c := newFakeClient()
	svc.Register(c)
	svc.Subscribe(c, []string{"SPY US"})
	svc.Unregister(c)

	assert.Empty(t, ctl.unsubscribed, "managed symbol must survive client disconnects")
	assert.Equal(t, []string{"SPY"}, svc.Aggregator.Current())
}

func TestUnsubscribeReleasesOnlyOrphans(t *testing.T) {
	svc, ctl, _ := newTestService()

	c := newFakeClient()
	svc.Register(c)
	svc.Subscribe(c, []string{"AAPL US", "MSFT US"})

	svc.Unsubscribe(c, []string{"AAPL US"})

	require.Len(t, ctl.unsubscribed, 1)
	assert.Equal(t, []string{"AAPL"}, ctl.unsubscribed[0])
	assert.Equal(t, []string{"MSFT"}, svc.Aggregator.Current())
}

func TestSubscriptionStatusReachesInterestedClients(t *testing.T) {
	svc, _, _ := newTestService()

	c1, c2 := newFakeClient(), newFakeClient()
	svc.Register(c1)
	svc.Register(c2)
	svc.Subscribe(c1, []string{"AAPL US"})
	svc.Subscribe(c2, []string{"TSLA US"})

	svc.HandleSubscribeResult(models.MSubscribeResult{Success: []string{"AAPL"}})

	var got bool
	for _, m := range c1.messages() {
		if _, ok := m.(models.MSubscriptionStatus); ok {
			got = true
		}
	}
	assert.True(t, got, "subscriber of AAPL must receive the status")

	for _, m := range c2.messages() {
		if _, ok := m.(models.MSubscriptionStatus); ok {
			t.Error("client without AAPL must not receive the status")
		}
	}
}

func TestConnectionChangeBroadcast(t *testing.T) {
	svc, _, _ := newTestService()

	c := newFakeClient()
	svc.Register(c)

	svc.HandleConnectionChange(false)

	msgs := c.messages()
	require.NotEmpty(t, msgs)
	last, ok := msgs[len(msgs)-1].(models.MConnectionMessage)
	require.True(t, ok)
	assert.False(t, last.Connected)
}

func TestPollTickSharesFanOutPath(t *testing.T) {
	svc, _, _ := newTestService()

	c := newFakeClient()
	svc.Register(c)
	svc.Subscribe(c, []string{"SHEL LN"})

	svc.HandleTick(models.MTick{Symbol: "SHEL LN", Price: 27.4, Timestamp: 100, Source: models.SourcePoll})

	require.Len(t, c.prices(), 1)
	assert.Equal(t, "SHEL LN", c.prices()[0].Symbol)
	assert.Equal(t, 27.4, c.prices()[0].Price)
}

func TestStatsSnapshot(t *testing.T) {
	svc, _, _ := newTestService()

	c := newFakeClient()
	svc.Register(c)
	svc.Subscribe(c, []string{"AAPL US", "SHEL LN"})
	svc.HandleTick(models.MTick{Symbol: "AAPL", Price: 150.2, Timestamp: 100, Source: models.SourceStream})

	stats := svc.Stats()
	assert.Equal(t, 1, stats.Clients)
	assert.Equal(t, 1, stats.StreamingSymbols)
	assert.Equal(t, 1, stats.PollingSymbols)
	assert.Equal(t, 1, stats.CacheSize)
	assert.Equal(t, StateUnknown, stats.UpstreamState)
}

type fakeUpstreamLink struct {
	state   string
	alarmed bool
	tracked int
}

func (f *fakeUpstreamLink) EnsureConnected()  {}
func (f *fakeUpstreamLink) State() string     { return f.state }
func (f *fakeUpstreamLink) Alarmed() bool     { return f.alarmed }
func (f *fakeUpstreamLink) TrackedCount() int { return f.tracked }

func TestStatsReflectUpstreamLink(t *testing.T) {
	svc, _, _ := newTestService()
	svc.Upstream = &fakeUpstreamLink{state: "connected", alarmed: true, tracked: 7}

	stats := svc.Stats()
	assert.Equal(t, "connected", stats.UpstreamState)
	assert.True(t, stats.UpstreamAlarmed)
	assert.Equal(t, 7, stats.UpstreamTracked)
}
