package relay

import (
	"sync"
	"time"

	"price-relay/src/cache"
	"price-relay/src/logger"
	"price-relay/src/models"
	"price-relay/src/subscription"
	"price-relay/src/symbols"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------

// ClientConn is the transport-side handle for one downstream client. The
// server package implements it on top of the websocket hub.
type ClientConn interface {
	ID() uuid.UUID
	// Send queues a message for the client without blocking; false means the
	// client is gone or too slow and the message was dropped.
	Send(v interface{}) bool
	IsOpen() bool
}

// UpstreamLink is the slice of the upstream connection manager the relay
// drives directly (the aggregator holds the subscribe/unsubscribe side).
type UpstreamLink interface {
	EnsureConnected()
	State() string
	Alarmed() bool
	TrackedCount() int
}

// QuotePoller receives the current polling-route symbol set.
type QuotePoller interface {
	UpdateSymbols(symbols []string) error
}

// -----------------------------------------------------------------------------
// Service owns the process-wide relay state: connected clients, subscription
// registries for both routes, the price cache, and the server-managed sets.
// It is instantiated once and shared by reference; every mutation is a single
// atomic operation under its lock.
// -----------------------------------------------------------------------------

type Service struct {
	Logger     *logger.Logger
	Translator *symbols.Translator
	Cache      *cache.PriceCache

	StreamRegistry *subscription.Registry
	PollRegistry   *subscription.Registry
	Aggregator     *subscription.Aggregator

	Upstream UpstreamLink
	Poller   QuotePoller

	mu          sync.RWMutex
	clients     map[uuid.UUID]ClientConn
	managedPoll map[string]struct{}
	started     time.Time
}

// -----------------------------------------------------------------------------

func NewService(tr *symbols.Translator, priceCache *cache.PriceCache,
	streamReg, pollReg *subscription.Registry, agg *subscription.Aggregator,
	log *logger.Logger) *Service {

	return &Service{
		Logger:         log,
		Translator:     tr,
		Cache:          priceCache,
		StreamRegistry: streamReg,
		PollRegistry:   pollReg,
		Aggregator:     agg,
		clients:        make(map[uuid.UUID]ClientConn),
		managedPoll:    make(map[string]struct{}),
		started:        time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Client lifecycle
// -----------------------------------------------------------------------------

// Register adds a client and confirms the connection explicitly.
func (s *Service) Register(c ClientConn) {
	s.mu.Lock()
	s.clients[c.ID()] = c
	count := len(s.clients)
	s.mu.Unlock()

	c.Send(models.MConnectionMessage{Type: models.TypeConnection, Connected: true})
	s.Logger.Info("Client %s connected (%d total)", c.ID(), count)
}

// -----------------------------------------------------------------------------

// Unregister removes a client and all of its subscription edges, then
// reconciles so orphaned symbols are released upstream.
func (s *Service) Unregister(c ClientConn) {
	id := c.ID()

	s.mu.Lock()
	delete(s.clients, id)
	count := len(s.clients)
	s.mu.Unlock()

	s.StreamRegistry.RemoveClient(id)
	s.PollRegistry.RemoveClient(id)

	if err := s.Aggregator.Reconcile(); err != nil {
		s.Logger.Error("Reconcile after disconnect failed: %v", err)
	}
	s.pushPollerSymbols()

	s.Logger.Info("Client %s disconnected (%d remaining)", id, count)
}

// -----------------------------------------------------------------------------

// Subscribe adds symbols for a client, reconciles the upstream delta, and
// immediately backfills whatever the cache already holds.
func (s *Service) Subscribe(c ClientConn, rawSymbols []string) {
	if len(rawSymbols) == 0 {
		return
	}

	streaming, polling := s.Translator.ResolveAll(rawSymbols)

	streamKeys := make([]string, 0, len(streaming))
	for _, r := range streaming {
		streamKeys = append(streamKeys, r.Provider)
	}
	pollKeys := make([]string, 0, len(polling))
	for _, r := range polling {
		pollKeys = append(pollKeys, r.Original)
	}

	s.StreamRegistry.Add(c.ID(), streamKeys)
	s.PollRegistry.Add(c.ID(), pollKeys)

	if err := s.Aggregator.Reconcile(); err != nil {
		s.Logger.Error("Reconcile after subscribe failed: %v", err)
	}
	s.pushPollerSymbols()
	if s.Upstream != nil {
		s.Upstream.EnsureConnected()
	}

	// Warm-cache backfill so the client does not wait for the next live tick
	resolved := append(append([]symbols.Resolved(nil), streaming...), polling...)
	found, missing := s.Cache.GetBatch(resolved)
	c.Send(models.MCachedPrices{
		Type:           models.TypeCachedPrices,
		Prices:         found,
		Count:          len(found),
		TotalRequested: len(resolved),
		Missing:        missing,
	})
}

// -----------------------------------------------------------------------------

// Unsubscribe removes symbols from a client's set and reconciles.
func (s *Service) Unsubscribe(c ClientConn, rawSymbols []string) {
	if len(rawSymbols) == 0 {
		return
	}

	streaming, polling := s.Translator.ResolveAll(rawSymbols)

	streamKeys := make([]string, 0, len(streaming))
	for _, r := range streaming {
		streamKeys = append(streamKeys, r.Provider)
	}
	pollKeys := make([]string, 0, len(polling))
	for _, r := range polling {
		pollKeys = append(pollKeys, r.Original)
	}

	s.StreamRegistry.Remove(c.ID(), streamKeys)
	s.PollRegistry.Remove(c.ID(), pollKeys)

	if err := s.Aggregator.Reconcile(); err != nil {
		s.Logger.Error("Reconcile after unsubscribe failed: %v", err)
	}
	s.pushPollerSymbols()
}

// -----------------------------------------------------------------------------
// Tick ingress & fan-out
// -----------------------------------------------------------------------------

// HandleTick stores the tick and routes it only to interested, open clients.
// The cache write happens unconditionally so future subscribers start warm.
func (s *Service) HandleTick(tick models.MTick) {
	s.Cache.Update(tick)

	ids := s.StreamRegistry.Subscribers(tick.Symbol)
	ids = append(ids, s.PollRegistry.Subscribers(tick.Symbol)...)
	if len(ids) == 0 {
		return
	}

	msg := models.MPriceMessage{
		Type:      models.TypePrice,
		Symbol:    tick.Symbol,
		Price:     tick.Price,
		Timestamp: tick.Timestamp,
		DayVolume: tick.DayVolume,
		Exchange:  tick.Exchange,
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range ids {
		client, ok := s.clients[id]
		if !ok || !client.IsOpen() {
			// Stale edge; cleaned up by the disconnect handler, not here
			continue
		}
		client.Send(msg)
	}
}

// -----------------------------------------------------------------------------

// HandleSubscribeResult forwards a provider acknowledgment to the clients
// subscribed to any of the affected symbols.
func (s *Service) HandleSubscribeResult(res models.MSubscribeResult) {
	affected := make(map[uuid.UUID]struct{})
	for _, sym := range res.Success {
		for _, id := range s.StreamRegistry.Subscribers(sym) {
			affected[id] = struct{}{}
		}
	}
	for _, sym := range res.Fails {
		for _, id := range s.StreamRegistry.Subscribers(sym) {
			affected[id] = struct{}{}
		}
	}

	if len(res.Fails) > 0 {
		s.Logger.Warning("Upstream rejected %d symbols: %v", len(res.Fails), res.Fails)
	}

	msg := models.MSubscriptionStatus{
		Type:    models.TypeSubscriptionStatus,
		Success: res.Success,
		Fails:   res.Fails,
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for id := range affected {
		if client, ok := s.clients[id]; ok && client.IsOpen() {
			client.Send(msg)
		}
	}
}

// -----------------------------------------------------------------------------

// HandleConnectionChange tells every client about an upstream status change
// rather than leaving silent data gaps.
func (s *Service) HandleConnectionChange(connected bool) {
	msg := models.MConnectionMessage{Type: models.TypeConnection, Connected: connected}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, client := range s.clients {
		if client.IsOpen() {
			client.Send(msg)
		}
	}
}

// -----------------------------------------------------------------------------
// Server-managed symbols
// -----------------------------------------------------------------------------

// SetTracked replaces the server-managed symbol set from the external sync.
// Streaming-route symbols feed the aggregator's managed set; polling-route
// symbols stay in the poller regardless of client presence.
func (s *Service) SetTracked(rawSymbols []string) {
	streaming, polling := s.Translator.ResolveAll(rawSymbols)

	managed := make([]string, 0, len(streaming))
	for _, r := range streaming {
		managed = append(managed, r.Provider)
	}
	s.Aggregator.SetManaged(managed)

	s.mu.Lock()
	s.managedPoll = make(map[string]struct{}, len(polling))
	for _, r := range polling {
		s.managedPoll[r.Original] = struct{}{}
	}
	s.mu.Unlock()

	if err := s.Aggregator.Reconcile(); err != nil {
		s.Logger.Error("Reconcile after tracked sync failed: %v", err)
	}
	s.pushPollerSymbols()
	if s.Upstream != nil && s.Aggregator.HasDemand() {
		s.Upstream.EnsureConnected()
	}

	s.Logger.Info("Tracked set updated: %d streaming, %d polling", len(managed), len(polling))
}

// -----------------------------------------------------------------------------

// pushPollerSymbols recomputes the polling-route set (client union plus
// managed) and hands it to the poller.
func (s *Service) pushPollerSymbols() {
	if s.Poller == nil {
		return
	}

	set := make(map[string]struct{})
	for _, sym := range s.PollRegistry.Required() {
		set[sym] = struct{}{}
	}
	s.mu.RLock()
	for sym := range s.managedPoll {
		set[sym] = struct{}{}
	}
	s.mu.RUnlock()

	out := make([]string, 0, len(set))
	for sym := range set {
		out = append(out, sym)
	}
	if err := s.Poller.UpdateSymbols(out); err != nil {
		s.Logger.Error("Failed to update poller symbols: %v", err)
	}
}

// -----------------------------------------------------------------------------
// Health surface
// -----------------------------------------------------------------------------

// MStats is the read-only health snapshot.
type MStats struct {
	Clients          int    `json:"clients"`
	UpstreamState    string `json:"upstream_state"`
	UpstreamAlarmed  bool   `json:"upstream_alarmed"`
	UpstreamTracked  int    `json:"upstream_tracked"`
	StreamingSymbols int    `json:"streaming_symbols"`
	PollingSymbols   int    `json:"polling_symbols"`
	CacheSize        int    `json:"cache_size"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
}

// Stats returns a side-effect-free snapshot for the health endpoint.
func (s *Service) Stats() MStats {
	pollSet := make(map[string]struct{})
	for _, sym := range s.PollRegistry.Required() {
		pollSet[sym] = struct{}{}
	}

	s.mu.RLock()
	clients := len(s.clients)
	for sym := range s.managedPoll {
		pollSet[sym] = struct{}{}
	}
	started := s.started
	s.mu.RUnlock()

	state := StateUnknown
	alarmed := false
	tracked := 0
	if s.Upstream != nil {
		state = s.Upstream.State()
		alarmed = s.Upstream.Alarmed()
		tracked = s.Upstream.TrackedCount()
	}

	return MStats{
		Clients:          clients,
		UpstreamState:    state,
		UpstreamAlarmed:  alarmed,
		UpstreamTracked:  tracked,
		StreamingSymbols: len(s.Aggregator.Current()),
		PollingSymbols:   len(pollSet),
		CacheSize:        s.Cache.Size(),
		UptimeSeconds:    int64(time.Since(started).Seconds()),
	}
}

// StateUnknown is reported when no upstream link is wired (tests).
const StateUnknown = "unknown"
