package subscription

import (
	"sync"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Registry tracks the client<->symbol many-to-many relation for one route
// (streaming or polling). Keys are route-local: provider symbols on the
// streaming route, original identifiers on the polling route.
// -----------------------------------------------------------------------------

type Registry struct {
	mu       sync.RWMutex
	byClient map[uuid.UUID]map[string]struct{}
	bySymbol map[string]map[uuid.UUID]struct{}
}

// -----------------------------------------------------------------------------

func NewRegistry() *Registry {
	return &Registry{
		byClient: make(map[uuid.UUID]map[string]struct{}),
		bySymbol: make(map[string]map[uuid.UUID]struct{}),
	}
}

// -----------------------------------------------------------------------------

// Add registers symbols for a client. Returns the symbols that were not yet
// held by this client.
func (r *Registry) Add(client uuid.UUID, keys []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.byClient[client]
	if set == nil {
		set = make(map[string]struct{})
		r.byClient[client] = set
	}

	var added []string
	for _, key := range keys {
		if _, ok := set[key]; ok {
			continue
		}
		set[key] = struct{}{}

		clients := r.bySymbol[key]
		if clients == nil {
			clients = make(map[uuid.UUID]struct{})
			r.bySymbol[key] = clients
		}
		clients[client] = struct{}{}
		added = append(added, key)
	}

	return added
}

// -----------------------------------------------------------------------------

// Remove drops symbols from a client's set.
func (r *Registry) Remove(client uuid.UUID, keys []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.byClient[client]
	if !ok {
		return
	}

	for _, key := range keys {
		if _, held := set[key]; !held {
			continue
		}
		delete(set, key)
		r.removeEdgeLocked(key, client)
	}

	if len(set) == 0 {
		delete(r.byClient, client)
	}
}

// -----------------------------------------------------------------------------

// RemoveClient drops every edge owned by the client (disconnect path).
func (r *Registry) RemoveClient(client uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.byClient[client]
	if !ok {
		return
	}

	for key := range set {
		r.removeEdgeLocked(key, client)
	}
	delete(r.byClient, client)
}

// -----------------------------------------------------------------------------

// removeEdgeLocked removes one symbol->client edge, caller must hold the lock
func (r *Registry) removeEdgeLocked(key string, client uuid.UUID) {
	clients := r.bySymbol[key]
	if clients == nil {
		return
	}
	delete(clients, client)
	if len(clients) == 0 {
		delete(r.bySymbol, key)
	}
}

// -----------------------------------------------------------------------------

// Subscribers returns the clients interested in a symbol.
func (r *Registry) Subscribers(key string) []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients, ok := r.bySymbol[key]
	if !ok {
		return nil
	}

	out := make([]uuid.UUID, 0, len(clients))
	for id := range clients {
		out = append(out, id)
	}
	return out
}

// -----------------------------------------------------------------------------

// Required returns the union of every client's symbol set.
func (r *Registry) Required() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.bySymbol))
	for key := range r.bySymbol {
		out = append(out, key)
	}
	return out
}

// -----------------------------------------------------------------------------

// ClientSymbols returns a copy of one client's symbol set.
func (r *Registry) ClientSymbols(client uuid.UUID) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.byClient[client]
	if !ok {
		return nil
	}

	out := make([]string, 0, len(set))
	for key := range set {
		out = append(out, key)
	}
	return out
}

// -----------------------------------------------------------------------------

// SymbolCount returns the number of distinct subscribed symbols.
func (r *Registry) SymbolCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySymbol)
}

// -----------------------------------------------------------------------------

// ClientCount returns the number of clients holding at least one symbol.
func (r *Registry) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byClient)
}
