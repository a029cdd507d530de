package subscription

import (
	"sort"
	"sync"

	"price-relay/src/logger"
)

// -----------------------------------------------------------------------------

// UpstreamControl is the slice of the upstream connection the aggregator
// drives: batched subscribe/unsubscribe control messages.
type UpstreamControl interface {
	Subscribe(symbols []string) error
	Unsubscribe(symbols []string) error
}

// -----------------------------------------------------------------------------
// Aggregator reconciles the required upstream symbol set (union of client
// subscriptions plus the server-managed set) against what is currently
// subscribed, issuing the minimal subscribe/unsubscribe delta.
// -----------------------------------------------------------------------------

type Aggregator struct {
	Registry *Registry
	Logger   *logger.Logger

	mu        sync.Mutex
	managed   map[string]struct{}
	current   map[string]struct{}
	control   UpstreamControl
	batchSize int
}

// -----------------------------------------------------------------------------

func NewAggregator(registry *Registry, control UpstreamControl, batchSize int, log *logger.Logger) *Aggregator {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Aggregator{
		Registry:  registry,
		Logger:    log,
		managed:   make(map[string]struct{}),
		current:   make(map[string]struct{}),
		control:   control,
		batchSize: batchSize,
	}
}

// -----------------------------------------------------------------------------

// SetManaged replaces the server-managed symbol set. The caller follows up
// with Reconcile.
func (a *Aggregator) SetManaged(symbols []string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.managed = make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		a.managed[s] = struct{}{}
	}
}

// -----------------------------------------------------------------------------

// Managed returns the server-managed set, sorted.
func (a *Aggregator) Managed() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]string, 0, len(a.managed))
	for s := range a.managed {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// -----------------------------------------------------------------------------

// HasDemand reports whether anything at all needs the upstream connection.
func (a *Aggregator) HasDemand() bool {
	a.mu.Lock()
	managed := len(a.managed)
	a.mu.Unlock()

	return managed > 0 || a.Registry.SymbolCount() > 0
}

// -----------------------------------------------------------------------------

// Reconcile recomputes the required set, diffs it against the currently
// subscribed set, and issues one batched subscribe and one batched
// unsubscribe call. Idempotent: with no intervening state change the second
// call issues no network traffic.
func (a *Aggregator) Reconcile() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	required := make(map[string]struct{})
	for _, s := range a.Registry.Required() {
		required[s] = struct{}{}
	}
	for s := range a.managed {
		required[s] = struct{}{}
	}

	var toSubscribe, toUnsubscribe []string
	for s := range required {
		if _, ok := a.current[s]; !ok {
			toSubscribe = append(toSubscribe, s)
		}
	}
	for s := range a.current {
		if _, ok := required[s]; !ok {
			toUnsubscribe = append(toUnsubscribe, s)
		}
	}

	if len(toSubscribe) == 0 && len(toUnsubscribe) == 0 {
		return nil
	}

	sort.Strings(toSubscribe)
	sort.Strings(toUnsubscribe)

	// The full batch is computed before anything is sent, so a concurrent
	// subscribe cannot interleave with a half-built payload. Each chunk is
	// recorded as it succeeds: a mid-batch failure must not make the next
	// reconcile re-send chunks the provider already acknowledged.
	for _, chunk := range Chunk(toSubscribe, a.batchSize) {
		if err := a.control.Subscribe(chunk); err != nil {
			return err
		}
		for _, s := range chunk {
			a.current[s] = struct{}{}
		}
	}
	for _, chunk := range Chunk(toUnsubscribe, a.batchSize) {
		if err := a.control.Unsubscribe(chunk); err != nil {
			return err
		}
		for _, s := range chunk {
			delete(a.current, s)
		}
	}

	if a.Logger != nil {
		a.Logger.Debug("Reconciled subscriptions: +%d -%d (now %d)",
			len(toSubscribe), len(toUnsubscribe), len(a.current))
	}
	return nil
}

// -----------------------------------------------------------------------------

// Current returns the currently-subscribed set, sorted.
func (a *Aggregator) Current() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]string, 0, len(a.current))
	for s := range a.current {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// -----------------------------------------------------------------------------

// Chunk splits symbols into slices of at most size entries.
func Chunk(symbols []string, size int) [][]string {
	if size <= 0 || len(symbols) == 0 {
		if len(symbols) == 0 {
			return nil
		}
		return [][]string{symbols}
	}

	var out [][]string
	for start := 0; start < len(symbols); start += size {
		end := start + size
		if end > len(symbols) {
			end = len(symbols)
		}
		out = append(out, symbols[start:end])
	}
	return out
}
