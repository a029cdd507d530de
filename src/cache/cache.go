package cache

import (
	"sync"
	"time"

	"price-relay/src/models"
	"price-relay/src/symbols"
)

// -----------------------------------------------------------------------------
// PriceCache keeps the last known value per symbol. Entries are overwritten
// on every tick and never deleted; the cache lives and dies with the process.
// -----------------------------------------------------------------------------

type PriceCache struct {
	mu      sync.RWMutex
	entries map[string]models.MTick
}

// -----------------------------------------------------------------------------

func NewPriceCache() *PriceCache {
	return &PriceCache{
		entries: make(map[string]models.MTick),
	}
}

// -----------------------------------------------------------------------------

// Update overwrites the entry for tick.Symbol unconditionally, even when no
// client is currently listening. Future subscribers read the warm cache.
func (c *PriceCache) Update(tick models.MTick) {
	if tick.ReceivedAt == 0 {
		tick.ReceivedAt = time.Now().Unix()
	}

	c.mu.Lock()
	c.entries[tick.Symbol] = tick
	c.mu.Unlock()
}

// -----------------------------------------------------------------------------

// Get returns the cached entry for a symbol key.
func (c *PriceCache) Get(symbol string) (models.MTick, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tick, ok := c.entries[symbol]
	return tick, ok
}

// -----------------------------------------------------------------------------

// GetBatch looks up cached values for resolved identifiers. Streaming symbols
// are keyed by their provider symbol; polling-routed symbols by their original
// identifier. Both keys are tried so a reclassified symbol still resolves.
func (c *PriceCache) GetBatch(resolved []symbols.Resolved) (found []models.MTick, missing int) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, r := range resolved {
		if !r.Polling {
			if tick, ok := c.entries[r.Provider]; ok {
				found = append(found, tick)
				continue
			}
		}
		if tick, ok := c.entries[r.Original]; ok {
			found = append(found, tick)
			continue
		}
		missing++
	}

	return found, missing
}

// -----------------------------------------------------------------------------

// Size returns the number of cached symbols.
func (c *PriceCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
