package cache

import (
	"testing"

	"price-relay/src/models"
	"price-relay/src/symbols"
)

func TestUpdateKeepsLatestValueOnly(t *testing.T) {
	c := NewPriceCache()

	c.Update(models.MTick{Symbol: "AAPL", Price: 150.2, Timestamp: 100, Source: models.SourceStream})
	c.Update(models.MTick{Symbol: "AAPL", Price: 151.0, Timestamp: 200, Source: models.SourceStream})

	tick, ok := c.Get("AAPL")
	if !ok {
		t.Fatal("expected AAPL in cache")
	}
	if tick.Price != 151.0 || tick.Timestamp != 200 {
		t.Errorf("expected latest value (151.0 @ 200), got %v @ %d", tick.Price, tick.Timestamp)
	}
	if c.Size() != 1 {
		t.Errorf("expected a single entry, got %d", c.Size())
	}
}

func TestGetBatchMissThenHit(t *testing.T) {
	c := NewPriceCache()
	resolved := []symbols.Resolved{{Original: "AAPL US", Provider: "AAPL"}}

	found, missing := c.GetBatch(resolved)
	if len(found) != 0 || missing != 1 {
		t.Fatalf("cold cache: expected 0 found / 1 missing, got %d / %d", len(found), missing)
	}

	c.Update(models.MTick{Symbol: "AAPL", Price: 150.2, Timestamp: 100, Source: models.SourceStream})

	found, missing = c.GetBatch(resolved)
	if len(found) != 1 || missing != 0 {
		t.Fatalf("warm cache: expected 1 found / 0 missing, got %d / %d", len(found), missing)
	}
	if found[0].Price != 150.2 {
		t.Errorf("expected cached price 150.2, got %v", found[0].Price)
	}
}

func TestGetBatchPollingKeyedByOriginal(t *testing.T) {
	c := NewPriceCache()
	c.Update(models.MTick{Symbol: "SHEL LN", Price: 27.4, Timestamp: 100, Source: models.SourcePoll})

	found, missing := c.GetBatch([]symbols.Resolved{{Original: "SHEL LN", Polling: true}})
	if len(found) != 1 || missing != 0 {
		t.Fatalf("expected polling symbol keyed by original identifier, got %d found / %d missing", len(found), missing)
	}
}

func TestLatestWriteWinsAcrossSources(t *testing.T) {
	c := NewPriceCache()

	c.Update(models.MTick{Symbol: "SHEL LN", Price: 27.4, Timestamp: 100, Source: models.SourcePoll})
	c.Update(models.MTick{Symbol: "SHEL LN", Price: 27.6, Timestamp: 150, Source: models.SourceStream})

	tick, _ := c.Get("SHEL LN")
	if tick.Source != models.SourceStream || tick.Price != 27.6 {
		t.Errorf("expected the later stream write to win, got %+v", tick)
	}
}
