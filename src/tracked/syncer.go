package tracked

import (
	"context"
	"fmt"
	"sync"
	"time"

	"price-relay/src/helpers"
	"price-relay/src/interfaces"
	"price-relay/src/logger"
	"price-relay/src/models"
)

// -----------------------------------------------------------------------------
// Syncer periodically reloads the server-managed symbol set from the tracked
// store and hands it to the relay. The tracked set keeps its subscriptions
// alive even when no client wants the symbols.
// -----------------------------------------------------------------------------

type Syncer struct {
	Store    interfaces.ITrackedStore
	Logger   *logger.Logger
	Interval time.Duration

	// Apply receives the freshly loaded symbol list on every successful sync.
	Apply func(symbols []string)

	cancelFunc context.CancelFunc
	mu         sync.Mutex
}

// -----------------------------------------------------------------------------

// NewStore picks the store backend from the configuration.
func NewStore(cfg *models.MConfig, log *logger.Logger) (interfaces.ITrackedStore, error) {
	switch cfg.Tracked.DBType {
	case "sqlite":
		return NewSQLiteTrackedStore(cfg, log)
	case "postgres":
		return NewPostgresTrackedStore(cfg, log)
	default:
		return nil, helpers.NewConfigurationError(
			fmt.Sprintf("unknown tracked store type: %s", cfg.Tracked.DBType), nil)
	}
}

// -----------------------------------------------------------------------------

func NewSyncer(store interfaces.ITrackedStore, log *logger.Logger, interval time.Duration, apply func([]string)) *Syncer {
	return &Syncer{
		Store:    store,
		Logger:   log,
		Interval: interval,
		Apply:    apply,
	}
}

// -----------------------------------------------------------------------------

func (s *Syncer) Start(ctx context.Context, wg *sync.WaitGroup) {
	s.mu.Lock()
	ctx, s.cancelFunc = context.WithCancel(ctx)
	s.mu.Unlock()

	wg.Add(1)
	go s.runLoop(ctx, wg)

	s.Logger.Info("Tracked symbol syncer started (interval %s)", s.Interval)
}

// -----------------------------------------------------------------------------

func (s *Syncer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelFunc != nil {
		s.cancelFunc()
		s.cancelFunc = nil
	}
}

// -----------------------------------------------------------------------------

func (s *Syncer) runLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	// Load once at startup so the relay holds its subscriptions from the
	// first upstream connection, then refresh on the timer.
	s.SyncOnce()

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Logger.Info("Tracked symbol syncer stopped")
			return
		case <-ticker.C:
			s.SyncOnce()
		}
	}
}

// -----------------------------------------------------------------------------

// SyncOnce loads the tracked set and applies it. A failed load keeps the
// previously applied set untouched.
func (s *Syncer) SyncOnce() {
	symbols, err := s.Store.LoadSymbols()
	if err != nil {
		s.Logger.Error("Failed to load tracked symbols: %v", err)
		return
	}

	s.Logger.Debug("Loaded %d tracked symbols", len(symbols))
	s.Apply(symbols)
}
