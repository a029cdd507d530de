package polling

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"price-relay/src/helpers"
	"price-relay/src/interfaces"
	"price-relay/src/logger"
	"price-relay/src/models"
	"price-relay/src/subscription"
	"price-relay/src/utils"
)

// -----------------------------------------------------------------------------
// QuoteSource polls a REST quote endpoint on a fixed interval for symbols the
// streaming provider does not carry, and injects the results into the same
// cache/fan-out path as live ticks. The fixed interval is the built-in
// throttle: a failed cycle is logged and the next one proceeds normally.
// -----------------------------------------------------------------------------

type QuoteSource struct {
	Config          *models.MConfig
	Logger          *logger.Logger
	Network         interfaces.INetworkManager
	MarketScheduler *utils.MarketScheduler

	// OnTick receives every successfully polled quote
	OnTick func(models.MTick)

	symbols    atomic.Value // []string
	isRunning  atomic.Bool
	mu         sync.Mutex
	cancelFunc context.CancelFunc
}

// -----------------------------------------------------------------------------

func NewQuoteSource(cfg *models.MConfig, netMgr interfaces.INetworkManager, onTick func(models.MTick)) *QuoteSource {
	s := &QuoteSource{
		Config:          cfg,
		Logger:          logger.NewLogger(cfg.LogLevel, "QuoteSource"),
		Network:         netMgr,
		OnTick:          onTick,
		MarketScheduler: utils.NewMarketScheduler(nil, logger.NewLogger(cfg.LogLevel, "MarketScheduler")),
	}
	s.symbols.Store([]string(nil))
	return s
}

// -----------------------------------------------------------------------------

// Start begins the polling loop
func (s *QuoteSource) Start(parentCtx context.Context, wg *sync.WaitGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning.Load() {
		return fmt.Errorf("quote source is already running")
	}

	ctx, cancel := context.WithCancel(parentCtx)
	s.cancelFunc = cancel
	s.isRunning.Store(true)

	wg.Add(1)
	go s.runLoop(ctx, wg)
	s.Logger.Info("Started quote polling (every %ds)", s.Config.Polling.IntervalSeconds)
	return nil
}

// -----------------------------------------------------------------------------

// Stop signals the run loop to exit
func (s *QuoteSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning.Load() {
		return fmt.Errorf("quote source is not running")
	}

	if s.cancelFunc != nil {
		s.cancelFunc()
	}
	s.isRunning.Store(false)
	s.Logger.Info("Stopped quote polling")
	return nil
}

// -----------------------------------------------------------------------------

// UpdateSymbols replaces the polled symbol set. Driven by the same
// subscribe/unsubscribe lifecycle as streaming symbols.
func (s *QuoteSource) UpdateSymbols(symbols []string) error {
	s.symbols.Store(append([]string(nil), symbols...))
	s.MarketScheduler.UpdateSymbols(symbols)
	s.Logger.Debug("Polling symbol set updated: %d symbols", len(symbols))
	return nil
}

// -----------------------------------------------------------------------------

func (s *QuoteSource) getSymbols() []string {
	return s.symbols.Load().([]string)
}

// -----------------------------------------------------------------------------

func (s *QuoteSource) runLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(time.Duration(s.Config.Polling.IntervalSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if len(s.getSymbols()) == 0 {
				continue
			}
			if !s.MarketScheduler.AnyMarketOpen() {
				s.Logger.Debug("All polled markets closed, skipping cycle")
				continue
			}
			s.poll()
		}
	}
}

// -----------------------------------------------------------------------------

// quoteResponse is the REST endpoint's batch answer.
type quoteResponse struct {
	Quotes []struct {
		Symbol    string  `json:"symbol"`
		Price     float64 `json:"price"`
		Timestamp int64   `json:"timestamp"`
		DayVolume float64 `json:"day_volume"`
		Exchange  string  `json:"exchange"`
	} `json:"quotes"`
}

// -----------------------------------------------------------------------------

// poll fetches one cycle of quotes in request batches. A failure only costs
// the current batch; the next ticker cycle retries everything.
func (s *QuoteSource) poll() {
	symbols := s.getSymbols()

	for _, batch := range subscription.Chunk(symbols, s.Config.Polling.BatchSize) {
		params := map[string]string{
			"symbols": strings.Join(batch, ","),
		}
		if s.Config.Polling.APIKey != "" {
			params["apikey"] = s.Config.Polling.APIKey
		}

		body, err := s.Network.Get(s.Config.Polling.QuoteURL, params)
		if err != nil {
			s.Logger.Warning("Quote poll failed for %d symbols: %v", len(batch), err)
			continue
		}

		var resp quoteResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			s.Logger.Warning("%v", helpers.NewPollingError("malformed quote response", err))
			continue
		}

		now := time.Now().Unix()
		for _, q := range resp.Quotes {
			if q.Symbol == "" || q.Price == 0 {
				continue
			}
			s.OnTick(models.MTick{
				Symbol:     q.Symbol,
				Price:      q.Price,
				Timestamp:  q.Timestamp,
				DayVolume:  q.DayVolume,
				Exchange:   q.Exchange,
				Source:     models.SourcePoll,
				ReceivedAt: now,
			})
		}
	}
}
