// Package bot runs one trading worker per symbol. Each worker wakes shortly
// before its candle closes, fetches klines, rebuilds the feature pipeline,
// trains the predictor on the trailing window and hands the latest row to the
// position manager.
package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bybit-trading-bot/config"
	"bybit-trading-bot/internal/events"
	"bybit-trading-bot/internal/market"
	"bybit-trading-bot/internal/position"
	"bybit-trading-bot/internal/predictor"
	"bybit-trading-bot/internal/sentiment"
	"bybit-trading-bot/internal/strategy"
)

// cycleTimeout bounds a single fetch-predict-trade cycle.
const cycleTimeout = 2 * time.Minute

// Bot owns the per-symbol workers and their shared dependencies.
type Bot struct {
	cfg       *config.Config
	fetcher   *market.Fetcher
	model     *predictor.Model
	manager   *position.Manager
	sentiment *sentiment.Client
	bus       *events.EventBus
	logger    zerolog.Logger

	tfMinutes int
	interval  string

	stopChan chan struct{}
	wg       sync.WaitGroup

	mu      sync.RWMutex
	running bool
	workers map[string]*workerStatus
}

type workerStatus struct {
	LastCycleAt     time.Time `json:"last_cycle_at"`
	LastCandleAt    time.Time `json:"last_candle_at"`
	LastPrediction  int       `json:"last_prediction"`
	LastPrice       float64   `json:"last_price"`
	CyclesCompleted int       `json:"cycles_completed"`
	CyclesSkipped   int       `json:"cycles_skipped"`
	LastError       string    `json:"last_error,omitempty"`
}

// New creates a bot. The timeframe must already be validated by config.Load.
func New(
	cfg *config.Config,
	fetcher *market.Fetcher,
	model *predictor.Model,
	manager *position.Manager,
	sentimentClient *sentiment.Client,
	bus *events.EventBus,
	logger zerolog.Logger,
) (*Bot, error) {
	tfMinutes, err := config.TimeframeMinutes(cfg.TradingConfig.Timeframe)
	if err != nil {
		return nil, err
	}
	interval, err := config.BybitInterval(cfg.TradingConfig.Timeframe)
	if err != nil {
		return nil, err
	}

	return &Bot{
		cfg:       cfg,
		fetcher:   fetcher,
		model:     model,
		manager:   manager,
		sentiment: sentimentClient,
		bus:       bus,
		logger:    logger.With().Str("component", "bot").Logger(),
		tfMinutes: tfMinutes,
		interval:  interval,
		stopChan:  make(chan struct{}),
		workers:   make(map[string]*workerStatus),
	}, nil
}

// Start resumes each symbol's risk ladder and launches one worker per symbol.
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return fmt.Errorf("bot already running")
	}
	b.running = true
	for _, symbol := range b.cfg.TradingConfig.Symbols {
		b.workers[symbol] = &workerStatus{}
	}
	b.mu.Unlock()

	for _, symbol := range b.cfg.TradingConfig.Symbols {
		if err := b.manager.Resume(ctx, symbol); err != nil {
			return fmt.Errorf("failed to resume %s: %w", symbol, err)
		}
	}

	for _, symbol := range b.cfg.TradingConfig.Symbols {
		b.wg.Add(1)
		go b.runSymbol(symbol)
		b.logger.Info().
			Str("symbol", symbol).
			Str("timeframe", b.cfg.TradingConfig.Timeframe).
			Msg("trading worker started")
	}

	if b.bus != nil {
		b.bus.Publish(events.Event{
			Type:      events.EventBotStarted,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"symbols":   b.cfg.TradingConfig.Symbols,
				"timeframe": b.cfg.TradingConfig.Timeframe,
			},
		})
	}
	return nil
}

// Stop signals all workers and waits for them to finish their current cycle.
func (b *Bot) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	b.mu.Unlock()

	close(b.stopChan)
	b.wg.Wait()

	if b.bus != nil {
		b.bus.Publish(events.Event{
			Type:      events.EventBotStopped,
			Timestamp: time.Now(),
			Data:      map[string]interface{}{},
		})
	}
	b.logger.Info().Msg("all trading workers stopped")
}

// GetStatus reports per-symbol worker state for the status endpoint.
func (b *Bot) GetStatus() map[string]interface{} {
	b.mu.RLock()
	defer b.mu.RUnlock()

	symbols := make(map[string]interface{}, len(b.workers))
	for symbol, status := range b.workers {
		copied := *status
		symbols[symbol] = copied
	}
	return map[string]interface{}{
		"running":   b.running,
		"timeframe": b.cfg.TradingConfig.Timeframe,
		"dry_run":   b.cfg.BybitConfig.DryRun,
		"symbols":   symbols,
	}
}

// runSymbol is the worker loop: sleep until just before the candle closes,
// run one cycle, re-derive the next boundary. A cycle that overruns its slot
// simply lands on the next boundary; missed candles are never queued.
func (b *Bot) runSymbol(symbol string) {
	defer b.wg.Done()

	for {
		wait := market.UntilCandleClose(time.Now(), b.tfMinutes, b.cfg.TradingConfig.SleepBuffer())
		timer := time.NewTimer(wait)

		select {
		case <-b.stopChan:
			timer.Stop()
			return
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), cycleTimeout)
		b.runCycle(ctx, symbol)
		cancel()
	}
}

func (b *Bot) runCycle(ctx context.Context, symbol string) {
	started := time.Now()
	logger := b.logger.With().Str("symbol", symbol).Logger()

	candles, err := b.fetcher.Fetch(ctx, symbol, b.interval, b.cfg.TradingConfig.CandleLimit)
	if err != nil {
		logger.Warn().Err(err).Msg("no data fetched, skipping cycle")
		b.recordSkip(symbol, err)
		return
	}

	rows := strategy.BuildFeatures(candles, b.cfg.StrategyConfig)
	if len(rows) == 0 {
		logger.Warn().Int("candles", len(candles)).Msg("pipeline produced no rows, skipping cycle")
		b.recordSkip(symbol, fmt.Errorf("empty feature set"))
		return
	}
	rows = strategy.Tail(rows, b.cfg.TradingConfig.KeepCandles)
	latest := rows[len(rows)-1]

	if b.cfg.SentimentConfig.Enabled && b.sentiment != nil {
		scores := b.sentiment.Fetch(ctx, latest.Timestamp)
		b.sentiment.Attach(rows, scores)
		latest = rows[len(rows)-1]
	}

	prediction, ok := b.model.TrainAndPredict(rows)

	logger.Info().
		Time("candle", latest.Timestamp).
		Int("prediction", prediction).
		Bool("have_prediction", ok).
		Float64("close", latest.Close).
		Float64("sentiment", latest.Sentiment).
		Msg("cycle prediction")

	if b.bus != nil && ok {
		b.bus.PublishSignal(symbol, prediction, latest.Close)
	}

	if err := b.manager.HandleSignal(ctx, symbol, latest, prediction, ok); err != nil {
		logger.Error().Err(err).Msg("failed to execute trading decision")
		if b.bus != nil {
			b.bus.PublishError("bot", "trading decision failed", err)
		}
		b.recordError(symbol, err)
		return
	}

	b.mu.Lock()
	if status, found := b.workers[symbol]; found {
		status.LastCycleAt = started
		status.LastCandleAt = latest.Timestamp
		status.LastPrediction = prediction
		status.LastPrice = latest.Close
		status.CyclesCompleted++
		status.LastError = ""
	}
	b.mu.Unlock()

	if b.bus != nil {
		b.bus.Publish(events.Event{
			Type:      events.EventCycleCompleted,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"symbol":     symbol,
				"candle":     latest.Timestamp,
				"prediction": prediction,
				"elapsed_ms": time.Since(started).Milliseconds(),
			},
		})
	}
}

func (b *Bot) recordSkip(symbol string, err error) {
	b.mu.Lock()
	if status, found := b.workers[symbol]; found {
		status.CyclesSkipped++
		status.LastError = err.Error()
	}
	b.mu.Unlock()

	if b.bus != nil {
		b.bus.Publish(events.Event{
			Type:      events.EventCycleSkipped,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"symbol": symbol,
				"reason": err.Error(),
			},
		})
	}
}

func (b *Bot) recordError(symbol string, err error) {
	b.mu.Lock()
	if status, found := b.workers[symbol]; found {
		status.LastError = err.Error()
	}
	b.mu.Unlock()
}
