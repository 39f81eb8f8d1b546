// Package position holds the per-symbol trade state machine: one open trade
// per symbol, ATR-scaled protective levels, and a loss-recovery risk ladder
// that doubles exposure after a stop loss and resets after a take profit.
package position

import (
	"context"
	"errors"
	"math"
	"sync"

	"github.com/rs/zerolog"

	"bybit-trading-bot/config"
	"bybit-trading-bot/internal/bybit"
	"bybit-trading-bot/internal/database"
	"bybit-trading-bot/internal/events"
	"bybit-trading-bot/internal/strategy"
)

// Recomputer is notified after every trade close so performance statistics
// stay current.
type Recomputer interface {
	Recompute(ctx context.Context, symbol string) error
}

// Manager drives trade lifecycle decisions from prediction signals. The ledger
// is the source of truth for open state; venue calls are best effort and never
// roll back ledger state.
type Manager struct {
	cfg       config.RiskConfig
	ledger    database.Ledger
	venue     bybit.Client
	riskStore *database.RiskStateStore
	bus       *events.EventBus
	tracker   Recomputer
	logger    zerolog.Logger
	leverage  string
	dryRun    bool

	mu          sync.Mutex
	riskPercent map[string]float64
	leveraged   map[string]bool
}

// NewManager creates a position manager. riskStore, bus and tracker may be
// nil. An empty leverage requests the instrument's maximum.
func NewManager(
	cfg config.RiskConfig,
	ledger database.Ledger,
	venue bybit.Client,
	riskStore *database.RiskStateStore,
	bus *events.EventBus,
	tracker Recomputer,
	leverage string,
	dryRun bool,
	logger zerolog.Logger,
) *Manager {
	return &Manager{
		cfg:         cfg,
		ledger:      ledger,
		venue:       venue,
		riskStore:   riskStore,
		bus:         bus,
		tracker:     tracker,
		leverage:    leverage,
		dryRun:      dryRun,
		logger:      logger.With().Str("component", "position").Logger(),
		riskPercent: make(map[string]float64),
		leveraged:   make(map[string]bool),
	}
}

// Resume restores the risk ladder for a symbol from its last closed trade:
// after a stop loss the next trade risks the previous percent times the
// multiplier, after a take profit risk resets to base.
func (m *Manager) Resume(ctx context.Context, symbol string) error {
	percent := m.cfg.BaseRiskPercent

	last, err := m.ledger.GetLastClosedTrade(ctx, symbol)
	switch {
	case errors.Is(err, database.ErrNotFound):
		// First run for this symbol.
	case err != nil:
		return err
	case last.Status == database.TradeStatusStopLoss:
		percent = last.InvestmentPerTrade * m.cfg.RiskMultiplier
	}

	m.setRiskPercent(ctx, symbol, percent)
	m.logger.Info().Str("symbol", symbol).Float64("risk_percent", percent).Msg("risk ladder resumed")
	return nil
}

func (m *Manager) setRiskPercent(ctx context.Context, symbol string, percent float64) {
	m.mu.Lock()
	m.riskPercent[symbol] = percent
	m.mu.Unlock()

	if m.riskStore != nil {
		m.riskStore.SetRiskPercent(ctx, symbol, percent)
	}
	if m.bus != nil {
		m.bus.PublishRiskUpdated(symbol, percent)
	}
}

// RiskPercent returns the current risk percent for a symbol.
func (m *Manager) RiskPercent(symbol string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if percent, ok := m.riskPercent[symbol]; ok {
		return percent
	}
	return m.cfg.BaseRiskPercent
}

// riskAmount converts a stop distance into position sizing. The multiplier is
// the inverse of the percent move to the stop, so a fixed fraction of the
// balance is lost when the stop is hit. A zero entry or zero stop distance
// yields zero size.
func (m *Manager) riskAmount(symbol string, entryPrice, stopPrice float64) (float64, float64) {
	if entryPrice == 0 {
		return 0, 0
	}
	movePercent := math.Abs((stopPrice-entryPrice)/entryPrice) * 100
	if movePercent == 0 {
		return 0, 0
	}
	multiplier := 100 / movePercent
	amount := (m.RiskPercent(symbol) / 100) * m.cfg.InitialBalance * multiplier
	return amount, multiplier
}

// computePnL recomputes size from the actual exit price at the current risk
// percent, then settles gross PnL, taker fees on both sides, and net PnL.
func (m *Manager) computePnL(symbol, direction string, entryPrice, exitPrice float64) (gross, net, fees, multiplier float64) {
	amount, multiplier := m.riskAmount(symbol, entryPrice, exitPrice)
	if entryPrice == 0 {
		return 0, 0, 0, multiplier
	}
	quantity := amount / entryPrice

	if direction == database.DirectionLong {
		gross = (exitPrice - entryPrice) * quantity
	} else {
		gross = (entryPrice - exitPrice) * quantity
	}
	fees = quantity*entryPrice*m.cfg.TakerFee + quantity*exitPrice*m.cfg.TakerFee
	net = gross - fees
	return gross, net, fees, multiplier
}

// HandleSignal is the per-candle decision point. It first settles any open
// trade against the candle's range, then acts on the prediction: open when
// flat, hold on a matching direction, reverse on an opposing one. A neutral or
// absent prediction never opens a trade.
func (m *Manager) HandleSignal(ctx context.Context, symbol string, row strategy.FeatureRow, prediction int, havePrediction bool) error {
	openTrade, err := m.ledger.GetOpenTrade(ctx, symbol)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return err
	}

	justClosed := false
	if openTrade != nil {
		justClosed, err = m.checkStops(ctx, openTrade, row)
		if err != nil {
			return err
		}
	}

	if !havePrediction || prediction == 0 {
		return nil
	}

	direction := database.DirectionLong
	if prediction == -1 {
		direction = database.DirectionShort
	}

	if openTrade == nil || justClosed {
		return m.openTrade(ctx, symbol, row, direction)
	}

	if openTrade.Direction == direction {
		m.logger.Info().
			Str("symbol", symbol).
			Str("direction", direction).
			Msg("signal matches open trade, holding")
		return nil
	}

	// Reversal: the close is attributed TP or SL by whether price moved in
	// the trade's favor since entry.
	exitPrice := row.Close
	reason := database.TradeStatusStopLoss
	if openTrade.Direction == database.DirectionLong {
		if exitPrice > openTrade.EntryPrice {
			reason = database.TradeStatusTakeProfit
		}
	} else {
		if exitPrice < openTrade.EntryPrice {
			reason = database.TradeStatusTakeProfit
		}
	}

	m.logger.Info().
		Str("symbol", symbol).
		Str("open_direction", openTrade.Direction).
		Str("signal_direction", direction).
		Msg("reversing position")

	if err := m.closeTrade(ctx, openTrade, reason, row, nil); err != nil {
		return err
	}
	return m.openTrade(ctx, symbol, row, direction)
}

// checkStops settles an open trade against the candle's high and low. The stop
// loss is checked before the take profit, so a candle spanning both counts as
// a loss. The trade is closed at the threshold price, not the candle close.
func (m *Manager) checkStops(ctx context.Context, trade *database.Trade, row strategy.FeatureRow) (bool, error) {
	if trade.Direction == database.DirectionLong {
		if row.Low <= trade.StopLoss {
			stop := trade.StopLoss
			return true, m.closeTrade(ctx, trade, database.TradeStatusStopLoss, row, &stop)
		}
		if row.High >= trade.TakeProfit {
			target := trade.TakeProfit
			return true, m.closeTrade(ctx, trade, database.TradeStatusTakeProfit, row, &target)
		}
		return false, nil
	}

	if row.High >= trade.StopLoss {
		stop := trade.StopLoss
		return true, m.closeTrade(ctx, trade, database.TradeStatusStopLoss, row, &stop)
	}
	if row.Low <= trade.TakeProfit {
		target := trade.TakeProfit
		return true, m.closeTrade(ctx, trade, database.TradeStatusTakeProfit, row, &target)
	}
	return false, nil
}

func (m *Manager) openTrade(ctx context.Context, symbol string, row strategy.FeatureRow, direction string) error {
	entryPrice := row.Close
	atr := row.ATR

	var stopLoss, takeProfit float64
	if direction == database.DirectionLong {
		stopLoss = entryPrice - m.cfg.StopATRMultiple*atr
		takeProfit = entryPrice + m.cfg.RewardATRMultiple*atr
	} else {
		stopLoss = entryPrice + m.cfg.StopATRMultiple*atr
		takeProfit = entryPrice - m.cfg.RewardATRMultiple*atr
	}

	amount, multiplier := m.riskAmount(symbol, entryPrice, stopLoss)
	riskPercent := m.RiskPercent(symbol)

	sentiment := row.Sentiment
	trade := &database.Trade{
		Symbol:             symbol,
		Direction:          direction,
		EntryTime:          row.Timestamp,
		EntryPrice:         entryPrice,
		StopLoss:           stopLoss,
		TakeProfit:         takeProfit,
		Status:             database.TradeStatusOpen,
		InvestmentPerTrade: riskPercent,
		AmountMultiplier:   multiplier,
		Sentiment:          &sentiment,
	}

	if err := m.ledger.CreateTrade(ctx, trade); err != nil {
		return err
	}

	m.logger.Info().
		Str("symbol", symbol).
		Str("direction", direction).
		Float64("entry", entryPrice).
		Float64("stop_loss", stopLoss).
		Float64("take_profit", takeProfit).
		Float64("risk_percent", riskPercent).
		Msg("trade opened")

	if m.bus != nil {
		m.bus.PublishTradeOpened(symbol, direction, entryPrice, stopLoss, takeProfit, riskPercent)
	}

	m.placeVenueOrder(ctx, symbol, direction, amount, stopLoss, takeProfit)
	return nil
}

// placeVenueOrder mirrors the ledger entry on the venue. Failures are logged
// and swallowed; the ledger already reflects the trade.
func (m *Manager) placeVenueOrder(ctx context.Context, symbol, direction string, amount, stopLoss, takeProfit float64) {
	if m.dryRun || m.venue == nil {
		return
	}

	m.mu.Lock()
	needsLeverage := !m.leveraged[symbol]
	m.mu.Unlock()

	if needsLeverage {
		if err := m.venue.SetLeverage(ctx, symbol, m.leverage); err != nil {
			m.logger.Warn().Err(err).Str("symbol", symbol).Msg("failed to set leverage")
		} else {
			m.mu.Lock()
			m.leveraged[symbol] = true
			m.mu.Unlock()
		}
	}

	_, err := m.venue.PlaceMarketOrder(ctx, bybit.OrderRequest{
		Symbol:     symbol,
		Direction:  direction,
		USDTAmount: amount,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
	})
	if err != nil {
		m.logger.Error().Err(err).Str("symbol", symbol).Msg("failed to place venue order")
		if m.bus != nil {
			m.bus.PublishError("position", "venue order failed", err)
		}
	}
}

func (m *Manager) closeTrade(ctx context.Context, trade *database.Trade, reason string, row strategy.FeatureRow, forcedExit *float64) error {
	exitPrice := row.Close
	if forcedExit != nil {
		exitPrice = *forcedExit
	}

	gross, net, fees, multiplier := m.computePnL(trade.Symbol, trade.Direction, trade.EntryPrice, exitPrice)

	exitTime := row.Timestamp
	trade.Status = reason
	trade.ExitTime = &exitTime
	trade.ExitPrice = &exitPrice
	trade.PnL = gross
	trade.NetPnL = net
	trade.TotalFees = fees
	trade.AmountMultiplier = multiplier
	trade.InvestmentPerTrade = m.RiskPercent(trade.Symbol)

	if err := m.ledger.CloseTrade(ctx, trade); err != nil {
		return err
	}

	m.logger.Info().
		Str("symbol", trade.Symbol).
		Str("direction", trade.Direction).
		Str("reason", reason).
		Float64("exit", exitPrice).
		Float64("pnl", gross).
		Float64("net_pnl", net).
		Float64("fees", fees).
		Msg("trade closed")

	if m.bus != nil {
		m.bus.PublishTradeClosed(trade.Symbol, trade.Direction, reason, trade.EntryPrice, exitPrice, net)
	}

	// A stop-loss on the venue's side closes the position itself; only a
	// reversal close needs an explicit venue exit.
	if forcedExit == nil && !m.dryRun && m.venue != nil {
		if err := m.venue.ClosePosition(ctx, trade.Symbol); err != nil {
			m.logger.Error().Err(err).Str("symbol", trade.Symbol).Msg("failed to close venue position")
			if m.bus != nil {
				m.bus.PublishError("position", "venue close failed", err)
			}
		}
	}

	m.advanceRiskLadder(ctx, trade.Symbol, reason)

	if m.tracker != nil {
		if err := m.tracker.Recompute(ctx, trade.Symbol); err != nil {
			m.logger.Warn().Err(err).Str("symbol", trade.Symbol).Msg("failed to recompute performance")
		}
	}
	return nil
}

// advanceRiskLadder applies the martingale step: multiply after a stop loss,
// reset to base after a take profit.
func (m *Manager) advanceRiskLadder(ctx context.Context, symbol, reason string) {
	switch reason {
	case database.TradeStatusStopLoss:
		m.setRiskPercent(ctx, symbol, m.RiskPercent(symbol)*m.cfg.RiskMultiplier)
	case database.TradeStatusTakeProfit:
		m.setRiskPercent(ctx, symbol, m.cfg.BaseRiskPercent)
	}
}
