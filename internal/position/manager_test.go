package position

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"bybit-trading-bot/config"
	"bybit-trading-bot/internal/bybit"
	"bybit-trading-bot/internal/database"
	"bybit-trading-bot/internal/strategy"
)

func riskConfig() config.RiskConfig {
	return config.RiskConfig{
		InitialBalance:    1000,
		BaseRiskPercent:   1,
		RiskMultiplier:    2,
		StopATRMultiple:   0.75,
		RewardATRMultiple: 0.75,
		TakerFee:          0.0005,
	}
}

func newTestManager(ledger database.Ledger) *Manager {
	return NewManager(riskConfig(), ledger, nil, nil, nil, nil, "", true, zerolog.Nop())
}

func candleRow(ts time.Time, open, high, low, close, atr float64) strategy.FeatureRow {
	return strategy.FeatureRow{
		Timestamp: ts,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		ATR:       atr,
	}
}

func TestOpenTradeOnLongSignal(t *testing.T) {
	ctx := context.Background()
	ledger := database.NewMemoryLedger()
	mgr := newTestManager(ledger)

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	row := candleRow(ts, 99, 101, 98, 100, 4)

	if err := mgr.HandleSignal(ctx, "BTCUSDT", row, 1, true); err != nil {
		t.Fatalf("HandleSignal: %v", err)
	}

	trade, err := ledger.GetOpenTrade(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("expected an open trade: %v", err)
	}
	if trade.Direction != database.DirectionLong {
		t.Errorf("direction = %s, want LONG", trade.Direction)
	}
	// Stops sit 0.75 ATR away from entry.
	if trade.StopLoss != 97 || trade.TakeProfit != 103 {
		t.Errorf("SL/TP = %.2f/%.2f, want 97/103", trade.StopLoss, trade.TakeProfit)
	}
	if trade.InvestmentPerTrade != 1 {
		t.Errorf("risk percent = %.2f, want 1", trade.InvestmentPerTrade)
	}
	// A 3%% stop distance gives a 33.33x sizing multiplier.
	if math.Abs(trade.AmountMultiplier-100.0/3.0) > 1e-9 {
		t.Errorf("multiplier = %.4f, want %.4f", trade.AmountMultiplier, 100.0/3.0)
	}
}

func TestNeutralPredictionNeverOpens(t *testing.T) {
	ctx := context.Background()
	ledger := database.NewMemoryLedger()
	mgr := newTestManager(ledger)

	row := candleRow(time.Now(), 99, 101, 98, 100, 4)
	if err := mgr.HandleSignal(ctx, "BTCUSDT", row, 0, true); err != nil {
		t.Fatalf("HandleSignal: %v", err)
	}
	if err := mgr.HandleSignal(ctx, "BTCUSDT", row, 0, false); err != nil {
		t.Fatalf("HandleSignal: %v", err)
	}

	if _, err := ledger.GetOpenTrade(ctx, "BTCUSDT"); err == nil {
		t.Error("neutral prediction opened a trade")
	}
}

func TestHoldOnMatchingDirection(t *testing.T) {
	ctx := context.Background()
	ledger := database.NewMemoryLedger()
	mgr := newTestManager(ledger)

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := mgr.HandleSignal(ctx, "BTCUSDT", candleRow(ts, 99, 101, 98, 100, 4), 1, true); err != nil {
		t.Fatalf("HandleSignal: %v", err)
	}
	first, _ := ledger.GetOpenTrade(ctx, "BTCUSDT")

	// Next candle stays inside the stops; same-direction signal holds.
	ts = ts.Add(time.Hour)
	if err := mgr.HandleSignal(ctx, "BTCUSDT", candleRow(ts, 100, 102, 99, 101, 4), 1, true); err != nil {
		t.Fatalf("HandleSignal: %v", err)
	}
	second, err := ledger.GetOpenTrade(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("expected trade to stay open: %v", err)
	}
	if second.ID != first.ID {
		t.Error("matching signal replaced the open trade")
	}
}

func TestStopLossSettlesAtThresholdAndDoublesRisk(t *testing.T) {
	ctx := context.Background()
	ledger := database.NewMemoryLedger()
	mgr := newTestManager(ledger)

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := mgr.HandleSignal(ctx, "BTCUSDT", candleRow(ts, 99, 101, 98, 100, 4), 1, true); err != nil {
		t.Fatalf("HandleSignal: %v", err)
	}

	// Candle trades through the 97 stop.
	ts = ts.Add(time.Hour)
	if err := mgr.HandleSignal(ctx, "BTCUSDT", candleRow(ts, 98, 99, 96, 98.5, 4), 0, true); err != nil {
		t.Fatalf("HandleSignal: %v", err)
	}

	last, err := ledger.GetLastClosedTrade(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("GetLastClosedTrade: %v", err)
	}
	if last.Status != database.TradeStatusStopLoss {
		t.Fatalf("status = %s, want SL", last.Status)
	}
	if *last.ExitPrice != 97 {
		t.Errorf("exit price = %.2f, want the 97 stop threshold", *last.ExitPrice)
	}
	// Sized to lose 1%% of the balance at the stop, plus fees.
	if last.NetPnL > -10 || last.NetPnL < -10.4 {
		t.Errorf("net pnl = %.4f, want about -10.33", last.NetPnL)
	}
	if mgr.RiskPercent("BTCUSDT") != 2 {
		t.Errorf("risk percent after SL = %.2f, want 2", mgr.RiskPercent("BTCUSDT"))
	}
}

func TestStopLossWinsWhenCandleSpansBoth(t *testing.T) {
	ctx := context.Background()
	ledger := database.NewMemoryLedger()
	mgr := newTestManager(ledger)

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := mgr.HandleSignal(ctx, "BTCUSDT", candleRow(ts, 99, 101, 98, 100, 4), 1, true); err != nil {
		t.Fatalf("HandleSignal: %v", err)
	}

	// Candle touches both the 97 stop and the 103 target.
	ts = ts.Add(time.Hour)
	if err := mgr.HandleSignal(ctx, "BTCUSDT", candleRow(ts, 100, 104, 96, 100, 4), 0, true); err != nil {
		t.Fatalf("HandleSignal: %v", err)
	}

	last, err := ledger.GetLastClosedTrade(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("GetLastClosedTrade: %v", err)
	}
	if last.Status != database.TradeStatusStopLoss {
		t.Errorf("spanning candle settled as %s, want SL", last.Status)
	}
}

func TestRiskLadderSequence(t *testing.T) {
	ctx := context.Background()
	ledger := database.NewMemoryLedger()
	mgr := newTestManager(ledger)

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	symbol := "ETHUSDT"

	loseOnce := func() {
		t.Helper()
		if err := mgr.HandleSignal(ctx, symbol, candleRow(ts, 99, 101, 98, 100, 4), 1, true); err != nil {
			t.Fatalf("open: %v", err)
		}
		ts = ts.Add(time.Hour)
		if err := mgr.HandleSignal(ctx, symbol, candleRow(ts, 98, 99, 96, 98, 4), 0, true); err != nil {
			t.Fatalf("settle: %v", err)
		}
		ts = ts.Add(time.Hour)
	}

	if mgr.RiskPercent(symbol) != 1 {
		t.Fatalf("starting risk = %.2f, want 1", mgr.RiskPercent(symbol))
	}
	loseOnce()
	if mgr.RiskPercent(symbol) != 2 {
		t.Errorf("risk after first SL = %.2f, want 2", mgr.RiskPercent(symbol))
	}
	loseOnce()
	if mgr.RiskPercent(symbol) != 4 {
		t.Errorf("risk after second SL = %.2f, want 4", mgr.RiskPercent(symbol))
	}

	// A take profit resets to base.
	if err := mgr.HandleSignal(ctx, symbol, candleRow(ts, 99, 101, 98, 100, 4), 1, true); err != nil {
		t.Fatalf("open: %v", err)
	}
	ts = ts.Add(time.Hour)
	if err := mgr.HandleSignal(ctx, symbol, candleRow(ts, 102, 104, 101, 103, 4), 0, true); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if mgr.RiskPercent(symbol) != 1 {
		t.Errorf("risk after TP = %.2f, want 1", mgr.RiskPercent(symbol))
	}
}

func TestReversalClosesAndReopens(t *testing.T) {
	ctx := context.Background()
	ledger := database.NewMemoryLedger()
	mgr := newTestManager(ledger)

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := mgr.HandleSignal(ctx, "BTCUSDT", candleRow(ts, 99, 101, 98, 100, 4), 1, true); err != nil {
		t.Fatalf("HandleSignal: %v", err)
	}

	// Price drifted up but stays inside the stops; an opposing signal
	// reverses. Favorable drift attributes the close as TP.
	ts = ts.Add(time.Hour)
	if err := mgr.HandleSignal(ctx, "BTCUSDT", candleRow(ts, 100, 102, 99.5, 101, 4), -1, true); err != nil {
		t.Fatalf("HandleSignal: %v", err)
	}

	last, err := ledger.GetLastClosedTrade(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("GetLastClosedTrade: %v", err)
	}
	if last.Status != database.TradeStatusTakeProfit {
		t.Errorf("reversal close status = %s, want TP", last.Status)
	}
	if *last.ExitPrice != 101 {
		t.Errorf("reversal exit = %.2f, want candle close 101", *last.ExitPrice)
	}

	open, err := ledger.GetOpenTrade(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("expected a new open trade: %v", err)
	}
	if open.Direction != database.DirectionShort {
		t.Errorf("new direction = %s, want SHORT", open.Direction)
	}
}

func TestOnlyOneOpenTradePerSymbol(t *testing.T) {
	ctx := context.Background()
	ledger := database.NewMemoryLedger()
	mgr := newTestManager(ledger)

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		row := candleRow(ts, 99.5, 101, 99, 100, 4)
		pred := 1
		if i%2 == 1 {
			pred = -1
		}
		if err := mgr.HandleSignal(ctx, "BTCUSDT", row, pred, true); err != nil {
			t.Fatalf("HandleSignal: %v", err)
		}
		ts = ts.Add(time.Hour)
	}

	recent, err := ledger.GetRecentTrades(ctx, "BTCUSDT", 100)
	if err != nil {
		t.Fatalf("GetRecentTrades: %v", err)
	}
	openCount := 0
	for _, trade := range recent {
		if trade.Status == database.TradeStatusOpen {
			openCount++
		}
	}
	if openCount != 1 {
		t.Errorf("open trades = %d, want exactly 1", openCount)
	}
}

func TestResumeFromLastClosedTrade(t *testing.T) {
	ctx := context.Background()
	ledger := database.NewMemoryLedger()

	exit := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	price := 97.0
	if err := ledger.CreateTrade(ctx, &database.Trade{
		Symbol:             "BTCUSDT",
		Direction:          database.DirectionLong,
		EntryTime:          exit.Add(-time.Hour),
		EntryPrice:         100,
		StopLoss:           97,
		TakeProfit:         103,
		Status:             database.TradeStatusStopLoss,
		ExitTime:           &exit,
		ExitPrice:          &price,
		InvestmentPerTrade: 2,
	}); err != nil {
		t.Fatalf("CreateTrade: %v", err)
	}

	mgr := newTestManager(ledger)
	if err := mgr.Resume(ctx, "BTCUSDT"); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	// Last trade stopped out at 2%%; the ladder continues at 4%%.
	if mgr.RiskPercent("BTCUSDT") != 4 {
		t.Errorf("resumed risk = %.2f, want 4", mgr.RiskPercent("BTCUSDT"))
	}

	// A TP history resets to base.
	ledger2 := database.NewMemoryLedger()
	exit2 := exit
	price2 := 103.0
	if err := ledger2.CreateTrade(ctx, &database.Trade{
		Symbol:             "BTCUSDT",
		Direction:          database.DirectionLong,
		EntryTime:          exit2.Add(-time.Hour),
		EntryPrice:         100,
		Status:             database.TradeStatusTakeProfit,
		ExitTime:           &exit2,
		ExitPrice:          &price2,
		InvestmentPerTrade: 8,
	}); err != nil {
		t.Fatalf("CreateTrade: %v", err)
	}
	mgr2 := newTestManager(ledger2)
	if err := mgr2.Resume(ctx, "BTCUSDT"); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if mgr2.RiskPercent("BTCUSDT") != 1 {
		t.Errorf("resumed risk after TP = %.2f, want base 1", mgr2.RiskPercent("BTCUSDT"))
	}
}

func TestConfiguredLeverageReachesVenue(t *testing.T) {
	ctx := context.Background()
	venue := bybit.NewMockClient()
	venue.SetPrice("BTCUSDT", 100)

	mgr := NewManager(riskConfig(), database.NewMemoryLedger(), venue, nil, nil, nil, "10", false, zerolog.Nop())
	row := candleRow(time.Now(), 99.5, 101, 99, 100, 4)
	if err := mgr.HandleSignal(ctx, "BTCUSDT", row, 1, true); err != nil {
		t.Fatalf("HandleSignal failed: %v", err)
	}
	if got := venue.Leverage("BTCUSDT"); got != "10" {
		t.Errorf("venue leverage = %q, want %q", got, "10")
	}

	// An empty setting defers to the instrument maximum.
	venue2 := bybit.NewMockClient()
	venue2.SetPrice("BTCUSDT", 100)
	mgr2 := NewManager(riskConfig(), database.NewMemoryLedger(), venue2, nil, nil, nil, "", false, zerolog.Nop())
	if err := mgr2.HandleSignal(ctx, "BTCUSDT", row, 1, true); err != nil {
		t.Fatalf("HandleSignal failed: %v", err)
	}
	if got := venue2.Leverage("BTCUSDT"); got != "50" {
		t.Errorf("venue leverage = %q, want %q", got, "50")
	}
}

func TestRiskAmountDegenerateInputs(t *testing.T) {
	mgr := newTestManager(database.NewMemoryLedger())

	if amount, mult := mgr.riskAmount("BTCUSDT", 0, 97); amount != 0 || mult != 0 {
		t.Errorf("zero entry should size to zero, got %.2f, %.2f", amount, mult)
	}
	if amount, mult := mgr.riskAmount("BTCUSDT", 100, 100); amount != 0 || mult != 0 {
		t.Errorf("zero stop distance should size to zero, got %.2f, %.2f", amount, mult)
	}
}
