package database

import "time"

// Trade statuses. A trade is OPEN until its stop or target is hit, or a
// reversal closes it; the close reason becomes the final status.
const (
	TradeStatusOpen       = "OPEN"
	TradeStatusTakeProfit = "TP"
	TradeStatusStopLoss   = "SL"
)

// Trade directions
const (
	DirectionLong  = "LONG"
	DirectionShort = "SHORT"
)

// Trade is one position lifecycle. Created on open, mutated exactly once on
// close, never deleted. At most one OPEN trade exists per symbol.
type Trade struct {
	ID                 int64      `json:"id"`
	Symbol             string     `json:"symbol"`
	Direction          string     `json:"direction"`
	EntryTime          time.Time  `json:"entry_time"`
	EntryPrice         float64    `json:"entry_price"`
	StopLoss           float64    `json:"stop_loss"`
	TakeProfit         float64    `json:"take_profit"`
	Status             string     `json:"status"`
	ExitTime           *time.Time `json:"exit_time,omitempty"`
	ExitPrice          *float64   `json:"exit_price,omitempty"`
	InvestmentPerTrade float64    `json:"investment_per_trade"` // risk percent at open
	AmountMultiplier   float64    `json:"amount_multiplier"`
	TotalFees          float64    `json:"total_fees"`
	PnL                float64    `json:"pnl"`
	NetPnL             float64    `json:"net_pnl"`
	Sentiment          *float64   `json:"sentiment,omitempty"` // score at entry, observability only
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// IsClosed reports whether the trade has a final status.
func (t *Trade) IsClosed() bool {
	return t.Status == TradeStatusTakeProfit || t.Status == TradeStatusStopLoss
}

// PerformanceSnapshot is the full recomputation over a symbol's closed
// trades. One row per symbol, overwritten on every trade close.
type PerformanceSnapshot struct {
	Symbol           string    `json:"symbol"`
	ComputedAt       time.Time `json:"computed_at"`
	TotalTrades      int       `json:"total_trades"`
	WinningTrades    int       `json:"winning_trades"`
	LosingTrades     int       `json:"losing_trades"`
	MaxWinStreak     int       `json:"max_win_streak"`
	MaxLossStreak    int       `json:"max_loss_streak"`
	AvgWin           float64   `json:"avg_win"`
	AvgLoss          float64   `json:"avg_loss"`
	TotalFees        float64   `json:"total_fees"`
	BreakEvenWinRate float64   `json:"break_even_win_rate"`
	WinRate          float64   `json:"win_rate"`
	ROI              float64   `json:"roi"`
	NetBalance       float64   `json:"net_balance"`
	GrossBalance     float64   `json:"gross_balance"`
}
