package bybit

// InstrumentInfo holds the subset of /v5/market/instruments-info the agent
// needs for sizing and leverage.
type InstrumentInfo struct {
	Symbol      string
	MaxLeverage string
	QtyStep     float64
	MinOrderQty float64
}

// Ticker holds the last traded price for a symbol.
type Ticker struct {
	Symbol    string
	LastPrice float64
}

// Position is an open linear perpetual position on the venue.
type Position struct {
	Symbol     string
	Side       string // "Buy" or "Sell"
	Size       float64
	AvgPrice   float64
	Leverage   string
	StopLoss   float64
	TakeProfit float64
}

// ClosedPnL is a realized PnL record from the venue.
type ClosedPnL struct {
	Symbol        string
	Side          string
	Qty           float64
	AvgEntryPrice float64
	AvgExitPrice  float64
	ClosedPnL     float64
	CreatedTime   int64
}

// OrderRequest describes a market entry with protective levels attached.
type OrderRequest struct {
	Symbol     string
	Direction  string // "LONG" or "SHORT"
	USDTAmount float64
	StopLoss   float64
	TakeProfit float64
}

// OrderResponse is the venue's acknowledgement of a placed order.
type OrderResponse struct {
	OrderID     string
	OrderLinkID string
	Qty         string
}
