package bybit

import "context"

// Client defines the venue operations the trading loop depends on. RestClient
// talks to the real Bybit v5 API; MockClient records calls for dry runs and
// tests.
type Client interface {
	// ServerTime returns the venue clock in milliseconds, falling back to
	// the local clock when the venue is unreachable.
	ServerTime(ctx context.Context) int64

	// SetLeverage sets buy and sell leverage for a symbol. An empty leverage
	// string means "use the instrument's maximum".
	SetLeverage(ctx context.Context, symbol, leverage string) error

	// PlaceMarketOrder sizes and places a market order with stop loss and
	// take profit attached.
	PlaceMarketOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error)

	// ClosePosition closes the open position for a symbol with a reduce-only
	// market order.
	ClosePosition(ctx context.Context, symbol string) error

	// GetPosition returns the open position for a symbol, or nil when flat.
	GetPosition(ctx context.Context, symbol string) (*Position, error)

	// GetClosedPnL returns recent realized PnL records for a symbol.
	GetClosedPnL(ctx context.Context, symbol string, limit int) ([]ClosedPnL, error)

	// GetInstrumentInfo returns lot size and leverage filters for a symbol.
	GetInstrumentInfo(ctx context.Context, symbol string) (*InstrumentInfo, error)

	// GetTicker returns the last traded price for a symbol.
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)
}
