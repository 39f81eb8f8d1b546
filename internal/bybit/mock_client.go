package bybit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockClient implements the Client interface for dry-run mode and tests.
// Orders fill instantly at the configured price.
type MockClient struct {
	mu          sync.RWMutex
	prices      map[string]float64
	positions   map[string]*Position
	leverage    map[string]string
	closedPnL   map[string][]ClosedPnL
	orderCount  int
	instruments map[string]*InstrumentInfo
}

// NewMockClient creates a mock venue with no positions.
func NewMockClient() *MockClient {
	return &MockClient{
		prices:      make(map[string]float64),
		positions:   make(map[string]*Position),
		leverage:    make(map[string]string),
		closedPnL:   make(map[string][]ClosedPnL),
		instruments: make(map[string]*InstrumentInfo),
	}
}

// SetPrice sets the fill price for a symbol.
func (c *MockClient) SetPrice(symbol string, price float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[symbol] = price
}

// SetInstrument overrides the default lot size filter for a symbol.
func (c *MockClient) SetInstrument(symbol string, info InstrumentInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.instruments[symbol] = &info
}

func (c *MockClient) ServerTime(_ context.Context) int64 {
	return time.Now().UnixMilli()
}

func (c *MockClient) SetLeverage(_ context.Context, symbol, leverage string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if leverage == "" {
		leverage = fallbackMaxLeverage
	}
	c.leverage[symbol] = leverage
	return nil
}

// Leverage returns the leverage recorded for a symbol.
func (c *MockClient) Leverage(symbol string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.leverage[symbol]
}

func (c *MockClient) PlaceMarketOrder(_ context.Context, req OrderRequest) (*OrderResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	price, ok := c.prices[req.Symbol]
	if !ok || price <= 0 {
		return nil, fmt.Errorf("no price set for %s", req.Symbol)
	}

	info := c.instruments[req.Symbol]
	if info == nil {
		info = &InstrumentInfo{Symbol: req.Symbol, QtyStep: 0.001, MinOrderQty: 0.001, MaxLeverage: fallbackMaxLeverage}
	}

	rawQty := req.USDTAmount / price
	qty := math.Round(rawQty/info.QtyStep) * info.QtyStep
	if qty < info.MinOrderQty {
		qty = info.MinOrderQty
	}
	if qty*price < defaultMinNotionalUSDT {
		return nil, fmt.Errorf("order notional below minimum for %s", req.Symbol)
	}

	side := "Buy"
	if strings.EqualFold(req.Direction, "SHORT") {
		side = "Sell"
	}

	c.orderCount++
	c.positions[req.Symbol] = &Position{
		Symbol:     req.Symbol,
		Side:       side,
		Size:       qty,
		AvgPrice:   price,
		Leverage:   c.leverage[req.Symbol],
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
	}

	return &OrderResponse{
		OrderID:     strconv.Itoa(c.orderCount),
		OrderLinkID: fmt.Sprintf("mock-%d", c.orderCount),
		Qty:         formatQuantity(qty, info.QtyStep),
	}, nil
}

func (c *MockClient) ClosePosition(_ context.Context, symbol string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	pos, ok := c.positions[symbol]
	if !ok {
		return nil
	}
	price := c.prices[symbol]
	pnl := (price - pos.AvgPrice) * pos.Size
	if pos.Side == "Sell" {
		pnl = -pnl
	}
	c.closedPnL[symbol] = append(c.closedPnL[symbol], ClosedPnL{
		Symbol:        symbol,
		Side:          pos.Side,
		Qty:           pos.Size,
		AvgEntryPrice: pos.AvgPrice,
		AvgExitPrice:  price,
		ClosedPnL:     pnl,
		CreatedTime:   time.Now().UnixMilli(),
	})
	delete(c.positions, symbol)
	return nil
}

func (c *MockClient) GetPosition(_ context.Context, symbol string) (*Position, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	pos, ok := c.positions[symbol]
	if !ok {
		return nil, nil
	}
	copied := *pos
	return &copied, nil
}

func (c *MockClient) GetClosedPnL(_ context.Context, symbol string, limit int) ([]ClosedPnL, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	records := c.closedPnL[symbol]
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	out := make([]ClosedPnL, len(records))
	copy(out, records)
	return out, nil
}

func (c *MockClient) GetInstrumentInfo(_ context.Context, symbol string) (*InstrumentInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if info, ok := c.instruments[symbol]; ok {
		copied := *info
		return &copied, nil
	}
	return &InstrumentInfo{Symbol: symbol, QtyStep: 0.001, MinOrderQty: 0.001, MaxLeverage: fallbackMaxLeverage}, nil
}

func (c *MockClient) GetTicker(_ context.Context, symbol string) (*Ticker, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	price, ok := c.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("no price set for %s", symbol)
	}
	return &Ticker{Symbol: symbol, LastPrice: price}, nil
}

var _ Client = (*MockClient)(nil)
