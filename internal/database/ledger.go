package database

import (
	"context"
	"sort"
	"sync"
)

// Ledger is the persistence surface the trading loop depends on. *DB implements
// it against PostgreSQL; MemoryLedger implements it in memory for dry runs and
// tests.
type Ledger interface {
	CreateTrade(ctx context.Context, trade *Trade) error
	CloseTrade(ctx context.Context, trade *Trade) error
	GetOpenTrade(ctx context.Context, symbol string) (*Trade, error)
	GetLastClosedTrade(ctx context.Context, symbol string) (*Trade, error)
	GetClosedTrades(ctx context.Context, symbol string) ([]*Trade, error)
	GetRecentTrades(ctx context.Context, symbol string, limit int) ([]*Trade, error)
	UpsertPerformanceSnapshot(ctx context.Context, snap *PerformanceSnapshot) error
	GetPerformanceSnapshot(ctx context.Context, symbol string) (*PerformanceSnapshot, error)
}

var _ Ledger = (*DB)(nil)
var _ Ledger = (*MemoryLedger)(nil)

// MemoryLedger keeps trades and snapshots in process memory.
type MemoryLedger struct {
	mu        sync.RWMutex
	nextID    int64
	trades    []*Trade
	snapshots map[string]*PerformanceSnapshot
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		nextID:    1,
		snapshots: make(map[string]*PerformanceSnapshot),
	}
}

func (m *MemoryLedger) CreateTrade(_ context.Context, trade *Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	trade.ID = m.nextID
	m.nextID++
	copied := *trade
	m.trades = append(m.trades, &copied)
	return nil
}

func (m *MemoryLedger) CloseTrade(_ context.Context, trade *Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, t := range m.trades {
		if t.ID == trade.ID {
			copied := *trade
			m.trades[i] = &copied
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemoryLedger) GetOpenTrade(_ context.Context, symbol string) (*Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := len(m.trades) - 1; i >= 0; i-- {
		t := m.trades[i]
		if t.Symbol == symbol && t.Status == TradeStatusOpen {
			copied := *t
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryLedger) GetLastClosedTrade(_ context.Context, symbol string) (*Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var last *Trade
	for _, t := range m.trades {
		if t.Symbol != symbol || !t.IsClosed() || t.ExitTime == nil {
			continue
		}
		if last == nil || t.ExitTime.After(*last.ExitTime) {
			last = t
		}
	}
	if last == nil {
		return nil, ErrNotFound
	}
	copied := *last
	return &copied, nil
}

func (m *MemoryLedger) GetClosedTrades(_ context.Context, symbol string) ([]*Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var closed []*Trade
	for _, t := range m.trades {
		if t.Symbol == symbol && t.IsClosed() && t.ExitTime != nil {
			copied := *t
			closed = append(closed, &copied)
		}
	}
	sort.SliceStable(closed, func(i, j int) bool {
		return closed[i].ExitTime.Before(*closed[j].ExitTime)
	})
	return closed, nil
}

func (m *MemoryLedger) GetRecentTrades(_ context.Context, symbol string, limit int) ([]*Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var trades []*Trade
	for _, t := range m.trades {
		if t.Symbol == symbol {
			copied := *t
			trades = append(trades, &copied)
		}
	}
	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].EntryTime.After(trades[j].EntryTime)
	})
	if limit > 0 && len(trades) > limit {
		trades = trades[:limit]
	}
	return trades, nil
}

func (m *MemoryLedger) UpsertPerformanceSnapshot(_ context.Context, snap *PerformanceSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *snap
	m.snapshots[snap.Symbol] = &copied
	return nil
}

func (m *MemoryLedger) GetPerformanceSnapshot(_ context.Context, symbol string) (*PerformanceSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap, ok := m.snapshots[symbol]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *snap
	return &copied, nil
}
