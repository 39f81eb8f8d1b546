package database

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RiskStateStore mirrors per-symbol risk percent in Redis so a restarted agent
// can pick up the martingale sequence where it left off. When Redis is down the
// store falls back to an in-process map and keeps working.
type RiskStateStore struct {
	client         *redis.Client
	logger         zerolog.Logger
	redisAvailable atomic.Bool

	mu    sync.RWMutex
	cache map[string]float64
}

// NewRiskStateStore connects to Redis and verifies the connection with a ping.
// A failed ping is not fatal; the store starts in fallback mode.
func NewRiskStateStore(addr, password string, db int, logger zerolog.Logger) *RiskStateStore {
	store := &RiskStateStore{
		logger: logger.With().Str("component", "risk_state").Logger(),
		cache:  make(map[string]float64),
	}

	store.client = redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := store.client.Ping(ctx).Err(); err != nil {
		store.logger.Warn().Err(err).Msg("redis unavailable, using in-memory risk state")
		store.redisAvailable.Store(false)
	} else {
		store.redisAvailable.Store(true)
	}

	return store
}

// riskStateTTL keeps stale mirrors from outliving the ledger history they
// shadow. The ledger scan at startup remains the source of truth.
const riskStateTTL = 7 * 24 * time.Hour

func riskKey(symbol string) string {
	return fmt.Sprintf("agent:risk:%s", symbol)
}

// Available reports whether the Redis connection is currently usable.
func (s *RiskStateStore) Available() bool {
	return s.redisAvailable.Load()
}

// SetRiskPercent records the current risk percent for a symbol.
func (s *RiskStateStore) SetRiskPercent(ctx context.Context, symbol string, percent float64) {
	s.mu.Lock()
	s.cache[symbol] = percent
	s.mu.Unlock()

	if !s.redisAvailable.Load() {
		return
	}

	err := s.client.Set(ctx, riskKey(symbol), strconv.FormatFloat(percent, 'f', -1, 64), riskStateTTL).Err()
	if err != nil {
		s.logger.Warn().Err(err).Str("symbol", symbol).Msg("failed to persist risk state to redis")
		s.redisAvailable.Store(false)
	}
}

// GetRiskPercent returns the stored risk percent for a symbol. The boolean is
// false when no value has been recorded anywhere.
func (s *RiskStateStore) GetRiskPercent(ctx context.Context, symbol string) (float64, bool) {
	if s.redisAvailable.Load() {
		val, err := s.client.Get(ctx, riskKey(symbol)).Result()
		if err == nil {
			percent, parseErr := strconv.ParseFloat(val, 64)
			if parseErr == nil {
				s.mu.Lock()
				s.cache[symbol] = percent
				s.mu.Unlock()
				return percent, true
			}
		} else if !errors.Is(err, redis.Nil) {
			s.logger.Warn().Err(err).Str("symbol", symbol).Msg("failed to read risk state from redis")
			s.redisAvailable.Store(false)
		}
	}

	s.mu.RLock()
	percent, ok := s.cache[symbol]
	s.mu.RUnlock()
	return percent, ok
}

// Close releases the Redis connection.
func (s *RiskStateStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
