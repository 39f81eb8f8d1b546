// Package market fetches closed OHLCV candles from Bybit's public v5 API
// and schedules work around candle-close boundaries.
package market

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Candle is one fully closed OHLCV bar. Immutable once fetched.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// parseKline converts one Bybit kline entry into a Candle.
// Bybit returns [startTime, open, high, low, close, volume, turnover] as strings.
func parseKline(entry []string) (Candle, error) {
	if len(entry) < 6 {
		return Candle{}, fmt.Errorf("kline entry has %d fields, need at least 6", len(entry))
	}
	ms, err := strconv.ParseInt(entry[0], 10, 64)
	if err != nil {
		return Candle{}, fmt.Errorf("invalid kline start time %q: %w", entry[0], err)
	}
	vals := make([]float64, 5)
	for i := 0; i < 5; i++ {
		v, err := strconv.ParseFloat(entry[i+1], 64)
		if err != nil {
			return Candle{}, fmt.Errorf("invalid kline field %q: %w", entry[i+1], err)
		}
		vals[i] = v
	}
	return Candle{
		Timestamp: time.UnixMilli(ms).UTC(),
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, nil
}

// normalize deduplicates candles by timestamp, sorts them ascending and
// drops the newest bar, which may still be forming.
func normalize(candles []Candle) []Candle {
	seen := make(map[int64]bool, len(candles))
	out := make([]Candle, 0, len(candles))
	for _, c := range candles {
		ts := c.Timestamp.UnixMilli()
		if seen[ts] {
			continue
		}
		seen[ts] = true
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	if len(out) > 0 {
		out = out[:len(out)-1]
	}
	return out
}
