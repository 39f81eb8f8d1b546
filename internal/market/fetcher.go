package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// RetryPolicy bounds the fetch retry loop. Attempts counts the first try.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// Fetcher pulls kline data from the Bybit v5 public market endpoint.
// Safe for concurrent use by independent symbol workers.
type Fetcher struct {
	baseURL string
	client  *http.Client
	policy  RetryPolicy
	logger  zerolog.Logger
}

func NewFetcher(baseURL string, policy RetryPolicy, logger zerolog.Logger) *Fetcher {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	return &Fetcher{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		policy:  policy,
		logger:  logger.With().Str("component", "fetcher").Logger(),
	}
}

type klineResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		Category string     `json:"category"`
		Symbol   string     `json:"symbol"`
		List     [][]string `json:"list"`
	} `json:"result"`
}

// Fetch requests up to limit klines for a linear perpetual symbol and returns
// them oldest-first with the still-forming newest bar removed. An empty or
// single-bar response is treated as a transient failure and retried under the
// fetcher's policy; exhausting the policy returns the last error and the
// caller skips the cycle.
func (f *Fetcher) Fetch(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	var candles []Candle

	operation := func() error {
		out, err := f.fetchOnce(ctx, symbol, interval, limit)
		if err != nil {
			f.logger.Warn().Err(err).Str("symbol", symbol).Msg("kline fetch attempt failed")
			return err
		}
		candles = out
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(f.policy.Delay), uint64(f.policy.Attempts-1)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("fetching klines for %s: %w", symbol, err)
	}

	f.logger.Debug().Str("symbol", symbol).Int("bars", len(candles)).Msg("fetched closed bars")
	return candles, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	q := url.Values{}
	q.Set("category", "linear")
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("limit", fmt.Sprintf("%d", limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/v5/market/kline?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("kline request returned HTTP %d", resp.StatusCode)
	}

	var decoded klineResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decoding kline response: %w", err)
	}
	if decoded.RetCode != 0 {
		return nil, fmt.Errorf("kline request rejected: %s (code %d)", decoded.RetMsg, decoded.RetCode)
	}
	if len(decoded.Result.List) < 2 {
		return nil, fmt.Errorf("insufficient kline data: got %d bars", len(decoded.Result.List))
	}

	candles := make([]Candle, 0, len(decoded.Result.List))
	for _, entry := range decoded.Result.List {
		c, err := parseKline(entry)
		if err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}
	return normalize(candles), nil
}
