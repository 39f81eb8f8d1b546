// Package sentiment attaches social sentiment scores to feature rows. Scores
// come from an external aggregation service keyed by time buckets; the
// pipeline treats them as observational only, so every failure degrades to the
// neutral score.
package sentiment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"bybit-trading-bot/config"
	"bybit-trading-bot/internal/strategy"
)

// NeutralScore is used when no neutral score is configured.
const NeutralScore = 50.0

// bucketLayout matches the service's naive ISO timestamp keys.
const bucketLayout = "2006-01-02T15:04:05"

// Client fetches bucketed sentiment scores.
type Client struct {
	baseURL    string
	bucketMin  int
	neutral    float64
	httpClient *http.Client
	logger     zerolog.Logger
}

// New creates a sentiment client. An empty base URL disables lookups; Attach
// then fills every row with the neutral score.
func New(cfg config.SentimentConfig, logger zerolog.Logger) *Client {
	bucketMin := cfg.BucketMin
	if bucketMin <= 0 {
		bucketMin = 5
	}
	neutral := float64(cfg.Neutral)
	if neutral == 0 {
		neutral = NeutralScore
	}
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		bucketMin:  bucketMin,
		neutral:    neutral,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "sentiment").Logger(),
	}
}

type bucketScore struct {
	NormalizedScore *float64 `json:"normalized_overall_weighted_sentiment_score"`
}

// Fetch returns the bucket score map for the period ending at ts. A failed or
// disabled lookup returns an empty map, never an error.
func (c *Client) Fetch(ctx context.Context, ts time.Time) map[string]float64 {
	scores := make(map[string]float64)
	if c.baseURL == "" {
		return scores
	}

	endpoint := c.baseURL + "?timestamp=" + url.QueryEscape(ts.UTC().Format(bucketLayout))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return scores
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Msg("sentiment lookup failed")
		return scores
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn().Int("status", resp.StatusCode).Msg("sentiment lookup failed")
		return scores
	}

	var buckets map[string]bucketScore
	if err := json.NewDecoder(resp.Body).Decode(&buckets); err != nil {
		c.logger.Warn().Err(err).Msg("failed to decode sentiment response")
		return scores
	}

	for key, bucket := range buckets {
		if bucket.NormalizedScore != nil {
			scores[key] = *bucket.NormalizedScore
		} else {
			scores[key] = c.neutral
		}
	}
	return scores
}

// Attach fills the Sentiment column of every row from the bucket map, falling
// back to the neutral score for buckets with no data.
func (c *Client) Attach(rows []strategy.FeatureRow, scores map[string]float64) {
	for i := range rows {
		key := BucketKey(rows[i].Timestamp, c.bucketMin)
		if score, ok := scores[key]; ok {
			rows[i].Sentiment = score
		} else {
			rows[i].Sentiment = c.neutral
		}
	}
}

// BucketKey floors a candle timestamp to its aggregation bucket key.
func BucketKey(ts time.Time, bucketMin int) string {
	if bucketMin <= 0 {
		bucketMin = 5
	}
	floored := ts.UTC().Truncate(time.Minute)
	minute := (floored.Minute() / bucketMin) * bucketMin
	bucket := time.Date(floored.Year(), floored.Month(), floored.Day(),
		floored.Hour(), minute, 0, 0, time.UTC)
	return bucket.Format(bucketLayout)
}
