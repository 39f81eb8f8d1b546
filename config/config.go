package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	BybitConfig     BybitConfig     `json:"bybit"`
	TradingConfig   TradingConfig   `json:"trading"`
	StrategyConfig  StrategyConfig  `json:"strategy"`
	RiskConfig      RiskConfig      `json:"risk"`
	SentimentConfig SentimentConfig `json:"sentiment"`
	DatabaseConfig  DatabaseConfig  `json:"database"`
	RedisConfig     RedisConfig     `json:"redis"`
	ServerConfig    ServerConfig    `json:"server"`
	LoggingConfig   LoggingConfig   `json:"logging"`
}

// BybitConfig holds Bybit v5 API configuration
type BybitConfig struct {
	APIKey     string `json:"api_key"`
	APISecret  string `json:"api_secret"`
	BaseURL    string `json:"base_url"`
	RecvWindow int    `json:"recv_window"` // milliseconds
	Demo       bool   `json:"demo"`        // demo trading endpoint
	DryRun     bool   `json:"dry_run"`     // skip order placement entirely
}

// TradingConfig controls which markets the bot runs on and how it polls them
type TradingConfig struct {
	Symbols          []string `json:"symbols"`
	Timeframe        string   `json:"timeframe"`          // e.g. "5m", "15m", "1h"
	CandleLimit      int      `json:"candle_limit"`       // klines requested per cycle
	KeepCandles      int      `json:"keep_candles"`       // newest rows kept after fetch
	SleepBufferSec   int      `json:"sleep_buffer_sec"`   // wake-up lead before candle close
	FetchRetries     int      `json:"fetch_retries"`      // attempts per kline fetch
	FetchRetryDelay  int      `json:"fetch_retry_delay"`  // seconds between attempts
	Leverage         int      `json:"leverage"`
	UseMaxLeverage   bool     `json:"use_max_leverage"`   // cap at instrument max instead
}

// StrategyConfig holds the per-symbol indicator and model parameters.
// Every symbol worker gets its own immutable copy.
type StrategyConfig struct {
	RSIPeriod        int     `json:"rsi_period"`
	CCIPeriod        int     `json:"cci_period"`
	EMAPeriod        int     `json:"ema_period"`
	SMAPeriod        int     `json:"sma_period"`
	ATRPeriod        int     `json:"atr_period"`
	ADXPeriod        int     `json:"adx_period"`
	WTChannelPeriod  int     `json:"wt_channel_period"`
	WTAveragePeriod  int     `json:"wt_average_period"`
	EMALongPeriod    int     `json:"ema_long_period"`
	SMAShortPeriod   int     `json:"sma_short_period"`
	VolWindow        int     `json:"vol_window"`
	VolThreshold     float64 `json:"vol_threshold"`
	LookaheadMin     int     `json:"lookahead_min"`
	LookaheadMax     int     `json:"lookahead_max"`
	LookaheadWindow  int     `json:"lookahead_window"`
	StructureWindow  int     `json:"structure_window"`
	MomentumUpper    float64 `json:"momentum_upper"`
	MomentumLower    float64 `json:"momentum_lower"`
	OutlierQuantile  float64 `json:"outlier_quantile"`
	MinMomentum      float64 `json:"min_momentum"`
	MinADX           float64 `json:"min_adx"`
	WindowSize       int     `json:"window_size"`
	UseLogistic      bool    `json:"use_logistic"`
}

// RiskConfig holds account sizing and the loss-recovery ladder
type RiskConfig struct {
	InitialBalance    float64 `json:"initial_balance"`     // USDT
	BaseRiskPercent   float64 `json:"base_risk_percent"`   // percent of balance per trade
	RiskMultiplier    float64 `json:"risk_multiplier"`     // applied after each stop-loss
	StopATRMultiple   float64 `json:"stop_atr_multiple"`
	RewardATRMultiple float64 `json:"reward_atr_multiple"`
	TakerFee          float64 `json:"taker_fee"`           // fraction, charged both sides
	MinNotional       float64 `json:"min_notional"`        // venue minimum order value in USDT
}

// RewardToRisk returns the strategy's reward to risk ratio.
func (r RiskConfig) RewardToRisk() float64 {
	if r.StopATRMultiple == 0 {
		return 1
	}
	return r.RewardATRMultiple / r.StopATRMultiple
}

type SentimentConfig struct {
	Enabled    bool   `json:"enabled"`
	BaseURL    string `json:"base_url"`
	BucketMin  int    `json:"bucket_min"`  // aggregation bucket in minutes
	Neutral    int    `json:"neutral"`     // score used when no data is available
	TimeoutSec int    `json:"timeout_sec"`
}

type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Name     string `json:"name"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig holds Redis configuration for the live risk-state mirror
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type ServerConfig struct {
	Enabled         bool   `json:"enabled"`
	Host            string `json:"host"`
	Port            int    `json:"port"`
	AllowedOrigins  string `json:"allowed_origins"`
	ReadTimeout     int    `json:"read_timeout"`     // seconds
	WriteTimeout    int    `json:"write_timeout"`    // seconds
	ShutdownTimeout int    `json:"shutdown_timeout"` // seconds
}

type LoggingConfig struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Console    bool   `json:"console"`     // pretty console writer
	File       string `json:"file"`        // rotated log file path, empty disables
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

func Load() (*Config, error) {
	// First try to load base config from file
	cfg, err := loadFromFile("config.json")
	if err != nil {
		// If no config file, start with empty config
		cfg = &Config{}
	}

	// Environment variables take precedence over the file
	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	// Bybit config
	cfg.BybitConfig.APIKey = getEnvOrDefault("BYBIT_API_KEY", cfg.BybitConfig.APIKey)
	cfg.BybitConfig.APISecret = getEnvOrDefault("BYBIT_API_SECRET", cfg.BybitConfig.APISecret)
	cfg.BybitConfig.BaseURL = getEnvOrDefault("BYBIT_BASE_URL", cfg.BybitConfig.BaseURL)
	cfg.BybitConfig.RecvWindow = getEnvIntOrDefault("BYBIT_RECV_WINDOW", cfg.BybitConfig.RecvWindow)
	if v := os.Getenv("BYBIT_DEMO"); v != "" {
		cfg.BybitConfig.Demo = v == "true"
	}
	if v := os.Getenv("TRADING_DRY_RUN"); v != "" {
		cfg.BybitConfig.DryRun = v == "true"
	}

	// Trading config
	if v := os.Getenv("TRADING_SYMBOLS"); v != "" {
		cfg.TradingConfig.Symbols = splitSymbols(v)
	}
	cfg.TradingConfig.Timeframe = getEnvOrDefault("TRADING_TIMEFRAME", cfg.TradingConfig.Timeframe)
	cfg.TradingConfig.CandleLimit = getEnvIntOrDefault("TRADING_CANDLE_LIMIT", cfg.TradingConfig.CandleLimit)
	cfg.TradingConfig.SleepBufferSec = getEnvIntOrDefault("TRADING_SLEEP_BUFFER", cfg.TradingConfig.SleepBufferSec)
	cfg.TradingConfig.Leverage = getEnvIntOrDefault("TRADING_LEVERAGE", cfg.TradingConfig.Leverage)
	if v := os.Getenv("TRADING_USE_MAX_LEVERAGE"); v != "" {
		cfg.TradingConfig.UseMaxLeverage = v == "true"
	}

	// Risk config
	cfg.RiskConfig.InitialBalance = getEnvFloatOrDefault("RISK_INITIAL_BALANCE", cfg.RiskConfig.InitialBalance)
	cfg.RiskConfig.BaseRiskPercent = getEnvFloatOrDefault("RISK_BASE_PERCENT", cfg.RiskConfig.BaseRiskPercent)
	cfg.RiskConfig.RiskMultiplier = getEnvFloatOrDefault("RISK_MULTIPLIER", cfg.RiskConfig.RiskMultiplier)

	// Sentiment config
	if v := os.Getenv("SENTIMENT_ENABLED"); v != "" {
		cfg.SentimentConfig.Enabled = v == "true"
	}
	cfg.SentimentConfig.BaseURL = getEnvOrDefault("SENTIMENT_BASE_URL", cfg.SentimentConfig.BaseURL)

	// Database config
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Name = getEnvOrDefault("DB_NAME", cfg.DatabaseConfig.Name)
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.DatabaseConfig.SSLMode)

	// Redis config
	if v := os.Getenv("REDIS_ENABLED"); v != "" {
		cfg.RedisConfig.Enabled = v == "true"
	}
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)

	// Server config
	if v := os.Getenv("SERVER_ENABLED"); v != "" {
		cfg.ServerConfig.Enabled = v == "true"
	}
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", cfg.ServerConfig.Port)
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", cfg.ServerConfig.AllowedOrigins)

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.File = getEnvOrDefault("LOG_FILE", cfg.LoggingConfig.File)
	if v := os.Getenv("LOG_CONSOLE"); v != "" {
		cfg.LoggingConfig.Console = v == "true"
	}
}

// applyDefaults fills in every field still at its zero value
func applyDefaults(cfg *Config) {
	if cfg.BybitConfig.BaseURL == "" {
		if cfg.BybitConfig.Demo {
			cfg.BybitConfig.BaseURL = "https://api-demo.bybit.com"
		} else {
			cfg.BybitConfig.BaseURL = "https://api.bybit.com"
		}
	}
	if cfg.BybitConfig.RecvWindow == 0 {
		cfg.BybitConfig.RecvWindow = 5000
	}

	if len(cfg.TradingConfig.Symbols) == 0 {
		cfg.TradingConfig.Symbols = []string{"BTCUSDT"}
	}
	if cfg.TradingConfig.Timeframe == "" {
		cfg.TradingConfig.Timeframe = "5m"
	}
	if cfg.TradingConfig.CandleLimit == 0 {
		cfg.TradingConfig.CandleLimit = 1001
	}
	if cfg.TradingConfig.KeepCandles == 0 {
		cfg.TradingConfig.KeepCandles = 1000
	}
	if cfg.TradingConfig.SleepBufferSec == 0 {
		cfg.TradingConfig.SleepBufferSec = 54
	}
	if cfg.TradingConfig.FetchRetries == 0 {
		cfg.TradingConfig.FetchRetries = 2
	}
	if cfg.TradingConfig.FetchRetryDelay == 0 {
		cfg.TradingConfig.FetchRetryDelay = 15
	}
	if cfg.TradingConfig.Leverage == 0 {
		cfg.TradingConfig.Leverage = 10
	}

	s := &cfg.StrategyConfig
	if s.RSIPeriod == 0 {
		s.RSIPeriod = 14
	}
	if s.CCIPeriod == 0 {
		s.CCIPeriod = 20
	}
	if s.EMAPeriod == 0 {
		s.EMAPeriod = 50
	}
	if s.SMAPeriod == 0 {
		s.SMAPeriod = 50
	}
	if s.ATRPeriod == 0 {
		s.ATRPeriod = 14
	}
	if s.ADXPeriod == 0 {
		s.ADXPeriod = 14
	}
	if s.WTChannelPeriod == 0 {
		s.WTChannelPeriod = 10
	}
	if s.WTAveragePeriod == 0 {
		s.WTAveragePeriod = 21
	}
	if s.EMALongPeriod == 0 {
		s.EMALongPeriod = 200
	}
	if s.SMAShortPeriod == 0 {
		s.SMAShortPeriod = 50
	}
	if s.VolWindow == 0 {
		s.VolWindow = 200
	}
	if s.VolThreshold == 0 {
		s.VolThreshold = 0.80
	}
	if s.LookaheadMin == 0 {
		s.LookaheadMin = 7
	}
	if s.LookaheadMax == 0 {
		s.LookaheadMax = 14
	}
	if s.LookaheadWindow == 0 {
		s.LookaheadWindow = 100
	}
	if s.StructureWindow == 0 {
		s.StructureWindow = 100
	}
	if s.MomentumUpper == 0 {
		s.MomentumUpper = 0.80
	}
	if s.MomentumLower == 0 {
		s.MomentumLower = 0.20
	}
	if s.OutlierQuantile == 0 {
		s.OutlierQuantile = 0.80
	}
	if s.MinMomentum == 0 {
		s.MinMomentum = 0.5
	}
	if s.MinADX == 0 {
		s.MinADX = 20
	}
	if s.WindowSize == 0 {
		s.WindowSize = 200
	}

	r := &cfg.RiskConfig
	if r.InitialBalance == 0 {
		r.InitialBalance = 1270
	}
	if r.BaseRiskPercent == 0 {
		r.BaseRiskPercent = 0.7874
	}
	if r.RiskMultiplier == 0 {
		r.RiskMultiplier = 2
	}
	if r.StopATRMultiple == 0 {
		r.StopATRMultiple = 0.75
	}
	if r.RewardATRMultiple == 0 {
		r.RewardATRMultiple = 0.75
	}
	if r.TakerFee == 0 {
		r.TakerFee = 0.0005
	}
	if r.MinNotional == 0 {
		r.MinNotional = 20
	}

	if cfg.SentimentConfig.BucketMin == 0 {
		cfg.SentimentConfig.BucketMin = 5
	}
	if cfg.SentimentConfig.Neutral == 0 {
		cfg.SentimentConfig.Neutral = 50
	}
	if cfg.SentimentConfig.TimeoutSec == 0 {
		cfg.SentimentConfig.TimeoutSec = 10
	}

	// Host deliberately has no default: an empty host selects the in-memory
	// ledger instead of a Postgres connection.
	if cfg.DatabaseConfig.Port == 0 {
		cfg.DatabaseConfig.Port = 5432
	}
	if cfg.DatabaseConfig.User == "" {
		cfg.DatabaseConfig.User = "postgres"
	}
	if cfg.DatabaseConfig.Name == "" {
		cfg.DatabaseConfig.Name = "trading_bot"
	}
	if cfg.DatabaseConfig.SSLMode == "" {
		cfg.DatabaseConfig.SSLMode = "disable"
	}

	if cfg.RedisConfig.Address == "" {
		cfg.RedisConfig.Address = "localhost:6379"
	}

	if cfg.ServerConfig.Host == "" {
		cfg.ServerConfig.Host = "0.0.0.0"
	}
	if cfg.ServerConfig.Port == 0 {
		cfg.ServerConfig.Port = 8080
	}
	if cfg.ServerConfig.AllowedOrigins == "" {
		cfg.ServerConfig.AllowedOrigins = "*"
	}
	if cfg.ServerConfig.ReadTimeout == 0 {
		cfg.ServerConfig.ReadTimeout = 30
	}
	if cfg.ServerConfig.WriteTimeout == 0 {
		cfg.ServerConfig.WriteTimeout = 30
	}
	if cfg.ServerConfig.ShutdownTimeout == 0 {
		cfg.ServerConfig.ShutdownTimeout = 10
	}

	if cfg.LoggingConfig.Level == "" {
		cfg.LoggingConfig.Level = "info"
	}
	if cfg.LoggingConfig.MaxSizeMB == 0 {
		cfg.LoggingConfig.MaxSizeMB = 100
	}
	if cfg.LoggingConfig.MaxBackups == 0 {
		cfg.LoggingConfig.MaxBackups = 7
	}
	if cfg.LoggingConfig.MaxAgeDays == 0 {
		cfg.LoggingConfig.MaxAgeDays = 30
	}
}

// Validate rejects configurations the bot cannot safely run with
func (c *Config) Validate() error {
	if len(c.TradingConfig.Symbols) == 0 {
		return fmt.Errorf("config: no trading symbols configured")
	}
	if _, err := TimeframeMinutes(c.TradingConfig.Timeframe); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.StrategyConfig.LookaheadMin > c.StrategyConfig.LookaheadMax {
		return fmt.Errorf("config: lookahead_min %d exceeds lookahead_max %d",
			c.StrategyConfig.LookaheadMin, c.StrategyConfig.LookaheadMax)
	}
	if c.RiskConfig.BaseRiskPercent <= 0 || c.RiskConfig.BaseRiskPercent >= 100 {
		return fmt.Errorf("config: base_risk_percent %.4f out of range (0, 100)", c.RiskConfig.BaseRiskPercent)
	}
	if c.RiskConfig.RiskMultiplier < 1 {
		return fmt.Errorf("config: risk_multiplier %.2f must be >= 1", c.RiskConfig.RiskMultiplier)
	}
	if !c.BybitConfig.DryRun && (c.BybitConfig.APIKey == "" || c.BybitConfig.APISecret == "") {
		return fmt.Errorf("config: live trading requires BYBIT_API_KEY and BYBIT_API_SECRET")
	}
	return nil
}

// TimeframeMinutes converts a timeframe string like "5m" or "1h" to minutes.
// Only intervals up to one hour divide the clock evenly for candle-close scheduling.
func TimeframeMinutes(tf string) (int, error) {
	if tf == "" {
		return 0, fmt.Errorf("empty timeframe")
	}
	unit := tf[len(tf)-1]
	n, err := strconv.Atoi(tf[:len(tf)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
	switch unit {
	case 'm':
		return n, nil
	case 'h':
		return n * 60, nil
	default:
		return 0, fmt.Errorf("unsupported timeframe unit %q", tf)
	}
}

// BybitInterval maps a timeframe string to the Bybit v5 kline interval parameter
func BybitInterval(tf string) (string, error) {
	min, err := TimeframeMinutes(tf)
	if err != nil {
		return "", err
	}
	return strconv.Itoa(min), nil
}

func splitSymbols(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToUpper(p))
		}
	}
	return out
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// SleepBuffer returns the candle-close wake-up lead as a duration
func (t TradingConfig) SleepBuffer() time.Duration {
	return time.Duration(t.SleepBufferSec) * time.Second
}

// FetchDelay returns the pause between kline fetch attempts
func (t TradingConfig) FetchDelay() time.Duration {
	return time.Duration(t.FetchRetryDelay) * time.Second
}

// ConnString builds the pgx connection string
func (d DatabaseConfig) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}
