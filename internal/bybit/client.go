package bybit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// MainnetURL is the production Bybit v5 API URL
	MainnetURL = "https://api.bybit.com"
	// DemoURL is the demo trading Bybit v5 API URL
	DemoURL = "https://api-demo.bybit.com"

	// defaultMinNotionalUSDT is the smallest order value the venue accepts.
	defaultMinNotionalUSDT = 20.0

	// fallbackMaxLeverage is used when the instrument's leverage filter is
	// unavailable.
	fallbackMaxLeverage = "50"
)

// RestClient implements the Client interface against the Bybit v5 REST API.
type RestClient struct {
	apiKey      string
	apiSecret   string
	baseURL     string
	recvWindow  string
	minNotional float64
	httpClient  *http.Client
	logger      zerolog.Logger
}

// NewRestClient creates a signed v5 REST client. A zero minNotional falls
// back to the venue default.
func NewRestClient(apiKey, apiSecret, baseURL, recvWindow string, minNotional float64, logger zerolog.Logger) *RestClient {
	if baseURL == "" {
		baseURL = MainnetURL
	}
	if recvWindow == "" {
		recvWindow = "5000"
	}
	if minNotional <= 0 {
		minNotional = defaultMinNotionalUSDT
	}
	return &RestClient{
		apiKey:      strings.TrimSpace(apiKey),
		apiSecret:   strings.TrimSpace(apiSecret),
		baseURL:     strings.TrimRight(baseURL, "/"),
		recvWindow:  recvWindow,
		minNotional: minNotional,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		logger:      logger.With().Str("component", "bybit").Logger(),
	}
}

type apiEnvelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// ServerTime returns the venue clock in milliseconds. Any failure falls back
// to the local clock.
func (c *RestClient) ServerTime(ctx context.Context) int64 {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v5/market/time", nil)
	if err != nil {
		return time.Now().UnixMilli()
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return time.Now().UnixMilli()
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return time.Now().UnixMilli()
	}

	var body struct {
		Result struct {
			TimeNano string `json:"timeNano"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return time.Now().UnixMilli()
	}
	nano, err := strconv.ParseInt(body.Result.TimeNano, 10, 64)
	if err != nil {
		return time.Now().UnixMilli()
	}
	return nano / 1_000_000
}

func (c *RestClient) sign(timestamp, payload string) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(timestamp + c.apiKey + c.recvWindow + payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// signedPost sends a signed POST with a compact JSON body. Keys are sorted so
// the signature payload matches the body byte for byte.
func (c *RestClient) signedPost(ctx context.Context, endpoint string, params map[string]interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}

	timestamp := strconv.FormatInt(c.ServerTime(ctx), 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("X-BAPI-API-KEY", c.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	req.Header.Set("X-BAPI-RECV-WINDOW", c.recvWindow)
	req.Header.Set("X-BAPI-SIGN", c.sign(timestamp, string(body)))
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, endpoint)
}

// signedGet sends a signed GET. The sorted query string is both the signature
// payload and the request query.
func (c *RestClient) signedGet(ctx context.Context, endpoint string, params map[string]string) (json.RawMessage, error) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}
	query := strings.Join(pairs, "&")

	timestamp := strconv.FormatInt(c.ServerTime(ctx), 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint+"?"+query, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("X-BAPI-API-KEY", c.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	req.Header.Set("X-BAPI-RECV-WINDOW", c.recvWindow)
	req.Header.Set("X-BAPI-SIGN", c.sign(timestamp, query))

	return c.do(req, endpoint)
}

// publicGet sends an unsigned GET to a public market endpoint.
func (c *RestClient) publicGet(ctx context.Context, endpoint, query string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint+"?"+query, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	return c.do(req, endpoint)
}

func (c *RestClient) do(req *http.Request, endpoint string) (json.RawMessage, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", endpoint, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d: %s", endpoint, resp.StatusCode, string(raw))
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode response from %s: %w", endpoint, err)
	}
	if envelope.RetCode != 0 {
		return nil, fmt.Errorf("%s returned error %d: %s", endpoint, envelope.RetCode, envelope.RetMsg)
	}
	return envelope.Result, nil
}

// SetLeverage sets buy and sell leverage for a symbol. An empty leverage falls
// back to the instrument's maximum. A "leverage not modified" response is not
// an error.
func (c *RestClient) SetLeverage(ctx context.Context, symbol, leverage string) error {
	if leverage == "" {
		info, err := c.GetInstrumentInfo(ctx, symbol)
		if err != nil || info.MaxLeverage == "" {
			leverage = fallbackMaxLeverage
		} else {
			leverage = info.MaxLeverage
		}
	}

	_, err := c.signedPost(ctx, "/v5/position/set-leverage", map[string]interface{}{
		"category":     "linear",
		"symbol":       symbol,
		"buyLeverage":  leverage,
		"sellLeverage": leverage,
	})
	if err != nil {
		// retCode 110043: leverage already at the requested value.
		if strings.Contains(err.Error(), "110043") {
			return nil
		}
		return fmt.Errorf("failed to set leverage for %s: %w", symbol, err)
	}
	c.logger.Info().Str("symbol", symbol).Str("leverage", leverage).Msg("leverage set")
	return nil
}

// PlaceMarketOrder sizes the order against the lot size filter and places a
// market order with stop loss and take profit attached.
func (c *RestClient) PlaceMarketOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error) {
	qty, err := c.orderQuantity(ctx, req.Symbol, req.USDTAmount)
	if err != nil {
		return nil, err
	}

	side := "Buy"
	if strings.EqualFold(req.Direction, "SHORT") {
		side = "Sell"
	}

	orderLinkID := uuid.New().String()
	params := map[string]interface{}{
		"category":    "linear",
		"symbol":      req.Symbol,
		"side":        side,
		"orderType":   "Market",
		"qty":         qty,
		"positionIdx": 0,
		"orderLinkId": orderLinkID,
	}
	if req.TakeProfit > 0 {
		params["takeProfit"] = strconv.FormatFloat(req.TakeProfit, 'f', -1, 64)
	}
	if req.StopLoss > 0 {
		params["stopLoss"] = strconv.FormatFloat(req.StopLoss, 'f', -1, 64)
	}

	result, err := c.signedPost(ctx, "/v5/order/create", params)
	if err != nil {
		return nil, fmt.Errorf("failed to place order for %s: %w", req.Symbol, err)
	}

	var ack struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}
	if err := json.Unmarshal(result, &ack); err != nil {
		return nil, fmt.Errorf("failed to decode order response: %w", err)
	}

	c.logger.Info().
		Str("symbol", req.Symbol).
		Str("side", side).
		Str("qty", qty).
		Str("order_id", ack.OrderID).
		Msg("market order placed")

	return &OrderResponse{OrderID: ack.OrderID, OrderLinkID: orderLinkID, Qty: qty}, nil
}

// orderQuantity converts a USDT amount into a lot size compliant quantity
// string, enforcing the venue's minimum notional.
func (c *RestClient) orderQuantity(ctx context.Context, symbol string, usdtAmount float64) (string, error) {
	info, err := c.GetInstrumentInfo(ctx, symbol)
	if err != nil {
		return "", err
	}
	ticker, err := c.GetTicker(ctx, symbol)
	if err != nil {
		return "", err
	}
	if ticker.LastPrice <= 0 {
		return "", fmt.Errorf("invalid last price for %s", symbol)
	}
	if info.QtyStep <= 0 {
		return "", fmt.Errorf("invalid lot size step %f for %s", info.QtyStep, symbol)
	}

	rawQty := usdtAmount / ticker.LastPrice
	adjusted := math.Round(rawQty/info.QtyStep) * info.QtyStep
	if adjusted < info.MinOrderQty {
		adjusted = info.MinOrderQty
	}
	if adjusted*ticker.LastPrice < c.minNotional {
		return "", fmt.Errorf("order notional %.2f USDT below minimum %.0f for %s",
			adjusted*ticker.LastPrice, c.minNotional, symbol)
	}
	return formatQuantity(adjusted, info.QtyStep), nil
}

// formatQuantity renders a quantity with the number of decimals implied by the
// lot size step.
func formatQuantity(qty, step float64) string {
	decimals := 0
	if step < 1 {
		decimals = int(math.Round(-math.Log10(step)))
	}
	formatted := strconv.FormatFloat(qty, 'f', decimals, 64)
	if strings.Contains(formatted, ".") {
		formatted = strings.TrimRight(formatted, "0")
		formatted = strings.TrimRight(formatted, ".")
	}
	return formatted
}

// ClosePosition closes any open position for a symbol with a reduce-only
// market order on the opposite side.
func (c *RestClient) ClosePosition(ctx context.Context, symbol string) error {
	pos, err := c.GetPosition(ctx, symbol)
	if err != nil {
		return err
	}
	if pos == nil || pos.Size == 0 {
		return nil
	}

	side := "Sell"
	if pos.Side == "Sell" {
		side = "Buy"
	}

	_, err = c.signedPost(ctx, "/v5/order/create", map[string]interface{}{
		"category":    "linear",
		"symbol":      symbol,
		"side":        side,
		"orderType":   "Market",
		"qty":         strconv.FormatFloat(pos.Size, 'f', -1, 64),
		"positionIdx": 0,
		"reduceOnly":  true,
		"orderLinkId": uuid.New().String(),
	})
	if err != nil {
		return fmt.Errorf("failed to close position for %s: %w", symbol, err)
	}
	c.logger.Info().Str("symbol", symbol).Msg("position closed")
	return nil
}

// GetPosition returns the open position for a symbol, or nil when flat.
func (c *RestClient) GetPosition(ctx context.Context, symbol string) (*Position, error) {
	result, err := c.signedGet(ctx, "/v5/position/list", map[string]string{
		"category": "linear",
		"symbol":   symbol,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get position for %s: %w", symbol, err)
	}

	var body struct {
		List []struct {
			Symbol     string `json:"symbol"`
			Side       string `json:"side"`
			Size       string `json:"size"`
			AvgPrice   string `json:"avgPrice"`
			Leverage   string `json:"leverage"`
			StopLoss   string `json:"stopLoss"`
			TakeProfit string `json:"takeProfit"`
		} `json:"list"`
	}
	if err := json.Unmarshal(result, &body); err != nil {
		return nil, fmt.Errorf("failed to decode position list: %w", err)
	}

	for _, p := range body.List {
		size := parseFloat(p.Size)
		if size == 0 {
			continue
		}
		return &Position{
			Symbol:     p.Symbol,
			Side:       p.Side,
			Size:       size,
			AvgPrice:   parseFloat(p.AvgPrice),
			Leverage:   p.Leverage,
			StopLoss:   parseFloat(p.StopLoss),
			TakeProfit: parseFloat(p.TakeProfit),
		}, nil
	}
	return nil, nil
}

// GetClosedPnL returns recent realized PnL records for a symbol.
func (c *RestClient) GetClosedPnL(ctx context.Context, symbol string, limit int) ([]ClosedPnL, error) {
	if limit <= 0 {
		limit = 50
	}
	result, err := c.signedGet(ctx, "/v5/position/closed-pnl", map[string]string{
		"category": "linear",
		"symbol":   symbol,
		"limit":    strconv.Itoa(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get closed pnl for %s: %w", symbol, err)
	}

	var body struct {
		List []struct {
			Symbol        string `json:"symbol"`
			Side          string `json:"side"`
			Qty           string `json:"qty"`
			AvgEntryPrice string `json:"avgEntryPrice"`
			AvgExitPrice  string `json:"avgExitPrice"`
			ClosedPnL     string `json:"closedPnl"`
			CreatedTime   string `json:"createdTime"`
		} `json:"list"`
	}
	if err := json.Unmarshal(result, &body); err != nil {
		return nil, fmt.Errorf("failed to decode closed pnl: %w", err)
	}

	records := make([]ClosedPnL, 0, len(body.List))
	for _, r := range body.List {
		created, _ := strconv.ParseInt(r.CreatedTime, 10, 64)
		records = append(records, ClosedPnL{
			Symbol:        r.Symbol,
			Side:          r.Side,
			Qty:           parseFloat(r.Qty),
			AvgEntryPrice: parseFloat(r.AvgEntryPrice),
			AvgExitPrice:  parseFloat(r.AvgExitPrice),
			ClosedPnL:     parseFloat(r.ClosedPnL),
			CreatedTime:   created,
		})
	}
	return records, nil
}

// GetInstrumentInfo returns lot size and leverage filters for a symbol.
func (c *RestClient) GetInstrumentInfo(ctx context.Context, symbol string) (*InstrumentInfo, error) {
	result, err := c.publicGet(ctx, "/v5/market/instruments-info", "category=linear&symbol="+symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to get instrument info for %s: %w", symbol, err)
	}

	var body struct {
		List []struct {
			Symbol         string `json:"symbol"`
			LeverageFilter struct {
				MaxLeverage string `json:"maxLeverage"`
			} `json:"leverageFilter"`
			LotSizeFilter struct {
				QtyStep     string `json:"qtyStep"`
				MinOrderQty string `json:"minOrderQty"`
			} `json:"lotSizeFilter"`
		} `json:"list"`
	}
	if err := json.Unmarshal(result, &body); err != nil {
		return nil, fmt.Errorf("failed to decode instrument info: %w", err)
	}
	if len(body.List) == 0 {
		return nil, fmt.Errorf("no instrument info for %s", symbol)
	}

	info := body.List[0]
	return &InstrumentInfo{
		Symbol:      info.Symbol,
		MaxLeverage: info.LeverageFilter.MaxLeverage,
		QtyStep:     parseFloat(info.LotSizeFilter.QtyStep),
		MinOrderQty: parseFloat(info.LotSizeFilter.MinOrderQty),
	}, nil
}

// GetTicker returns the last traded price for a symbol.
func (c *RestClient) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	result, err := c.publicGet(ctx, "/v5/market/tickers", "category=linear&symbol="+symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to get ticker for %s: %w", symbol, err)
	}

	var body struct {
		List []struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}
	if err := json.Unmarshal(result, &body); err != nil {
		return nil, fmt.Errorf("failed to decode ticker: %w", err)
	}
	if len(body.List) == 0 {
		return nil, fmt.Errorf("no ticker for %s", symbol)
	}
	return &Ticker{
		Symbol:    body.List[0].Symbol,
		LastPrice: parseFloat(body.List[0].LastPrice),
	}, nil
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

var _ Client = (*RestClient)(nil)
