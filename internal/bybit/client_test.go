package bybit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func TestFormatQuantity(t *testing.T) {
	tests := []struct {
		qty  float64
		step float64
		want string
	}{
		{0.123, 0.001, "0.123"},
		{1.5, 0.1, "1.5"},
		{2.0, 0.01, "2"},
		{150, 1, "150"},
		{0.1, 0.001, "0.1"},
	}
	for _, tt := range tests {
		if got := formatQuantity(tt.qty, tt.step); got != tt.want {
			t.Errorf("formatQuantity(%v, %v) = %q, want %q", tt.qty, tt.step, got, tt.want)
		}
	}
}

func TestSignedGetSignature(t *testing.T) {
	var gotSign, gotTimestamp, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v5/market/time" {
			w.Write([]byte(`{"retCode":0,"result":{"timeNano":"1700000000000000000"}}`))
			return
		}
		gotSign = r.Header.Get("X-BAPI-SIGN")
		gotTimestamp = r.Header.Get("X-BAPI-TIMESTAMP")
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"retCode":0,"result":{"list":[]}}`))
	}))
	defer server.Close()

	client := NewRestClient("test-key", "test-secret", server.URL, "5000", 20, zerolog.Nop())
	if _, err := client.GetPosition(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("GetPosition: %v", err)
	}

	if gotQuery != "category=linear&symbol=BTCUSDT" {
		t.Errorf("query = %q, want sorted params", gotQuery)
	}
	mac := hmac.New(sha256.New, []byte("test-secret"))
	mac.Write([]byte(gotTimestamp + "test-key" + "5000" + gotQuery))
	want := hex.EncodeToString(mac.Sum(nil))
	if gotSign != want {
		t.Errorf("signature = %q, want %q", gotSign, want)
	}
}

func TestSignedPostSignsBody(t *testing.T) {
	var gotSign, gotTimestamp string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v5/market/time" {
			w.Write([]byte(`{"retCode":0,"result":{"timeNano":"1700000000000000000"}}`))
			return
		}
		gotSign = r.Header.Get("X-BAPI-SIGN")
		gotTimestamp = r.Header.Get("X-BAPI-TIMESTAMP")
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"retCode":0,"result":{}}`))
	}))
	defer server.Close()

	client := NewRestClient("test-key", "test-secret", server.URL, "5000", 20, zerolog.Nop())
	if err := client.SetLeverage(context.Background(), "BTCUSDT", "25"); err != nil {
		t.Fatalf("SetLeverage: %v", err)
	}

	var params map[string]interface{}
	if err := json.Unmarshal(gotBody, &params); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if params["buyLeverage"] != "25" || params["sellLeverage"] != "25" {
		t.Errorf("unexpected leverage params: %v", params)
	}

	mac := hmac.New(sha256.New, []byte("test-secret"))
	mac.Write([]byte(gotTimestamp + "test-key" + "5000" + string(gotBody)))
	want := hex.EncodeToString(mac.Sum(nil))
	if gotSign != want {
		t.Errorf("signature does not cover request body")
	}
}

func TestSetLeverageToleratesNotModified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v5/market/time" {
			w.Write([]byte(`{"retCode":0,"result":{"timeNano":"1700000000000000000"}}`))
			return
		}
		w.Write([]byte(`{"retCode":110043,"retMsg":"leverage not modified"}`))
	}))
	defer server.Close()

	client := NewRestClient("k", "s", server.URL, "5000", 20, zerolog.Nop())
	if err := client.SetLeverage(context.Background(), "BTCUSDT", "50"); err != nil {
		t.Errorf("expected leverage-not-modified to be tolerated, got %v", err)
	}
}

func TestPlaceMarketOrderSizing(t *testing.T) {
	var orderParams map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v5/market/time":
			w.Write([]byte(`{"retCode":0,"result":{"timeNano":"1700000000000000000"}}`))
		case "/v5/market/instruments-info":
			w.Write([]byte(`{"retCode":0,"result":{"list":[{"symbol":"BTCUSDT",
				"leverageFilter":{"maxLeverage":"100"},
				"lotSizeFilter":{"qtyStep":"0.001","minOrderQty":"0.001"}}]}}`))
		case "/v5/market/tickers":
			w.Write([]byte(`{"retCode":0,"result":{"list":[{"symbol":"BTCUSDT","lastPrice":"50000"}]}}`))
		case "/v5/order/create":
			body, _ := io.ReadAll(r.Body)
			json.Unmarshal(body, &orderParams)
			w.Write([]byte(`{"retCode":0,"result":{"orderId":"abc123","orderLinkId":"x"}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := NewRestClient("k", "s", server.URL, "5000", 20, zerolog.Nop())
	resp, err := client.PlaceMarketOrder(context.Background(), OrderRequest{
		Symbol:     "BTCUSDT",
		Direction:  "LONG",
		USDTAmount: 1000,
		StopLoss:   48000,
		TakeProfit: 53000,
	})
	if err != nil {
		t.Fatalf("PlaceMarketOrder: %v", err)
	}
	if resp.OrderID != "abc123" {
		t.Errorf("order ID = %q", resp.OrderID)
	}
	// 1000 USDT at 50000 rounds to 0.02 with a 0.001 step.
	if orderParams["qty"] != "0.02" {
		t.Errorf("qty = %v, want 0.02", orderParams["qty"])
	}
	if orderParams["side"] != "Buy" {
		t.Errorf("side = %v, want Buy", orderParams["side"])
	}
	if orderParams["stopLoss"] != "48000" || orderParams["takeProfit"] != "53000" {
		t.Errorf("protective levels not attached: %v", orderParams)
	}
	if orderParams["orderLinkId"] == "" {
		t.Error("expected an orderLinkId")
	}
}

func TestPlaceMarketOrderRejectsSmallNotional(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v5/market/time":
			w.Write([]byte(`{"retCode":0,"result":{"timeNano":"1700000000000000000"}}`))
		case "/v5/market/instruments-info":
			w.Write([]byte(`{"retCode":0,"result":{"list":[{"symbol":"BTCUSDT",
				"leverageFilter":{"maxLeverage":"100"},
				"lotSizeFilter":{"qtyStep":"0.001","minOrderQty":"0.001"}}]}}`))
		case "/v5/market/tickers":
			w.Write([]byte(`{"retCode":0,"result":{"list":[{"symbol":"BTCUSDT","lastPrice":"10000"}]}}`))
		default:
			t.Errorf("order endpoint should not be reached, got %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := NewRestClient("k", "s", server.URL, "5000", 20, zerolog.Nop())
	_, err := client.PlaceMarketOrder(context.Background(), OrderRequest{
		Symbol:     "BTCUSDT",
		Direction:  "LONG",
		USDTAmount: 10,
	})
	if err == nil {
		t.Fatal("expected minimum notional rejection")
	}
}

func TestPlaceMarketOrderRejectsZeroLotStep(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v5/market/time":
			w.Write([]byte(`{"retCode":0,"result":{"timeNano":"1700000000000000000"}}`))
		case "/v5/market/instruments-info":
			w.Write([]byte(`{"retCode":0,"result":{"list":[{"symbol":"BTCUSDT",
				"leverageFilter":{"maxLeverage":"100"},
				"lotSizeFilter":{"qtyStep":"0","minOrderQty":"0.001"}}]}}`))
		case "/v5/market/tickers":
			w.Write([]byte(`{"retCode":0,"result":{"list":[{"symbol":"BTCUSDT","lastPrice":"50000"}]}}`))
		default:
			t.Errorf("order endpoint should not be reached, got %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := NewRestClient("k", "s", server.URL, "5000", 20, zerolog.Nop())
	_, err := client.PlaceMarketOrder(context.Background(), OrderRequest{
		Symbol:     "BTCUSDT",
		Direction:  "LONG",
		USDTAmount: 1000,
	})
	if err == nil {
		t.Fatal("expected rejection for a zero lot size step")
	}
}

func TestMockClientOrderFlow(t *testing.T) {
	ctx := context.Background()
	mock := NewMockClient()
	mock.SetPrice("BTCUSDT", 50000)

	if err := mock.SetLeverage(ctx, "BTCUSDT", ""); err != nil {
		t.Fatalf("SetLeverage: %v", err)
	}
	if mock.Leverage("BTCUSDT") != fallbackMaxLeverage {
		t.Errorf("empty leverage should fall back to max")
	}

	resp, err := mock.PlaceMarketOrder(ctx, OrderRequest{
		Symbol: "BTCUSDT", Direction: "SHORT", USDTAmount: 1000,
		StopLoss: 52000, TakeProfit: 47000,
	})
	if err != nil {
		t.Fatalf("PlaceMarketOrder: %v", err)
	}
	if resp.Qty != "0.02" {
		t.Errorf("qty = %q, want 0.02", resp.Qty)
	}

	pos, err := mock.GetPosition(ctx, "BTCUSDT")
	if err != nil || pos == nil {
		t.Fatalf("expected an open position, got %v, %v", pos, err)
	}
	if pos.Side != "Sell" {
		t.Errorf("side = %q, want Sell", pos.Side)
	}

	mock.SetPrice("BTCUSDT", 47000)
	if err := mock.ClosePosition(ctx, "BTCUSDT"); err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}
	pos, _ = mock.GetPosition(ctx, "BTCUSDT")
	if pos != nil {
		t.Error("expected flat position after close")
	}

	records, err := mock.GetClosedPnL(ctx, "BTCUSDT", 10)
	if err != nil {
		t.Fatalf("GetClosedPnL: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one pnl record, got %d", len(records))
	}
	// Short from 50000 to 47000 on 0.02 is +60.
	if records[0].ClosedPnL < 59.9 || records[0].ClosedPnL > 60.1 {
		t.Errorf("closed pnl = %.2f, want 60", records[0].ClosedPnL)
	}
}
