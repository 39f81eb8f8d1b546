package strategy

import (
	"math"
	"testing"
)

func TestDeriveFeaturesTrim(t *testing.T) {
	cfg := testConfig()
	rows := ComputeIndicators(NewRows(zigzagCandles(400)), cfg)
	derived := DeriveFeatures(rows, cfg)

	// the regime gradient needs SMAShort(50) plus one difference: 50 rows
	if len(derived) != len(rows)-50 {
		t.Fatalf("expected %d rows, got %d", len(rows)-50, len(derived))
	}
	for _, r := range derived {
		if anyNaN(r.EMALong, r.SMAShort) {
			t.Fatal("derived rows must not carry undefined features")
		}
		switch r.Regime {
		case RegimeUptrend, RegimeDowntrend, RegimeRanging:
		default:
			t.Fatalf("unexpected regime %q", r.Regime)
		}
	}
}

func TestClassifyRegime(t *testing.T) {
	if got := classifyRegime(0.5, 0.2); got != RegimeUptrend {
		t.Errorf("expected Uptrend, got %s", got)
	}
	if got := classifyRegime(-0.5, 0.2); got != RegimeDowntrend {
		t.Errorf("expected Downtrend, got %s", got)
	}
	// ties go to Ranging: gradient equal to the deviation is not "greater"
	if got := classifyRegime(0.2, 0.2); got != RegimeRanging {
		t.Errorf("expected Ranging on tie, got %s", got)
	}
	if got := classifyRegime(0.1, math.NaN()); got != RegimeRanging {
		t.Errorf("expected Ranging on undefined deviation, got %s", got)
	}
}

func TestHighVolatilityWarmup(t *testing.T) {
	cfg := testConfig()
	cfg.VolWindow = 500 // longer than the series
	rows := ComputeIndicators(NewRows(zigzagCandles(300)), cfg)
	derived := DeriveFeatures(rows, cfg)

	for _, r := range derived {
		if r.HighVolatility {
			t.Fatal("volatility flag must stay false before its percentile window fills")
		}
	}
}
