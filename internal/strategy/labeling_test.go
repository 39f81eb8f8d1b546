package strategy

import (
	"math/rand"
	"testing"
	"time"
)

func TestLookaheadBounds(t *testing.T) {
	cfg := testConfig()
	cfg.LookaheadWindow = 20

	rng := rand.New(rand.NewSource(7))
	rows := make([]FeatureRow, 200)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range rows {
		rows[i] = FeatureRow{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			ATR:       rng.Float64() * 10,
		}
	}

	out := ComputeLookahead(rows, cfg)
	if len(out) != len(rows)-19 {
		t.Fatalf("expected %d rows, got %d", len(rows)-19, len(out))
	}
	for _, r := range out {
		if r.LookaheadPeriod < 7 || r.LookaheadPeriod > 14 {
			t.Fatalf("lookahead period %d out of [7,14]", r.LookaheadPeriod)
		}
	}
}

func TestMomentumConfirmBands(t *testing.T) {
	cfg := testConfig()
	cases := []struct {
		rank float64
		want int
	}{
		{0.95, 1},
		{0.80, 1},
		{0.10, -1},
		{0.20, -1},
		{0.50, 0},
		{0.40, 0},
		{0.60, 0},
		{0.30, 0},
		{0.70, 0},
	}
	for _, c := range cases {
		if got := momentumConfirm(c.rank, cfg); got != c.want {
			t.Errorf("momentumConfirm(%f) = %d, want %d", c.rank, got, c.want)
		}
	}
}

func TestLorentzianDropsFirstRow(t *testing.T) {
	cfg := testConfig()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]FeatureRow, 4)
	for i := range rows {
		rows[i] = FeatureRow{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Close:     100 + float64(i),
			Volume:    1000,
		}
	}

	out := ComputeLorentzian(rows, cfg)
	if len(out) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(out))
	}
	if !out[0].Timestamp.Equal(rows[1].Timestamp) {
		t.Error("first output row should be the second input row")
	}
	for i, r := range out {
		if r.Lorentzian <= 0 {
			t.Errorf("row %d: displacement %f, want > 0", i, r.Lorentzian)
		}
	}

	if got := ComputeLorentzian(nil, cfg); len(got) != 0 {
		t.Errorf("expected no rows for empty input, got %d", len(got))
	}
}

// labelRow builds a row with neutral structure: close inside the S/R band,
// weak trend, no breakout, no momentum.
func labelRow(ts time.Time) FeatureRow {
	return FeatureRow{
		Timestamp:  ts,
		Close:      100,
		Support:    90,
		Resistance: 110,
		EMALong:    100,
		SMAShort:   100,
		ADX:        30,
		ROC:        0,
		Lorentzian: 1,
	}
}

func TestLabelRuleComposition(t *testing.T) {
	cfg := testConfig()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	rows := make([]FeatureRow, 30)
	for i := range rows {
		rows[i] = labelRow(base.Add(time.Duration(i) * time.Minute))
	}

	// row 0: trend-following bullish with momentum backing, survives
	rows[0].EMALong = 95
	rows[0].SMAShort = 105
	rows[0].MomentumConfirm = 1

	// row 1: trend-following bullish but inside the band with neutral
	// momentum; the neutral zone undoes it, and the final pass agrees
	rows[1].EMALong = 95
	rows[1].SMAShort = 105
	rows[1].MomentumConfirm = 0

	// row 2: breakout above resistance with positive ROC and momentum
	rows[2].Close = 115
	rows[2].Breakout = 1
	rows[2].ROC = 2
	rows[2].MomentumConfirm = 1

	// row 3: counter-trend reversal below support with bullish momentum
	rows[3].Close = 85
	rows[3].MomentumConfirm = 1

	// row 4: bearish trend rule fires below the band, but weak momentum
	// lets the final pass neutralize it
	rows[4].Close = 85
	rows[4].EMALong = 105
	rows[4].SMAShort = 95
	rows[4].MomentumConfirm = 0

	// row 5: huge Lorentzian displacement on a downside breakout
	rows[5].Close = 85
	rows[5].Breakout = -1
	rows[5].Lorentzian = 50
	rows[5].MomentumConfirm = -1

	// row 6: strong momentum but no rule matches, stays neutral
	rows[6].MomentumConfirm = 1

	out := LabelCandles(rows, cfg)

	want := map[int]int{
		0: LabelBullish,
		1: LabelNeutral,
		2: LabelBullish,
		3: LabelBullish,
		4: LabelNeutral,
		5: LabelBearish,
		6: LabelNeutral,
	}
	for i, w := range want {
		if out[i].Label != w {
			t.Errorf("row %d: label %d, want %d", i, out[i].Label, w)
		}
	}
}

func TestLabelingDeterministic(t *testing.T) {
	cfg := testConfig()
	candles := zigzagCandles(700)

	a := BuildFeatures(candles, cfg)
	b := BuildFeatures(candles, cfg)
	if len(a) != len(b) {
		t.Fatalf("pipeline not deterministic: %d vs %d rows", len(a), len(b))
	}
	for i := range a {
		if a[i].Label != b[i].Label {
			t.Fatalf("labels diverge at row %d", i)
		}
	}
}

func TestPipelineTrimCounts(t *testing.T) {
	cfg := testConfig()
	rows := BuildFeatures(zigzagCandles(600), cfg)

	// stage trims chain: 49 + 50 + 99 + 198 + 100 + 1 = 497
	if len(rows) != 103 {
		t.Fatalf("expected 103 rows from 600 candles, got %d", len(rows))
	}
	for i := 1; i < len(rows); i++ {
		if !rows[i].Timestamp.After(rows[i-1].Timestamp) {
			t.Fatal("pipeline must preserve timestamp order")
		}
	}
}
