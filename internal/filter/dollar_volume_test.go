package filter

import (
	"fmt"
	"testing"
	"time"

	"gotrader/internal/md"
)

// series builds days consecutive daily bars with constant close and volume.
func series(symbol string, days int, close, volume float64) []md.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]md.Bar, 0, days)
	for i := 0; i < days; i++ {
		bars = append(bars, md.Bar{
			Symbol: symbol,
			Date:   start.AddDate(0, 0, i),
			Open:   close,
			Close:  close,
			Volume: volume,
		})
	}
	return bars
}

func TestByDollarVolumeKeepsExactlyTopN(t *testing.T) {
	panel := md.Panel{}
	// Five symbols with strictly decreasing dollar volume.
	for i := 0; i < 5; i++ {
		symbol := fmt.Sprintf("SYM%d", i)
		panel[symbol] = series(symbol, 20, 100, float64(1000000*(5-i)))
	}

	out := ByDollarVolume(panel, 3)

	if len(out) != 3 {
		t.Fatalf("symbols kept = %d, want 3", len(out))
	}
	for _, symbol := range []string{"SYM0", "SYM1", "SYM2"} {
		if _, ok := out[symbol]; !ok {
			t.Errorf("%s should have been kept", symbol)
		}
	}

	// Each kept symbol misses its first 11 days (rolling window not valid
	// yet) and keeps the remaining 9.
	for symbol, bars := range out {
		if len(bars) != 9 {
			t.Errorf("%s rows = %d, want 9", symbol, len(bars))
		}
	}
}

func TestByDollarVolumeDropsShortHistory(t *testing.T) {
	panel := md.Panel{
		"LONG":  series("LONG", 20, 100, 1e6),
		"SHORT": series("SHORT", 5, 100, 9e6),
	}

	out := ByDollarVolume(panel, 2)

	if _, ok := out["SHORT"]; ok {
		t.Fatal("symbol without a valid rolling window should be excluded")
	}
	if len(out["LONG"]) != 9 {
		t.Fatalf("LONG rows = %d, want 9", len(out["LONG"]))
	}
}

func TestByDollarVolumeTieBreakIsStable(t *testing.T) {
	// Identical series everywhere: ties resolved by canonical symbol order.
	panel := md.Panel{
		"CCC": series("CCC", 15, 100, 1e6),
		"AAA": series("AAA", 15, 100, 1e6),
		"BBB": series("BBB", 15, 100, 1e6),
	}

	out := ByDollarVolume(panel, 2)

	if _, ok := out["AAA"]; !ok {
		t.Error("AAA should win the tie")
	}
	if _, ok := out["BBB"]; !ok {
		t.Error("BBB should win the tie")
	}
	if _, ok := out["CCC"]; ok {
		t.Error("CCC should lose the tie")
	}
}

func TestByDollarVolumePassesBarsThroughUnchanged(t *testing.T) {
	panel := md.Panel{"ONLY": series("ONLY", 14, 123.45, 2e6)}

	out := ByDollarVolume(panel, 1)

	bars := out["ONLY"]
	if len(bars) != 3 {
		t.Fatalf("rows = %d, want 3", len(bars))
	}
	for _, bar := range bars {
		if bar.Close != 123.45 || bar.Volume != 2e6 || bar.Symbol != "ONLY" {
			t.Fatalf("bar mutated: %+v", bar)
		}
	}
}
