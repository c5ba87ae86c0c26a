package market

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tradecore/internal/monitor"
	"tradecore/pkg/exchange"
)

func TestAppliedTicksFeedMetrics(t *testing.T) {
	c := NewCache()
	metrics := monitor.NewSystemMetrics()
	c.SetMetrics(metrics)

	c.Apply(exchange.Tick{Symbol: "BTC/USD", Price: 100, Volume: 1000})
	c.Apply(exchange.Tick{Symbol: "ETH/USD", Price: 10, Volume: 500})

	if got := metrics.GetSnapshot().TicksProcessed; got != 2 {
		t.Fatalf("ticks processed = %d, want 2", got)
	}
}

func TestCacheTracksPrevPriceAndAvgVolume(t *testing.T) {
	c := NewCache()
	c.Apply(exchange.Tick{Symbol: "BTC/USD", Price: 100, Volume: 1000})
	c.Apply(exchange.Tick{Symbol: "BTC/USD", Price: 101, Volume: 3000})

	snap, ok := c.Snapshot("BTC/USD")
	if !ok {
		t.Fatal("no snapshot for BTC/USD")
	}
	if snap.Price != 101 || snap.PrevPrice != 100 {
		t.Fatalf("price/prev = %v/%v, want 101/100", snap.Price, snap.PrevPrice)
	}
	if math.Abs(snap.AvgVolume-2000) > 1e-9 {
		t.Fatalf("avg volume = %v, want 2000", snap.AvgVolume)
	}
}

func TestCacheVolumeWindowIsBounded(t *testing.T) {
	c := NewCache()
	for i := 0; i < volumeWindow*2; i++ {
		c.Apply(exchange.Tick{Symbol: "ETH/USD", Price: 50, Volume: float64(i)})
	}
	snap, _ := c.Snapshot("ETH/USD")

	// Average over the last volumeWindow entries only.
	var sum float64
	for i := volumeWindow; i < volumeWindow*2; i++ {
		sum += float64(i)
	}
	want := sum / volumeWindow
	if math.Abs(snap.AvgVolume-want) > 1e-9 {
		t.Fatalf("avg volume = %v, want %v", snap.AvgVolume, want)
	}
}

func TestLastPriceRejectsUnknownOrZero(t *testing.T) {
	c := NewCache()
	if _, ok := c.LastPrice("BTC/USD"); ok {
		t.Fatal("unknown symbol reported a price")
	}
	c.Apply(exchange.Tick{Symbol: "BTC/USD", Price: 0, Volume: 10})
	if _, ok := c.LastPrice("BTC/USD"); ok {
		t.Fatal("zero price reported as valid")
	}
}

func TestHistoryPriceAt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices.csv")
	data := "BTC/USD,2024-01-01T00:00:00Z,100\n" +
		"BTC/USD,2024-01-01T01:00:00Z,110\n" +
		"BTC/USD,2024-01-01T02:00:00Z,90\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	h, err := LoadHistory(path)
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}

	at := func(s string) time.Time {
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			t.Fatal(err)
		}
		return ts
	}

	if _, ok := h.PriceAt("BTC/USD", at("2023-12-31T23:00:00Z")); ok {
		t.Fatal("price before first observation should be unknown")
	}
	if px, _ := h.PriceAt("BTC/USD", at("2024-01-01T00:30:00Z")); px != 100 {
		t.Fatalf("mid-hour price = %v, want 100", px)
	}
	if px, _ := h.PriceAt("BTC/USD", at("2024-01-01T01:00:00Z")); px != 110 {
		t.Fatalf("exact-timestamp price = %v, want 110", px)
	}
	if px, _ := h.PriceAt("BTC/USD", at("2024-01-02T00:00:00Z")); px != 90 {
		t.Fatalf("price after last observation = %v, want 90", px)
	}
	if _, ok := h.PriceAt("ETH/USD", at("2024-01-01T01:00:00Z")); ok {
		t.Fatal("unknown symbol should have no price")
	}
}

func TestLoadHistoryRejectsBadRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	if err := os.WriteFile(path, []byte("BTC/USD,not-a-time,100\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadHistory(path); err == nil {
		t.Fatal("bad timestamp accepted")
	}
}
