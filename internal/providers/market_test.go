package providers

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestGetMarketDataServesLatestMetrics(t *testing.T) {
	p := NewMarketProvider(zerolog.Nop())
	now := time.Now().UTC()
	p.now = func() time.Time { return now }

	p.Set(PairMetrics{
		Pair:        "BTC/USDT",
		Timestamp:   now.Add(-time.Minute),
		Volatility:  map[string]float64{"1h": 3.2},
		PriceChange: map[string]float64{"1h": -1.5},
		Trend:       map[string]string{"1h": "down"},
	})

	data, err := p.GetMarketData(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := data.Volatility["BTC/USDT"]["1h"]; got != 3.2 {
		t.Errorf("expected volatility 3.2, got %v", got)
	}
	if got := data.PriceChanges["BTC/USDT"]["1h"]; got != -1.5 {
		t.Errorf("expected price change -1.5, got %v", got)
	}
	if got := data.Trends["BTC/USDT"]["1h"]; got != "down" {
		t.Errorf("expected trend down, got %v", got)
	}
}

func TestGetMarketDataDropsStalePairs(t *testing.T) {
	p := NewMarketProvider(zerolog.Nop())
	now := time.Now().UTC()
	p.now = func() time.Time { return now }

	p.Set(PairMetrics{
		Pair:       "BTC/USDT",
		Timestamp:  now.Add(-maxMetricsAge - time.Minute),
		Volatility: map[string]float64{"1h": 3.2},
	})
	p.Set(PairMetrics{
		Pair:       "ETH/USDT",
		Timestamp:  now.Add(-time.Minute),
		Volatility: map[string]float64{"1h": 4.1},
	})

	data, err := p.GetMarketData(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := data.Volatility["BTC/USDT"]; ok {
		t.Error("stale pair must be dropped from the snapshot")
	}
	if _, ok := data.Volatility["ETH/USDT"]; !ok {
		t.Error("fresh pair must be present")
	}
}

func TestGetMarketDataEmptyCache(t *testing.T) {
	p := NewMarketProvider(zerolog.Nop())

	data, err := p.GetMarketData(context.Background())
	if err != nil {
		t.Fatalf("an empty market is a valid snapshot, got error: %v", err)
	}
	if len(data.Volatility) != 0 || len(data.PriceChanges) != 0 || len(data.Trends) != 0 {
		t.Error("expected empty maps")
	}
}
