package providers

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/bl8ckfz/risk-rule-engine/internal/rules"
)

// maxMetricsAge is how long a cached pair snapshot stays usable. Stale pairs
// drop out of the market data, which makes conditions on them evaluate false
// rather than firing on old numbers.
const maxMetricsAge = 15 * time.Minute

// PairMetrics is the per-pair message published by the metrics service on
// metrics.calculated
type PairMetrics struct {
	Pair        string             `json:"pair"`
	Timestamp   time.Time          `json:"timestamp"`
	Volatility  map[string]float64 `json:"volatility"`   // keyed by timeframe
	PriceChange map[string]float64 `json:"price_change"` // keyed by timeframe
	Trend       map[string]string  `json:"trend"`        // keyed by timeframe
}

// MarketProvider caches the latest per-pair metrics from NATS and serves them
// as one consistent market snapshot per evaluation cycle
type MarketProvider struct {
	mu     sync.RWMutex
	latest map[string]PairMetrics
	sub    *nats.Subscription
	logger zerolog.Logger
	now    func() time.Time
}

// NewMarketProvider creates an empty market data cache
func NewMarketProvider(logger zerolog.Logger) *MarketProvider {
	return &MarketProvider{
		latest: make(map[string]PairMetrics),
		logger: logger.With().Str("component", "market-provider").Logger(),
		now:    time.Now,
	}
}

// Subscribe starts consuming metrics.calculated and keeps only the newest
// message per pair
func (p *MarketProvider) Subscribe(js nats.JetStreamContext) error {
	sub, err := js.Subscribe("metrics.calculated", func(msg *nats.Msg) {
		var metrics PairMetrics
		if err := json.Unmarshal(msg.Data, &metrics); err != nil {
			p.logger.Error().Err(err).Msg("failed to unmarshal pair metrics")
			return
		}
		if metrics.Pair == "" {
			return
		}

		p.mu.Lock()
		p.latest[metrics.Pair] = metrics
		p.mu.Unlock()
	}, nats.Durable("rule-engine-market"), nats.DeliverNew())
	if err != nil {
		return err
	}

	p.sub = sub
	return nil
}

// GetMarketData assembles the current snapshot from the cache. Never fails:
// an empty market is a valid snapshot in which market conditions are false.
func (p *MarketProvider) GetMarketData(ctx context.Context) (rules.MarketData, error) {
	cutoff := p.now().Add(-maxMetricsAge)

	data := rules.MarketData{
		Volatility:   make(map[string]map[string]float64),
		PriceChanges: make(map[string]map[string]float64),
		Trends:       make(map[string]map[string]string),
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	for pair, metrics := range p.latest {
		if metrics.Timestamp.Before(cutoff) {
			continue
		}
		if len(metrics.Volatility) > 0 {
			data.Volatility[pair] = metrics.Volatility
		}
		if len(metrics.PriceChange) > 0 {
			data.PriceChanges[pair] = metrics.PriceChange
		}
		if len(metrics.Trend) > 0 {
			data.Trends[pair] = metrics.Trend
		}
	}

	return data, nil
}

// Set stores a pair snapshot directly, bypassing NATS. Used by tests.
func (p *MarketProvider) Set(metrics PairMetrics) {
	p.mu.Lock()
	p.latest[metrics.Pair] = metrics
	p.mu.Unlock()
}

// Close drains the subscription
func (p *MarketProvider) Close() error {
	if p.sub != nil {
		return p.sub.Unsubscribe()
	}
	return nil
}
