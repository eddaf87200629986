package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/enclaveflow/capability"
)

var _ capability.PriceFeed = (*PriceFeed)(nil)

// PriceFeed holds the latest price per symbol. Symbols are case-insensitive
// and stored upper-cased.
type PriceFeed struct {
	mu     sync.RWMutex
	prices map[string]capability.Price
	logger *zap.Logger
}

// NewPriceFeed creates an empty feed.
func NewPriceFeed(logger *zap.Logger) *PriceFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PriceFeed{
		prices: make(map[string]capability.Price),
		logger: logger.With(zap.String("component", "pricefeed")),
	}
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Update records a price. A zero updatedAt means now.
func (f *PriceFeed) Update(_ context.Context, symbol string, price float64, updatedAt time.Time) (capability.Price, error) {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return capability.Price{}, fmt.Errorf("symbol is required: %w", ErrInvalidArgument)
	}
	if math.IsNaN(price) || math.IsInf(price, 0) || price < 0 {
		return capability.Price{}, fmt.Errorf("price must be a finite non-negative number: %w", ErrInvalidArgument)
	}
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	p := capability.Price{Symbol: symbol, Value: price, UpdatedAt: updatedAt.UTC()}

	f.mu.Lock()
	defer f.mu.Unlock()
	if prev, ok := f.prices[symbol]; ok && prev.UpdatedAt.After(p.UpdatedAt) {
		// keep the newer observation
		return prev, nil
	}
	f.prices[symbol] = p
	f.logger.Debug("price updated", zap.String("symbol", symbol), zap.Float64("price", price))
	return p, nil
}

// Price implements capability.PriceFeed.
func (f *PriceFeed) Price(_ context.Context, symbol string) (capability.Price, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.prices[normalizeSymbol(symbol)]
	return p, ok, nil
}

// List returns every price ordered by symbol.
func (f *PriceFeed) List(_ context.Context) []capability.Price {
	f.mu.RLock()
	out := make([]capability.Price, 0, len(f.prices))
	for _, p := range f.prices {
		out = append(out, p)
	}
	f.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
