package pricing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"call-price-tracker/internal/asset"
	"call-price-tracker/internal/provider"
)

const day = 24 * time.Hour

// HistoricalResolver finds the price of a pool nearest a target timestamp.
type HistoricalResolver struct {
	candles  provider.CandleReader
	pageSize int
}

// NewHistoricalResolver constructs a resolver. pageSize defaults to 30
// daily candles, roughly a month of lookback around the target.
func NewHistoricalResolver(candles provider.CandleReader, pageSize int) *HistoricalResolver {
	if pageSize <= 0 {
		pageSize = 30
	}
	return &HistoricalResolver{candles: candles, pageSize: pageSize}
}

// PriceAt returns the close of the daily candle nearest the target
// timestamp, or nil when the provider has no candles for the window.
// Callers must treat nil as "unknown", never as zero.
//
// The page is anchored one day past the target so the target always falls
// inside the returned window. A target newer than the newest candle needs
// no special case: the nearest-candle rule hands back the most recent
// close.
func (r *HistoricalResolver) PriceAt(ctx context.Context, network asset.Network, poolAddress string, target time.Time) (*decimal.Decimal, error) {
	candles, err := r.candles.OHLCV(ctx, network, poolAddress, provider.OHLCVQuery{
		Timeframe: "day",
		Before:    target.Add(day),
		Limit:     r.pageSize,
	})
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, nil
	}

	nearest := candles[0]
	best := absDistance(candles[0].Timestamp, target)
	for _, candle := range candles[1:] {
		if d := absDistance(candle.Timestamp, target); d < best {
			nearest = candle
			best = d
		}
	}

	price := nearest.Close
	return &price, nil
}

func absDistance(a, b time.Time) time.Duration {
	d := a.Sub(b)
	if d < 0 {
		return -d
	}
	return d
}
