package provider

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"call-price-tracker/internal/asset"
)

// Sentinel errors for the adapter contract. Adapters map upstream failures
// onto these so the orchestrator can route assets down the fallback chain
// without inspecting provider specifics.
var (
	// ErrTokenNotFound means the provider does not index the asset.
	ErrTokenNotFound = errors.New("provider: token not found")
	// ErrUnavailable covers transport failures and non-2xx responses.
	ErrUnavailable = errors.New("provider: unavailable")
	// ErrMalformed covers unparsable or shape-mismatched payloads.
	ErrMalformed = errors.New("provider: malformed response")
)

// TokenInfo is the normalised per-token shape returned by all providers.
// FDV and TotalSupply are nil when the upstream omits them.
type TokenInfo struct {
	PriceUSD    decimal.Decimal
	FDVUSD      *decimal.Decimal
	TotalSupply *decimal.Decimal
}

// Pool is a liquidity venue for an asset.
type Pool struct {
	Address    string
	ReserveUSD decimal.Decimal
}

// Candle is one OHLCV bucket. Providers return candles newest-first.
type Candle struct {
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

// OHLCVQuery parameterises a candle page request.
type OHLCVQuery struct {
	Timeframe string // "day", "hour", "minute"
	Aggregate int
	Before    time.Time
	Limit     int
}

// TokenReader resolves a single asset's current price and valuation.
type TokenReader interface {
	Name() string
	TokenInfo(ctx context.Context, a asset.Asset) (TokenInfo, error)
}

// PoolReader lists the liquidity pools for an asset.
type PoolReader interface {
	Pools(ctx context.Context, a asset.Asset) ([]Pool, error)
}

// CandleReader fetches one page of OHLCV candles for a pool.
type CandleReader interface {
	OHLCV(ctx context.Context, network asset.Network, poolAddress string, q OHLCVQuery) ([]Candle, error)
}

// BatchPriceReader resolves current prices for many assets of one network
// in a single round-trip.
type BatchPriceReader interface {
	BatchPrices(ctx context.Context, network asset.Network, addresses []string) (map[string]decimal.Decimal, error)
}
