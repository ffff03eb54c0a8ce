package pricing

import (
	"context"
	"errors"

	"call-price-tracker/internal/asset"
	"call-price-tracker/internal/provider"
)

// ErrNoLiquidity means the asset has no active pool. Delisted or drained
// tokens hit this legitimately; it is a distinct outcome, not a provider
// failure.
var ErrNoLiquidity = errors.New("pricing: no liquidity")

// SelectPool picks the canonical pool for an asset: highest reserve_usd,
// ties broken by provider order. The result is valid for one resolution
// cycle only; liquidity migrates, so callers must not cache it.
func SelectPool(ctx context.Context, pools provider.PoolReader, a asset.Asset) (provider.Pool, error) {
	candidates, err := pools.Pools(ctx, a)
	if err != nil {
		return provider.Pool{}, err
	}
	if len(candidates) == 0 {
		return provider.Pool{}, ErrNoLiquidity
	}

	best := candidates[0]
	for _, pool := range candidates[1:] {
		if pool.ReserveUSD.GreaterThan(best.ReserveUSD) {
			best = pool
		}
	}
	return best, nil
}
