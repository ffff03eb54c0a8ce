package pricing

import (
	"github.com/shopspring/decimal"

	"call-price-tracker/internal/provider"
)

// Valuation is one price point scaled to FDV and market cap.
type Valuation struct {
	Price     *decimal.Decimal
	FDV       *decimal.Decimal
	MarketCap *decimal.Decimal
}

// MarketCapDeriver scales historical prices to FDV terms. Market cap is
// treated as equal to FDV unless the policy flag is cleared: circulating
// supply is not available from the candle providers, and changing this
// changes historical output, so it stays an explicit versioned policy.
type MarketCapDeriver struct {
	TreatMarketCapAsFDV bool
}

// CurrentFDV resolves the asset's present FDV: the provider's figure when
// given, otherwise price × total supply, otherwise nil.
func (d MarketCapDeriver) CurrentFDV(info provider.TokenInfo) *decimal.Decimal {
	if info.FDVUSD != nil {
		return info.FDVUSD
	}
	if info.TotalSupply != nil && !info.PriceUSD.IsZero() {
		fdv := info.PriceUSD.Mul(*info.TotalSupply)
		return &fdv
	}
	return nil
}

// At derives the valuation for a historical price point:
//
//	fdv_x = (price_x / current_price) × current_fdv
//
// A nil or zero current price makes every derived figure nil; a nil
// historical price stays nil all the way through.
func (d MarketCapDeriver) At(priceX *decimal.Decimal, currentPrice decimal.Decimal, currentFDV *decimal.Decimal) Valuation {
	v := Valuation{Price: priceX}
	if priceX == nil || currentFDV == nil || currentPrice.IsZero() {
		return v
	}

	fdv := priceX.Div(currentPrice).Mul(*currentFDV)
	v.FDV = &fdv
	if d.TreatMarketCapAsFDV {
		v.MarketCap = &fdv
	}
	return v
}
