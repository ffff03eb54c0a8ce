package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"call-price-tracker/internal/asset"
)

// DexScreenerOptions parameterise the secondary adapter.
type DexScreenerOptions struct {
	BaseURL           string
	Timeout           time.Duration
	UserAgent         string
	RequestsPerSecond float64
	Burst             int
}

// DexScreener is the secondary adapter in the fallback chain. It resolves
// single tokens via the pairs endpoint; it has no OHLCV or batch surface.
type DexScreener struct {
	opts    DexScreenerOptions
	logger  zerolog.Logger
	client  *http.Client
	limiter *rate.Limiter
	baseURL string
}

// NewDexScreener constructs the secondary adapter.
func NewDexScreener(opts DexScreenerOptions, logger zerolog.Logger) *DexScreener {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.dexscreener.com"
	}

	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	return &DexScreener{
		opts:    opts,
		logger:  logger.With().Str("component", "dexscreener").Logger(),
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		baseURL: baseURL,
	}
}

// Name identifies the provider in snapshots and logs.
func (d *DexScreener) Name() string { return "dexscreener" }

type dexPair struct {
	ChainID     string       `json:"chainId"`
	PairAddress string       `json:"pairAddress"`
	PriceUSD    string       `json:"priceUsd"`
	FDV         *json.Number `json:"fdv"`
	Liquidity   struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
}

// TokenInfo resolves a token through its best-liquidity pair on the asset's
// own chain. Tokens with no pairs map to ErrTokenNotFound.
func (d *DexScreener) TokenInfo(ctx context.Context, a asset.Asset) (TokenInfo, error) {
	pairs, err := d.fetchPairs(ctx, a)
	if err != nil {
		return TokenInfo{}, err
	}

	best, ok := bestPair(pairs, string(a.Network))
	if !ok {
		return TokenInfo{}, ErrTokenNotFound
	}

	price, err := decimal.NewFromString(best.PriceUSD)
	if err != nil {
		return TokenInfo{}, fmt.Errorf("%w: priceUsd %q", ErrMalformed, best.PriceUSD)
	}

	info := TokenInfo{PriceUSD: price}
	if best.FDV != nil {
		if fdv, err := decimal.NewFromString(best.FDV.String()); err == nil {
			info.FDVUSD = &fdv
		}
	}
	return info, nil
}

// Pools maps the token's pairs on its own chain to the shared Pool shape.
func (d *DexScreener) Pools(ctx context.Context, a asset.Asset) ([]Pool, error) {
	pairs, err := d.fetchPairs(ctx, a)
	if err != nil {
		return nil, err
	}

	pools := make([]Pool, 0, len(pairs))
	for _, pair := range pairs {
		if !strings.EqualFold(pair.ChainID, string(a.Network)) {
			continue
		}
		pools = append(pools, Pool{
			Address:    pair.PairAddress,
			ReserveUSD: decimal.NewFromFloat(pair.Liquidity.USD),
		})
	}
	return pools, nil
}

// bestPair picks the highest-liquidity pair on the wanted chain.
func bestPair(pairs []dexPair, chainID string) (dexPair, bool) {
	var best dexPair
	found := false
	for _, pair := range pairs {
		if !strings.EqualFold(pair.ChainID, chainID) {
			continue
		}
		if !found || pair.Liquidity.USD > best.Liquidity.USD {
			best = pair
			found = true
		}
	}
	return best, found
}

func (d *DexScreener) fetchPairs(ctx context.Context, a asset.Asset) ([]dexPair, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/latest/dex/tokens/%s", d.baseURL, a.Address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(d.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "callwatch/1.0")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Pairs []dexPair `json:"pairs"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return payload.Pairs, nil
}

var (
	_ TokenReader = (*DexScreener)(nil)
	_ PoolReader  = (*DexScreener)(nil)
)
