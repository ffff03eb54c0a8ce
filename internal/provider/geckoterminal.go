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

const (
	// GeckoTerminalMaxCandles is the upstream per-page candle cap.
	GeckoTerminalMaxCandles = 1000
	// GeckoTerminalMaxBatch is the upstream cap on addresses per batch
	// price request.
	GeckoTerminalMaxBatch = 30
)

// GeckoTerminalOptions parameterise the primary adapter.
type GeckoTerminalOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	// RequestsPerSecond and Burst feed the per-provider token bucket.
	// Zero values fall back to the free-tier budget.
	RequestsPerSecond float64
	Burst             int
}

// GeckoTerminal is the primary market-data adapter. It is stateless apart
// from the HTTP client and the shared rate limiter; retries belong to the
// orchestrator.
type GeckoTerminal struct {
	opts    GeckoTerminalOptions
	logger  zerolog.Logger
	client  *http.Client
	limiter *rate.Limiter
	baseURL string
}

// NewGeckoTerminal constructs the primary adapter.
func NewGeckoTerminal(opts GeckoTerminalOptions, logger zerolog.Logger) *GeckoTerminal {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.geckoterminal.com/api/v2"
	}

	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	return &GeckoTerminal{
		opts:    opts,
		logger:  logger.With().Str("component", "geckoterminal").Logger(),
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		baseURL: baseURL,
	}
}

// Name identifies the provider in snapshots and logs.
func (g *GeckoTerminal) Name() string { return "geckoterminal" }

// TokenInfo fetches current price, FDV, and supply for one token.
func (g *GeckoTerminal) TokenInfo(ctx context.Context, a asset.Asset) (TokenInfo, error) {
	var payload struct {
		Data struct {
			Attributes struct {
				PriceUSD              string      `json:"price_usd"`
				FDVUSD                string      `json:"fdv_usd"`
				TotalSupply           string      `json:"total_supply"`
				NormalizedTotalSupply string      `json:"normalized_total_supply"`
				Decimals              json.Number `json:"decimals"`
			} `json:"attributes"`
		} `json:"data"`
	}

	url := fmt.Sprintf("%s/networks/%s/tokens/%s", g.baseURL, a.Network, a.Address)
	if err := g.getJSON(ctx, url, &payload); err != nil {
		return TokenInfo{}, err
	}

	attrs := payload.Data.Attributes
	price, err := decimal.NewFromString(attrs.PriceUSD)
	if err != nil {
		return TokenInfo{}, fmt.Errorf("%w: price_usd %q", ErrMalformed, attrs.PriceUSD)
	}

	info := TokenInfo{PriceUSD: price}
	if fdv, err := decimal.NewFromString(attrs.FDVUSD); err == nil {
		info.FDVUSD = &fdv
	}
	if supply, ok := parseSupply(attrs.NormalizedTotalSupply, attrs.TotalSupply, attrs.Decimals); ok {
		info.TotalSupply = &supply
	}
	return info, nil
}

// parseSupply prefers the pre-normalised supply and falls back to shifting
// the raw supply by the token's decimals.
func parseSupply(normalized, raw string, decimals json.Number) (decimal.Decimal, bool) {
	if s, err := decimal.NewFromString(normalized); err == nil {
		return s, true
	}
	s, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, false
	}
	d, err := decimals.Int64()
	if err != nil || d < 0 {
		return decimal.Decimal{}, false
	}
	return s.Shift(int32(-d)), true
}

// Pools lists the token's liquidity pools. An empty list is a legitimate
// result, not an error.
func (g *GeckoTerminal) Pools(ctx context.Context, a asset.Asset) ([]Pool, error) {
	var payload struct {
		Data []struct {
			Attributes struct {
				Address      string `json:"address"`
				ReserveInUSD string `json:"reserve_in_usd"`
			} `json:"attributes"`
		} `json:"data"`
	}

	url := fmt.Sprintf("%s/networks/%s/tokens/%s/pools", g.baseURL, a.Network, a.Address)
	if err := g.getJSON(ctx, url, &payload); err != nil {
		return nil, err
	}

	pools := make([]Pool, 0, len(payload.Data))
	for _, entry := range payload.Data {
		reserve, err := decimal.NewFromString(entry.Attributes.ReserveInUSD)
		if err != nil {
			// Pools without a parsable reserve cannot win selection anyway.
			reserve = decimal.Zero
		}
		pools = append(pools, Pool{Address: entry.Attributes.Address, ReserveUSD: reserve})
	}
	return pools, nil
}

// OHLCV fetches one page of candles for a pool, newest-first.
func (g *GeckoTerminal) OHLCV(ctx context.Context, network asset.Network, poolAddress string, q OHLCVQuery) ([]Candle, error) {
	var payload struct {
		Data struct {
			Attributes struct {
				OHLCVList [][]json.Number `json:"ohlcv_list"`
			} `json:"attributes"`
		} `json:"data"`
	}

	timeframe := q.Timeframe
	if timeframe == "" {
		timeframe = "day"
	}
	aggregate := q.Aggregate
	if aggregate <= 0 {
		aggregate = 1
	}
	limit := q.Limit
	if limit <= 0 || limit > GeckoTerminalMaxCandles {
		limit = GeckoTerminalMaxCandles
	}

	url := fmt.Sprintf("%s/networks/%s/pools/%s/ohlcv/%s?aggregate=%d&limit=%d&currency=usd",
		g.baseURL, network, poolAddress, timeframe, aggregate, limit)
	if !q.Before.IsZero() {
		url = fmt.Sprintf("%s&before_timestamp=%d", url, q.Before.Unix())
	}

	if err := g.getJSON(ctx, url, &payload); err != nil {
		return nil, err
	}

	rows := payload.Data.Attributes.OHLCVList
	candles := make([]Candle, 0, len(rows))
	for _, row := range rows {
		candle, err := parseCandle(row)
		if err != nil {
			return nil, err
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

func parseCandle(row []json.Number) (Candle, error) {
	if len(row) != 6 {
		return Candle{}, fmt.Errorf("%w: ohlcv row has %d fields", ErrMalformed, len(row))
	}

	ts, err := row[0].Int64()
	if err != nil {
		return Candle{}, fmt.Errorf("%w: candle timestamp %q", ErrMalformed, row[0])
	}

	values := make([]decimal.Decimal, 5)
	for i, field := range row[1:] {
		v, err := decimal.NewFromString(field.String())
		if err != nil {
			return Candle{}, fmt.Errorf("%w: candle field %q", ErrMalformed, field)
		}
		values[i] = v
	}

	return Candle{
		Timestamp: time.Unix(ts, 0).UTC(),
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
	}, nil
}

// BatchPrices resolves current prices for up to GeckoTerminalMaxBatch
// addresses of one network in a single call. Keys are returned in the
// same canonical form the addresses were requested in: lower-cased hex
// on EVM networks, case-preserved base58 mints elsewhere. Addresses
// missing from the response are simply absent from the returned map.
func (g *GeckoTerminal) BatchPrices(ctx context.Context, network asset.Network, addresses []string) (map[string]decimal.Decimal, error) {
	if len(addresses) == 0 {
		return map[string]decimal.Decimal{}, nil
	}
	if len(addresses) > GeckoTerminalMaxBatch {
		return nil, fmt.Errorf("batch of %d exceeds provider cap %d", len(addresses), GeckoTerminalMaxBatch)
	}

	var payload struct {
		Data struct {
			Attributes struct {
				TokenPrices map[string]string `json:"token_prices"`
			} `json:"attributes"`
		} `json:"data"`
	}

	url := fmt.Sprintf("%s/simple/networks/%s/token_price/%s", g.baseURL, network, strings.Join(addresses, ","))
	if err := g.getJSON(ctx, url, &payload); err != nil {
		return nil, err
	}

	prices := make(map[string]decimal.Decimal, len(payload.Data.Attributes.TokenPrices))
	for addr, raw := range payload.Data.Attributes.TokenPrices {
		price, err := decimal.NewFromString(raw)
		if err != nil {
			g.logger.Warn().Str("address", addr).Str("price", raw).Msg("skipping unparsable batch price")
			continue
		}
		if network.IsEVM() {
			// hex addresses come back in mixed case; base58 mints are
			// case-sensitive and must stay untouched
			addr = strings.ToLower(addr)
		}
		prices[addr] = price
	}
	return prices, nil
}

// getJSON waits on the provider's token bucket, performs the request, and
// maps failures onto the shared taxonomy.
func (g *GeckoTerminal) getJSON(ctx context.Context, url string, out any) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(g.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "callwatch/1.0")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrTokenNotFound
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

var (
	_ TokenReader      = (*GeckoTerminal)(nil)
	_ PoolReader       = (*GeckoTerminal)(nil)
	_ CandleReader     = (*GeckoTerminal)(nil)
	_ BatchPriceReader = (*GeckoTerminal)(nil)
)
