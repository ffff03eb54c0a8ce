package pricing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"call-price-tracker/internal/asset"
	"call-price-tracker/internal/provider"
)

var day0 = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func candle(ts time.Time, close, high string) provider.Candle {
	return provider.Candle{
		Timestamp: ts,
		Open:      dec(close),
		High:      dec(high),
		Low:       dec(close),
		Close:     dec(close),
		Volume:    dec("1000"),
	}
}

// fakeCandles serves pre-built pages keyed by call order.
type fakeCandles struct {
	pages   [][]provider.Candle
	queries []provider.OHLCVQuery
	err     error
}

func (f *fakeCandles) OHLCV(ctx context.Context, network asset.Network, pool string, q provider.OHLCVQuery) ([]provider.Candle, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.queries = append(f.queries, q)
	call := len(f.queries) - 1
	if call >= len(f.pages) {
		return nil, nil
	}
	return f.pages[call], nil
}

type fakePools struct {
	pools []provider.Pool
	err   error
}

func (f *fakePools) Pools(ctx context.Context, a asset.Asset) ([]provider.Pool, error) {
	return f.pools, f.err
}

func testAsset() asset.Asset {
	a, err := asset.New("ethereum", "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2")
	if err != nil {
		panic(err)
	}
	return a
}

func TestSelectPoolHighestReserve(t *testing.T) {
	pools := &fakePools{pools: []provider.Pool{
		{Address: "0xa", ReserveUSD: dec("100")},
		{Address: "0xb", ReserveUSD: dec("5000")},
		{Address: "0xc", ReserveUSD: dec("5000")},
	}}

	best, err := SelectPool(context.Background(), pools, testAsset())
	if err != nil {
		t.Fatalf("selection should succeed: %v", err)
	}
	if best.Address != "0xb" {
		t.Fatalf("ties should keep the first-seen pool, got %s", best.Address)
	}
}

func TestSelectPoolNoLiquidity(t *testing.T) {
	_, err := SelectPool(context.Background(), &fakePools{}, testAsset())
	if !errors.Is(err, ErrNoLiquidity) {
		t.Fatalf("empty pool list should map to ErrNoLiquidity, got %v", err)
	}
}

func TestSelectPoolProviderError(t *testing.T) {
	pools := &fakePools{err: provider.ErrUnavailable}
	_, err := SelectPool(context.Background(), pools, testAsset())
	if !errors.Is(err, provider.ErrUnavailable) {
		t.Fatalf("provider errors should pass through, got %v", err)
	}
}

func TestPriceAtNearestCandle(t *testing.T) {
	target := day0.Add(3 * day)
	fc := &fakeCandles{pages: [][]provider.Candle{{
		candle(day0.Add(10*day), "0.004", "0.004"),
		candle(day0.Add(4*day), "0.003", "0.003"),
		candle(day0, "0.002", "0.002"),
	}}}

	r := NewHistoricalResolver(fc, 30)
	price, err := r.PriceAt(context.Background(), asset.NetworkEthereum, "0xpool", target)
	if err != nil {
		t.Fatalf("resolution should succeed: %v", err)
	}
	if price == nil || price.String() != "0.003" {
		t.Fatalf("expected the day-4 close, got %v", price)
	}

	// Anchor must sit one day past the target.
	wantBefore := target.Add(day)
	if got := fc.queries[0].Before; !got.Equal(wantBefore) {
		t.Fatalf("page anchor should be target+1d, got %s", got)
	}
}

func TestPriceAtTieKeepsProviderOrder(t *testing.T) {
	target := day0.Add(day)
	fc := &fakeCandles{pages: [][]provider.Candle{{
		candle(day0.Add(2*day), "0.009", "0.009"),
		candle(day0, "0.002", "0.002"),
	}}}

	r := NewHistoricalResolver(fc, 30)
	price, err := r.PriceAt(context.Background(), asset.NetworkEthereum, "0xpool", target)
	if err != nil {
		t.Fatalf("resolution should succeed: %v", err)
	}
	if price == nil || price.String() != "0.009" {
		t.Fatalf("equidistant candles should resolve to the first in provider order, got %v", price)
	}
}

func TestPriceAtEmptyPageIsNil(t *testing.T) {
	r := NewHistoricalResolver(&fakeCandles{}, 30)
	price, err := r.PriceAt(context.Background(), asset.NetworkEthereum, "0xpool", day0)
	if err != nil {
		t.Fatalf("empty page is not an error: %v", err)
	}
	if price != nil {
		t.Fatalf("empty page should yield nil price, got %v", price)
	}
}

func TestPriceAtFutureTargetReturnsNewestClose(t *testing.T) {
	fc := &fakeCandles{pages: [][]provider.Candle{{
		candle(day0.Add(2*day), "0.005", "0.005"),
		candle(day0, "0.002", "0.002"),
	}}}

	r := NewHistoricalResolver(fc, 30)
	price, err := r.PriceAt(context.Background(), asset.NetworkEthereum, "0xpool", day0.Add(90*day))
	if err != nil {
		t.Fatalf("resolution should succeed: %v", err)
	}
	if price == nil || price.String() != "0.005" {
		t.Fatalf("a target past the newest candle should return the newest close, got %v", price)
	}
}

func newTestScanner(fc *fakeCandles, opts ScanOptions, now time.Time) *ATHScanner {
	s := NewATHScanner(fc, opts, zerolog.Nop())
	s.now = func() time.Time { return now }
	return s
}

func TestScanSinglePage(t *testing.T) {
	since := day0
	fc := &fakeCandles{pages: [][]provider.Candle{{
		candle(day0.Add(10*day), "0.004", "0.004"),
		candle(day0.Add(5*day), "0.006", "0.01"),
		candle(day0, "0.002", "0.002"),
		candle(day0.Add(-2*day), "0.05", "0.05"), // before since, must be filtered
	}}}

	s := newTestScanner(fc, ScanOptions{}, day0.Add(11*day))
	ath, err := s.Scan(context.Background(), asset.NetworkEthereum, "0xpool", since)
	if err != nil {
		t.Fatalf("scan should succeed: %v", err)
	}
	if ath == nil {
		t.Fatal("expected an ATH")
	}
	if ath.Price.String() != "0.01" {
		t.Fatalf("ath should be max(high) over the filtered set, got %s", ath.Price)
	}
	if !ath.Timestamp.Equal(day0.Add(5 * day)) {
		t.Fatalf("ath timestamp should match the winning candle, got %s", ath.Timestamp)
	}
	if ath.Timestamp.Before(since) {
		t.Fatal("ath timestamp must never precede since")
	}
}

func TestScanPaginatesBackwards(t *testing.T) {
	since := day0
	now := day0.Add(6 * day)
	fc := &fakeCandles{pages: [][]provider.Candle{
		{
			candle(day0.Add(5*day), "0.004", "0.004"),
			candle(day0.Add(4*day), "0.003", "0.02"),
		},
		{
			candle(day0.Add(2*day), "0.002", "0.03"),
			candle(day0, "0.001", "0.001"),
		},
	}}

	s := newTestScanner(fc, ScanOptions{PageLimit: 2}, now)
	ath, err := s.Scan(context.Background(), asset.NetworkEthereum, "0xpool", since)
	if err != nil {
		t.Fatalf("scan should succeed: %v", err)
	}
	if ath == nil || ath.Price.String() != "0.03" {
		t.Fatalf("ath should span all pages, got %v", ath)
	}
	if len(fc.queries) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(fc.queries))
	}

	// Second page must anchor one day before the first page's oldest candle.
	wantCursor := day0.Add(4 * day).Add(-day)
	if got := fc.queries[1].Before; !got.Equal(wantCursor) {
		t.Fatalf("cursor should advance to oldest-1d, got %s", got)
	}
}

func TestScanEmptyWindow(t *testing.T) {
	fc := &fakeCandles{pages: [][]provider.Candle{{
		candle(day0.Add(-5*day), "0.001", "0.001"),
	}}}

	s := newTestScanner(fc, ScanOptions{}, day0.Add(day))
	ath, err := s.Scan(context.Background(), asset.NetworkEthereum, "0xpool", day0)
	if err != nil {
		t.Fatalf("scan should succeed: %v", err)
	}
	if ath != nil {
		t.Fatalf("no candle at or after since should yield nil, got %v", ath)
	}
}

func TestScanPageCapAborts(t *testing.T) {
	// Pages keep advancing but never reach since, so only the page cap can
	// terminate the scan.
	fc := &fakeCandles{pages: [][]provider.Candle{
		{candle(day0.Add(900*day), "1", "1")},
		{candle(day0.Add(800*day), "1", "1")},
		{candle(day0.Add(700*day), "1", "1")},
		{candle(day0.Add(600*day), "1", "1")},
	}}

	s := newTestScanner(fc, ScanOptions{MaxPages: 3}, day0.Add(1000*day))
	_, err := s.Scan(context.Background(), asset.NetworkEthereum, "0xpool", day0)
	if !errors.Is(err, ErrScanAborted) {
		t.Fatalf("page cap should abort the scan, got %v", err)
	}
	if len(fc.queries) != 3 {
		t.Fatalf("expected exactly MaxPages fetches, got %d", len(fc.queries))
	}
}

func TestScanNonAdvancingCursorAborts(t *testing.T) {
	now := day0.Add(2 * day)
	// Oldest candle sits ahead of the cursor, so oldest-1d does not move
	// the cursor backwards.
	fc := &fakeCandles{pages: [][]provider.Candle{
		{candle(now.Add(3*day), "1", "1")},
		{candle(now.Add(3*day), "1", "1")},
	}}

	s := newTestScanner(fc, ScanOptions{}, now)
	_, err := s.Scan(context.Background(), asset.NetworkEthereum, "0xpool", day0.Add(-100*day))
	if !errors.Is(err, ErrScanAborted) {
		t.Fatalf("non-advancing cursor should abort, got %v", err)
	}
	if len(fc.queries) != 1 {
		t.Fatalf("abort should trigger on the first bad page, got %d fetches", len(fc.queries))
	}
}

func TestScanProviderErrorPassesThrough(t *testing.T) {
	fc := &fakeCandles{err: provider.ErrUnavailable}
	s := newTestScanner(fc, ScanOptions{}, day0.Add(day))
	_, err := s.Scan(context.Background(), asset.NetworkEthereum, "0xpool", day0)
	if !errors.Is(err, provider.ErrUnavailable) {
		t.Fatalf("provider errors should pass through, got %v", err)
	}
}

func TestDeriverAt(t *testing.T) {
	d := MarketCapDeriver{TreatMarketCapAsFDV: true}
	currentPrice := dec("0.004")
	currentFDV := dec("4000000")
	priceAtCall := dec("0.002")

	v := d.At(&priceAtCall, currentPrice, &currentFDV)
	if v.FDV == nil || v.FDV.String() != "2000000" {
		t.Fatalf("expected fdv scaled to 2000000, got %v", v.FDV)
	}
	if v.MarketCap == nil || !v.MarketCap.Equal(*v.FDV) {
		t.Fatal("market cap should equal FDV under the policy flag")
	}

	v = MarketCapDeriver{}.At(&priceAtCall, currentPrice, &currentFDV)
	if v.MarketCap != nil {
		t.Fatal("market cap should stay nil when the policy flag is off")
	}
}

func TestDeriverAtNilInputs(t *testing.T) {
	d := MarketCapDeriver{TreatMarketCapAsFDV: true}
	currentFDV := dec("100")
	price := dec("1")

	if v := d.At(nil, price, &currentFDV); v.FDV != nil {
		t.Fatal("nil historical price should derive nothing")
	}
	if v := d.At(&price, decimal.Zero, &currentFDV); v.FDV != nil {
		t.Fatal("zero current price should derive nothing")
	}
	if v := d.At(&price, price, nil); v.FDV != nil {
		t.Fatal("nil current FDV should derive nothing")
	}
}

func TestDeriverCurrentFDV(t *testing.T) {
	d := MarketCapDeriver{}
	fdv := dec("500")
	supply := dec("1000")

	got := d.CurrentFDV(provider.TokenInfo{PriceUSD: dec("2"), FDVUSD: &fdv})
	if got == nil || got.String() != "500" {
		t.Fatalf("provider FDV should win, got %v", got)
	}

	got = d.CurrentFDV(provider.TokenInfo{PriceUSD: dec("2"), TotalSupply: &supply})
	if got == nil || got.String() != "2000" {
		t.Fatalf("fallback should be price × supply, got %v", got)
	}

	if got = d.CurrentFDV(provider.TokenInfo{PriceUSD: dec("2")}); got != nil {
		t.Fatalf("no FDV and no supply should yield nil, got %v", got)
	}
}
