package tracker

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"call-price-tracker/internal/asset"
	"call-price-tracker/internal/pricing"
	"call-price-tracker/internal/provider"
)

const day = 24 * time.Hour

var day0 = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func mustAsset(t *testing.T, network, address string) asset.Asset {
	t.Helper()
	a, err := asset.New(network, address)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func candle(ts time.Time, close, high string) provider.Candle {
	return provider.Candle{Timestamp: ts, Open: dec(close), High: dec(high), Low: dec(close), Close: dec(close), Volume: dec("1")}
}

type fakePrimary struct {
	batch      map[string]decimal.Decimal
	batchErr   error
	info       provider.TokenInfo
	infoErr    error
	pools      []provider.Pool
	poolsErr   error
	batchCalls int
}

func (f *fakePrimary) Name() string { return "geckoterminal" }

func (f *fakePrimary) TokenInfo(ctx context.Context, a asset.Asset) (provider.TokenInfo, error) {
	return f.info, f.infoErr
}

func (f *fakePrimary) Pools(ctx context.Context, a asset.Asset) ([]provider.Pool, error) {
	return f.pools, f.poolsErr
}

func (f *fakePrimary) BatchPrices(ctx context.Context, network asset.Network, addresses []string) (map[string]decimal.Decimal, error) {
	f.batchCalls++
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	out := make(map[string]decimal.Decimal)
	for _, addr := range addresses {
		if price, ok := f.batch[addr]; ok {
			// same key shape the real client produces: lower-cased hex,
			// case-preserved base58 mints
			if network.IsEVM() {
				addr = strings.ToLower(addr)
			}
			out[addr] = price
		}
	}
	return out, nil
}

type fakeSecondary struct {
	info  provider.TokenInfo
	err   error
	calls int
}

func (f *fakeSecondary) Name() string { return "dexscreener" }

func (f *fakeSecondary) TokenInfo(ctx context.Context, a asset.Asset) (provider.TokenInfo, error) {
	f.calls++
	return f.info, f.err
}

// serialCandles serves pre-built pages in call order, shared by the
// historical resolver (first call) and the scanner (following calls).
type serialCandles struct {
	pages [][]provider.Candle
	calls int
}

func (f *serialCandles) OHLCV(ctx context.Context, network asset.Network, pool string, q provider.OHLCVQuery) ([]provider.Candle, error) {
	call := f.calls
	f.calls++
	if call >= len(f.pages) {
		return nil, nil
	}
	return f.pages[call], nil
}

type fakeSink struct {
	snapshots []Snapshot
	err       error
}

func (f *fakeSink) Upsert(ctx context.Context, snapshot Snapshot) error {
	f.snapshots = append(f.snapshots, snapshot)
	return f.err
}

type fakeCache struct {
	touched []asset.Asset
}

func (f *fakeCache) Touch(ctx context.Context, a asset.Asset, firstSeen, fetchedAt time.Time) error {
	f.touched = append(f.touched, a)
	return nil
}

func newTracker(primary *fakePrimary, secondary Secondary, candles provider.CandleReader, sink Sink, cache CacheStore) *Tracker {
	historical := pricing.NewHistoricalResolver(candles, 30)
	scanner := pricing.NewATHScanner(candles, pricing.ScanOptions{}, zerolog.Nop())
	return New(primary, secondary, historical, scanner, nil, sink, cache, Options{
		Deriver: pricing.MarketCapDeriver{TreatMarketCapAsFDV: true},
	}, zerolog.Nop())
}

const addrA = "0xaaa0000000000000000000000000000000000001"

func scenarioCandles() [][]provider.Candle {
	page := []provider.Candle{
		candle(day0.Add(10*day), "0.004", "0.004"),
		candle(day0.Add(5*day), "0.006", "0.01"),
		candle(day0, "0.002", "0.002"),
	}
	// First page feeds the historical resolver, second the ATH scanner.
	return [][]provider.Candle{page, page}
}

func TestTTLBoundaries(t *testing.T) {
	p := DefaultTTLPolicy()
	now := time.Now().UTC()

	// Scenario C: first seen 2h ago, fetched 3min ago => fresh under 5m TTL.
	if !p.Fresh(now, now.Add(-2*time.Hour), now.Add(-3*time.Minute)) {
		t.Fatal("young asset fetched 3m ago should be fresh")
	}
	// Scenario D: first seen 48h ago, fetched 30min ago => fresh under 60m TTL.
	if !p.Fresh(now, now.Add(-48*time.Hour), now.Add(-30*time.Minute)) {
		t.Fatal("seasoned asset fetched 30m ago should be fresh")
	}

	// Boundary: ttl-1s fresh, ttl+1s stale, for both tiers.
	if !p.Fresh(now, now.Add(-time.Hour), now.Add(-(5*time.Minute - time.Second))) {
		t.Fatal("young asset at ttl-1s should be fresh")
	}
	if p.Fresh(now, now.Add(-time.Hour), now.Add(-(5*time.Minute + time.Second))) {
		t.Fatal("young asset at ttl+1s should be stale")
	}
	if !p.Fresh(now, now.Add(-48*time.Hour), now.Add(-(60*time.Minute - time.Second))) {
		t.Fatal("seasoned asset at ttl-1s should be fresh")
	}
	if p.Fresh(now, now.Add(-48*time.Hour), now.Add(-(60*time.Minute + time.Second))) {
		t.Fatal("seasoned asset at ttl+1s should be stale")
	}

	if p.Fresh(now, now.Add(-time.Hour), time.Time{}) {
		t.Fatal("never-fetched assets are always stale")
	}
}

func TestRefreshServesFreshFromCache(t *testing.T) {
	primary := &fakePrimary{}
	known := &Snapshot{CurrentPrice: dec("1.5")}
	a := mustAsset(t, "ethereum", addrA)

	tr := newTracker(primary, nil, &serialCandles{}, nil, nil)
	results, summary, err := tr.Refresh(context.Background(), []Request{{
		Asset:         a,
		CalledAt:      day0,
		FirstSeenAt:   time.Now().UTC().Add(-time.Hour),
		LastFetchedAt: time.Now().UTC().Add(-time.Minute),
		LastKnown:     known,
	}})
	if err != nil {
		t.Fatalf("refresh should succeed: %v", err)
	}
	if results[0].Status != StatusCached || results[0].Snapshot != known {
		t.Fatalf("fresh asset should be served from cache, got %+v", results[0])
	}
	if summary.Cached != 1 || summary.Updated != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if primary.batchCalls != 0 {
		t.Fatal("fresh assets must not hit the network")
	}
}

func TestRefreshScenarioA(t *testing.T) {
	fdv := dec("4000000")
	primary := &fakePrimary{
		batch: map[string]decimal.Decimal{addrA: dec("0.004")},
		info:  provider.TokenInfo{PriceUSD: dec("0.004"), FDVUSD: &fdv},
		pools: []provider.Pool{{Address: "0xpool", ReserveUSD: dec("100000")}},
	}
	sink := &fakeSink{}
	cache := &fakeCache{}
	a := mustAsset(t, "ethereum", addrA)

	tr := newTracker(primary, nil, &serialCandles{pages: scenarioCandles()}, sink, cache)
	results, summary, err := tr.Refresh(context.Background(), []Request{{
		Asset:       a,
		CalledAt:    day0,
		FirstSeenAt: day0,
	}})
	if err != nil {
		t.Fatalf("refresh should succeed: %v", err)
	}
	if summary.Updated != 1 || summary.Failed != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	snap := results[0].Snapshot
	if snap == nil {
		t.Fatal("expected a snapshot")
	}
	if snap.PriceAtCall == nil || snap.PriceAtCall.String() != "0.002" {
		t.Fatalf("price at call should be 0.002, got %v", snap.PriceAtCall)
	}
	if snap.CurrentPrice.String() != "0.004" {
		t.Fatalf("current price should be 0.004, got %s", snap.CurrentPrice)
	}
	if snap.ATH == nil || snap.ATH.Price.String() != "0.01" || !snap.ATH.Timestamp.Equal(day0.Add(5*day)) {
		t.Fatalf("ath should be 0.01 at day 5, got %+v", snap.ATH)
	}
	if snap.ATH.Timestamp.Before(snap.CalledAt) {
		t.Fatal("ath timestamp must not precede the call")
	}
	if snap.Partial {
		t.Fatal("complete candle set should not be partial")
	}
	if snap.Source != "geckoterminal" {
		t.Fatalf("unexpected source %s", snap.Source)
	}

	// FDV scaling: at call 2M, current 4M, at peak 10M.
	if snap.FDVAtCall == nil || snap.FDVAtCall.String() != "2000000" {
		t.Fatalf("fdv at call should be 2000000, got %v", snap.FDVAtCall)
	}
	if snap.CurrentFDV == nil || snap.CurrentFDV.String() != "4000000" {
		t.Fatalf("current fdv should be 4000000, got %v", snap.CurrentFDV)
	}
	if snap.ATHFDV == nil || snap.ATHFDV.String() != "10000000" {
		t.Fatalf("ath fdv should be 10000000, got %v", snap.ATHFDV)
	}
	if snap.MarketCapAtCall == nil || !snap.MarketCapAtCall.Equal(*snap.FDVAtCall) {
		t.Fatal("market cap should track fdv under the policy flag")
	}

	if len(sink.snapshots) != 1 {
		t.Fatalf("snapshot should be persisted, got %d", len(sink.snapshots))
	}
	if len(cache.touched) != 1 {
		t.Fatalf("cache entry should be refreshed, got %d", len(cache.touched))
	}
}

func TestRefreshFallsBackToSecondary(t *testing.T) {
	primary := &fakePrimary{
		batch: map[string]decimal.Decimal{}, // batch omits the asset
		pools: []provider.Pool{{Address: "0xpool", ReserveUSD: dec("1")}},
	}
	secondary := &fakeSecondary{info: provider.TokenInfo{PriceUSD: dec("0.07")}}
	a := mustAsset(t, "ethereum", addrA)

	tr := newTracker(primary, secondary, &serialCandles{}, nil, nil)
	results, _, err := tr.Refresh(context.Background(), []Request{{Asset: a, CalledAt: day0, FirstSeenAt: day0}})
	if err != nil {
		t.Fatalf("refresh should succeed: %v", err)
	}

	snap := results[0].Snapshot
	if snap == nil {
		t.Fatal("expected a snapshot")
	}
	if snap.CurrentPrice.String() != "0.07" {
		t.Fatalf("secondary price should win, got %s", snap.CurrentPrice)
	}
	if snap.Source != "dexscreener" {
		t.Fatalf("source should attribute the secondary provider, got %s", snap.Source)
	}
	if secondary.calls != 1 {
		t.Fatalf("secondary should be called once, got %d", secondary.calls)
	}
	if !snap.Partial {
		t.Fatal("empty candle window should mark the snapshot partial")
	}
}

func TestRefreshSolanaBatchPriceReachesResult(t *testing.T) {
	const mint = "So11111111111111111111111111111111111111112"
	primary := &fakePrimary{
		batch: map[string]decimal.Decimal{mint: dec("142.7")},
		pools: []provider.Pool{{Address: "pool1", ReserveUSD: dec("500000")}},
	}
	secondary := &fakeSecondary{info: provider.TokenInfo{PriceUSD: dec("1")}}
	a := mustAsset(t, "solana", mint)

	tr := newTracker(primary, secondary, &serialCandles{pages: scenarioCandles()}, nil, nil)
	results, summary, err := tr.Refresh(context.Background(), []Request{{Asset: a, CalledAt: day0, FirstSeenAt: day0}})
	if err != nil {
		t.Fatalf("refresh should succeed: %v", err)
	}
	if summary.Updated != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	snap := results[0].Snapshot
	if snap == nil {
		t.Fatal("expected a snapshot")
	}
	if snap.CurrentPrice.String() != "142.7" {
		t.Fatalf("mixed-case mint must hit its batch price, got %s", snap.CurrentPrice)
	}
	if snap.Source != "geckoterminal" {
		t.Fatalf("batch hit should attribute the primary provider, got %s", snap.Source)
	}
	if secondary.calls != 0 {
		t.Fatalf("secondary should not be consulted, got %d calls", secondary.calls)
	}
	if primary.batchCalls != 1 {
		t.Fatalf("batch endpoint should be hit once, got %d", primary.batchCalls)
	}
}

func TestRefreshNoLiquidity(t *testing.T) {
	primary := &fakePrimary{
		batch: map[string]decimal.Decimal{addrA: dec("1")},
		pools: nil,
	}
	sink := &fakeSink{}
	cache := &fakeCache{}
	a := mustAsset(t, "ethereum", addrA)

	tr := newTracker(primary, nil, &serialCandles{}, sink, cache)
	results, summary, err := tr.Refresh(context.Background(), []Request{{Asset: a, CalledAt: day0, FirstSeenAt: day0}})
	if err != nil {
		t.Fatalf("no-liquidity must not abort the batch: %v", err)
	}
	if results[0].Status != StatusUnresolved {
		t.Fatalf("expected unresolved, got %s", results[0].Status)
	}
	if !errors.Is(results[0].Err, pricing.ErrNoLiquidity) {
		t.Fatalf("expected ErrNoLiquidity, got %v", results[0].Err)
	}
	if results[0].Snapshot != nil {
		t.Fatal("no price fields should be populated")
	}
	if summary.Failed != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if len(sink.snapshots) != 0 || len(cache.touched) != 0 {
		t.Fatal("nothing should be persisted for a no-liquidity asset")
	}
}

func TestRefreshBothProvidersFail(t *testing.T) {
	primary := &fakePrimary{batchErr: provider.ErrUnavailable}
	secondary := &fakeSecondary{err: provider.ErrUnavailable}
	cache := &fakeCache{}
	a := mustAsset(t, "ethereum", addrA)

	tr := newTracker(primary, secondary, &serialCandles{}, nil, cache)
	results, summary, err := tr.Refresh(context.Background(), []Request{{Asset: a, CalledAt: day0, FirstSeenAt: day0}})
	if err != nil {
		t.Fatalf("provider failures must not abort the invocation: %v", err)
	}
	if results[0].Status != StatusUnresolved || !errors.Is(results[0].Err, ErrNoPrice) {
		t.Fatalf("expected unresolved/ErrNoPrice, got %+v", results[0])
	}
	if summary.Failed != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if len(cache.touched) != 0 {
		t.Fatal("failed assets must stay stale so the next cycle retries")
	}
}

func TestRefreshPartialFailureIsolation(t *testing.T) {
	addrB := "0xbbb0000000000000000000000000000000000002"
	primary := &fakePrimary{
		batch: map[string]decimal.Decimal{addrA: dec("2")}, // addrB missing
		info:  provider.TokenInfo{PriceUSD: dec("2")},
		pools: []provider.Pool{{Address: "0xpool", ReserveUSD: dec("1")}},
	}
	secondary := &fakeSecondary{err: provider.ErrUnavailable}

	tr := newTracker(primary, secondary, &serialCandles{}, nil, nil)
	results, summary, err := tr.Refresh(context.Background(), []Request{
		{Asset: mustAsset(t, "ethereum", addrA), CalledAt: day0, FirstSeenAt: day0},
		{Asset: mustAsset(t, "ethereum", addrB), CalledAt: day0, FirstSeenAt: day0},
	})
	if err != nil {
		t.Fatalf("refresh should succeed: %v", err)
	}
	if results[0].Status != StatusUpdated {
		t.Fatalf("first asset should update, got %s", results[0].Status)
	}
	if results[1].Status != StatusUnresolved {
		t.Fatalf("second asset should fail alone, got %s", results[1].Status)
	}
	if summary.Requested != 2 || summary.Updated != 1 || summary.Failed != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestRefreshIdempotent(t *testing.T) {
	build := func() *Tracker {
		fdv := dec("4000000")
		primary := &fakePrimary{
			batch: map[string]decimal.Decimal{addrA: dec("0.004")},
			info:  provider.TokenInfo{PriceUSD: dec("0.004"), FDVUSD: &fdv},
			pools: []provider.Pool{{Address: "0xpool", ReserveUSD: dec("100000")}},
		}
		return newTracker(primary, nil, &serialCandles{pages: scenarioCandles()}, nil, nil)
	}

	req := []Request{{Asset: mustAsset(t, "ethereum", addrA), CalledAt: day0, FirstSeenAt: day0}}

	first, _, err := build().Refresh(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	second, _, err := build().Refresh(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}

	a, b := first[0].Snapshot, second[0].Snapshot
	if a == nil || b == nil {
		t.Fatal("both runs should produce snapshots")
	}
	a.FetchedAt, b.FetchedAt = time.Time{}, time.Time{}
	if a.CurrentPrice.String() != b.CurrentPrice.String() ||
		a.PriceAtCall.String() != b.PriceAtCall.String() ||
		a.ATH.Price.String() != b.ATH.Price.String() ||
		a.FDVAtCall.String() != b.FDVAtCall.String() ||
		a.Source != b.Source || a.Partial != b.Partial {
		t.Fatalf("identical upstream responses should yield identical snapshots: %+v vs %+v", a, b)
	}
}

func TestRefreshRejectsInvalidInput(t *testing.T) {
	tr := newTracker(&fakePrimary{}, nil, &serialCandles{}, nil, nil)

	_, _, err := tr.Refresh(context.Background(), []Request{{Asset: asset.Asset{}, CalledAt: day0}})
	if err == nil {
		t.Fatal("missing asset identity should be fatal")
	}

	_, _, err = tr.Refresh(context.Background(), []Request{{Asset: mustAsset(t, "ethereum", addrA)}})
	if err == nil {
		t.Fatal("missing call timestamp should be fatal")
	}
}

func TestRefreshSinkFailureDoesNotFailAsset(t *testing.T) {
	primary := &fakePrimary{
		batch: map[string]decimal.Decimal{addrA: dec("1")},
		info:  provider.TokenInfo{PriceUSD: dec("1")},
		pools: []provider.Pool{{Address: "0xpool", ReserveUSD: dec("1")}},
	}
	sink := &fakeSink{err: errors.New("disk on fire")}
	a := mustAsset(t, "ethereum", addrA)

	tr := newTracker(primary, nil, &serialCandles{}, sink, nil)
	results, summary, err := tr.Refresh(context.Background(), []Request{{Asset: a, CalledAt: day0, FirstSeenAt: day0}})
	if err != nil {
		t.Fatalf("refresh should succeed: %v", err)
	}
	if results[0].Status != StatusUpdated || summary.Updated != 1 {
		t.Fatalf("persistence failure must not fail the asset: %+v", results[0])
	}
}
