package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"call-price-tracker/internal/asset"
	"call-price-tracker/internal/pricing"
	"call-price-tracker/internal/provider"
)

// ErrNoPrice means both providers failed to resolve the asset this cycle.
// The cache entry is left stale, so the next cycle retries automatically.
var ErrNoPrice = errors.New("tracker: no price available")

// Request is one asset to resolve, with whatever the caller already knows
// about it.
type Request struct {
	Asset       asset.Asset
	CalledAt    time.Time
	FirstSeenAt time.Time
	// LastFetchedAt is zero when the asset has never been resolved.
	LastFetchedAt time.Time
	// LastKnown carries the previous snapshot, served back on cache hits.
	LastKnown *Snapshot
}

// Snapshot is the full valuation of one call at resolution time.
type Snapshot struct {
	Asset    asset.Asset
	CalledAt time.Time

	PriceAtCall  *decimal.Decimal
	CurrentPrice decimal.Decimal
	ATH          *pricing.ATH

	FDVAtCall  *decimal.Decimal
	CurrentFDV *decimal.Decimal
	ATHFDV     *decimal.Decimal

	MarketCapAtCall  *decimal.Decimal
	CurrentMarketCap *decimal.Decimal
	ATHMarketCap     *decimal.Decimal

	Source string
	// Partial marks snapshots whose historical side could not be fully
	// derived (missing candles, aborted scan). Never silently wrong.
	Partial   bool
	FetchedAt time.Time
}

// Status classifies one asset's outcome within a cycle.
type Status string

const (
	StatusUpdated    Status = "updated"
	StatusCached     Status = "cached"
	StatusUnresolved Status = "unresolved"
)

// Result is the per-asset outcome.
type Result struct {
	Asset    asset.Asset
	Status   Status
	Snapshot *Snapshot
	Err      error
}

// Summary counts outcomes across one invocation.
type Summary struct {
	Requested int
	Cached    int
	Updated   int
	Failed    int
}

// Primary is the batch-capable provider tried first.
type Primary interface {
	provider.TokenReader
	provider.PoolReader
	provider.BatchPriceReader
}

// Secondary is the single-asset fallback provider.
type Secondary interface {
	provider.TokenReader
}

// Sink receives finished snapshots. Persistence failures are logged by the
// tracker and never roll back sibling assets.
type Sink interface {
	Upsert(ctx context.Context, snapshot Snapshot) error
}

// CacheStore records successful resolutions. Entries are created on first
// success and refreshed on every later one; the tracker never deletes them.
type CacheStore interface {
	Touch(ctx context.Context, a asset.Asset, firstSeen, fetchedAt time.Time) error
}

// SupplySource resolves total supply when no provider reports FDV.
type SupplySource interface {
	TotalSupply(ctx context.Context, a asset.Asset) (decimal.Decimal, error)
}

// Options tune the orchestrator.
type Options struct {
	// BatchSize caps addresses per primary batch call.
	BatchSize int
	TTL       TTLPolicy
	Deriver   pricing.MarketCapDeriver
}

// Tracker partitions assets into fresh and stale, resolves stale ones
// through the primary/secondary fallback chain, and assembles snapshots.
type Tracker struct {
	primary    Primary
	secondary  Secondary
	historical *pricing.HistoricalResolver
	scanner    *pricing.ATHScanner
	supply     SupplySource
	sink       Sink
	cache      CacheStore
	opts       Options
	logger     zerolog.Logger

	now func() time.Time
}

// New wires the orchestrator. secondary, supply, sink, and cache may be nil;
// the corresponding step is skipped.
func New(primary Primary, secondary Secondary, historical *pricing.HistoricalResolver, scanner *pricing.ATHScanner, supply SupplySource, sink Sink, cache CacheStore, opts Options, logger zerolog.Logger) *Tracker {
	if opts.BatchSize <= 0 || opts.BatchSize > provider.GeckoTerminalMaxBatch {
		opts.BatchSize = provider.GeckoTerminalMaxBatch
	}
	if opts.TTL == (TTLPolicy{}) {
		opts.TTL = DefaultTTLPolicy()
	}
	return &Tracker{
		primary:    primary,
		secondary:  secondary,
		historical: historical,
		scanner:    scanner,
		supply:     supply,
		sink:       sink,
		cache:      cache,
		opts:       opts,
		logger:     logger.With().Str("component", "tracker").Logger(),
		now:        time.Now,
	}
}

// Refresh runs one resolution cycle over the supplied requests. Individual
// failures are collected into results; the only fatal condition is
// structurally invalid input.
func (t *Tracker) Refresh(ctx context.Context, requests []Request) ([]Result, Summary, error) {
	if err := validate(requests); err != nil {
		return nil, Summary{}, err
	}

	now := t.now().UTC()
	summary := Summary{Requested: len(requests)}
	results := make([]Result, len(requests))

	var stale []int
	for i, req := range requests {
		if t.opts.TTL.Fresh(now, req.FirstSeenAt, req.LastFetchedAt) {
			results[i] = Result{Asset: req.Asset, Status: StatusCached, Snapshot: req.LastKnown}
			summary.Cached++
			continue
		}
		stale = append(stale, i)
	}

	prices := t.batchPrices(ctx, requests, stale)

	for _, i := range stale {
		req := requests[i]
		results[i] = t.resolve(ctx, req, prices[req.Asset.ID()], now)
		switch results[i].Status {
		case StatusUpdated:
			summary.Updated++
		case StatusUnresolved:
			summary.Failed++
		}
	}

	return results, summary, nil
}

func validate(requests []Request) error {
	for _, req := range requests {
		if req.Asset.Network == "" || req.Asset.Address == "" {
			return fmt.Errorf("request for %q has no asset identity", req.Asset.ID())
		}
		if req.CalledAt.IsZero() {
			return fmt.Errorf("request for %s has no call timestamp", req.Asset)
		}
	}
	return nil
}

// batchPrices resolves current prices for stale assets through the
// primary's batch endpoint, grouped per network and chunked to the batch
// cap. A failed chunk is logged and its assets fall through to the
// secondary provider.
func (t *Tracker) batchPrices(ctx context.Context, requests []Request, stale []int) map[string]*decimal.Decimal {
	byNetwork := make(map[asset.Network][]string)
	for _, i := range stale {
		a := requests[i].Asset
		byNetwork[a.Network] = append(byNetwork[a.Network], a.Address)
	}

	prices := make(map[string]*decimal.Decimal)
	for network, addresses := range byNetwork {
		for start := 0; start < len(addresses); start += t.opts.BatchSize {
			end := start + t.opts.BatchSize
			if end > len(addresses) {
				end = len(addresses)
			}
			chunk := addresses[start:end]

			batch, err := t.primary.BatchPrices(ctx, network, chunk)
			if err != nil {
				t.logger.Warn().Err(err).Str("network", string(network)).Int("assets", len(chunk)).Msg("primary batch failed; falling back per asset")
				continue
			}
			for addr, price := range batch {
				p := price
				prices[string(network)+":"+addr] = &p
			}
		}
	}
	return prices
}

// resolve runs the full pipeline for one stale asset.
func (t *Tracker) resolve(ctx context.Context, req Request, batchPrice *decimal.Decimal, now time.Time) Result {
	currentPrice, source, info, err := t.currentPrice(ctx, req.Asset, batchPrice)
	if err != nil {
		t.logger.Debug().Err(err).Str("asset", req.Asset.ID()).Msg("asset unresolved this cycle")
		return Result{Asset: req.Asset, Status: StatusUnresolved, Err: err}
	}

	snapshot := Snapshot{
		Asset:        req.Asset,
		CalledAt:     req.CalledAt,
		CurrentPrice: currentPrice,
		Source:       source,
		FetchedAt:    now,
	}

	pool, err := pricing.SelectPool(ctx, t.primary, req.Asset)
	switch {
	case errors.Is(err, pricing.ErrNoLiquidity):
		return Result{Asset: req.Asset, Status: StatusUnresolved, Err: err}
	case err != nil:
		// Pool listing failed upstream; record what we have, marked partial.
		snapshot.Partial = true
	default:
		t.fillHistory(ctx, &snapshot, req, pool)
	}

	t.fillValuations(ctx, &snapshot, info)

	if t.sink != nil {
		if err := t.sink.Upsert(ctx, snapshot); err != nil {
			t.logger.Error().Err(err).Str("asset", req.Asset.ID()).Msg("failed to persist snapshot")
		}
	}
	if t.cache != nil {
		if err := t.cache.Touch(ctx, req.Asset, req.FirstSeenAt, now); err != nil {
			t.logger.Error().Err(err).Str("asset", req.Asset.ID()).Msg("failed to refresh cache entry")
		}
	}

	return Result{Asset: req.Asset, Status: StatusUpdated, Snapshot: &snapshot}
}

// currentPrice walks the fallback chain: batch price first, then the
// secondary provider one asset at a time.
func (t *Tracker) currentPrice(ctx context.Context, a asset.Asset, batchPrice *decimal.Decimal) (decimal.Decimal, string, provider.TokenInfo, error) {
	if batchPrice != nil {
		info, err := t.primary.TokenInfo(ctx, a)
		if err != nil {
			// The batch already gave a price; FDV enrichment is optional.
			info = provider.TokenInfo{PriceUSD: *batchPrice}
		}
		return *batchPrice, t.primary.Name(), info, nil
	}

	if t.secondary == nil {
		return decimal.Decimal{}, "", provider.TokenInfo{}, ErrNoPrice
	}

	info, err := t.secondary.TokenInfo(ctx, a)
	if err != nil {
		return decimal.Decimal{}, "", provider.TokenInfo{}, fmt.Errorf("%w: %v", ErrNoPrice, err)
	}
	return info.PriceUSD, t.secondary.Name(), info, nil
}

// fillHistory resolves price-at-call and the ATH against the canonical
// pool. Either side failing marks the snapshot partial instead of losing
// the asset.
func (t *Tracker) fillHistory(ctx context.Context, snapshot *Snapshot, req Request, pool provider.Pool) {
	priceAtCall, err := t.historical.PriceAt(ctx, req.Asset.Network, pool.Address, req.CalledAt)
	if err != nil {
		t.logger.Warn().Err(err).Str("asset", req.Asset.ID()).Msg("historical price unavailable")
	}
	snapshot.PriceAtCall = priceAtCall

	ath, err := t.scanner.Scan(ctx, req.Asset.Network, pool.Address, req.CalledAt)
	if err != nil {
		t.logger.Warn().Err(err).Str("asset", req.Asset.ID()).Msg("ath scan incomplete")
	}
	snapshot.ATH = ath

	if priceAtCall == nil || ath == nil {
		snapshot.Partial = true
	}
	// With a complete candle set the ATH can never sit below the call
	// price; when it does, candles are missing and the snapshot says so.
	if priceAtCall != nil && ath != nil && ath.Price.LessThan(*priceAtCall) {
		snapshot.Partial = true
	}
}

// fillValuations scales the three price points to FDV and market cap.
func (t *Tracker) fillValuations(ctx context.Context, snapshot *Snapshot, info provider.TokenInfo) {
	currentFDV := t.opts.Deriver.CurrentFDV(info)
	if currentFDV == nil && t.supply != nil && snapshot.Asset.Network.IsEVM() {
		if supply, err := t.supply.TotalSupply(ctx, snapshot.Asset); err == nil && !snapshot.CurrentPrice.IsZero() {
			fdv := snapshot.CurrentPrice.Mul(supply)
			currentFDV = &fdv
		}
	}

	current := t.opts.Deriver.At(&snapshot.CurrentPrice, snapshot.CurrentPrice, currentFDV)
	snapshot.CurrentFDV = current.FDV
	snapshot.CurrentMarketCap = current.MarketCap

	atCall := t.opts.Deriver.At(snapshot.PriceAtCall, snapshot.CurrentPrice, currentFDV)
	snapshot.FDVAtCall = atCall.FDV
	snapshot.MarketCapAtCall = atCall.MarketCap

	if snapshot.ATH != nil {
		athPrice := snapshot.ATH.Price
		atPeak := t.opts.Deriver.At(&athPrice, snapshot.CurrentPrice, currentFDV)
		snapshot.ATHFDV = atPeak.FDV
		snapshot.ATHMarketCap = atPeak.MarketCap
	}
}
