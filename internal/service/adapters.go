package service

import (
	"context"
	"time"

	"call-price-tracker/internal/asset"
	"call-price-tracker/internal/pricing"
	"call-price-tracker/internal/storage"
	"call-price-tracker/internal/tracker"
)

// SnapshotSink adapts the snapshot store to the tracker's sink.
type SnapshotSink struct {
	Store storage.SnapshotStore
}

func (s SnapshotSink) Upsert(ctx context.Context, snapshot tracker.Snapshot) error {
	return s.Store.UpsertSnapshot(ctx, recordFromSnapshot(snapshot))
}

// CacheTouch adapts the cache entry store to the tracker's cache.
type CacheTouch struct {
	Store storage.CacheEntryStore
}

func (c CacheTouch) Touch(ctx context.Context, a asset.Asset, firstSeen, fetchedAt time.Time) error {
	return c.Store.TouchCacheEntry(ctx, storage.CacheEntry{
		AssetID:       a.ID(),
		FirstSeenAt:   firstSeen,
		LastFetchedAt: fetchedAt,
	})
}

func recordFromSnapshot(snap tracker.Snapshot) storage.SnapshotRecord {
	rec := storage.SnapshotRecord{
		AssetID:          snap.Asset.ID(),
		Network:          string(snap.Asset.Network),
		Address:          snap.Asset.Address,
		CalledAt:         snap.CalledAt,
		PriceAtCall:      snap.PriceAtCall,
		CurrentPrice:     snap.CurrentPrice,
		FDVAtCall:        snap.FDVAtCall,
		CurrentFDV:       snap.CurrentFDV,
		ATHFDV:           snap.ATHFDV,
		MarketCapAtCall:  snap.MarketCapAtCall,
		CurrentMarketCap: snap.CurrentMarketCap,
		ATHMarketCap:     snap.ATHMarketCap,
		Source:           snap.Source,
		Partial:          snap.Partial,
		FetchedAt:        snap.FetchedAt,
	}
	if snap.ATH != nil {
		price := snap.ATH.Price
		ts := snap.ATH.Timestamp
		rec.ATHPrice = &price
		rec.ATHAt = &ts
	}
	return rec
}

func snapshotFromRecord(a asset.Asset, rec storage.SnapshotRecord) *tracker.Snapshot {
	snap := &tracker.Snapshot{
		Asset:            a,
		CalledAt:         rec.CalledAt,
		PriceAtCall:      rec.PriceAtCall,
		CurrentPrice:     rec.CurrentPrice,
		FDVAtCall:        rec.FDVAtCall,
		CurrentFDV:       rec.CurrentFDV,
		ATHFDV:           rec.ATHFDV,
		MarketCapAtCall:  rec.MarketCapAtCall,
		CurrentMarketCap: rec.CurrentMarketCap,
		ATHMarketCap:     rec.ATHMarketCap,
		Source:           rec.Source,
		Partial:          rec.Partial,
		FetchedAt:        rec.FetchedAt,
	}
	if rec.ATHPrice != nil && rec.ATHAt != nil {
		snap.ATH = &pricing.ATH{Price: *rec.ATHPrice, Timestamp: *rec.ATHAt}
	}
	return snap
}
