package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// CallRecord is a persisted call: an asset plus the moment it was recorded.
type CallRecord struct {
	ID          int64
	Network     string
	Address     string
	CalledAt    time.Time
	FirstSeenAt time.Time
	CreatedAt   time.Time
}

// AssetID returns the canonical "network:address" key.
func (c CallRecord) AssetID() string {
	return c.Network + ":" + c.Address
}

// CacheEntry tracks when an asset was last successfully resolved. Entries
// are created on first resolution and refreshed afterwards; this subsystem
// never deletes them.
type CacheEntry struct {
	AssetID       string
	FirstSeenAt   time.Time
	LastFetchedAt time.Time
}

// SnapshotRecord is a persisted price snapshot. Historical figures are nil
// when the providers had no data; nil is "unknown", never zero.
type SnapshotRecord struct {
	AssetID  string
	Network  string
	Address  string
	CalledAt time.Time

	PriceAtCall  *decimal.Decimal
	CurrentPrice decimal.Decimal
	ATHPrice     *decimal.Decimal
	ATHAt        *time.Time

	FDVAtCall  *decimal.Decimal
	CurrentFDV *decimal.Decimal
	ATHFDV     *decimal.Decimal

	MarketCapAtCall  *decimal.Decimal
	CurrentMarketCap *decimal.Decimal
	ATHMarketCap     *decimal.Decimal

	Source    string
	Partial   bool
	FetchedAt time.Time
	CreatedAt time.Time
}
