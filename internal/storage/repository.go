package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertCallSQL = `INSERT INTO calls (
        network,
        address,
        called_at,
        first_seen_at
    ) VALUES (
        $1,$2,$3,$4
    )
    ON CONFLICT (network, address, called_at) DO UPDATE
    SET first_seen_at = LEAST(calls.first_seen_at, EXCLUDED.first_seen_at)
    RETURNING id, network, address, called_at, first_seen_at, created_at;`

	listCallsSQL = `SELECT
        id, network, address, called_at, first_seen_at, created_at
    FROM calls
    ORDER BY created_at;`

	getCacheEntriesSQL = `SELECT
        asset_id, first_seen_at, last_fetched_at
    FROM cache_entries;`

	touchCacheEntrySQL = `INSERT INTO cache_entries (
        asset_id, first_seen_at, last_fetched_at
    ) VALUES ($1,$2,$3)
    ON CONFLICT (asset_id) DO UPDATE
    SET last_fetched_at = EXCLUDED.last_fetched_at;`

	upsertSnapshotSQL = `INSERT INTO price_snapshots (
        asset_id, network, address, called_at,
        price_at_call, current_price, ath_price, ath_at,
        fdv_at_call, current_fdv, ath_fdv,
        market_cap_at_call, current_market_cap, ath_market_cap,
        source, partial, fetched_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17
    )
    ON CONFLICT (asset_id, called_at, fetched_at) DO UPDATE
    SET
        price_at_call      = EXCLUDED.price_at_call,
        current_price      = EXCLUDED.current_price,
        ath_price          = EXCLUDED.ath_price,
        ath_at             = EXCLUDED.ath_at,
        fdv_at_call        = EXCLUDED.fdv_at_call,
        current_fdv        = EXCLUDED.current_fdv,
        ath_fdv            = EXCLUDED.ath_fdv,
        market_cap_at_call = EXCLUDED.market_cap_at_call,
        current_market_cap = EXCLUDED.current_market_cap,
        ath_market_cap     = EXCLUDED.ath_market_cap,
        source             = EXCLUDED.source,
        partial            = EXCLUDED.partial;`

	snapshotColumns = `asset_id, network, address, called_at,
        price_at_call, current_price, ath_price, ath_at,
        fdv_at_call, current_fdv, ath_fdv,
        market_cap_at_call, current_market_cap, ath_market_cap,
        source, partial, fetched_at, created_at`

	latestSnapshotsSQL = `SELECT DISTINCT ON (asset_id, called_at) ` + snapshotColumns + `
    FROM price_snapshots
    ORDER BY asset_id, called_at, fetched_at DESC
    LIMIT $1;`

	latestForCallSQL = `SELECT ` + snapshotColumns + `
    FROM price_snapshots
    WHERE asset_id = $1 AND called_at = $2
    ORDER BY fetched_at DESC
    LIMIT 1;`

	snapshotHistorySQL = `SELECT ` + snapshotColumns + `
    FROM price_snapshots
    WHERE asset_id = $1
      AND fetched_at >= $2
      AND fetched_at < $3
    ORDER BY fetched_at;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// CallStore defines operations for tracked calls.
type CallStore interface {
	InsertCall(ctx context.Context, call CallRecord) (CallRecord, error)
	ListCalls(ctx context.Context) ([]CallRecord, error)
}

// CacheEntryStore defines operations for resolution cache entries.
type CacheEntryStore interface {
	GetCacheEntries(ctx context.Context) (map[string]CacheEntry, error)
	TouchCacheEntry(ctx context.Context, entry CacheEntry) error
}

// SnapshotStore defines operations for snapshot persistence.
type SnapshotStore interface {
	UpsertSnapshot(ctx context.Context, rec SnapshotRecord) error
	LatestSnapshots(ctx context.Context, limit int) ([]SnapshotRecord, error)
	LatestForCall(ctx context.Context, assetID string, calledAt time.Time) (*SnapshotRecord, error)
	SnapshotHistory(ctx context.Context, assetID string, from, to time.Time) ([]SnapshotRecord, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to calls, cache entries, and snapshots.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertCall records a call, collapsing duplicates of the same asset and
// timestamp.
func (s *Store) InsertCall(ctx context.Context, call CallRecord) (CallRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return CallRecord{}, err
	}

	row := pool.QueryRow(ctx, insertCallSQL,
		call.Network,
		call.Address,
		call.CalledAt,
		call.FirstSeenAt,
	)

	var rec CallRecord
	if scanErr := row.Scan(
		&rec.ID,
		&rec.Network,
		&rec.Address,
		&rec.CalledAt,
		&rec.FirstSeenAt,
		&rec.CreatedAt,
	); scanErr != nil {
		return CallRecord{}, fmt.Errorf("insert call: %w", scanErr)
	}
	return rec, nil
}

// ListCalls lists all tracked calls in insertion order.
func (s *Store) ListCalls(ctx context.Context) ([]CallRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listCallsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list calls: %w", queryErr)
	}
	defer rows.Close()

	calls := make([]CallRecord, 0)
	for rows.Next() {
		var rec CallRecord
		if err := rows.Scan(&rec.ID, &rec.Network, &rec.Address, &rec.CalledAt, &rec.FirstSeenAt, &rec.CreatedAt); err != nil {
			return nil, err
		}
		calls = append(calls, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return calls, nil
}

// GetCacheEntries loads all cache entries keyed by asset id.
func (s *Store) GetCacheEntries(ctx context.Context) (map[string]CacheEntry, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, getCacheEntriesSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("get cache entries: %w", queryErr)
	}
	defer rows.Close()

	entries := make(map[string]CacheEntry)
	for rows.Next() {
		var entry CacheEntry
		if err := rows.Scan(&entry.AssetID, &entry.FirstSeenAt, &entry.LastFetchedAt); err != nil {
			return nil, err
		}
		entries[entry.AssetID] = entry
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return entries, nil
}

// TouchCacheEntry creates or refreshes a cache entry after a successful
// resolution. first_seen_at is write-once.
func (s *Store) TouchCacheEntry(ctx context.Context, entry CacheEntry) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, touchCacheEntrySQL, entry.AssetID, entry.FirstSeenAt, entry.LastFetchedAt); execErr != nil {
		return fmt.Errorf("touch cache entry: %w", execErr)
	}
	return nil
}

// UpsertSnapshot persists one snapshot row.
func (s *Store) UpsertSnapshot(ctx context.Context, rec SnapshotRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertSnapshotSQL,
		rec.AssetID,
		rec.Network,
		rec.Address,
		rec.CalledAt,
		decimalArg(rec.PriceAtCall),
		rec.CurrentPrice.String(),
		decimalArg(rec.ATHPrice),
		timeArg(rec.ATHAt),
		decimalArg(rec.FDVAtCall),
		decimalArg(rec.CurrentFDV),
		decimalArg(rec.ATHFDV),
		decimalArg(rec.MarketCapAtCall),
		decimalArg(rec.CurrentMarketCap),
		decimalArg(rec.ATHMarketCap),
		rec.Source,
		rec.Partial,
		rec.FetchedAt,
	)
	if execErr != nil {
		return fmt.Errorf("upsert snapshot: %w", execErr)
	}
	return nil
}

// LatestSnapshots returns the most recent snapshot per call.
func (s *Store) LatestSnapshots(ctx context.Context, limit int) ([]SnapshotRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, latestSnapshotsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("latest snapshots: %w", queryErr)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// LatestForCall returns the newest snapshot for one call, or nil when none
// has been recorded yet.
func (s *Store) LatestForCall(ctx context.Context, assetID string, calledAt time.Time) (*SnapshotRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, latestForCallSQL, assetID, calledAt)
	if queryErr != nil {
		return nil, fmt.Errorf("latest for call: %w", queryErr)
	}
	defer rows.Close()

	recs, err := scanSnapshots(rows)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}

// SnapshotHistory lists one asset's snapshots within a fetch-time window.
func (s *Store) SnapshotHistory(ctx context.Context, assetID string, from, to time.Time) ([]SnapshotRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, snapshotHistorySQL, assetID, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("snapshot history: %w", queryErr)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

func decimalArg(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

func timeArg(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func scanSnapshots(rows pgx.Rows) ([]SnapshotRecord, error) {
	recs := make([]SnapshotRecord, 0)
	for rows.Next() {
		rec, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return recs, nil
}

func scanSnapshot(rows pgx.Rows) (SnapshotRecord, error) {
	var (
		rec        SnapshotRecord
		currentStr string
		priceCall  sql.NullString
		athPrice   sql.NullString
		athAt      sql.NullTime
		fdvCall    sql.NullString
		fdvCur     sql.NullString
		fdvATH     sql.NullString
		mcCall     sql.NullString
		mcCur      sql.NullString
		mcATH      sql.NullString
	)

	if err := rows.Scan(
		&rec.AssetID,
		&rec.Network,
		&rec.Address,
		&rec.CalledAt,
		&priceCall,
		&currentStr,
		&athPrice,
		&athAt,
		&fdvCall,
		&fdvCur,
		&fdvATH,
		&mcCall,
		&mcCur,
		&mcATH,
		&rec.Source,
		&rec.Partial,
		&rec.FetchedAt,
		&rec.CreatedAt,
	); err != nil {
		return SnapshotRecord{}, err
	}

	current, err := decimal.NewFromString(currentStr)
	if err != nil {
		return SnapshotRecord{}, fmt.Errorf("parse current price: %w", err)
	}
	rec.CurrentPrice = current

	for _, field := range []struct {
		src sql.NullString
		dst **decimal.Decimal
	}{
		{priceCall, &rec.PriceAtCall},
		{athPrice, &rec.ATHPrice},
		{fdvCall, &rec.FDVAtCall},
		{fdvCur, &rec.CurrentFDV},
		{fdvATH, &rec.ATHFDV},
		{mcCall, &rec.MarketCapAtCall},
		{mcCur, &rec.CurrentMarketCap},
		{mcATH, &rec.ATHMarketCap},
	} {
		if !field.src.Valid {
			continue
		}
		value, err := decimal.NewFromString(field.src.String)
		if err != nil {
			return SnapshotRecord{}, fmt.Errorf("parse snapshot decimal: %w", err)
		}
		*field.dst = &value
	}

	if athAt.Valid {
		ts := athAt.Time
		rec.ATHAt = &ts
	}

	return rec, nil
}
