package pricing

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"call-price-tracker/internal/asset"
	"call-price-tracker/internal/provider"
)

// ErrScanAborted means the backward scan hit its page or deadline bound
// before reaching the lower timestamp. Distinct from a genuine "no data
// older than X", which terminates the scan normally.
var ErrScanAborted = errors.New("pricing: ath scan aborted")

// ATH is the highest price observed since a reference timestamp.
type ATH struct {
	Price     decimal.Decimal
	Timestamp time.Time
}

// ScanOptions bound the backward pagination loop.
type ScanOptions struct {
	// PageLimit is the candle count requested per page. Defaults to the
	// primary provider's maximum.
	PageLimit int
	// MaxPages caps the number of pages fetched in one scan.
	MaxPages int
	// Deadline caps the wall-clock duration of one scan.
	Deadline time.Duration
}

// ATHScanner paginates daily candles backwards from now and reduces them
// to the maximum high since a given timestamp.
type ATHScanner struct {
	candles provider.CandleReader
	opts    ScanOptions
	logger  zerolog.Logger

	// now is swapped in tests.
	now func() time.Time
}

// NewATHScanner constructs a scanner.
func NewATHScanner(candles provider.CandleReader, opts ScanOptions, logger zerolog.Logger) *ATHScanner {
	if opts.PageLimit <= 0 {
		opts.PageLimit = provider.GeckoTerminalMaxCandles
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 30
	}
	if opts.Deadline <= 0 {
		opts.Deadline = 2 * time.Minute
	}
	return &ATHScanner{
		candles: candles,
		opts:    opts,
		logger:  logger.With().Str("component", "ath_scanner").Logger(),
		now:     time.Now,
	}
}

// Scan walks candle pages from now back to since and returns the highest
// candle at or after since, or nil when no candle falls in the window.
//
// Stopping conditions: an empty page, or the cursor moving at or before
// since. A cursor that fails to advance, the page cap, and the wall-clock
// deadline all abort the scan with ErrScanAborted so a misbehaving
// provider cannot trap the loop.
func (s *ATHScanner) Scan(ctx context.Context, network asset.Network, poolAddress string, since time.Time) (*ATH, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Deadline)
	defer cancel()

	cursor := s.now().UTC()
	var accumulated []provider.Candle

	for page := 0; ; page++ {
		if page >= s.opts.MaxPages {
			s.logger.Warn().Str("pool", poolAddress).Int("pages", page).Msg("scan hit page cap")
			return nil, ErrScanAborted
		}

		candles, err := s.candles.OHLCV(ctx, network, poolAddress, provider.OHLCVQuery{
			Timeframe: "day",
			Before:    cursor,
			Limit:     s.opts.PageLimit,
		})
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, ErrScanAborted
			}
			return nil, err
		}
		if len(candles) == 0 {
			break
		}

		accumulated = append(accumulated, candles...)

		// Candles arrive newest-first; the oldest closes the page.
		oldest := candles[len(candles)-1].Timestamp
		next := oldest.Add(-day)
		if !next.Before(cursor) {
			s.logger.Warn().Str("pool", poolAddress).Time("cursor", cursor).Msg("scan cursor failed to advance")
			return nil, ErrScanAborted
		}
		cursor = next

		if !cursor.After(since) {
			break
		}
	}

	return reduceATH(accumulated, since), nil
}

// reduceATH filters to candles at or after since and keeps the maximum
// high. Ties keep the earlier-encountered candle.
func reduceATH(candles []provider.Candle, since time.Time) *ATH {
	var best *ATH
	for _, candle := range candles {
		if candle.Timestamp.Before(since) {
			continue
		}
		if best == nil || candle.High.GreaterThan(best.Price) {
			best = &ATH{Price: candle.High, Timestamp: candle.Timestamp}
		}
	}
	return best
}
