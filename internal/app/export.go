package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"call-price-tracker/internal/storage"
)

// Export renders one asset's snapshot history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.AssetID == "" {
		return errors.New("--asset is required")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	snapshots, err := store.SnapshotHistory(ctx, opts.AssetID, from, to)
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		a.Logger.Info().Str("asset", opts.AssetID).Msg("no snapshots found for export window")
		return nil
	}

	downsampled := downsampleSnapshots(snapshots, opts.MaxPoints)
	a.Logger.Info().Int("total", len(snapshots)).Int("exported", len(downsampled)).Msg("exporting snapshots")

	if opts.CSVPath != "" {
		if err := writeSnapshotsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSnapshotsPNG(opts.PNGPath, opts.AssetID, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleSnapshots(snapshots []storage.SnapshotRecord, max int) []storage.SnapshotRecord {
	if max <= 0 || len(snapshots) <= max {
		return snapshots
	}

	result := make([]storage.SnapshotRecord, 0, max)
	step := float64(len(snapshots)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(snapshots) {
			idx = len(snapshots) - 1
		}
		result = append(result, snapshots[idx])
	}
	return result
}

func writeSnapshotsCSV(path string, snapshots []storage.SnapshotRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"fetched_at", "asset_id", "called_at",
		"price_at_call", "current_price", "ath_price", "ath_at",
		"fdv_at_call", "current_fdv", "ath_fdv",
		"market_cap_at_call", "current_market_cap", "ath_market_cap",
		"source", "partial",
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, snap := range snapshots {
		athAt := ""
		if snap.ATHAt != nil {
			athAt = snap.ATHAt.UTC().Format(time.RFC3339)
		}
		partial := "false"
		if snap.Partial {
			partial = "true"
		}
		record := []string{
			snap.FetchedAt.UTC().Format(time.RFC3339),
			snap.AssetID,
			snap.CalledAt.UTC().Format(time.RFC3339),
			csvOptional(snap.PriceAtCall),
			snap.CurrentPrice.String(),
			csvOptional(snap.ATHPrice),
			athAt,
			csvOptional(snap.FDVAtCall),
			csvOptional(snap.CurrentFDV),
			csvOptional(snap.ATHFDV),
			csvOptional(snap.MarketCapAtCall),
			csvOptional(snap.CurrentMarketCap),
			csvOptional(snap.ATHMarketCap),
			snap.Source,
			partial,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeSnapshotsPNG(path, assetID string, snapshots []storage.SnapshotRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(snapshots))
	current := make([]float64, len(snapshots))
	ath := make([]float64, len(snapshots))
	marketCap := make([]float64, len(snapshots))

	for i, snap := range snapshots {
		x[i] = snap.FetchedAt
		current[i] = snap.CurrentPrice.InexactFloat64()
		if snap.ATHPrice != nil {
			ath[i] = snap.ATHPrice.InexactFloat64()
		}
		if snap.CurrentMarketCap != nil {
			marketCap[i] = snap.CurrentMarketCap.InexactFloat64()
		}
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.6f")
	}
	graph := chart.Chart{
		Title:  assetID,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price (USD)",
			ValueFormatter: priceFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name: "Market Cap (USD)",
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Current",
				XValues: x,
				YValues: current,
			},
			chart.TimeSeries{
				Name:    "ATH",
				XValues: x,
				YValues: ath,
			},
			chart.TimeSeries{
				Name:    "Market Cap",
				XValues: x,
				YValues: marketCap,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func csvOptional(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
