package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
)

// Show prints the latest snapshot for each tracked call.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show snapshots")
	}
	if closeStore != nil {
		defer closeStore()
	}

	snapshots, err := store.LatestSnapshots(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		fmt.Fprintln(os.Stdout, "no snapshots found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Asset\tCalled (UTC)\tEntry\tNow\tATH\tATH At (UTC)\tGain\tMCap\tSource\tPartial")

	for _, snap := range snapshots {
		gain := ""
		if snap.PriceAtCall != nil && !snap.PriceAtCall.IsZero() && snap.ATHPrice != nil {
			gain = snap.ATHPrice.Div(*snap.PriceAtCall).StringFixed(2) + "x"
		}
		athAt := ""
		if snap.ATHAt != nil {
			athAt = snap.ATHAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%t\n",
			snap.AssetID,
			snap.CalledAt.UTC().Format(time.RFC3339),
			formatOptional(snap.PriceAtCall),
			snap.CurrentPrice.String(),
			formatOptional(snap.ATHPrice),
			athAt,
			gain,
			formatOptional(snap.CurrentMarketCap),
			snap.Source,
			snap.Partial,
		)
	}

	writer.Flush()
	return nil
}

func formatOptional(d *decimal.Decimal) string {
	if d == nil {
		return "-"
	}
	return d.String()
}
