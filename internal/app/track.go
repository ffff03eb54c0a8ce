package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"call-price-tracker/internal/asset"
	"call-price-tracker/internal/storage"
)

// Track records a new call for tracking.
func (a *App) Track(ctx context.Context, opts TrackOptions) error {
	target, err := asset.New(opts.Network, opts.Address)
	if err != nil {
		return err
	}

	calledAt := opts.CalledAt.UTC()
	if calledAt.IsZero() {
		calledAt = time.Now().UTC()
	}
	if calledAt.After(time.Now().UTC()) {
		return errors.New("called-at cannot be in the future")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot track calls")
	}
	if closeStore != nil {
		defer closeStore()
	}

	rec, err := store.InsertCall(ctx, storage.CallRecord{
		Network:     string(target.Network),
		Address:     target.Address,
		CalledAt:    calledAt,
		FirstSeenAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "tracking %s called at %s (id %d)\n", target.ID(), rec.CalledAt.Format(time.RFC3339), rec.ID)
	return nil
}
