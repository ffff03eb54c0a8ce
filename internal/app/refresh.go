package app

import (
	"context"
	"errors"
	"time"

	"call-price-tracker/internal/service"
	"call-price-tracker/internal/storage"
)

// Refresh runs a single resolution cycle outside the scheduler loop.
func (a *App) Refresh(ctx context.Context, opts RefreshOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot refresh")
	}
	if closeStore != nil {
		defer closeStore()
	}

	var svcStore service.Store = store
	if opts.Force {
		a.Logger.Info().Msg("forced refresh: ignoring cache freshness")
		svcStore = forceStore{store}
	}

	svc := service.New(a.Config, nil, a.newTracker(store), svcStore, a.newNotifier(), a.Logger)
	return svc.ProcessCycle(ctx, time.Now().UTC())
}

// forceStore hides cache entries so every call looks stale.
type forceStore struct {
	*storage.Store
}

func (f forceStore) GetCacheEntries(ctx context.Context) (map[string]storage.CacheEntry, error) {
	return map[string]storage.CacheEntry{}, nil
}
