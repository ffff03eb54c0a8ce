package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"call-price-tracker/internal/alerting"
	"call-price-tracker/internal/asset"
	"call-price-tracker/internal/config"
	"call-price-tracker/internal/scheduler"
	"call-price-tracker/internal/storage"
	"call-price-tracker/internal/tracker"
)

// Refresher runs one resolution cycle over a set of requests.
type Refresher interface {
	Refresh(ctx context.Context, requests []tracker.Request) ([]tracker.Result, tracker.Summary, error)
}

// Store is the storage surface the service needs.
type Store interface {
	storage.CallStore
	storage.CacheEntryStore
	storage.SnapshotStore
}

// Service orchestrates refresh cycles, persistence, and alerting.
type Service struct {
	scheduler *scheduler.Scheduler
	refresher Refresher
	store     Store
	notifier  alerting.Notifier
	logger    zerolog.Logger

	minGain  decimal.Decimal
	channels []string
	alertsOn bool
	locker   storage.AdvisoryLocker
	lockKey  int64
}

// New constructs the tracking service.
func New(cfg *config.Config, sched *scheduler.Scheduler, refresher Refresher, store Store, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	minGain := decimal.Zero
	if cfg.Alerting.Enabled && cfg.Alerting.MinGainRatio > 0 {
		minGain = decimal.NewFromFloat(cfg.Alerting.MinGainRatio)
	}

	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler: sched,
		refresher: refresher,
		store:     store,
		notifier:  notifier,
		logger:    logger.With().Str("component", "service").Logger(),
		minGain:   minGain,
		channels:  cfg.Alerting.Channels,
		alertsOn:  cfg.Alerting.Enabled,
		locker:    locker,
		lockKey:   cfg.Scheduler.AdvisoryLockKey,
	}
}

// Run begins the periodic refresh loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessCycle)
}

// ProcessCycle executes one refresh cycle under the advisory lock.
func (s *Service) ProcessCycle(ctx context.Context, cycle time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("cycle", cycle).Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.executeCycle(ctx, cycle)
}

func (s *Service) executeCycle(ctx context.Context, cycle time.Time) error {
	calls, err := s.store.ListCalls(ctx)
	if err != nil {
		return fmt.Errorf("list calls: %w", err)
	}
	if len(calls) == 0 {
		s.logger.Debug().Time("cycle", cycle).Msg("no calls to refresh")
		return nil
	}

	entries, err := s.store.GetCacheEntries(ctx)
	if err != nil {
		return fmt.Errorf("get cache entries: %w", err)
	}

	requests := make([]tracker.Request, 0, len(calls))
	previous := make(map[string]*storage.SnapshotRecord, len(calls))
	for _, call := range calls {
		a, err := asset.New(call.Network, call.Address)
		if err != nil {
			s.logger.Warn().Err(err).Str("network", call.Network).Str("address", call.Address).Msg("skipping malformed call")
			continue
		}

		req := tracker.Request{
			Asset:       a,
			CalledAt:    call.CalledAt,
			FirstSeenAt: call.FirstSeenAt,
		}
		if entry, ok := entries[a.ID()]; ok {
			req.LastFetchedAt = entry.LastFetchedAt
			if entry.FirstSeenAt.Before(req.FirstSeenAt) {
				req.FirstSeenAt = entry.FirstSeenAt
			}
		}

		last, err := s.store.LatestForCall(ctx, a.ID(), call.CalledAt)
		if err != nil {
			s.logger.Warn().Err(err).Str("asset", a.ID()).Msg("failed to load previous snapshot")
		} else if last != nil {
			previous[requestKey(a.ID(), call.CalledAt)] = last
			req.LastKnown = snapshotFromRecord(a, *last)
		}

		requests = append(requests, req)
	}

	results, summary, err := s.refresher.Refresh(ctx, requests)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}

	s.logger.Info().Time("cycle", cycle).
		Int("requested", summary.Requested).
		Int("updated", summary.Updated).
		Int("cached", summary.Cached).
		Int("failed", summary.Failed).
		Msg("refresh cycle complete")

	s.dispatchAlerts(ctx, results, previous)
	return nil
}

// dispatchAlerts notifies when a refreshed snapshot carries a higher ATH
// than the previously recorded one.
func (s *Service) dispatchAlerts(ctx context.Context, results []tracker.Result, previous map[string]*storage.SnapshotRecord) {
	if !s.alertsOn || s.notifier == nil {
		return
	}

	for _, res := range results {
		if res.Status != tracker.StatusUpdated || res.Snapshot == nil || res.Snapshot.ATH == nil {
			continue
		}
		snap := res.Snapshot

		var prevATH *decimal.Decimal
		if last := previous[requestKey(snap.Asset.ID(), snap.CalledAt)]; last != nil {
			prevATH = last.ATHPrice
		}
		if prevATH != nil && !snap.ATH.Price.GreaterThan(*prevATH) {
			continue
		}
		if prevATH == nil {
			// First resolution establishes the baseline without alerting.
			continue
		}
		if !s.minGain.IsZero() && snap.PriceAtCall != nil && !snap.PriceAtCall.IsZero() {
			if snap.ATH.Price.Div(*snap.PriceAtCall).LessThan(s.minGain) {
				continue
			}
		}

		athAt := snap.ATH.Timestamp
		note := alerting.Notification{
			AssetID:      snap.Asset.ID(),
			Network:      string(snap.Asset.Network),
			Address:      snap.Asset.Address,
			CalledAt:     snap.CalledAt,
			PriceAtCall:  snap.PriceAtCall,
			ATHPrice:     snap.ATH.Price,
			ATHAt:        &athAt,
			PreviousATH:  prevATH,
			CurrentPrice: snap.CurrentPrice,
			Channels:     s.channels,
		}
		if err := s.notifier.Notify(ctx, note); err != nil {
			s.logger.Error().Err(err).Str("asset", snap.Asset.ID()).Msg("failed to dispatch alert")
		}
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func requestKey(assetID string, calledAt time.Time) string {
	return assetID + "@" + calledAt.UTC().Format(time.RFC3339)
}
