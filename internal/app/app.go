package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"call-price-tracker/internal/alerting"
	"call-price-tracker/internal/asset"
	"call-price-tracker/internal/config"
	"call-price-tracker/internal/onchain"
	"call-price-tracker/internal/pricing"
	"call-price-tracker/internal/provider"
	"call-price-tracker/internal/scheduler"
	"call-price-tracker/internal/service"
	"call-price-tracker/internal/storage"
	"call-price-tracker/internal/tracker"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newProviders() (*provider.GeckoTerminal, *provider.DexScreener) {
	gecko := provider.NewGeckoTerminal(provider.GeckoTerminalOptions{
		BaseURL:           a.Config.GeckoTerminal.BaseURL,
		Timeout:           a.Config.GeckoTerminal.RequestTimeout,
		UserAgent:         a.Config.GeckoTerminal.UserAgent,
		RequestsPerSecond: a.Config.GeckoTerminal.RequestsPerSecond,
		Burst:             a.Config.GeckoTerminal.Burst,
	}, a.Logger)

	dex := provider.NewDexScreener(provider.DexScreenerOptions{
		BaseURL:           a.Config.DexScreener.BaseURL,
		Timeout:           a.Config.DexScreener.RequestTimeout,
		UserAgent:         a.Config.DexScreener.UserAgent,
		RequestsPerSecond: a.Config.DexScreener.RequestsPerSecond,
		Burst:             a.Config.DexScreener.Burst,
	}, a.Logger)

	return gecko, dex
}

func (a *App) newTracker(store *storage.Store) *tracker.Tracker {
	gecko, dex := a.newProviders()

	historical := pricing.NewHistoricalResolver(gecko, a.Config.Resolver.HistoryPageSize)
	scanner := pricing.NewATHScanner(gecko, pricing.ScanOptions{
		PageLimit: a.Config.ATHScan.PageLimit,
		MaxPages:  a.Config.ATHScan.MaxPages,
		Deadline:  a.Config.ATHScan.Deadline,
	}, a.Logger)

	var supply tracker.SupplySource
	if len(a.Config.Ethereum.RPCURLs) > 0 {
		urls := make(map[asset.Network]string, len(a.Config.Ethereum.RPCURLs))
		for name, url := range a.Config.Ethereum.RPCURLs {
			network, err := asset.ParseNetwork(name)
			if err != nil {
				a.Logger.Warn().Str("network", name).Msg("ignoring rpc url for unknown network")
				continue
			}
			urls[network] = url
		}
		supply = onchain.NewSupplyReader(onchain.SupplyOptions{
			RPCURLs: urls,
			Timeout: a.Config.Ethereum.RequestTimeout,
		}, a.Logger)
	}

	var sink tracker.Sink
	var cache tracker.CacheStore
	if store != nil {
		sink = service.SnapshotSink{Store: store}
		cache = service.CacheTouch{Store: store}
	}

	return tracker.New(gecko, dex, historical, scanner, supply, sink, cache, tracker.Options{
		BatchSize: a.Config.Resolver.BatchSize,
		TTL: tracker.TTLPolicy{
			YoungTTL:      a.Config.Resolver.YoungTTL,
			SeasonedTTL:   a.Config.Resolver.SeasonedTTL,
			SeasonedAfter: a.Config.Resolver.SeasonedAfter,
		},
		Deriver: pricing.MarketCapDeriver{
			TreatMarketCapAsFDV: a.Config.MarketCap.TreatMarketCapAsFDV,
		},
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running tracking service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; the tracking loop needs persistence")
	}
	if closeStore != nil {
		defer closeStore()
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	svc := service.New(a.Config, sched, a.newTracker(store), store, a.newNotifier(), a.Logger)

	a.Logger.Info().Msg("starting tracking service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("tracking service stopped")
	return nil
}

// TrackOptions describe one call to record.
type TrackOptions struct {
	Network  string
	Address  string
	CalledAt time.Time
}

// ExportOptions hold parameters for exporting snapshot history.
type ExportOptions struct {
	AssetID   string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// RefreshOptions configure the one-shot refresh command.
type RefreshOptions struct {
	Force bool
}
