package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"call-price-tracker/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App           AppConfig           `mapstructure:"app"`
	Logging       logging.Config      `mapstructure:"logging"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	GeckoTerminal GeckoTerminalConfig `mapstructure:"geckoterminal"`
	DexScreener   DexScreenerConfig   `mapstructure:"dexscreener"`
	Resolver      ResolverConfig      `mapstructure:"resolver"`
	ATHScan       ATHScanConfig       `mapstructure:"athscan"`
	MarketCap     MarketCapConfig     `mapstructure:"marketcap"`
	Ethereum      EthereumConfig      `mapstructure:"ethereum"`
	Alerting      AlertingConfig      `mapstructure:"alerting"`
	Export        ExportConfig        `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs refresh cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// GeckoTerminalConfig captures the primary market-data provider.
type GeckoTerminalConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	UserAgent         string        `mapstructure:"user_agent"`
}

// DexScreenerConfig captures the fallback market-data provider.
type DexScreenerConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	UserAgent         string        `mapstructure:"user_agent"`
}

// ResolverConfig tunes price resolution behaviour.
type ResolverConfig struct {
	HistoryPageSize int           `mapstructure:"history_page_size"`
	BatchSize       int           `mapstructure:"batch_size"`
	YoungTTL        time.Duration `mapstructure:"young_ttl"`
	SeasonedTTL     time.Duration `mapstructure:"seasoned_ttl"`
	SeasonedAfter   time.Duration `mapstructure:"seasoned_after"`
}

// ATHScanConfig bounds the backwards all-time-high scan.
type ATHScanConfig struct {
	PageLimit int           `mapstructure:"page_limit"`
	MaxPages  int           `mapstructure:"max_pages"`
	Deadline  time.Duration `mapstructure:"deadline"`
}

// MarketCapConfig controls market-cap derivation.
type MarketCapConfig struct {
	TreatMarketCapAsFDV bool `mapstructure:"treat_as_fdv"`
}

// EthereumConfig covers optional on-chain supply lookups per network.
type EthereumConfig struct {
	RPCURLs        map[string]string `mapstructure:"rpc_urls"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled      bool           `mapstructure:"enabled"`
	MinGainRatio float64        `mapstructure:"min_gain_ratio"`
	Cooldown     time.Duration  `mapstructure:"cooldown"`
	Channels     []string       `mapstructure:"channels"`
	Telegram     TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig holds Telegram delivery parameters.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CALLWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "callwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x63616c6c))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("geckoterminal.base_url", "https://api.geckoterminal.com/api/v2")
	v.SetDefault("geckoterminal.request_timeout", "10s")
	v.SetDefault("geckoterminal.requests_per_second", 0.5)
	v.SetDefault("geckoterminal.burst", 1)
	v.SetDefault("geckoterminal.user_agent", "callwatch/1.0")

	v.SetDefault("dexscreener.base_url", "https://api.dexscreener.com")
	v.SetDefault("dexscreener.request_timeout", "10s")
	v.SetDefault("dexscreener.requests_per_second", 4.0)
	v.SetDefault("dexscreener.burst", 2)
	v.SetDefault("dexscreener.user_agent", "callwatch/1.0")

	v.SetDefault("resolver.history_page_size", 30)
	v.SetDefault("resolver.batch_size", 30)
	v.SetDefault("resolver.young_ttl", "5m")
	v.SetDefault("resolver.seasoned_ttl", "60m")
	v.SetDefault("resolver.seasoned_after", "24h")

	v.SetDefault("athscan.page_limit", 1000)
	v.SetDefault("athscan.max_pages", 30)
	v.SetDefault("athscan.deadline", "2m")

	v.SetDefault("marketcap.treat_as_fdv", true)

	v.SetDefault("ethereum.request_timeout", "10s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.min_gain_ratio", 1.0)
	v.SetDefault("alerting.cooldown", "30m")
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.GeckoTerminal.RequestsPerSecond <= 0 {
		return fmt.Errorf("geckoterminal.requests_per_second must be greater than zero")
	}
	if c.DexScreener.RequestsPerSecond <= 0 {
		return fmt.Errorf("dexscreener.requests_per_second must be greater than zero")
	}
	if c.Resolver.BatchSize <= 0 {
		return fmt.Errorf("resolver.batch_size must be greater than zero")
	}
	if c.Resolver.YoungTTL <= 0 || c.Resolver.SeasonedTTL <= 0 {
		return fmt.Errorf("resolver TTLs must be greater than zero")
	}
	if c.ATHScan.PageLimit <= 0 || c.ATHScan.MaxPages <= 0 {
		return fmt.Errorf("athscan.page_limit and athscan.max_pages must be greater than zero")
	}
	if c.ATHScan.Deadline <= 0 {
		return fmt.Errorf("athscan.deadline must be greater than zero")
	}
	if c.Alerting.MinGainRatio < 0 {
		return fmt.Errorf("alerting.min_gain_ratio cannot be negative")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
