// Package config loads the process-wide configuration described in
// spec.md §6: brokerage credentials, account number, demo flag, log level,
// trading mode, and the per-component tuning knobs each subsystem needs.
// Config is loaded once at boot and treated as immutable afterward.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"time"
)

// Config aggregates every component's settings.
type Config struct {
	Broker       BrokerConfig       `json:"broker"`
	Cache        CacheConfig        `json:"cache"`
	Stream       StreamConfig       `json:"stream"`
	Subscription SubscriptionConfig `json:"subscription"`
	Store        StoreConfig        `json:"store"`
	Executor     ExecutorConfig     `json:"executor"`
	Scheduler    SchedulerConfig    `json:"scheduler"`
	Candle       CandleConfig       `json:"candle"`
	Logging      LoggingConfig      `json:"logging"`
	API          APIConfig          `json:"api"`
}

// BrokerConfig holds brokerage account credentials and mode.
type BrokerConfig struct {
	AppKey        string `json:"app_key"`
	AppSecret     string `json:"app_secret"`
	AccountNumber string `json:"account_number"`
	Demo          bool   `json:"demo"`
	BaseURL       string `json:"base_url"`
	WSURL         string `json:"ws_url"`
	// TradingMode is one of "day" or "swing" (spec.md §6).
	TradingMode string `json:"trading_mode"`
	// DayForceExitTime is the HH:MM local time day-mode positions are
	// force-exited by, e.g. "15:20".
	DayForceExitTime string `json:"day_force_exit_time"`
	// VaultPath, if set, fetches AppKey/AppSecret/AccountNumber from Vault
	// instead of this struct's literal fields (see internal/config/vault.go).
	VaultPath string `json:"vault_path"`
}

// CacheConfig tunes the freshness windows of internal/cache (spec.md §4.1).
type CacheConfig struct {
	StreamFreshWindow time.Duration `json:"stream_fresh_window"`
	StreamUsableWindow time.Duration `json:"stream_usable_window"`
	RESTFreshWindow   time.Duration `json:"rest_fresh_window"`
	AntiOverwriteAge  time.Duration `json:"anti_overwrite_age"`
	RedisAddr         string        `json:"redis_addr"` // optional mirror, empty disables
}

// StreamConfig tunes the Stream Client (spec.md §4.3).
type StreamConfig struct {
	StreamCap          int           `json:"stream_cap"`
	SubscribeTimeout   time.Duration `json:"subscribe_timeout"`
	ReconnectMinBackoff time.Duration `json:"reconnect_min_backoff"`
	ReconnectMaxBackoff time.Duration `json:"reconnect_max_backoff"`
	KeepaliveInterval  time.Duration `json:"keepalive_interval"`
}

// SubscriptionConfig tunes the Subscription Manager (spec.md §4.5).
type SubscriptionConfig struct {
	MaxRealtime      int           `json:"max_realtime"`
	PollingInterval  time.Duration `json:"polling_interval"`
	PollingFloor     time.Duration `json:"polling_floor"`
	PerSymbolThrottle time.Duration `json:"per_symbol_throttle"`
}

// StoreConfig selects and tunes the Trade Store backend (spec.md §4.6).
type StoreConfig struct {
	// Driver is "sqlite" (default, embedded) or "postgres".
	Driver          string        `json:"driver"`
	DSN             string        `json:"dsn"`
	MaxRetries      int           `json:"max_retries"`
	RetryBaseDelay  time.Duration `json:"retry_base_delay"`
}

// ExecutorConfig tunes position sizing and pricing (spec.md §4.7).
type ExecutorConfig struct {
	BaseRatio           float64       `json:"base_ratio"`
	MaxRatio            float64       `json:"max_ratio"`
	MaxAbsoluteBudget   float64       `json:"max_absolute_budget"`
	MinAbsoluteBudget   float64       `json:"min_absolute_budget"`
	ManualSellDiscount  float64       `json:"manual_sell_discount"`
	AutoSellDiscount    float64       `json:"auto_sell_discount"`
	StaleOrderSweepAge  time.Duration `json:"stale_order_sweep_age"`
}

// SchedulerConfig externalizes the TimeSlot table (Design Notes: "the
// scheduler should contain no strategy names as literals except as table
// keys").
type SchedulerConfig struct {
	Slots []TimeSlotConfig `json:"slots"`
}

// TimeSlotConfig is the JSON-serializable form of a TimeSlot (spec.md §3, §4.9).
type TimeSlotConfig struct {
	Name               string             `json:"name"`
	Start              string             `json:"start"` // "HH:MM", empty = open start
	End                string             `json:"end"`   // "HH:MM", empty = open end
	Primary            map[string]float64 `json:"primary"`
	Secondary          map[string]float64 `json:"secondary"`
	MinGapRate         float64            `json:"min_gap_rate"`
	MinTechnicalScore  float64            `json:"min_technical_score"`
	MinVolumeRatio     float64            `json:"min_volume_ratio"`
	MaxCandidatesEach  int                `json:"max_candidates_per_strategy"`
}

// CandleConfig tunes the Candle Trade Manager (spec.md §4.8).
type CandleConfig struct {
	MaxWatch         int     `json:"max_watch"`
	AdmissionMargin  float64 `json:"admission_margin"`
	RegimeOverride   string  `json:"regime_override"` // "", "premarket", "realtime"
}

// LoggingConfig mirrors the teacher's logging.Config fields.
type LoggingConfig struct {
	Level       string `json:"level"`
	Output      string `json:"output"`
	JSONFormat  bool   `json:"json_format"`
	IncludeFile bool   `json:"include_file"`
}

// APIConfig tunes the operator HTTP surface (spec.md §6).
type APIConfig struct {
	ListenAddr string `json:"listen_addr"`
	JWTSecret  string `json:"jwt_secret"`
}

// Default returns the configuration used when no file is present, matching
// the defaults spec.md calls out by name (STREAM_CAP=41, MAX_REALTIME=20,
// polling default 15s floor 10s, etc).
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			Demo:             true,
			TradingMode:      "day",
			DayForceExitTime: "15:20",
		},
		Cache: CacheConfig{
			StreamFreshWindow:  5 * time.Second,
			StreamUsableWindow: 30 * time.Second,
			RESTFreshWindow:    30 * time.Second,
			AntiOverwriteAge:   5 * time.Minute,
		},
		Stream: StreamConfig{
			StreamCap:           41,
			SubscribeTimeout:    15 * time.Second,
			ReconnectMinBackoff: 500 * time.Millisecond,
			ReconnectMaxBackoff: 30 * time.Second,
			KeepaliveInterval:   15 * time.Second,
		},
		Subscription: SubscriptionConfig{
			MaxRealtime:       20,
			PollingInterval:   15 * time.Second,
			PollingFloor:      10 * time.Second,
			PerSymbolThrottle: 75 * time.Millisecond,
		},
		Store: StoreConfig{
			Driver:         "sqlite",
			DSN:            "stockbot.db",
			MaxRetries:     3,
			RetryBaseDelay: 100 * time.Millisecond,
		},
		Executor: ExecutorConfig{
			BaseRatio:          0.1,
			MaxRatio:           0.25,
			MaxAbsoluteBudget:  5_000_000,
			MinAbsoluteBudget:  100_000,
			ManualSellDiscount: 0.003,
			AutoSellDiscount:   0.008,
			StaleOrderSweepAge: 5 * time.Minute,
		},
		Scheduler: SchedulerConfig{Slots: DefaultTimeSlots()},
		Candle: CandleConfig{
			MaxWatch:        100,
			AdmissionMargin: 30,
		},
		Logging: LoggingConfig{
			Level:      "INFO",
			Output:     "stdout",
			JSONFormat: true,
		},
		API: APIConfig{
			ListenAddr: ":8090",
		},
	}
}

// DefaultTimeSlots mirrors spec.md §4.9's default slot table.
func DefaultTimeSlots() []TimeSlotConfig {
	return []TimeSlotConfig{
		{
			Name: "pre_market_early", End: "08:30",
			Primary:           map[string]float64{"gap": 1.0, "technical": 0.8},
			Secondary:         map[string]float64{"volume": 0.6, "momentum": 0.4},
			MaxCandidatesEach: 10,
		},
		{
			Name: "pre_market", Start: "08:30", End: "09:00",
			Primary:           map[string]float64{"gap": 2.0, "technical": 1.8},
			Secondary:         map[string]float64{"volume": 0.8, "momentum": 0.6},
			MaxCandidatesEach: 10,
		},
		{
			Name: "early_market", Start: "09:00", End: "10:30",
			Primary:           map[string]float64{"volume": 2.0, "momentum": 1.8},
			Secondary:         map[string]float64{"gap": 1.2, "technical": 1.0},
			MaxCandidatesEach: 10,
		},
		{
			Name: "mid_market", Start: "10:30", End: "14:00",
			Primary:           map[string]float64{"technical": 2.0, "momentum": 1.5},
			Secondary:         map[string]float64{"volume": 1.2, "gap": 0.8},
			MaxCandidatesEach: 10,
		},
		{
			Name: "late_market", Start: "14:00", End: "15:30",
			Primary:           map[string]float64{"momentum": 1.8, "volume": 1.5},
			Secondary:         map[string]float64{"technical": 1.2, "gap": 0.5},
			MaxCandidatesEach: 10,
		},
	}
}

// Load reads config.json if present, then applies environment overrides
// (env always wins), matching the teacher's config.Load precedence.
func Load() (*Config, error) {
	cfg := Default()

	if data, err := os.ReadFile("config.json"); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.Broker.AppKey = getEnvOrDefault("BROKER_APP_KEY", cfg.Broker.AppKey)
	cfg.Broker.AppSecret = getEnvOrDefault("BROKER_APP_SECRET", cfg.Broker.AppSecret)
	cfg.Broker.AccountNumber = getEnvOrDefault("BROKER_ACCOUNT_NUMBER", cfg.Broker.AccountNumber)
	cfg.Broker.BaseURL = getEnvOrDefault("BROKER_BASE_URL", cfg.Broker.BaseURL)
	cfg.Broker.WSURL = getEnvOrDefault("BROKER_WS_URL", cfg.Broker.WSURL)
	cfg.Broker.TradingMode = getEnvOrDefault("TRADING_MODE", cfg.Broker.TradingMode)
	cfg.Broker.VaultPath = getEnvOrDefault("BROKER_VAULT_PATH", cfg.Broker.VaultPath)
	cfg.Broker.Demo = getEnvBoolOrDefault("BROKER_DEMO", cfg.Broker.Demo)

	cfg.Store.DSN = getEnvOrDefault("STORE_DSN", cfg.Store.DSN)
	cfg.Store.Driver = getEnvOrDefault("STORE_DRIVER", cfg.Store.Driver)

	cfg.Cache.RedisAddr = getEnvOrDefault("CACHE_REDIS_ADDR", cfg.Cache.RedisAddr)

	cfg.Logging.Level = getEnvOrDefault("LOG_LEVEL", cfg.Logging.Level)

	cfg.API.ListenAddr = getEnvOrDefault("API_LISTEN_ADDR", cfg.API.ListenAddr)
	cfg.API.JWTSecret = getEnvOrDefault("API_JWT_SECRET", cfg.API.JWTSecret)
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBoolOrDefault(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
