package config

import (
	"fmt"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Cascadeflow CascadeflowConfig `yaml:"cascadeflow"`
	Symbols     []string          `yaml:"symbols"`
	Exchanges   []string          `yaml:"exchanges"`
	Engine      EngineConfig      `yaml:"engine"`
	Thresholds  ThresholdsConfig  `yaml:"thresholds"`
	Channels    ChannelsConfig    `yaml:"channels"`
	Feeds       FeedsConfig       `yaml:"feeds"`
	Processor   ProcessorConfig   `yaml:"processor"`
	Notifier    NotifierConfig    `yaml:"notifier"`
	Archive     ArchiveConfig     `yaml:"archive"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type CascadeflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// TimeframeConfig defines one sliding window. Capacity bounds the ring buffer
// backing the window; on overflow the oldest events are dropped regardless of
// age.
type TimeframeConfig struct {
	Name     string        `yaml:"name"`
	Duration time.Duration `yaml:"duration"`
	Capacity int           `yaml:"capacity"`
}

// WeightsConfig holds the composite score weights. They must sum to 1.
type WeightsConfig struct {
	Velocity     float64 `yaml:"velocity"`
	Acceleration float64 `yaml:"acceleration"`
	Volume       float64 `yaml:"volume"`
	Correlation  float64 `yaml:"correlation"`
	Funding      float64 `yaml:"funding"`
	OpenInterest float64 `yaml:"open_interest"`
}

func (w WeightsConfig) Sum() float64 {
	return w.Velocity + w.Acceleration + w.Volume + w.Correlation + w.Funding + w.OpenInterest
}

type EngineConfig struct {
	Timeframes []TimeframeConfig `yaml:"timeframes"`

	// SnapshotHistory bounds the per (symbol, timeframe) metric snapshot
	// ring used to derive acceleration.
	SnapshotHistory int `yaml:"snapshot_history"`

	// OutOfOrderTolerance is the maximum clock skew accepted for late
	// events; events later than this are rejected and counted.
	OutOfOrderTolerance time.Duration `yaml:"out_of_order_tolerance"`

	// StalenessBound is the maximum age of funding/open-interest scores
	// before they are treated as missing.
	StalenessBound time.Duration `yaml:"staleness_bound"`

	// MinWindowEvents is the smallest event count that makes a window
	// eligible for timeframe selection during scoring.
	MinWindowEvents int `yaml:"min_window_events"`

	// SubSecondMinEvents raises that floor for windows shorter than one
	// second. A lone event in a 100ms window already reads as 10 ev/s, so
	// sub-second windows need a real burst before they may be selected.
	SubSecondMinEvents int `yaml:"sub_second_min_events"`

	TickInterval      time.Duration `yaml:"tick_interval"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	SlowTickBudget    time.Duration `yaml:"slow_tick_budget"`
	CorrelationWindow time.Duration `yaml:"correlation_window"`
	AccelerationBoost float64       `yaml:"acceleration_boost"`
	Weights           WeightsConfig `yaml:"weights"`
	SignalBuffer      int           `yaml:"signal_buffer"`
}

// TierConfig holds base thresholds for one liquidity tier. Volume thresholds
// derive from ADVPct: the share of a day's volume, concentrated into one
// minute, expressed as a per second USD rate.
type TierConfig struct {
	VelocityWarn float64 `yaml:"velocity_warn"`
	VelocityCrit float64 `yaml:"velocity_crit"`
	ADVPctWarn   float64 `yaml:"adv_pct_warn"`
	ADVPctCrit   float64 `yaml:"adv_pct_crit"`
	AccelWarn    float64 `yaml:"accel_warn"`
	AccelCrit    float64 `yaml:"accel_crit"`
}

type TiersConfig struct {
	Tier1    TierConfig `yaml:"tier_1"`
	Tier2    TierConfig `yaml:"tier_2"`
	Tier3    TierConfig `yaml:"tier_3"`
	MicroCap TierConfig `yaml:"micro_cap"`
}

type SessionMultipliers struct {
	Asian    float64 `yaml:"asian"`
	European float64 `yaml:"european"`
	US       float64 `yaml:"us"`
	Weekend  float64 `yaml:"weekend"`
}

type ThresholdsConfig struct {
	ReviewInterval time.Duration      `yaml:"review_interval"`
	DefaultADVUSD  float64            `yaml:"default_adv_usd"`
	Sessions       SessionMultipliers `yaml:"sessions"`
	VolatilityMin  float64            `yaml:"volatility_min"`
	VolatilityMax  float64            `yaml:"volatility_max"`
	Tiers          TiersConfig        `yaml:"tiers"`

	// MarketCapOverrides supplies market caps for symbols whose feed does
	// not carry one, keyed by canonical symbol.
	MarketCapOverrides map[string]float64 `yaml:"market_cap_overrides"`
}

type ChannelsConfig struct {
	RawBuffer     int `yaml:"raw_buffer"`
	DerivBuffer   int `yaml:"deriv_buffer"`
	ProfileBuffer int `yaml:"profile_buffer"`
}

type FeedsConfig struct {
	Binance BinanceFeedConfig `yaml:"binance"`
	Bybit   BybitFeedConfig   `yaml:"bybit"`
	Okx     OkxFeedConfig     `yaml:"okx"`
	Kucoin  KucoinFeedConfig  `yaml:"kucoin"`
}

type BinanceFeedConfig struct {
	Liquidations bool `yaml:"liquidations"`
	Funding      bool `yaml:"funding"`
	Profile      bool `yaml:"profile"`

	WSURL   string `yaml:"ws_url"`
	RestURL string `yaml:"rest_url"`

	ProfileInterval   time.Duration `yaml:"profile_interval"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

type BybitFeedConfig struct {
	Liquidations bool   `yaml:"liquidations"`
	Derivatives  bool   `yaml:"derivatives"`
	WSURL        string `yaml:"ws_url"`
}

type OkxFeedConfig struct {
	Liquidations bool   `yaml:"liquidations"`
	WSURL        string `yaml:"ws_url"`
}

type KucoinFeedConfig struct {
	Liquidations bool `yaml:"liquidations"`
}

type ProcessorConfig struct {
	Workers int `yaml:"workers"`

	// FundingDeltaReference is the absolute funding rate change that maps
	// to a funding trend score of 1.0.
	FundingDeltaReference float64 `yaml:"funding_delta_reference"`
	// OIChangePctReference is the absolute open interest percentage change
	// between observations that maps to an OI change score of 1.0.
	OIChangePctReference float64 `yaml:"oi_change_pct_reference"`
	// TypicalDailyMovePct is the 24h price move treated as volatility 1.0.
	TypicalDailyMovePct float64 `yaml:"typical_daily_move_pct"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  int64  `yaml:"chat_id"`
}

type NotifierConfig struct {
	MinLevel string         `yaml:"min_level"`
	Cooldown time.Duration  `yaml:"cooldown"`
	Buffer   int            `yaml:"buffer"`
	Telegram TelegramConfig `yaml:"telegram"`
}

type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type ArchiveConfig struct {
	Enabled       bool          `yaml:"enabled"`
	MinLevel      string        `yaml:"min_level"`
	Buffer        int           `yaml:"buffer"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	// Catalog uploads Iceberg style table metadata next to each parquet
	// batch so query engines can discover the archive without listing keys.
	Catalog bool     `yaml:"catalog"`
	S3      S3Config `yaml:"s3"`
}

type DashboardConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	History int    `yaml:"history"`
}

type CloudWatchConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Namespace string        `yaml:"namespace"`
	Region    string        `yaml:"region"`
	Interval  time.Duration `yaml:"interval"`
}

type MetricsConfig struct {
	PrometheusListen string           `yaml:"prometheus_listen"`
	ChannelSize      bool             `yaml:"channel_size"`
	UsedWeight       bool             `yaml:"used_weight"`
	CloudWatch       CloudWatchConfig `yaml:"cloudwatch"`
}

type LoggingConfig struct {
	Level          string                 `yaml:"level"`
	Format         string                 `yaml:"format"`
	Output         string                 `yaml:"output"`
	MaxAge         int                    `yaml:"max_age"`
	Fields         map[string]interface{} `yaml:"fields"`
	ReportInterval time.Duration          `yaml:"report_interval"`
}

// Default returns a configuration populated with the documented defaults.
// Loading a file overlays it, so a minimal file runs the default behaviour.
func Default() *Config {
	return &Config{
		Cascadeflow: CascadeflowConfig{
			Name:    "CascadeFlow",
			Version: "1.0.0",
		},
		Exchanges: []string{"binance", "bybit", "okx", "kucoin"},
		Engine: EngineConfig{
			Timeframes: []TimeframeConfig{
				{Name: "ultra_fast", Duration: 100 * time.Millisecond, Capacity: 100},
				{Name: "fast", Duration: 500 * time.Millisecond, Capacity: 500},
				{Name: "burst", Duration: 2 * time.Second, Capacity: 2000},
				{Name: "short", Duration: 10 * time.Second, Capacity: 10000},
				{Name: "medium", Duration: 60 * time.Second, Capacity: 60000},
				{Name: "long", Duration: 300 * time.Second, Capacity: 300000},
			},
			SnapshotHistory:     100,
			OutOfOrderTolerance: 2 * time.Second,
			StalenessBound:      5 * time.Minute,
			MinWindowEvents:     1,
			SubSecondMinEvents:  3,
			TickInterval:        100 * time.Millisecond,
			SweepInterval:       time.Second,
			SlowTickBudget:      10 * time.Millisecond,
			CorrelationWindow:   2 * time.Second,
			AccelerationBoost:   1.5,
			Weights: WeightsConfig{
				Velocity:     0.25,
				Acceleration: 0.20,
				Volume:       0.20,
				Correlation:  0.15,
				Funding:      0.10,
				OpenInterest: 0.10,
			},
			SignalBuffer: 1024,
		},
		Thresholds: ThresholdsConfig{
			ReviewInterval: time.Hour,
			DefaultADVUSD:  10_000_000,
			Sessions: SessionMultipliers{
				Asian:    0.7,
				European: 0.9,
				US:       1.0,
				Weekend:  0.5,
			},
			VolatilityMin: 0.5,
			VolatilityMax: 2.0,
			Tiers: TiersConfig{
				Tier1:    TierConfig{VelocityWarn: 10, VelocityCrit: 25, ADVPctWarn: 0.05, ADVPctCrit: 0.20, AccelWarn: 20, AccelCrit: 50},
				Tier2:    TierConfig{VelocityWarn: 6, VelocityCrit: 15, ADVPctWarn: 0.10, ADVPctCrit: 0.40, AccelWarn: 12, AccelCrit: 30},
				Tier3:    TierConfig{VelocityWarn: 3, VelocityCrit: 8, ADVPctWarn: 0.20, ADVPctCrit: 0.80, AccelWarn: 6, AccelCrit: 15},
				MicroCap: TierConfig{VelocityWarn: 1.5, VelocityCrit: 4, ADVPctWarn: 0.50, ADVPctCrit: 2.00, AccelWarn: 3, AccelCrit: 8},
			},
		},
		Channels: ChannelsConfig{
			RawBuffer:     4096,
			DerivBuffer:   1024,
			ProfileBuffer: 256,
		},
		Processor: ProcessorConfig{
			Workers:               4,
			FundingDeltaReference: 0.0005,
			OIChangePctReference:  5.0,
			TypicalDailyMovePct:   3.0,
		},
		Notifier: NotifierConfig{
			MinLevel: "ALERT",
			Cooldown: 5 * time.Minute,
			Buffer:   256,
		},
		Archive: ArchiveConfig{
			MinLevel:      "WATCH",
			Buffer:        1024,
			BatchSize:     500,
			FlushInterval: time.Minute,
		},
		Dashboard: DashboardConfig{
			Listen:  ":8080",
			History: 200,
		},
		Metrics: MetricsConfig{
			PrometheusListen: ":2112",
			ChannelSize:      true,
			UsedWeight:       true,
			CloudWatch: CloudWatchConfig{
				Namespace: "CascadeFlow",
				Interval:  time.Minute,
			},
		},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "json",
			Output:         "stdout",
			MaxAge:         7,
			ReportInterval: time.Minute,
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(config)

	config.Archive.S3.Bucket = strings.TrimSpace(config.Archive.S3.Bucket)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// applyEnvOverrides pulls secrets from the environment so they never have to
// live in the config file.
func applyEnvOverrides(config *Config) {
	if config.Archive.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Archive.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Archive.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Archive.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Archive.S3.Bucket = strings.TrimSpace(v)
		}
	}

	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		config.Notifier.Telegram.Token = strings.TrimSpace(v)
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			config.Notifier.Telegram.ChatID = id
		}
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Cascadeflow.Name == "" {
		return fmt.Errorf("cascadeflow.name is required")
	}
	if cfg.Cascadeflow.Version == "" {
		return fmt.Errorf("cascadeflow.version is required")
	}

	if len(cfg.Symbols) == 0 {
		return fmt.Errorf("symbols must list at least one symbol")
	}
	if len(cfg.Exchanges) == 0 {
		return fmt.Errorf("exchanges must list at least one exchange")
	}
	seen := make(map[string]bool, len(cfg.Exchanges))
	for _, ex := range cfg.Exchanges {
		switch ex {
		case "binance", "bybit", "okx", "kucoin":
		default:
			return fmt.Errorf("exchanges contains unsupported exchange %q", ex)
		}
		if seen[ex] {
			return fmt.Errorf("exchanges lists %q more than once", ex)
		}
		seen[ex] = true
	}

	if err := validateEngine(&cfg.Engine); err != nil {
		return err
	}
	if err := validateThresholds(&cfg.Thresholds); err != nil {
		return err
	}

	if cfg.Channels.RawBuffer <= 0 {
		return fmt.Errorf("channels.raw_buffer must be greater than 0")
	}
	if cfg.Channels.DerivBuffer <= 0 {
		return fmt.Errorf("channels.deriv_buffer must be greater than 0")
	}
	if cfg.Channels.ProfileBuffer <= 0 {
		return fmt.Errorf("channels.profile_buffer must be greater than 0")
	}

	if cfg.Processor.Workers <= 0 {
		return fmt.Errorf("processor.workers must be greater than 0")
	}
	if cfg.Processor.FundingDeltaReference <= 0 {
		return fmt.Errorf("processor.funding_delta_reference must be greater than 0")
	}
	if cfg.Processor.OIChangePctReference <= 0 {
		return fmt.Errorf("processor.oi_change_pct_reference must be greater than 0")
	}
	if cfg.Processor.TypicalDailyMovePct <= 0 {
		return fmt.Errorf("processor.typical_daily_move_pct must be greater than 0")
	}

	if _, err := parseLevelName(cfg.Notifier.MinLevel); err != nil {
		return fmt.Errorf("notifier.min_level: %w", err)
	}
	if cfg.Notifier.Cooldown < 0 {
		return fmt.Errorf("notifier.cooldown must not be negative")
	}
	if cfg.Notifier.Telegram.Enabled {
		if cfg.Notifier.Telegram.Token == "" {
			return fmt.Errorf("notifier.telegram.token (or TELEGRAM_BOT_TOKEN) is required when telegram is enabled")
		}
		if cfg.Notifier.Telegram.ChatID == 0 {
			return fmt.Errorf("notifier.telegram.chat_id (or TELEGRAM_CHAT_ID) is required when telegram is enabled")
		}
	}

	if cfg.Archive.Enabled {
		if _, err := parseLevelName(cfg.Archive.MinLevel); err != nil {
			return fmt.Errorf("archive.min_level: %w", err)
		}
		if cfg.Archive.BatchSize <= 0 {
			return fmt.Errorf("archive.batch_size must be greater than 0")
		}
		if cfg.Archive.FlushInterval <= 0 {
			return fmt.Errorf("archive.flush_interval must be greater than 0")
		}
		if cfg.Archive.S3.Bucket == "" {
			return fmt.Errorf("archive.s3.bucket is required when the archive is enabled")
		}
		if cfg.Archive.S3.Region == "" {
			return fmt.Errorf("archive.s3.region is required when the archive is enabled")
		}
		if cfg.Archive.S3.AccessKeyID == "" || cfg.Archive.S3.SecretAccessKey == "" {
			return fmt.Errorf("archive.s3.access_key_id and archive.s3.secret_access_key are required when the archive is enabled")
		}
		if !isValidS3Bucket(cfg.Archive.S3.Bucket) {
			return fmt.Errorf("archive.s3.bucket '%s' is invalid", cfg.Archive.S3.Bucket)
		}
	}

	if cfg.Dashboard.Enabled && cfg.Dashboard.Listen == "" {
		return fmt.Errorf("dashboard.listen is required when the dashboard is enabled")
	}
	if cfg.Dashboard.History < 0 {
		return fmt.Errorf("dashboard.history must not be negative")
	}

	if cfg.Metrics.CloudWatch.Enabled {
		if cfg.Metrics.CloudWatch.Namespace == "" {
			return fmt.Errorf("metrics.cloudwatch.namespace is required when cloudwatch is enabled")
		}
		if cfg.Metrics.CloudWatch.Region == "" {
			return fmt.Errorf("metrics.cloudwatch.region is required when cloudwatch is enabled")
		}
		if cfg.Metrics.CloudWatch.Interval <= 0 {
			return fmt.Errorf("metrics.cloudwatch.interval must be greater than 0")
		}
	}

	return nil
}

func validateEngine(engine *EngineConfig) error {
	if len(engine.Timeframes) == 0 {
		return fmt.Errorf("engine.timeframes must list at least one timeframe")
	}
	names := make(map[string]bool, len(engine.Timeframes))
	var prev time.Duration
	for i, tf := range engine.Timeframes {
		if tf.Name == "" {
			return fmt.Errorf("engine.timeframes[%d].name is required", i)
		}
		if names[tf.Name] {
			return fmt.Errorf("engine.timeframes lists %q more than once", tf.Name)
		}
		names[tf.Name] = true
		if tf.Duration <= 0 {
			return fmt.Errorf("engine.timeframes[%d].duration must be greater than 0", i)
		}
		if tf.Duration <= prev {
			return fmt.Errorf("engine.timeframes must be ordered by ascending duration")
		}
		prev = tf.Duration
		if tf.Capacity <= 0 {
			return fmt.Errorf("engine.timeframes[%d].capacity must be greater than 0", i)
		}
	}

	if engine.SnapshotHistory < 2 {
		return fmt.Errorf("engine.snapshot_history must be at least 2")
	}
	if engine.OutOfOrderTolerance < 0 {
		return fmt.Errorf("engine.out_of_order_tolerance must not be negative")
	}
	if engine.StalenessBound <= 0 {
		return fmt.Errorf("engine.staleness_bound must be greater than 0")
	}
	if engine.MinWindowEvents < 1 {
		return fmt.Errorf("engine.min_window_events must be at least 1")
	}
	if engine.SubSecondMinEvents < 1 {
		return fmt.Errorf("engine.sub_second_min_events must be at least 1")
	}
	if engine.TickInterval <= 0 {
		return fmt.Errorf("engine.tick_interval must be greater than 0")
	}
	if engine.SweepInterval <= 0 {
		return fmt.Errorf("engine.sweep_interval must be greater than 0")
	}
	if engine.SlowTickBudget <= 0 {
		return fmt.Errorf("engine.slow_tick_budget must be greater than 0")
	}
	if engine.CorrelationWindow <= 0 {
		return fmt.Errorf("engine.correlation_window must be greater than 0")
	}
	if engine.AccelerationBoost < 1 {
		return fmt.Errorf("engine.acceleration_boost must be at least 1")
	}
	if engine.SignalBuffer <= 0 {
		return fmt.Errorf("engine.signal_buffer must be greater than 0")
	}

	w := engine.Weights
	for _, pair := range []struct {
		name  string
		value float64
	}{
		{"velocity", w.Velocity},
		{"acceleration", w.Acceleration},
		{"volume", w.Volume},
		{"correlation", w.Correlation},
		{"funding", w.Funding},
		{"open_interest", w.OpenInterest},
	} {
		if pair.value < 0 {
			return fmt.Errorf("engine.weights.%s must not be negative", pair.name)
		}
	}
	if math.Abs(w.Sum()-1.0) > 1e-9 {
		return fmt.Errorf("engine.weights must sum to 1.0, got %v", w.Sum())
	}

	return nil
}

func validateThresholds(thresholds *ThresholdsConfig) error {
	if thresholds.ReviewInterval <= 0 {
		return fmt.Errorf("thresholds.review_interval must be greater than 0")
	}
	if thresholds.DefaultADVUSD <= 0 {
		return fmt.Errorf("thresholds.default_adv_usd must be greater than 0")
	}

	sessions := thresholds.Sessions
	for _, pair := range []struct {
		name  string
		value float64
	}{
		{"asian", sessions.Asian},
		{"european", sessions.European},
		{"us", sessions.US},
		{"weekend", sessions.Weekend},
	} {
		if pair.value <= 0 {
			return fmt.Errorf("thresholds.sessions.%s must be greater than 0", pair.name)
		}
	}

	if thresholds.VolatilityMin <= 0 {
		return fmt.Errorf("thresholds.volatility_min must be greater than 0")
	}
	if thresholds.VolatilityMax < thresholds.VolatilityMin {
		return fmt.Errorf("thresholds.volatility_max must not be below thresholds.volatility_min")
	}

	for _, tier := range []struct {
		name string
		cfg  TierConfig
	}{
		{"tier_1", thresholds.Tiers.Tier1},
		{"tier_2", thresholds.Tiers.Tier2},
		{"tier_3", thresholds.Tiers.Tier3},
		{"micro_cap", thresholds.Tiers.MicroCap},
	} {
		if err := validateTier(tier.name, tier.cfg); err != nil {
			return err
		}
	}

	for symbol, cap := range thresholds.MarketCapOverrides {
		if cap <= 0 {
			return fmt.Errorf("thresholds.market_cap_overrides[%s] must be greater than 0", symbol)
		}
	}

	return nil
}

func validateTier(name string, tier TierConfig) error {
	for _, pair := range []struct {
		field string
		value float64
	}{
		{"velocity_warn", tier.VelocityWarn},
		{"velocity_crit", tier.VelocityCrit},
		{"adv_pct_warn", tier.ADVPctWarn},
		{"adv_pct_crit", tier.ADVPctCrit},
		{"accel_warn", tier.AccelWarn},
		{"accel_crit", tier.AccelCrit},
	} {
		if pair.value <= 0 {
			return fmt.Errorf("thresholds.tiers.%s.%s must be greater than 0", name, pair.field)
		}
	}
	if tier.VelocityWarn >= tier.VelocityCrit {
		return fmt.Errorf("thresholds.tiers.%s: velocity_warn must be below velocity_crit", name)
	}
	if tier.ADVPctWarn >= tier.ADVPctCrit {
		return fmt.Errorf("thresholds.tiers.%s: adv_pct_warn must be below adv_pct_crit", name)
	}
	if tier.AccelWarn >= tier.AccelCrit {
		return fmt.Errorf("thresholds.tiers.%s: accel_warn must be below accel_crit", name)
	}
	return nil
}

// parseLevelName validates signal level names used across the config without
// importing the models package from here.
func parseLevelName(s string) (string, error) {
	needle := strings.ToUpper(strings.TrimSpace(s))
	switch needle {
	case "NONE", "WATCH", "ALERT", "CRITICAL", "EXTREME":
		return needle, nil
	}
	return "", fmt.Errorf("unknown signal level %q", s)
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
