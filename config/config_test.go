package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

// writeTempConfig creates a minimal configuration file required for LoadConfig
// and returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	return f.Name()
}

const minimalConfig = `cascadeflow:
  name: "TestApp"
  version: "1.0"
symbols: ["BTCUSDT"]
`

func TestLoadConfigDefaults(t *testing.T) {
	path := writeTempConfig(t, minimalConfig)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Cascadeflow.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.Cascadeflow.Name)
	}
	if len(cfg.Engine.Timeframes) != 6 {
		t.Fatalf("expected 6 default timeframes, got %d", len(cfg.Engine.Timeframes))
	}
	if cfg.Engine.Timeframes[0].Name != "ultra_fast" || cfg.Engine.Timeframes[0].Duration != 100*time.Millisecond {
		t.Errorf("unexpected first timeframe: %+v", cfg.Engine.Timeframes[0])
	}
	if cfg.Engine.Timeframes[5].Capacity != 300000 {
		t.Errorf("unexpected long capacity: %d", cfg.Engine.Timeframes[5].Capacity)
	}
	if cfg.Engine.OutOfOrderTolerance != 2*time.Second {
		t.Errorf("unexpected tolerance: %v", cfg.Engine.OutOfOrderTolerance)
	}
	if cfg.Engine.MinWindowEvents != 1 || cfg.Engine.SubSecondMinEvents != 3 {
		t.Errorf("unexpected window event floors: %d/%d",
			cfg.Engine.MinWindowEvents, cfg.Engine.SubSecondMinEvents)
	}
	if cfg.Thresholds.Sessions.Weekend != 0.5 {
		t.Errorf("unexpected weekend multiplier: %v", cfg.Thresholds.Sessions.Weekend)
	}
	if got := cfg.Engine.Weights.Sum(); got != 1.0 {
		t.Errorf("default weights must sum to 1.0, got %v", got)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	content := minimalConfig + `engine:
  min_window_events: 3
  sub_second_min_events: 5
  slow_tick_budget: 25ms
thresholds:
  market_cap_overrides:
    BTCUSDT: 1200000000000
`
	path := writeTempConfig(t, content)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Engine.MinWindowEvents != 3 {
		t.Errorf("unexpected min_window_events: %d", cfg.Engine.MinWindowEvents)
	}
	if cfg.Engine.SubSecondMinEvents != 5 {
		t.Errorf("unexpected sub_second_min_events: %d", cfg.Engine.SubSecondMinEvents)
	}
	if cfg.Engine.SlowTickBudget != 25*time.Millisecond {
		t.Errorf("unexpected slow_tick_budget: %v", cfg.Engine.SlowTickBudget)
	}
	if cfg.Thresholds.MarketCapOverrides["BTCUSDT"] != 1.2e12 {
		t.Errorf("unexpected market cap override: %v", cfg.Thresholds.MarketCapOverrides["BTCUSDT"])
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "no symbols",
			content: "cascadeflow:\n  name: x\n  version: \"1\"\n",
			wantErr: "symbols",
		},
		{
			name:    "unknown exchange",
			content: minimalConfig + "exchanges: [binance, deribit]\n",
			wantErr: "unsupported exchange",
		},
		{
			name: "weights do not sum",
			content: minimalConfig + `engine:
  weights:
    velocity: 0.5
    acceleration: 0.2
    volume: 0.2
    correlation: 0.15
    funding: 0.1
    open_interest: 0.1
`,
			wantErr: "weights must sum to 1.0",
		},
		{
			name: "non-positive tier threshold",
			content: minimalConfig + `thresholds:
  tiers:
    tier_1:
      velocity_warn: 0
      velocity_crit: 25
      adv_pct_warn: 0.05
      adv_pct_crit: 0.2
      accel_warn: 20
      accel_crit: 50
`,
			wantErr: "velocity_warn must be greater than 0",
		},
		{
			name: "warn above crit",
			content: minimalConfig + `thresholds:
  tiers:
    micro_cap:
      velocity_warn: 9
      velocity_crit: 4
      adv_pct_warn: 0.5
      adv_pct_crit: 2.0
      accel_warn: 3
      accel_crit: 8
`,
			wantErr: "velocity_warn must be below velocity_crit",
		},
		{
			name: "timeframes out of order",
			content: minimalConfig + `engine:
  timeframes:
    - {name: a, duration: 2s, capacity: 10}
    - {name: b, duration: 1s, capacity: 10}
`,
			wantErr: "ascending duration",
		},
		{
			name:    "bad notifier level",
			content: minimalConfig + "notifier:\n  min_level: URGENT\n",
			wantErr: "unknown signal level",
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			path := writeTempConfig(t, c.content)
			defer os.Remove(path)

			_, err := LoadConfig(path)
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", c.wantErr)
			}
			if !strings.Contains(err.Error(), c.wantErr) {
				t.Errorf("error %q does not contain %q", err.Error(), c.wantErr)
			}
		})
	}
}

func TestTelegramEnvOverride(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_CHAT_ID", "-100200300")

	content := minimalConfig + `notifier:
  telegram:
    enabled: true
`
	path := writeTempConfig(t, content)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Notifier.Telegram.Token != "123:abc" {
		t.Errorf("token not taken from environment: %q", cfg.Notifier.Telegram.Token)
	}
	if cfg.Notifier.Telegram.ChatID != -100200300 {
		t.Errorf("chat id not taken from environment: %d", cfg.Notifier.Telegram.ChatID)
	}
}

func TestIsValidS3Bucket(t *testing.T) {
	cases := []struct {
		name  string
		valid bool
	}{
		{"valid-bucket", true},
		{"Invalid", false},
		{"ab", false},
		{"my..bucket", false},
	}
	for _, c := range cases {
		if got := isValidS3Bucket(c.name); got != c.valid {
			t.Errorf("isValidS3Bucket(%q) = %v, want %v", c.name, got, c.valid)
		}
	}
}

func TestResolvePathPrefersExplicit(t *testing.T) {
	t.Setenv(appEnvVar, "production")
	if got := ResolvePath("custom.yml"); got != "custom.yml" {
		t.Errorf("explicit path overridden: %s", got)
	}
}

func TestResolvePathPicksEnvironmentFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv(appEnvVar, "prod")

	// Without the environment file the default stands.
	if got := ResolvePath(DefaultConfigPath); got != DefaultConfigPath {
		t.Fatalf("expected default path, got %s", got)
	}

	if err := os.WriteFile("config.production.yml", []byte("symbols: [BTCUSDT]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := ResolvePath(DefaultConfigPath); got != "config.production.yml" {
		t.Errorf("environment file not picked up: %s", got)
	}
}

func TestAppEnvironmentNormalizesAliases(t *testing.T) {
	cases := map[string]string{
		"":       EnvironmentDevelopment,
		"prod":   EnvironmentProduction,
		" Stag ": EnvironmentStaging,
		"qa":     "qa",
	}
	for raw, want := range cases {
		t.Setenv(appEnvVar, raw)
		if got := AppEnvironment(); got != want {
			t.Errorf("AppEnvironment() with APP_ENV=%q = %q, want %q", raw, got, want)
		}
	}
}

func TestIsProductionLike(t *testing.T) {
	if !IsProductionLike(EnvironmentProduction) {
		t.Error("production must be production-like")
	}
	if !IsProductionLike(EnvironmentStaging) {
		t.Error("staging must be production-like")
	}
	if IsProductionLike(EnvironmentDevelopment) {
		t.Error("development must not be production-like")
	}
}
