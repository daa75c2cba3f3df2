package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lukasbauer/hotline/internal/ratelimit"
)

func TestGetenv(t *testing.T) {
	tests := []struct {
		name     string
		envKey   string
		envValue string
		defValue string
		want     string
	}{
		{name: "env set", envKey: "TEST_ENV_VAR", envValue: "custom_value", defValue: "default", want: "custom_value"},
		{name: "env not set", envKey: "TEST_ENV_VAR_NOTSET", defValue: "default", want: "default"},
		{name: "empty default", envKey: "TEST_ENV_VAR_EMPTY", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.envKey, tt.envValue)
			}
			if got := getenv(tt.envKey, tt.defValue); got != tt.want {
				t.Errorf("getenv(%q, %q) = %q, want %q", tt.envKey, tt.defValue, got, tt.want)
			}
		})
	}
}

func TestGetenvIntClamped(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		def      int
		min      int
		max      int
		want     int
	}{
		{name: "value within range", envValue: "500", def: 100, min: 0, max: 1000, want: 500},
		{name: "value below min - clamp to min", envValue: "-100", def: 100, min: 0, max: 1000, want: 0},
		{name: "value above max - clamp to max", envValue: "5000", def: 100, min: 0, max: 1000, want: 1000},
		{name: "invalid value - use default", envValue: "abc", def: 100, min: 0, max: 1000, want: 100},
		{name: "empty - use default", envValue: "", def: 100, min: 0, max: 1000, want: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_INT", tt.envValue)
			if got := getenvIntClamped("TEST_INT", tt.def, tt.min, tt.max); got != tt.want {
				t.Errorf("getenvIntClamped() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestGetenvFloatClamped(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		want     float64
	}{
		{name: "value within range", envValue: "0.5", want: 0.5},
		{name: "below min", envValue: "-3", want: -1},
		{name: "above max", envValue: "1.5", want: 1},
		{name: "invalid", envValue: "high", want: 0.7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_FLOAT", tt.envValue)
			if got := getenvFloatClamped("TEST_FLOAT", 0.7, -1, 1); got != tt.want {
				t.Errorf("getenvFloatClamped() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetenvDuration(t *testing.T) {
	t.Setenv("TEST_DUR", "90s")
	if got := getenvDuration("TEST_DUR", time.Minute); got != 90*time.Second {
		t.Errorf("getenvDuration() = %v, want 90s", got)
	}
	t.Setenv("TEST_DUR", "soon")
	if got := getenvDuration("TEST_DUR", time.Minute); got != time.Minute {
		t.Errorf("invalid duration should fall back, got %v", got)
	}
	t.Setenv("TEST_DUR", "-5s")
	if got := getenvDuration("TEST_DUR", time.Minute); got != time.Minute {
		t.Errorf("negative duration should fall back, got %v", got)
	}
}

func TestParseList(t *testing.T) {
	got := parseList(" https://a.example, ,https://b.example ")
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Errorf("parseList() = %v", got)
	}
	if parseList("") != nil {
		t.Error("empty input should yield nil")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.TrustProxyHeaders {
		t.Error("TrustProxyHeaders should default to false")
	}
	if cfg.STTLanguage != "uk" || cfg.STTSampleRate != 16000 {
		t.Errorf("STT defaults = %q/%d", cfg.STTLanguage, cfg.STTSampleRate)
	}
	if cfg.EngineTimeout != 30*time.Second || cfg.EngineWorkers != 8 {
		t.Errorf("engine defaults = %v/%d", cfg.EngineTimeout, cfg.EngineWorkers)
	}
	if cfg.MaxSessions != 100 || cfg.MaxAudioBytes != 5<<20 || cfg.MaxUploadBytes != 25<<20 {
		t.Errorf("limits = %d/%d/%d", cfg.MaxSessions, cfg.MaxAudioBytes, cfg.MaxUploadBytes)
	}

	want := map[ratelimit.Scope]int{
		ratelimit.ScopeClassify:   10,
		ratelimit.ScopeTranscribe: 5,
		ratelimit.ScopeSynthesize: 20,
		ratelimit.ScopeWSAudio:    5,
		ratelimit.ScopeWSText:     30,
		ratelimit.ScopeRead:       60,
	}
	policies := cfg.Policies()
	for scope, limit := range want {
		p := policies[scope]
		if p.Limit != limit || p.Window != time.Minute {
			t.Errorf("%s policy = %+v, want %d per minute", scope, p, limit)
		}
	}
	if cfg.JWTExpiry != 24*time.Hour {
		t.Errorf("JWTExpiry = %v, want 24h", cfg.JWTExpiry)
	}
}

func TestLoadConfigYAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
http_addr: ":9090"
max_sessions: 7
greeting_text: "Гаряча лінія"
allowed_origins: ["https://ops.example"]
rate_limits:
  classify:
    limit: 3
    window: 10s
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("MAX_SESSIONS", "12")
	t.Setenv("RATE_READ_LIMIT", "99")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr = %q, want value from YAML", cfg.HTTPAddr)
	}
	if cfg.MaxSessions != 12 {
		t.Errorf("MaxSessions = %d, env should override YAML", cfg.MaxSessions)
	}
	if cfg.GreetingText != "Гаряча лінія" {
		t.Errorf("GreetingText = %q", cfg.GreetingText)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "https://ops.example" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}

	policies := cfg.Policies()
	if p := policies[ratelimit.ScopeClassify]; p.Limit != 3 || p.Window != 10*time.Second {
		t.Errorf("classify policy = %+v, want 3 per 10s", p)
	}
	if p := policies[ratelimit.ScopeRead]; p.Limit != 99 {
		t.Errorf("read limit = %d, want 99", p.Limit)
	}
	if p := policies[ratelimit.ScopeTranscribe]; p.Limit != 5 {
		t.Errorf("transcribe limit = %d, YAML without the scope keeps the default", p.Limit)
	}
}

func TestLoadConfigRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("max_sessions: [nope"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_PATH", path)

	if _, err := LoadConfig(); err == nil {
		t.Error("malformed YAML should fail")
	}
}
