package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lukasbauer/hotline/internal/ratelimit"
)

type RatePolicy struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

type Config struct {
	HTTPAddr       string   `yaml:"http_addr"`
	PublicBaseURL  string   `yaml:"public_base_url"`
	DatabaseURL    string   `yaml:"database_url"`
	RedisURL       string   `yaml:"redis_url"`
	LogLevel       string   `yaml:"log_level"`
	SentryDSN      string   `yaml:"sentry_dsn"`
	Environment    string   `yaml:"environment"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MigrateOnStart bool     `yaml:"migrate_on_start"`

	// Read the client address from X-Forwarded-For. Only enable behind a proxy
	// that overwrites the header.
	TrustProxyHeaders bool `yaml:"trust_proxy_headers"`

	// Speech providers
	OpenAIAPIKey     string `yaml:"openai_api_key"`
	DeepgramAPIKey   string `yaml:"deepgram_api_key"`
	ElevenLabsAPIKey string `yaml:"elevenlabs_api_key"`
	STTLanguage      string `yaml:"stt_language"`
	STTSampleRate    int    `yaml:"stt_sample_rate"`
	FFmpegPath       string `yaml:"ffmpeg_path"`

	// Session defaults
	GreetingText  string        `yaml:"greeting_text"`
	TTSVoiceID    string        `yaml:"tts_voice_id"`
	TTSStability  float64       `yaml:"tts_stability"`
	TTSSimilarity float64       `yaml:"tts_similarity"`
	EngineTimeout time.Duration `yaml:"engine_timeout"`
	EngineWorkers int           `yaml:"engine_concurrency"`

	// Limits
	MaxSessions         int                            `yaml:"max_sessions"`
	MaxAudioBytes       int                            `yaml:"max_audio_bytes"`
	MaxUploadBytes      int64                          `yaml:"max_upload_bytes"`
	RateLimits          map[ratelimit.Scope]RatePolicy `yaml:"rate_limits"`
	RateSweepInterval   time.Duration                  `yaml:"rate_sweep_interval"`
	RateLimitMaxEntries int                            `yaml:"rate_limit_max_entries"`

	// Auth
	JWTSecret     string        `yaml:"jwt_secret"`
	JWTExpiry     time.Duration `yaml:"jwt_expiry"`
	APIUsername   string        `yaml:"api_username"`
	APIPassword   string        `yaml:"api_password"`
	AdminUsername string        `yaml:"admin_username"`
	AdminPassword string        `yaml:"admin_password"`

	// Operator notifications
	DiscordWebhookURL string `yaml:"discord_webhook_url"`
	APNsKeyPath       string `yaml:"apns_key_path"`
	APNsKeyID         string `yaml:"apns_key_id"`
	APNsTeamID        string `yaml:"apns_team_id"`
	APNsBundleID      string `yaml:"apns_bundle_id"`
	APNsProduction    bool   `yaml:"apns_production"`
}

const defaultGreeting = "Вітаю! Ви зателефонували на гарячу лінію. Опишіть, будь ласка, вашу проблему."

// rateScopes lists each limited scope with its default policy.
var rateScopes = []struct {
	scope ratelimit.Scope
	env   string
	def   RatePolicy
}{
	{ratelimit.ScopeClassify, "RATE_CLASSIFY", RatePolicy{10, time.Minute}},
	{ratelimit.ScopeTranscribe, "RATE_TRANSCRIBE", RatePolicy{5, time.Minute}},
	{ratelimit.ScopeSynthesize, "RATE_SYNTHESIZE", RatePolicy{20, time.Minute}},
	{ratelimit.ScopeWSAudio, "RATE_WS_AUDIO", RatePolicy{5, time.Minute}},
	{ratelimit.ScopeWSText, "RATE_WS_TEXT", RatePolicy{30, time.Minute}},
	{ratelimit.ScopeRead, "RATE_READ", RatePolicy{60, time.Minute}},
}

func defaultConfig() Config {
	cfg := Config{
		HTTPAddr:            ":8080",
		PublicBaseURL:       "http://localhost:8080",
		LogLevel:            "info",
		Environment:         "development",
		STTLanguage:         "uk",
		STTSampleRate:       16000,
		FFmpegPath:          "ffmpeg",
		GreetingText:        defaultGreeting,
		TTSStability:        -1,
		TTSSimilarity:       -1,
		EngineTimeout:       30 * time.Second,
		EngineWorkers:       8,
		MaxSessions:         100,
		MaxAudioBytes:       5 << 20,
		MaxUploadBytes:      25 << 20,
		RateLimits:          map[ratelimit.Scope]RatePolicy{},
		RateSweepInterval:   5 * time.Minute,
		RateLimitMaxEntries: 100_000,
		JWTExpiry:           24 * time.Hour,
	}
	for _, s := range rateScopes {
		cfg.RateLimits[s.scope] = s.def
	}
	return cfg
}

// LoadConfig reads the optional YAML file named by CONFIG_PATH, then applies
// environment overrides. A missing file is not an error.
func LoadConfig() (Config, error) {
	cfg := defaultConfig()
	path := getenv("CONFIG_PATH", "config.yaml")
	if err := loadYAML(path, &cfg); err != nil {
		return Config{}, err
	}
	applyEnv(&cfg)
	return cfg, nil
}

func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.HTTPAddr = getenv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.PublicBaseURL = getenv("PUBLIC_BASE_URL", cfg.PublicBaseURL)
	cfg.DatabaseURL = getenv("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisURL = getenv("REDIS_URL", cfg.RedisURL)
	cfg.LogLevel = getenv("LOG_LEVEL", cfg.LogLevel)
	cfg.SentryDSN = getenv("SENTRY_DSN", cfg.SentryDSN)
	cfg.Environment = getenv("ENVIRONMENT", cfg.Environment)
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = parseList(v)
	}
	cfg.MigrateOnStart = getenvBool("MIGRATE_ON_START", cfg.MigrateOnStart)
	cfg.TrustProxyHeaders = getenvBool("TRUST_PROXY_HEADERS", cfg.TrustProxyHeaders)

	cfg.OpenAIAPIKey = getenv("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.DeepgramAPIKey = getenv("DEEPGRAM_API_KEY", cfg.DeepgramAPIKey)
	cfg.ElevenLabsAPIKey = getenv("ELEVENLABS_API_KEY", cfg.ElevenLabsAPIKey)
	cfg.STTLanguage = getenv("STT_LANGUAGE", cfg.STTLanguage)
	cfg.STTSampleRate = getenvIntClamped("STT_SAMPLE_RATE", cfg.STTSampleRate, 8000, 48000)
	cfg.FFmpegPath = getenv("FFMPEG_PATH", cfg.FFmpegPath)

	cfg.GreetingText = getenv("GREETING_TEXT", cfg.GreetingText)
	cfg.TTSVoiceID = getenv("TTS_VOICE_ID", cfg.TTSVoiceID)
	cfg.TTSStability = getenvFloatClamped("TTS_STABILITY", cfg.TTSStability, -1, 1)
	cfg.TTSSimilarity = getenvFloatClamped("TTS_SIMILARITY", cfg.TTSSimilarity, -1, 1)
	cfg.EngineTimeout = getenvDuration("ENGINE_TIMEOUT", cfg.EngineTimeout)
	cfg.EngineWorkers = getenvIntClamped("ENGINE_CONCURRENCY", cfg.EngineWorkers, 1, 256)

	cfg.MaxSessions = getenvIntClamped("MAX_SESSIONS", cfg.MaxSessions, 1, 10000)
	cfg.MaxAudioBytes = getenvIntClamped("MAX_AUDIO_BYTES", cfg.MaxAudioBytes, 1024, 64<<20)
	cfg.MaxUploadBytes = int64(getenvIntClamped("MAX_UPLOAD_BYTES", int(cfg.MaxUploadBytes), 1024, 256<<20))
	for _, s := range rateScopes {
		p := cfg.RateLimits[s.scope]
		p.Limit = getenvIntClamped(s.env+"_LIMIT", p.Limit, 0, 1_000_000)
		p.Window = getenvDuration(s.env+"_WINDOW", p.Window)
		cfg.RateLimits[s.scope] = p
	}
	cfg.RateSweepInterval = getenvDuration("RATE_SWEEP_INTERVAL", cfg.RateSweepInterval)
	cfg.RateLimitMaxEntries = getenvIntClamped("RATE_LIMIT_MAX_ENTRIES", cfg.RateLimitMaxEntries, 0, 10_000_000)

	cfg.JWTSecret = getenv("JWT_SECRET", cfg.JWTSecret) // Required - no fallback for security
	cfg.JWTExpiry = getenvDuration("JWT_EXPIRY", cfg.JWTExpiry)
	cfg.APIUsername = getenv("API_USERNAME", cfg.APIUsername)
	cfg.APIPassword = getenv("API_PASSWORD", cfg.APIPassword)
	cfg.AdminUsername = getenv("ADMIN_USERNAME", cfg.AdminUsername)
	cfg.AdminPassword = getenv("ADMIN_PASSWORD", cfg.AdminPassword)

	cfg.DiscordWebhookURL = getenv("DISCORD_WEBHOOK_URL", cfg.DiscordWebhookURL)
	cfg.APNsKeyPath = getenv("APNS_KEY_PATH", cfg.APNsKeyPath)
	cfg.APNsKeyID = getenv("APNS_KEY_ID", cfg.APNsKeyID)
	cfg.APNsTeamID = getenv("APNS_TEAM_ID", cfg.APNsTeamID)
	cfg.APNsBundleID = getenv("APNS_BUNDLE_ID", cfg.APNsBundleID)
	cfg.APNsProduction = getenvBool("APNS_PRODUCTION", cfg.APNsProduction)
}

// Policies converts the configured rate limits for the limiter.
func (c Config) Policies() map[ratelimit.Scope]ratelimit.Policy {
	out := make(map[ratelimit.Scope]ratelimit.Policy, len(c.RateLimits))
	for scope, p := range c.RateLimits {
		out[scope] = ratelimit.Policy{Limit: p.Limit, Window: p.Window}
	}
	return out
}

func parseList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvBool(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvIntClamped(k string, def, minVal, maxVal int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return max(minVal, min(n, maxVal))
}

func getenvFloatClamped(k string, def, minVal, maxVal float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return max(minVal, min(f, maxVal))
}

func getenvDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
