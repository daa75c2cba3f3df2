package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/lukasbauer/hotline/internal/audio"
	"github.com/lukasbauer/hotline/internal/classifier"
	"github.com/lukasbauer/hotline/internal/engine"
	"github.com/lukasbauer/hotline/internal/eventlog"
	"github.com/lukasbauer/hotline/internal/httpapi"
	"github.com/lukasbauer/hotline/internal/jobs"
	"github.com/lukasbauer/hotline/internal/metrics"
	"github.com/lukasbauer/hotline/internal/notifications"
	"github.com/lukasbauer/hotline/internal/ratelimit"
	"github.com/lukasbauer/hotline/internal/store"
	"github.com/lukasbauer/hotline/internal/stt"
	"github.com/lukasbauer/hotline/internal/tts"
)

type App struct {
	cfg    Config
	logger *log.Logger

	db       *pgxpool.Pool
	redis    *redis.Client
	store    *store.Store
	eventLog *eventlog.Logger

	classifier *classifier.Classifier
	stt        *stt.Gateway
	tts        *tts.Gateway
	limiter    *ratelimit.Limiter
	sweep      *jobs.SweepJob

	apns     *notifications.APNsClient
	discord  *notifications.Discord
	notifier *notifications.Notifier

	Calls *httpapi.CallRegistry
}

// New wires every service. Without DATABASE_URL the app runs on the
// built-in catalog and keeps no history.
func New(cfg Config, logger *log.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger, eventLog: eventlog.New(nil)}

	if cfg.DatabaseURL != "" {
		if err := a.openDatabase(ctx); err != nil {
			a.Close()
			return nil, err
		}
	} else {
		logger.Println("DATABASE_URL not set, history and reference data disabled")
	}

	var source classifier.CatalogSource
	if a.store != nil {
		source = a.store
	}
	a.classifier = classifier.New(source, logger)
	if source != nil {
		if _, err := a.classifier.Reload(ctx); err != nil {
			logger.Printf("classifier: %v", err)
		}
	}

	a.buildGateways(ctx)

	if err := a.buildLimiter(ctx); err != nil {
		a.Close()
		return nil, err
	}

	if err := a.buildNotifications(); err != nil {
		a.Close()
		return nil, err
	}

	a.Calls = httpapi.NewCallRegistry(cfg.MaxSessions)
	return a, nil
}

func (a *App) openDatabase(ctx context.Context) error {
	db, err := pgxpool.New(ctx, a.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	a.db = db
	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	if a.cfg.MigrateOnStart {
		if err := store.Migrate(ctx, db); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		a.logger.Println("database migrations applied")
	}

	a.store = store.New(db)
	a.eventLog = eventlog.New(db)

	n, err := a.store.SeedCatalog(ctx, classifier.DefaultCatalog())
	if err != nil {
		a.logger.Printf("seed catalog: %v", err)
	} else if n > 0 {
		a.logger.Printf("seeded %d catalog entries", n)
	}
	return nil
}

// buildGateways orders engines by priority. Engines without credentials stay
// in the list as Unavailable so health reports them.
func (a *App) buildGateways(ctx context.Context) {
	decoder := audio.NewFFmpegDecoder(a.cfg.FFmpegPath, a.cfg.STTSampleRate)
	decoderOK := true
	if err := decoder.Available(ctx); err != nil {
		a.logger.Printf("ffmpeg unavailable, transcription runs degraded: %v", err)
		decoderOK = false
	}

	pool := engine.NewPool(a.cfg.EngineWorkers, a.cfg.EngineTimeout)

	var dec audio.Decoder
	if decoderOK {
		dec = decoder
	}
	a.stt = stt.NewGateway([]stt.Engine{
		stt.NewWhisperEngine(stt.WhisperConfig{
			APIKey:    a.cfg.OpenAIAPIKey,
			Language:  a.cfg.STTLanguage,
			DecoderOK: decoderOK,
		}),
		stt.NewDeepgramEngine(stt.DeepgramConfig{
			APIKey:     a.cfg.DeepgramAPIKey,
			Language:   a.cfg.STTLanguage,
			SampleRate: a.cfg.STTSampleRate,
			Punctuate:  true,
			DecoderOK:  decoderOK,
		}),
	}, dec, pool, a.logger)

	a.tts = tts.NewGateway([]tts.Engine{
		tts.NewElevenLabsEngine(tts.ElevenLabsConfig{
			APIKey:     a.cfg.ElevenLabsAPIKey,
			Stability:  a.cfg.TTSStability,
			Similarity: a.cfg.TTSSimilarity,
		}),
		tts.NewOpenAIEngine(tts.OpenAIConfig{APIKey: a.cfg.OpenAIAPIKey}),
	}, tts.DefaultVoices(), pool, a.logger)

	for _, s := range a.stt.Status() {
		a.logger.Printf("stt engine %s: %s", s.Name, s.Capability)
	}
	for _, s := range a.tts.Status() {
		a.logger.Printf("tts engine %s: %s", s.Name, s.Capability)
	}
}

// buildLimiter shares windows through Redis when REDIS_URL is set, else
// keeps them in memory with a periodic sweep.
func (a *App) buildLimiter(ctx context.Context) error {
	var windows ratelimit.WindowStore
	if a.cfg.RedisURL != "" {
		opts, err := redis.ParseURL(a.cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		a.redis = redis.NewClient(opts)
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		windows = ratelimit.NewRedisStore(a.redis, "")
		a.logger.Println("rate limiter: redis")
	} else {
		mem := ratelimit.NewMemoryStore(a.cfg.RateLimitMaxEntries)
		a.sweep = jobs.NewSweepJob(mem, a.logger, a.cfg.RateSweepInterval)
		windows = mem
		a.logger.Println("rate limiter: in-memory")
	}
	a.limiter = ratelimit.New(windows, a.cfg.Policies(), a.logger)
	return nil
}

func (a *App) buildNotifications() error {
	apns, err := notifications.NewAPNsClient(notifications.APNsConfig{
		KeyPath:    a.cfg.APNsKeyPath,
		KeyID:      a.cfg.APNsKeyID,
		TeamID:     a.cfg.APNsTeamID,
		BundleID:   a.cfg.APNsBundleID,
		Production: a.cfg.APNsProduction,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("apns: %w", err)
	}
	a.apns = apns
	a.discord = notifications.NewDiscord(a.cfg.DiscordWebhookURL, a.logger)

	var tokens notifications.TokenSource
	if a.store != nil {
		tokens = a.store
	}
	a.notifier = notifications.NewNotifier(tokens, apns, a.discord, a.logger)
	return nil
}

// Start launches background jobs.
func (a *App) Start() {
	if a.sweep != nil {
		a.sweep.Start()
	}
}

func (a *App) Router() http.Handler {
	routerCfg := httpapi.RouterConfig{
		AllowedOrigins:    a.cfg.AllowedOrigins,
		TrustProxyHeaders: a.cfg.TrustProxyHeaders,
		GreetingText:      a.cfg.GreetingText,
		TTSVoiceID:        a.cfg.TTSVoiceID,
		MaxAudioBytes:     a.cfg.MaxAudioBytes,
		MaxSessions:       a.cfg.MaxSessions,
		MaxUploadBytes:    a.cfg.MaxUploadBytes,
		JWTSecret:         a.cfg.JWTSecret,
		JWTExpiry:         a.cfg.JWTExpiry,
		APIUsername:       a.cfg.APIUsername,
		APIPassword:       a.cfg.APIPassword,
		AdminUsername:     a.cfg.AdminUsername,
		AdminPassword:     a.cfg.AdminPassword,
	}
	return httpapi.NewRouter(routerCfg, a.logger, httpapi.Deps{
		Store:      a.store,
		EventLog:   a.eventLog,
		Notifier:   a.notifier,
		APNs:       a.apns,
		Limiter:    a.limiter,
		Classifier: a.classifier,
		STT:        a.stt,
		TTS:        a.tts,
		Calls:      a.Calls,
		Metrics:    metrics.Handler(metrics.NewRegistry()),
	})
}

// Close waits for in-flight background writes, then releases connections.
func (a *App) Close() error {
	if a.sweep != nil {
		a.sweep.Stop()
	}
	a.eventLog.Wait()
	if a.discord != nil {
		a.discord.Wait()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	return nil
}
