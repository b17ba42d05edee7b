package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"citrine/pkg/agenda"
	"citrine/pkg/bot"
	"citrine/pkg/cache"
	"citrine/pkg/comlink"
	"citrine/pkg/completion"
	"citrine/pkg/config"
	"citrine/pkg/fetch"
	"citrine/pkg/memory"
	"citrine/pkg/surreal"
	"citrine/pkg/twitch"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load config.yml
	cfg, err := config.LoadConfig("config.yml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	// Load .env for secrets
	if err := godotenv.Load(); err != nil {
		logger.Info("No .env file found, relying on environment variables")
	}

	apiKeys := os.Getenv("OPENAI_API_KEY")
	if strings.TrimSpace(apiKeys) == "" {
		logger.Fatal("Missing required environment variable: OPENAI_API_KEY")
	}
	if channel := os.Getenv("TWITCH_CHANNEL"); channel != "" {
		cfg.Twitch.Channel = channel
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore := openStore(ctx, logger)
	defer closeStore()

	llm := completion.NewClient(completion.Config{
		APIKeys:     apiKeys,
		BaseURL:     cfg.ModelSettings.BaseURL,
		Models:      cfg.ModelSettings.Models,
		Temperature: cfg.ModelSettings.Temperature,
		TopP:        cfg.ModelSettings.TopP,
		Logger:      logger,
	})

	files := fetch.NewDownloader(fetch.Config{
		Dir:      cfg.Files.Dir,
		MaxBytes: cfg.Files.MaxBytes,
		Logger:   logger,
	})
	defer files.Wait()

	tasks := agenda.NewFileSource(cfg.Tasks.File)

	hub := comlink.NewHub(files, logger)
	defer hub.Close()
	publishers := comlink.Multi{hub}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		pub, err := comlink.ConnectNATS(natsURL, cfg.Comlink.NATSSubject, logger)
		if err != nil {
			logger.Warn("NATS unavailable, continuing without it", zap.Error(err))
		} else {
			defer pub.Close()
			publishers = append(publishers, pub)
		}
	}

	webhookID, webhookToken := os.Getenv("DISCORD_WEBHOOK_ID"), os.Getenv("DISCORD_WEBHOOK_TOKEN")
	if webhookID != "" && webhookToken != "" {
		mirror, err := comlink.NewDiscordMirror(webhookID, webhookToken, cfg.Persona.Name)
		if err != nil {
			logger.Warn("Discord mirror disabled", zap.Error(err))
		} else {
			publishers = append(publishers, mirror)
		}
	}

	conn := twitch.NewConn(twitch.Options{
		Address:      cfg.Twitch.Address,
		Channel:      cfg.Twitch.Channel,
		PollInterval: config.Seconds(cfg.Twitch.PollInterval),
		LoginTimeout: config.Seconds(cfg.Twitch.LoginTimeout),
		ClosedDelay:  config.Seconds(cfg.Twitch.ClosedDelay),
		ErrorDelay:   config.Seconds(cfg.Twitch.ErrorDelay),
		PongToken:    cfg.Twitch.PongToken,
		Logger:       logger,
	})
	if err := conn.Connect(ctx); err != nil {
		logger.Fatal("Failed to connect to Twitch chat", zap.String("address", cfg.Twitch.Address), zap.Error(err))
	}
	defer conn.Close()

	persona := bot.New(bot.Deps{
		Chat:      conn,
		Store:     store,
		Completer: llm,
		Publisher: publishers,
		Files:     files,
		Tasks:     tasks,
		Logger:    logger,
	}, settingsFrom(cfg))

	maintenance, err := bot.NewMaintenance(store, time.Duration(cfg.MemorySettings.RetentionDays)*24*time.Hour, cfg.MemorySettings.PruneSchedule, logger)
	if err != nil {
		logger.Fatal("Failed to schedule maintenance", zap.Error(err))
	}
	maintenance.Start()
	defer maintenance.Stop()

	httpServer := &http.Server{
		Addr:              cfg.Comlink.Listen,
		Handler:           hub.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Comlink server starting", zap.String("addr", cfg.Comlink.Listen))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return persona.Run(ctx)
	})

	logger.Info("Citrine is now running. Press CTRL-C to exit.", zap.String("channel", cfg.Twitch.Channel))

	if err := g.Wait(); err != nil {
		logger.Error("Stopped with error", zap.Error(err))
	}
	logger.Info("Shutdown complete")
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Log.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Log.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = level
	}
	return zc.Build()
}

// openStore picks SurrealDB when it is configured and the in-process store
// otherwise, and puts the Redis event cache in front when REDIS_URL is set.
func openStore(ctx context.Context, logger *zap.Logger) (memory.Store, func()) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var store memory.Store
	surrealHost := os.Getenv("SURREAL_DB_HOST")
	if surrealHost == "" {
		logger.Info("SURREAL_DB_HOST not set, keeping memory in process")
		store = memory.NewMemStore()
	} else {
		surrealUser := os.Getenv("SURREAL_DB_USER")
		surrealPass := os.Getenv("SURREAL_DB_PASS")
		if surrealUser == "" || surrealPass == "" {
			logger.Fatal("SURREAL_DB_USER and SURREAL_DB_PASS are required with SURREAL_DB_HOST")
		}
		surrealNS := getEnv("SURREAL_DB_NAMESPACE", "citrine")
		surrealDB := getEnv("SURREAL_DB_DATABASE", "memory")

		logger.Info("Connecting to SurrealDB",
			zap.String("host", surreal.Endpoint(surrealHost)),
			zap.String("namespace", surrealNS),
			zap.String("database", surrealDB))
		client, err := surreal.NewClient(ctx, surrealHost, surrealUser, surrealPass, surrealNS, surrealDB)
		if err != nil {
			logger.Fatal("Failed to connect to SurrealDB", zap.Error(err))
		}
		closers = append(closers, client.Close)
		store = memory.NewSurrealStore(ctx, client, logger)
	}

	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		c, err := cache.NewRedisCache(ctx, redisURL, "citrine")
		if err != nil {
			logger.Warn("Redis unavailable, reading events straight from the store", zap.Error(err))
		} else {
			closers = append(closers, func() { _ = c.Close() })
			store = memory.NewCachedStore(store, c, logger)
		}
	}

	return store, closeAll
}

func settingsFrom(cfg *config.Config) bot.Settings {
	s := bot.DefaultSettings()
	p := cfg.Persona
	s.Name = p.Name
	s.Source = p.Source
	s.QuietPeriod = config.Seconds(p.QuietPeriod)
	s.IdlePoll = config.Seconds(p.IdlePoll)
	s.FailureBackoff = config.Seconds(p.FailureBackoff)
	s.SpeechTokensPerSecond = p.SpeechTokensPerSecond
	s.HistoryLimit = p.HistoryLimit
	s.EventsLimit = p.EventsLimit
	s.Temperature = cfg.ModelSettings.Temperature
	s.IdleTemperature = cfg.ModelSettings.IdleTemperature
	s.MetadataTemperature = cfg.ModelSettings.MetadataTemperature
	return s
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
