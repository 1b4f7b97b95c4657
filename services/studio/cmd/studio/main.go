package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"scriptstudio/internal/quota"
	"scriptstudio/internal/util"
	"scriptstudio/pkg/ai"
	"scriptstudio/pkg/bus"
	"scriptstudio/pkg/kv"
	"scriptstudio/pkg/queue"
	"scriptstudio/pkg/storage"
	"scriptstudio/pkg/store"
	"scriptstudio/services/studio/internal/app"
	"scriptstudio/services/studio/internal/config"
	"scriptstudio/services/studio/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLoggerFormat(os.Stdout, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL, store.WithAppVersion(cfg.AppVersion))
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer db.Close()

	var settings kv.Store = kv.NewMemoryStore()
	if db.DB() != nil {
		gormSettings, err := kv.NewGormStore(db.DB())
		if err != nil {
			log.Fatalf("failed to init settings store: %v", err)
		}
		settings = gormSettings
	}

	var (
		eventBus bus.Bus = bus.NewLocalBus()
		limiter  *quota.FixedWindow
		jobs     *queue.RedisJobQueue
	)
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer client.Close()
		eventBus = bus.NewRedisBus(client, cfg.BusPrefix)
		if cfg.QuotaLimit > 0 {
			limiter, err = quota.NewFixedWindow(client, "studio:quota", cfg.QuotaLimit, time.Duration(cfg.QuotaWindowSeconds)*time.Second)
			if err != nil {
				log.Fatalf("failed to init quota: %v", err)
			}
		}
		jobs, err = queue.NewRedisJobQueue(queue.RedisQueueConfig{
			Client:     client,
			Stream:     cfg.QueueStream,
			Group:      cfg.QueueStream + ":workers",
			MaxRetries: cfg.QueueMaxRetries,
			Kinds:      []string{queue.KindScript},
		})
		if err != nil {
			log.Fatalf("failed to init job queue: %v", err)
		}
	}
	defer eventBus.Close()

	var generator ai.TextGenerator
	switch cfg.GenerationProvider {
	case "openai-compat":
		generator = ai.NewOpenAICompatGenerator(cfg.GenerationBaseURL, cfg.GenerationAPIKey, cfg.GenerationModel)
	default:
		client, err := ai.NewGeminiClient(cfg.GenerationAPIKey, cfg.GenerationBaseURL)
		if err != nil {
			log.Fatalf("failed to init gemini client: %v", err)
		}
		generator = ai.NewGeminiGenerator(client, cfg.GenerationModel)
	}

	var blobs storage.ObjectStore
	if cfg.MinioEndpoint != "" {
		blobs, err = storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
	} else {
		blobs, err = storage.NewFileStore(cfg.BlobDir, cfg.BlobBaseURL)
	}
	if err != nil {
		log.Fatalf("failed to init blob store: %v", err)
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	appCore, err := app.New(ctx, app.Config{
		Store:     db,
		Settings:  settings,
		Bus:       eventBus,
		Source:    cfg.ContextName,
		Generator: generator,
		Blobs:     blobs,
		Quota:     limiter,
		Queue:     jobs,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}
	defer appCore.Close()

	seeded, err := appCore.SeedPrompts(ctx)
	if err != nil {
		log.Fatalf("failed to seed prompts: %v", err)
	}
	if seeded > 0 {
		slog.Info("seeded default prompts", "count", seeded)
	}
	if jobs != nil {
		if err := appCore.StartWorkers(ctx, cfg.QueueConcurrency); err != nil {
			log.Fatalf("failed to start workers: %v", err)
		}
	}

	httpServer := server.New(server.Config{
		App:            appCore,
		CORSOrigins:    cfg.CORSOrigins,
		TrustedProxies: trusted,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("studio server listening", "addr", addr, "provider", cfg.GenerationProvider, "redis", cfg.RedisAddr != "")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
}
