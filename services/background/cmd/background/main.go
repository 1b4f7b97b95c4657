package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"scriptstudio/internal/contexttoken"
	"scriptstudio/internal/util"
	"scriptstudio/pkg/bus"
	"scriptstudio/pkg/kv"
	"scriptstudio/pkg/messenger"
	"scriptstudio/pkg/store"
	"scriptstudio/services/background/internal/app"
	"scriptstudio/services/background/internal/config"
	"scriptstudio/services/background/internal/server"
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
	settings, err := kv.NewGormStore(db.DB())
	if err != nil {
		log.Fatalf("failed to init settings store: %v", err)
	}

	var (
		eventBus  bus.Bus  = bus.NewLocalBus()
		session   kv.Store = kv.NewMemoryStore()
		transport *messenger.RedisTransport
	)
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer client.Close()
		eventBus = bus.NewRedisBus(client, cfg.BusPrefix)
		session = kv.NewRedisStore(client, "studio:session", time.Duration(cfg.SessionTTLSeconds)*time.Second)
		transport = messenger.NewRedisTransport(client, messenger.RedisConfig{Prefix: cfg.MessengerPrefix})
	}
	defer eventBus.Close()

	appCore, err := app.New(app.Config{
		Store:         db,
		Settings:      kv.NewNotifying(settings, eventBus, "local", cfg.ContextName),
		Session:       session,
		Bus:           eventBus,
		Source:        cfg.ContextName,
		Vendor:        cfg.Vendor,
		VendorPattern: cfg.VendorPattern,
		Transport:     transport,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	var verifier messenger.TokenVerifier
	if cfg.ContextTokenSecret != "" {
		v, err := contexttoken.NewVerifier(contexttoken.VerifierOptions{
			Secret:         cfg.ContextTokenSecret,
			Audience:       cfg.ContextName,
			AllowedIssuers: cfg.AllowedContexts,
		})
		if err != nil {
			log.Fatalf("failed to init context token verifier: %v", err)
		}
		verifier = v
	} else {
		slog.Warn("context tokens disabled, /messages accepts unauthenticated requests and /token, /payloads/ are not served")
	}

	var vendorURL *url.URL
	if cfg.VendorURL != "" {
		vendorURL, err = url.Parse(cfg.VendorURL)
		if err != nil {
			log.Fatalf("failed to parse vendor url: %v", err)
		}
	}

	httpServer := server.New(server.Config{
		App:         appCore,
		Verifier:    verifier,
		VendorURL:   vendorURL,
		CORSOrigins: cfg.CORSOrigins,
	})
	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return appCore.Run(gctx)
	})
	g.Go(func() error {
		slog.Info("background server listening", "addr", addr, "redis", cfg.RedisAddr != "")
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
		logger.Error("background error", "err", err)
	}
}
