package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/chatsync/internal/config"
	"github.com/chatsync/internal/handler"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/middleware"
	"github.com/chatsync/internal/presence"
	"github.com/chatsync/internal/router"
	"github.com/chatsync/internal/service"
	"github.com/chatsync/internal/ws"
)

func main() {
	logger.SetPrefix("api")
	migrateOnly := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	inMemory := flag.Bool("memory", false, "keep everything in process memory (no PostgreSQL, no Redis)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.LogLevel)
	if *inMemory {
		cfg.Storage = config.StorageMemory
		cfg.Redis.URL = ""
	}
	logger.Infof("starting chatsync API storage=%s auth=%s", cfg.Storage, cfg.Auth.Mode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *dev, *migrateOnly); err != nil {
		logger.Errorf("%v", err)
		stop()
		time.Sleep(100 * time.Millisecond) // дать асинхронному логгеру дописать
		os.Exit(1)
	}
	logger.Info("stopped")
}

func run(ctx context.Context, cfg *config.Config, dev, migrateOnly bool) error {
	store, err := openStore(ctx, cfg, dev)
	if err != nil {
		return err
	}
	defer store.Close()
	if migrateOnly {
		return nil
	}

	live, err := openPresence(ctx, cfg)
	if err != nil {
		return err
	}
	defer live.Close()

	registry := presence.NewRegistry(live.presence, store.directory)
	rt := router.New(registry)
	opts := service.Options{
		EditWindow:      cfg.Sync.EditWindow,
		PinCapacity:     cfg.Sync.PinCapacity,
		DefaultPageSize: cfg.Sync.DefaultPageSize,
		MaxPageSize:     cfg.Sync.MaxPageSize,
	}
	svc := service.New(service.Deps{
		Messages:  store.messages,
		Reactions: store.reactions,
		Pins:      store.pins,
		Directory: store.directory,
		Events:    rt,
	}, opts)
	sweeper, err := service.NewSweeper(store.pins, live.locker, rt, cfg.Sync.SweepCron, opts)
	if err != nil {
		return err
	}
	hub := ws.NewHub(registry, svc, ws.Options{
		MaxConnections: cfg.WS.MaxConnections,
		WriteWait:      cfg.WS.WriteTimeout,
		PongWait:       cfg.WS.PongTimeout,
		MaxMessageSize: cfg.WS.MaxMessageSize,
		SendBuffer:     cfg.WS.SendBufferSize,
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      newRouter(cfg, handler.New(cfg, svc, registry, store.directory, hub)),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		logger.Info("hub stopped")
		return nil
	})
	g.Go(func() error {
		sweeper.Start(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Infof("server listening on %s", cfg.ServerAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("server shutdown: %v", err)
		}
		logger.Info("server stopped accepting connections")
		return nil
	})
	return g.Wait()
}

func newRouter(cfg *config.Config, h handler.Handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLog)
	r.Use(middleware.RecoverJSON)
	// Не сжимать WebSocket: иначе ResponseWriter не реализует http.Hijacker и upgrade даёт 500.
	r.Use(func(next http.Handler) http.Handler {
		compress := chimw.Compress(5)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			compress.ServeHTTP(w, req)
		})
	})
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-Id", "X-Timestamp", "X-Signature"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	internal := middleware.InternalOnly(cfg.InternalSecret)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.With(internal).Handle("/metrics", promhttp.Handler())

	h.Mount(r, handler.Guards{
		Identity:  identity(cfg),
		RateLimit: middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
		Internal:  internal,
	})
	return r
}

func identity(cfg *config.Config) func(http.Handler) http.Handler {
	switch cfg.Auth.Mode {
	case config.AuthHMAC:
		return middleware.SignedUser([]byte(cfg.Auth.Secret))
	case config.AuthJWT:
		return middleware.JWTUser([]byte(cfg.Auth.Secret))
	case config.AuthService:
		return middleware.AuthServiceValidate(cfg.Auth.ServiceURL, nil)
	}
	return middleware.TrustedUser
}
