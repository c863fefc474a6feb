package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"kisantrack/config"
	"kisantrack/db"
	"kisantrack/hub"
	"kisantrack/middleware"
	"kisantrack/orders"
	"kisantrack/ratelim"
	"kisantrack/rdx"
	"kisantrack/routes"
	"kisantrack/tracking"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development() {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.LogLevel != "" {
		lvl, err := zapcore.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("LOG_LEVEL: %w", err)
		}
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}
	return zc.Build()
}

func openStore(ctx context.Context, cfg *config.Config) (orders.Store, error) {
	switch cfg.Store.Driver {
	case "mongo":
		client, err := db.Connect(ctx, cfg.Store.MongoURI)
		if err != nil {
			return nil, err
		}
		return orders.NewMongoStore(ctx, client, cfg.Store.MongoDB)
	case "sqlite":
		d, err := db.OpenSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		return orders.NewSQLiteStore(d), nil
	default:
		return orders.NewMemoryStore(), nil
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logger.Info("starting", zap.Stringer("config", cfg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	store, err := openStore(startCtx, cfg)
	cancel()
	if err != nil {
		logger.Fatal("open order store", zap.String("driver", cfg.Store.Driver), zap.Error(err))
	}

	hb := hub.New(store, logger.Named("hub"), hub.Options{
		IdleTimeout:  cfg.Tracking.RoomIdleTimeout,
		PersistQueue: cfg.Tracking.PersistQueue,
		SendBuffer:   cfg.Tracking.SendBuffer,
		SampleRate:   cfg.Tracking.SampleRate,
		SampleBurst:  cfg.Tracking.SampleBurst,
	})
	go hb.Run(ctx)

	if cfg.Redis.Addr != "" {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		client, err := rdx.Connect(pingCtx, cfg.Redis.Addr, cfg.Redis.Password)
		cancel()
		if err != nil {
			logger.Fatal("connect redis", zap.Error(err))
		}
		defer client.Close()
		hb.AttachRelay(ctx, hub.NewRedisRelay(client, cfg.Redis.Channel, logger.Named("relay")))
	}

	runner := tracking.NewRunner(hb.Broadcaster(), store, logger.Named("sim"), cfg.Tracking.SimTick, cfg.Tracking.SimStep)
	svc := orders.NewService(store, logger.Named("orders"), cfg.Tracking.HistoryTail)

	trackLimiter := ratelim.NewRateLimiter(cfg.HTTP.TrackRate, int(cfg.HTTP.TrackRate)*2, 10*time.Minute).
		TrustProxies(cfg.HTTP.TrustedProxies)
	limiterStop := make(chan struct{})
	go trackLimiter.Run(limiterStop)

	router := httprouter.New()
	routes.RoutesWrapper(router, routes.Deps{
		Orders:      orders.NewHandler(svc, hb, logger.Named("orders")),
		Store:       store,
		Tracking:    tracking.NewHandler(store, runner, logger.Named("sim")),
		Hub:         hb,
		Auth:        middleware.NewAuth(cfg.Auth.JWTSecret),
		RateLimiter: trackLimiter,
		Logger:      logger,
	})

	// CORS → security headers → logging → router
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}).Handler(router)
	handler := middleware.RequestLogger(logger.Named("http"))(middleware.SecurityHeaders(corsHandler))

	server := &http.Server{
		Addr:              cfg.HTTP.Port,
		Handler:           handler,
		ReadTimeout:       7 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", cfg.HTTP.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("ListenAndServe", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received; shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	runner.StopAll()
	if err := hb.Close(shutdownCtx); err != nil {
		logger.Warn("hub close", zap.Error(err))
	}
	bc := hb.Broadcaster()
	logger.Info("live channel totals",
		zap.Uint64("fanoutDropped", bc.Dropped()),
		zap.Uint64("relayed", bc.Relayed()),
		zap.Uint64("relayDropped", bc.RelayDropped()),
		zap.Uint64("persistDropped", hb.Persister().Dropped()))
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	close(limiterStop)
	if err := store.Close(shutdownCtx); err != nil {
		logger.Warn("close store", zap.Error(err))
	}
	logger.Info("server stopped cleanly")
}
