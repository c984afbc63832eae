package main

import (
	"context"
	"errors"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/Skufu/GoTriage/internal/config"
	"github.com/Skufu/GoTriage/internal/httpapi"
	"github.com/Skufu/GoTriage/internal/logger"
	"github.com/Skufu/GoTriage/internal/metrics"
	"github.com/Skufu/GoTriage/internal/safety"
	"github.com/Skufu/GoTriage/internal/triage"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		stdlog.Fatalf("config error: %v", err)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		stdlog.Fatalf("logger error: %v", err)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	gin.SetMode(cfg.Server.GinMode)
	ctx := context.Background()

	var pool *pgxpool.Pool
	if cfg.NeedsDatabase() {
		var err error
		pool, err = connectDB(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer pool.Close()
		log.Info("database connected")
	}

	m := metrics.NewCollector("gotriage")

	repo, closeCache, err := buildKnowledge(ctx, cfg, pool, log)
	if err != nil {
		return err
	}
	defer closeCache()

	gen := buildGenerator(cfg.LLM, m, log)
	var assessor safety.IntentAssessor
	if cfg.LLM.IntentCheck && !gen.MockMode() {
		assessor = gen
	}

	store, err := buildStore(ctx, cfg, pool, m, log)
	if err != nil {
		return err
	}

	svc := triage.NewService(triage.Deps{
		Safety:       safety.NewChecker(assessor, log.Named("safety")),
		Knowledge:    repo,
		Advisor:      gen,
		Store:        store,
		StoreBackend: cfg.Storage.Backend,
		Metrics:      m,
		Logger:       log.Named("triage"),
	})

	staticRoot := cfg.Server.StaticDir
	if staticRoot == "" {
		staticRoot = httpapi.DetectStaticRoot()
	}
	if staticRoot == "" {
		log.Warn("web frontend not found, static files disabled")
	}

	deps := httpapi.Deps{
		Triage:         svc,
		Knowledge:      repo,
		Store:          store,
		Metrics:        m,
		Logger:         log.Named("http"),
		Info:           serviceInfo(cfg, gen.Model(), gen.MockMode()),
		StaticDir:      staticRoot,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		StatsLimit:     cfg.Server.StatsLimit,
		TrustedProxies: cfg.Server.TrustedProxies,
	}
	if pool != nil {
		deps.DB = pool
	}

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           httpapi.NewRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Advice generation can take as long as the model timeout.
		WriteTimeout: cfg.LLM.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	log.Info("server listening",
		zap.String("port", cfg.Server.Port),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("knowledge", cfg.Knowledge.Source),
		zap.String("model", gen.Model()),
		zap.Bool("intent_check", assessor != nil),
	)
	return waitForShutdown(server, cfg.Server.ShutdownTimeout, errCh, log)
}

func connectDB(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse db url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return pool, nil
}

func waitForShutdown(server *http.Server, timeout time.Duration, errCh <-chan error, log *zap.Logger) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case sig := <-stop:
		log.Info("shutting down server", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
