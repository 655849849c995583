package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voiceagent-platform/internal/audit"
	"voiceagent-platform/internal/auth"
	"voiceagent-platform/internal/config"
	"voiceagent-platform/internal/extraction"
	"voiceagent-platform/internal/httpapi"
	"voiceagent-platform/internal/orchestration"
	"voiceagent-platform/internal/reporting"
	"voiceagent-platform/internal/store"
	"voiceagent-platform/internal/voice"
	"voiceagent-platform/pkg/logger"
	"voiceagent-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	st, closeStore, err := openStore(rootCtx, cfg)
	if err != nil {
		log.Error("store init failed", "backend", cfg.Store.Backend, "err", err)
		os.Exit(1)
	}
	defer closeStore()

	provider := voice.NewRetellProvider(cfg.Provider.APIKey, voice.RetellOptions{
		BaseURL: cfg.Provider.BaseURL,
	})

	extractor := extraction.NewOpenAIExtractor(extraction.Config{
		APIKey:  cfg.Extraction.APIKey,
		BaseURL: cfg.Extraction.BaseURL,
		Model:   cfg.Extraction.Model,
	})

	dispatcher := orchestration.NewDispatcher(rootCtx, log, cfg.Extraction.Workers, cfg.Extraction.Queue)

	svc := orchestration.NewService(st, provider, extractor, dispatcher, log, !cfg.Provider.SkipSignature)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	h := httpapi.Handlers{
		Auth:         authManager,
		DashboardKey: cfg.Auth.DashboardKey,
		Orchestrator: svc,
		Reporting:    reporting.NewService(st),
		Audit:        audit.NewService(audit.NewMemoryRepo()),
	}
	registerRoutes(r, h, auth.RequireAccessToken(authManager))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "store", cfg.Store.Backend, "provider", provider.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	// Let queued analysis tasks finish before the process exits.
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		log.Error("dispatcher shutdown failed", "err", err)
	}
}

// openStore builds the record store selected by STORE_BACKEND and returns
// a close func for whatever connection it opened.
func openStore(ctx context.Context, cfg config.Config) (store.Store, func(), error) {
	switch cfg.Store.Backend {
	case config.StoreBackendRedis:
		rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			return nil, nil, err
		}
		return store.NewRedisStore(rdb), func() { _ = rdb.Close() }, nil

	case config.StoreBackendPostgres:
		db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			return nil, nil, err
		}
		st := store.NewPostgresStore(db)
		if err := st.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return st, func() { _ = db.Close() }, nil

	default:
		return store.NewMemoryStore(), func() {}, nil
	}
}
