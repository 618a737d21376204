package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/jayusctrojan/Empire-sub001/internal/breaker"
	"github.com/jayusctrojan/Empire-sub001/internal/cache"
	"github.com/jayusctrojan/Empire-sub001/internal/config"
	"github.com/jayusctrojan/Empire-sub001/internal/db"
	"github.com/jayusctrojan/Empire-sub001/internal/handler"
	"github.com/jayusctrojan/Empire-sub001/internal/service"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Connect to database with retry
	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Run startup checks (extensions + tables)
	if err := db.StartupChecks(ctx, pool); err != nil {
		slog.Error("startup checks failed", "error", err)
		os.Exit(1)
	}

	// One breaker per backend, all sharing the configured thresholds
	registry := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
		ResetTimeout:     cfg.BreakerResetTimeout,
		FailureWindow:    cfg.BreakerFailureWindow,
	})

	// Method searchers, each behind its own breaker
	searchers := []*service.Guarded{
		service.NewGuarded(service.NewDenseSearcher(pool, cfg.DenseMinSimilarity), registry.Get("dense"), cfg.MethodTimeout),
		service.NewGuarded(service.NewSparseSearcher(pool), registry.Get("sparse"), cfg.MethodTimeout),
		service.NewGuarded(service.NewPatternSearcher(pool), registry.Get("pattern"), cfg.MethodTimeout),
		service.NewGuarded(service.NewFuzzySearcher(pool, cfg.FuzzyMinSimilarity), registry.Get("fuzzy"), cfg.MethodTimeout),
	}

	// Semantic cache
	sc, err := cache.New(cache.Config{
		ExactThreshold: cfg.CacheExactThreshold,
		NearThreshold:  cfg.CacheNearThreshold,
		ExactTTL:       cfg.CacheExactTTL,
		NearTTL:        cfg.CacheNearTTL,
		HotCapacity:    cfg.CacheHotCapacity,
		NearCapacity:   cfg.CacheNearCapacity,
		WarmPath:       cfg.CacheWarmPath,
	})
	if err != nil {
		slog.Error("failed to open cache", "error", err)
		os.Exit(1)
	}
	defer sc.Close()

	// Adaptive parameters + feedback workers
	params := service.NewParamStore(service.ParamConfig{
		Step:       cfg.WeightStep,
		Min:        cfg.WeightMin,
		Max:        cfg.WeightMax,
		BlendRatio: cfg.RerankBlendRatio,
		RRFK:       cfg.RRFK,
		DenseFloor: cfg.DenseMinSimilarity,
		FuzzyFloor: cfg.FuzzyMinSimilarity,
	})
	feedback, err := service.NewFeedbackProcessor(params, cfg.FeedbackWorkers)
	if err != nil {
		slog.Error("failed to start feedback workers", "error", err)
		os.Exit(1)
	}
	defer feedback.Close()

	// Pipeline collaborators
	store := service.NewPGChunkStore(pool)
	embedSvc := service.NewEmbedService(cfg.EmbedEndpoint, 10*time.Second)
	rerankerSvc := service.NewReranker(
		cfg.RerankEndpoint,
		cfg.RerankAPIKey,
		cfg.RerankModel,
		cfg.RerankTimeout,
		cfg.FanInMultiple*cfg.DefaultLimit,
		registry.Get("reranker"),
	)
	expander := service.NewExpander(store, cfg.ExpandRadius, true, 4)

	engine := service.NewEngine(service.EngineConfig{
		FanoutDeadline: cfg.FanoutDeadline,
		MethodTopK:     cfg.MethodTopK,
		FanInMultiple:  cfg.FanInMultiple,
		DefaultLimit:   cfg.DefaultLimit,
	}, searchers, embedSvc, sc, params, rerankerSvc, expander, store)

	// Initialize handlers
	retrieveHandler := handler.NewRetrieveHandler(engine)
	feedbackHandler := handler.NewFeedbackHandler(feedback)
	circuitsHandler := handler.NewCircuitsHandler(registry, sc)

	// Build router
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, `{"status":"unhealthy","error":"%s"}`, err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ok"}`)
	})

	r.Post("/v1/retrieve", retrieveHandler.Handle)
	r.Post("/v1/feedback", feedbackHandler.Handle)
	r.Get("/v1/circuits", circuitsHandler.Handle)

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	// Graceful shutdown
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("starting server", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-shutdownCtx.Done()
	slog.Info("shutting down server...")

	cancelCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(cancelCtx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped")
}
