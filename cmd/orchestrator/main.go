// Command orchestrator runs the deep research service: HTTP API, progress
// streams, and the workflow engine.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/haneulab/deepresearch/internal/bus"
	"github.com/haneulab/deepresearch/internal/config"
	"github.com/haneulab/deepresearch/internal/engine"
	"github.com/haneulab/deepresearch/internal/httpapi"
	"github.com/haneulab/deepresearch/internal/llm"
	"github.com/haneulab/deepresearch/internal/prompts"
	"github.com/haneulab/deepresearch/internal/search"
	"github.com/haneulab/deepresearch/internal/session"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		zap.NewExample().Fatal("config load failed", zap.Error(err))
	}

	logger, err := buildLogger(cfg.Log.Level)
	if err != nil {
		zap.NewExample().Fatal("logger init failed", zap.Error(err))
	}
	defer logger.Sync()

	registry, err := prompts.NewRegistry()
	if err != nil {
		logger.Fatal("prompt registry failed validation", zap.Error(err))
	}

	gateway, err := llm.NewGateway(cfg.LLM, logger)
	if err != nil {
		logger.Fatal("llm gateway init failed", zap.Error(err))
	}
	searcher := search.NewClient(cfg.Search, logger)

	store, err := session.New(cfg.Store.URL, logger)
	if err != nil {
		logger.Fatal("session store init failed", zap.Error(err))
	}
	defer store.Close()

	progressBus := bus.New()

	eng := engine.New(gateway, searcher, registry, store, progressBus, engine.Config{
		MaxIterations:     cfg.Engine.MaxIterations,
		SlotTimeout:       cfg.Engine.SlotTimeout(),
		ContentTruncation: cfg.Engine.ContentTruncation,
		MaxResults:        cfg.Search.MaxResults,
	}, logger)

	mux := http.NewServeMux()
	api := httpapi.New(store, eng, progressBus, gateway, searcher, logger)
	api.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: httpapi.CORS(cfg.CORS.Origins, mux),
	}

	go func() {
		logger.Info("orchestrator listening",
			zap.String("addr", cfg.Server.Addr),
			zap.String("llm_provider", cfg.LLM.Provider),
			zap.Bool("search_degraded", searcher.Degraded()),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
	eng.Wait()
}

func buildLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
