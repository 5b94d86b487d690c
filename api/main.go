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

	"github.com/DeafMist/city-pulse/internal/config"
	"github.com/DeafMist/city-pulse/internal/elasticsearch"
	"github.com/DeafMist/city-pulse/internal/enrich"
	"github.com/DeafMist/city-pulse/internal/logger"
	"github.com/DeafMist/city-pulse/internal/objectstore"
)

func main() {
	log := logger.New("api")
	cfg, err := config.LoadAPI()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	esClient, err := elasticsearch.New(cfg.Elasticsearch(), log)
	if err != nil {
		log.Error("init elasticsearch", slog.Any("err", err))
		os.Exit(1)
	}

	srv := &server{log: log, cfg: cfg, es: esClient}

	if cfg.Gemini.Configured() {
		gen, err := enrich.NewGemini(ctx, cfg.Gemini.Client())
		if err != nil {
			log.Error("init gemini", slog.Any("err", err))
			os.Exit(1)
		}
		srv.gen = gen
	} else {
		log.Warn("gemini not configured, /generate-content disabled")
	}

	if cfg.GCSBucket != "" {
		store, err := objectstore.NewGCS(ctx, cfg.GCSBucket, cfg.GCSCredentialsFile)
		if err != nil {
			log.Error("init object store", slog.Any("err", err))
			os.Exit(1)
		}
		defer store.Close()
		srv.store = store
	} else {
		log.Warn("GCS_BUCKET not set, object endpoints disabled")
	}

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      3 * time.Minute,
	}

	go func() {
		log.Info("api server starting", slog.String("addr", cfg.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", slog.Any("err", err))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", slog.Any("err", err))
	}
}
