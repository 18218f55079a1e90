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

	"github.com/duckrelay/duckrelay/internal/api"
	"github.com/duckrelay/duckrelay/internal/archive"
	"github.com/duckrelay/duckrelay/internal/auth"
	"github.com/duckrelay/duckrelay/internal/completion"
	"github.com/duckrelay/duckrelay/internal/config"
	"github.com/duckrelay/duckrelay/internal/history"
	historypostgres "github.com/duckrelay/duckrelay/internal/history/postgres"
	"github.com/duckrelay/duckrelay/internal/observability"
	"github.com/duckrelay/duckrelay/internal/pipeline"
	duckdbengine "github.com/duckrelay/duckrelay/internal/query/duckdb"
	s3store "github.com/duckrelay/duckrelay/internal/storage/s3"
)

func main() {
	cfg, err := config.LoadFromEnv("duckrelay")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	engine, err := duckdbengine.Open(cfg.Database.Path)
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = engine.Close() }()

	readiness := []api.ReadinessCheck{
		engine.HealthCheck,
		api.CheckCompletionConfig(cfg),
		api.CheckArchiveConfig(cfg),
	}

	var recorder history.Recorder
	if cfg.History.DSN != "" {
		historyDB, err := historypostgres.Open(context.Background(), historypostgres.DBConfig{
			DSN:             cfg.History.DSN,
			MaxOpenConns:    cfg.History.MaxOpenConns,
			MaxIdleConns:    cfg.History.MaxIdleConns,
			ConnMaxIdleTime: cfg.History.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.History.ConnMaxLifetime,
		})
		if err != nil {
			logger.Error("failed to open history db", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = historyDB.Close() }()
		repository := historypostgres.NewRepository(historyDB)
		recorder = repository
		readiness = append(readiness, repository.HealthCheck)
	}

	var archiver pipeline.Archiver
	if cfg.Archive.Enabled {
		store, err := s3store.New(context.Background(), s3store.Config{
			Endpoint:         cfg.Archive.Endpoint,
			Region:           cfg.Archive.Region,
			Bucket:           cfg.Archive.Bucket,
			AccessKeyID:      cfg.Archive.AccessKeyID,
			SecretAccessKey:  cfg.Archive.SecretAccessKey,
			UseSSL:           cfg.Archive.UseSSL,
			Prefix:           cfg.Archive.Prefix,
			AutoCreateBucket: cfg.Archive.AutoCreateBucket,
		})
		if err != nil {
			logger.Error("failed to initialize archive store", slog.Any("error", err))
			os.Exit(1)
		}
		archiver = archive.New(store, logger)
	}

	var client completion.Client
	if cfg.AI.Enabled {
		openaiClient, err := completion.NewOpenAIClient(completion.OpenAIConfig{
			BaseURL:     cfg.AI.BaseURL,
			APIKey:      cfg.AI.APIKey,
			Model:       cfg.AI.Model,
			Temperature: cfg.AI.Temperature,
			Timeout:     cfg.AI.Timeout,
			Logger:      logger,
		})
		if err != nil {
			logger.Error("failed to initialize completion client", slog.Any("error", err))
			os.Exit(1)
		}
		client = openaiClient
	}

	relay, err := pipeline.New(pipeline.Dependencies{
		Engine:   engine,
		Client:   client,
		Recorder: recorder,
		Archiver: archiver,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("failed to build pipeline", slog.Any("error", err))
		os.Exit(1)
	}

	deps := api.Dependencies{
		Logger:            logger,
		Pipeline:          relay,
		Readiness:         api.CombineReadinessChecks(readiness...),
		DependencyTimeout: time.Second,
	}
	if cfg.Auth.Required {
		keyring, err := auth.NewStaticKeyring(cfg.Auth.SigningKeys)
		if err != nil {
			logger.Error("failed to parse signing keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, keyring)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting relay server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("relay server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down relay server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
