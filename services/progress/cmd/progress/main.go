package main

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/chess-academy/internal/platform/auth"
	"github.com/example/chess-academy/internal/platform/db"
	"github.com/example/chess-academy/internal/platform/httpserver"
	"github.com/example/chess-academy/internal/platform/logging"
	"github.com/example/chess-academy/internal/platform/natsconn"
	"github.com/example/chess-academy/internal/platform/run"
	"github.com/example/chess-academy/services/progress/internal/config"
	"github.com/example/chess-academy/services/progress/internal/handlers"
	"github.com/example/chess-academy/services/progress/internal/store"
	"github.com/example/chess-academy/services/progress/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logging.New(cfg.App.LogLevel, cfg.App.ServiceName)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	pool, err := db.Open(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Error("db open", zap.Error(err))
		run.Exit(1)
	}
	defer pool.Close()

	repo := store.NewPostgresProgressRepository(pool)
	var publisher *handlers.EventPublisher

	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()

	nc, err := natsconn.Connect(natsconn.Options{Name: cfg.App.ServiceName, Logger: log})
	switch {
	case err != nil && cfg.NATSRequired:
		log.Error("nats connect", zap.Error(err))
		run.Exit(1)
	case err != nil:
		log.Warn("nats unavailable, async writes disabled", zap.Error(err))
	default:
		defer nc.Close()
		js, err := nc.JetStream()
		if err != nil {
			log.Error("jetstream", zap.Error(err))
			run.Exit(1)
		}
		if err := natsconn.EnsureStream(js, worker.StreamName, []string{handlers.SubjectBatch}, 7*24*time.Hour); err != nil {
			log.Error("ensure stream", zap.Error(err))
			run.Exit(1)
		}
		publisher = handlers.NewEventPublisher(js, cfg.AsyncWrites)
		consumer := &worker.BatchConsumer{Repo: repo, Log: log}
		go func() {
			if err := consumer.Run(workerCtx, js); err != nil {
				log.Error("progress consumer stopped", zap.Error(err))
			}
		}()
	}

	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.RouterConfig{ReadyFunc: db.Ready(pool), Logger: log})
	handlers.Register(r, handlers.Deps{
		Repo:      repo,
		Publisher: publisher,
		Verifier:  auth.JWTVerifier{Secret: cfg.JWTSecret, Leeway: 30 * time.Second},
		Logger:    log,
	})

	srv := httpserver.New(httpserver.Options{Addr: cfg.App.HTTP.Addr, Router: r})
	code := run.New(log).WithSignals(
		func(context.Context) error { return srv.Start(log) },
		srv.Shutdown,
		func(context.Context) error { stopWorker(); return nil },
	)
	run.Exit(code)
}
