package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/chess-academy/internal/platform/analytics"
	"github.com/example/chess-academy/internal/platform/auth"
	"github.com/example/chess-academy/internal/platform/db"
	"github.com/example/chess-academy/internal/platform/httpserver"
	"github.com/example/chess-academy/internal/platform/logging"
	"github.com/example/chess-academy/internal/platform/natsconn"
	"github.com/example/chess-academy/internal/platform/run"
	"github.com/example/chess-academy/internal/progress"
	"github.com/example/chess-academy/services/playback/internal/catalog"
	"github.com/example/chess-academy/services/playback/internal/config"
	"github.com/example/chess-academy/services/playback/internal/events"
	"github.com/example/chess-academy/services/playback/internal/handlers"
	"github.com/example/chess-academy/services/playback/internal/localcache"
	"github.com/example/chess-academy/services/playback/internal/remote"
	"github.com/example/chess-academy/services/playback/internal/sessions"
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

	cache, err := localcache.New(cfg.Cache, cfg.App.Production())
	if err != nil {
		log.Error("local cache", zap.Error(err))
		run.Exit(1)
	}
	defer func() { _ = cache.Close() }()

	var (
		cat   progress.Catalog
		ready func() error
	)
	if cfg.DatabaseURL != "" {
		pool, err := db.Open(context.Background(), cfg.DatabaseURL)
		if err != nil {
			log.Error("db open", zap.Error(err))
			run.Exit(1)
		}
		defer pool.Close()
		cat = catalog.NewPostgres(pool)
		ready = db.Ready(pool)
	} else {
		static, err := catalog.LoadFile(cfg.CatalogFile)
		if err != nil {
			log.Error("catalog file", zap.String("path", cfg.CatalogFile), zap.Error(err))
			run.Exit(1)
		}
		cat = static
	}

	tokens := &auth.Issuer{Secret: cfg.JWTSecret, Subject: cfg.App.ServiceName, Role: auth.RoleService}
	store := remote.New(cfg.ProgressAPIURL, tokens, &http.Client{Timeout: cfg.FlushTimeout})

	var (
		publisher *analytics.Publisher
		player    progress.Player
	)
	nc, err := natsconn.Connect(natsconn.Options{Name: cfg.App.ServiceName, Logger: log})
	if err != nil {
		log.Warn("nats unavailable, analytics and player events disabled", zap.Error(err))
	} else {
		defer nc.Close()
		js, err := nc.JetStream()
		if err != nil {
			log.Error("jetstream", zap.Error(err))
			run.Exit(1)
		}
		if err := natsconn.EnsureStream(js, "ANALYTICS", []string{"analytics.>"}, 30*24*time.Hour); err != nil {
			log.Warn("ensure analytics stream", zap.Error(err))
		}
		publisher = analytics.New(js, log)
		player = events.NewSeekPublisher(nc)
	}

	manager := sessions.NewManager(sessions.Config{
		Catalog:       cat,
		Remote:        store,
		Local:         cache,
		Player:        player,
		Analytics:     publisher,
		Logger:        log,
		FlushInterval: cfg.FlushInterval,
		FlushTimeout:  cfg.FlushTimeout,
		IdleTimeout:   cfg.IdleTimeout,
	})

	evictCtx, stopEvict := context.WithCancel(context.Background())
	defer stopEvict()
	go manager.Run(evictCtx, time.Minute)

	if nc != nil {
		consumer := &events.Consumer{Sessions: manager, Log: log}
		sub, err := consumer.Subscribe(nc)
		if err != nil {
			log.Error("subscribe player events", zap.Error(err))
			run.Exit(1)
		}
		defer func() { _ = sub.Unsubscribe() }()
	}

	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.RouterConfig{ReadyFunc: ready, Logger: log})
	handlers.Register(r, handlers.Deps{
		Sessions:  manager,
		Verifier:  auth.JWTVerifier{Secret: cfg.JWTSecret, Leeway: 30 * time.Second},
		Logger:    log,
		EventRate: cfg.EventRate,
	})

	srv := httpserver.New(httpserver.Options{Addr: cfg.App.HTTP.Addr, Router: r})
	code := run.New(log).WithSignals(
		func(context.Context) error { return srv.Start(log) },
		srv.Shutdown,
		func(context.Context) error { stopEvict(); return nil },
		manager.Shutdown,
	)
	run.Exit(code)
}
