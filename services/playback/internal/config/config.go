package config

import (
	"errors"
	"os"
	"strings"
	"time"

	platformconfig "github.com/example/chess-academy/internal/platform/config"
	"github.com/example/chess-academy/services/playback/internal/localcache"
	"github.com/example/chess-academy/services/playback/internal/sessions"
)

// Config is the playback gateway configuration.
type Config struct {
	App            platformconfig.AppConfig
	JWTSecret      []byte
	ProgressAPIURL string
	Cache          localcache.Options
	// DatabaseURL backs the enrollment catalog. When empty CatalogFile is used.
	DatabaseURL   string
	CatalogFile   string
	FlushInterval time.Duration
	FlushTimeout  time.Duration
	IdleTimeout   time.Duration
	EventRate     int
}

func Load() (Config, error) {
	app, err := platformconfig.Load()
	if err != nil {
		return Config{}, err
	}
	secret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
	if secret == "" {
		return Config{}, errors.New("JWT_SECRET is required")
	}
	apiURL := strings.TrimRight(strings.TrimSpace(os.Getenv("PROGRESS_API_URL")), "/")
	if apiURL == "" {
		return Config{}, errors.New("PROGRESS_API_URL is required")
	}
	cfg := Config{
		App:            app,
		JWTSecret:      []byte(secret),
		ProgressAPIURL: apiURL,
		Cache: localcache.Options{
			Backend:   strings.ToLower(strings.TrimSpace(os.Getenv("LOCAL_CACHE_BACKEND"))),
			RedisURL:  strings.TrimSpace(os.Getenv("REDIS_URL")),
			BadgerDir: strings.TrimSpace(os.Getenv("BADGER_DIR")),
			TTL:       platformconfig.Duration("LOCAL_CACHE_TTL", 30*24*time.Hour),
		},
		DatabaseURL:   strings.TrimSpace(os.Getenv("DATABASE_URL")),
		CatalogFile:   strings.TrimSpace(os.Getenv("CATALOG_FILE")),
		FlushInterval: platformconfig.Duration("PLAYBACK_FLUSH_INTERVAL", 10*time.Second),
		FlushTimeout:  platformconfig.Duration("PLAYBACK_FLUSH_TIMEOUT", 5*time.Second),
		IdleTimeout:   platformconfig.Duration("PLAYBACK_IDLE_TIMEOUT", sessions.DefaultIdleTimeout),
		EventRate:     platformconfig.Int("PLAYBACK_EVENT_RATE", 120),
	}
	if cfg.DatabaseURL == "" && cfg.CatalogFile == "" {
		return Config{}, errors.New("DATABASE_URL or CATALOG_FILE is required")
	}
	return cfg, nil
}
