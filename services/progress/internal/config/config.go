package config

import (
	"errors"
	"os"
	"strings"

	platformconfig "github.com/example/chess-academy/internal/platform/config"
)

// Config is the progress service configuration.
type Config struct {
	App         platformconfig.AppConfig
	JWTSecret   []byte
	DatabaseURL string
	// AsyncWrites routes POST /v1/progress/batch through JetStream.
	AsyncWrites bool
	// NATSRequired makes a NATS connection failure fatal.
	NATSRequired bool
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
	dsn := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dsn == "" {
		return Config{}, errors.New("DATABASE_URL is required")
	}
	cfg := Config{
		App:         app,
		JWTSecret:   []byte(secret),
		DatabaseURL: dsn,
		AsyncWrites: platformconfig.Bool("PROGRESS_ASYNC_WRITES", false),
	}
	cfg.NATSRequired = cfg.AsyncWrites
	return cfg, nil
}
