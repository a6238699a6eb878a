package handlers

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/chess-academy/internal/platform/auth"
	"github.com/example/chess-academy/services/progress/internal/store"
)

// Deps is everything the progress routes need.
type Deps struct {
	Repo      store.ProgressRepository
	Publisher *EventPublisher
	Verifier  auth.JWTVerifier
	Logger    *zap.Logger
}

// Register mounts the /v1/progress routes on r.
func Register(r chi.Router, d Deps) {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	r.Route("/v1/progress", func(r chi.Router) {
		r.Use(auth.RequireUser(d.Verifier))
		r.Post("/batch", UpsertBatch(d.Repo, d.Publisher, d.Logger))
		r.Get("/", QueryProgress(d.Repo))
	})
}
