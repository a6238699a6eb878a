package handlers

import (
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/chess-academy/internal/platform/auth"
	"github.com/example/chess-academy/internal/platform/httpserver"
	"github.com/example/chess-academy/services/playback/internal/sessions"
)

const (
	defaultEventRate   = 120
	defaultEventWindow = time.Minute
)

// Deps is everything the playback routes need.
type Deps struct {
	Sessions *sessions.Manager
	Verifier auth.JWTVerifier
	Logger   *zap.Logger
	// EventRate caps player events per learner per minute.
	EventRate int
}

// Register mounts the /v1/playback routes on r.
func Register(r chi.Router, d Deps) {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.EventRate <= 0 {
		d.EventRate = defaultEventRate
	}
	h := &playback{sessions: d.Sessions, log: d.Logger}
	r.Route("/v1/playback", func(r chi.Router) {
		r.Use(auth.RequireUser(d.Verifier))
		r.Get("/overall", h.overall)
		r.Post("/suspend", h.suspend)
		r.Post("/reset", h.reset)
		r.Route("/{item_id}", func(r chi.Router) {
			r.Get("/", h.record)
			r.With(httpserver.RateLimit(d.EventRate, defaultEventWindow, httpserver.KeyBySubject)).
				Post("/events", h.event)
			r.Post("/complete", h.complete)
		})
	})
}
