package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/chess-academy/internal/platform/api"
	"github.com/example/chess-academy/internal/platform/auth"
	"github.com/example/chess-academy/internal/platform/httpserver"
	"github.com/example/chess-academy/internal/progress"
	"github.com/example/chess-academy/services/playback/internal/events"
	"github.com/example/chess-academy/services/playback/internal/sessions"
)

type playback struct {
	sessions *sessions.Manager
	log      *zap.Logger
}

type eventRequest struct {
	Type        string  `json:"type"`
	CurrentTime float64 `json:"current_time"`
	Duration    float64 `json:"duration"`
}

type recordResponse struct {
	progress.Record
	SeekTo *float64 `json:"seek_to,omitempty"`
}

type overallResponse struct {
	Percent int               `json:"percent"`
	Pending int               `json:"pending"`
	Records []progress.Record `json:"records"`
}

type suspendResponse struct {
	Attempted int  `json:"attempted"`
	Written   int  `json:"written"`
	Unwritten int  `json:"unwritten"`
	Coalesced bool `json:"coalesced"`
}

type resetRequest struct {
	SubjectID string `json:"subject_id"`
}

func (h *playback) handle(w http.ResponseWriter, r *http.Request, rid string) (*sessions.Handle, bool) {
	uid, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		api.Unauthorized(w, "AUTH_MISSING", "Missing auth", rid)
		return nil, false
	}
	sh, err := h.sessions.Get(r.Context(), uid)
	if err != nil {
		h.log.Warn("open learner session failed", zap.String("request_id", rid), zap.Error(err))
		if errors.Is(err, progress.ErrNoSubject) {
			api.Unauthorized(w, "AUTH_MISSING", "Missing auth", rid)
			return nil, false
		}
		api.Unavailable(w, "SESSION_UNAVAILABLE", "Progress is temporarily unavailable", rid)
		return nil, false
	}
	return sh, true
}

func itemID(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "item_id"))
}

func (h *playback) event(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	var req eventRequest
	if !decodeJSON(w, r, rid, &req) {
		return
	}
	sh, ok := h.handle(w, r, rid)
	if !ok {
		return
	}
	out, err := events.Dispatch(r.Context(), sh.Playback, events.PlayerEvent{
		Type:        req.Type,
		ItemID:      itemID(r),
		CurrentTime: req.CurrentTime,
		Duration:    req.Duration,
	})
	switch {
	case errors.Is(err, events.ErrUnknownType):
		api.BadRequest(w, "INVALID_EVENT", "Unknown event type", rid, map[string]any{"type": req.Type})
		return
	case errors.Is(err, progress.ErrNoItem):
		api.BadRequest(w, "INVALID_ITEM", "item_id is required", rid, nil)
		return
	case err != nil:
		api.Internal(w, rid)
		return
	}
	resp := recordResponse{Record: out.Record}
	if out.Seek != nil {
		pos := out.Seek.Position
		resp.SeekTo = &pos
	}
	api.WriteJSON(w, http.StatusOK, resp)
}

func (h *playback) record(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	sh, ok := h.handle(w, r, rid)
	if !ok {
		return
	}
	rec, _ := sh.Session.Record(itemID(r))
	resp := recordResponse{Record: rec}
	if cmd, ok := progress.ResumePosition(rec, 0); ok {
		resp.SeekTo = &cmd.Position
	}
	api.WriteJSON(w, http.StatusOK, resp)
}

func (h *playback) complete(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	sh, ok := h.handle(w, r, rid)
	if !ok {
		return
	}
	rec, err := sh.Session.MarkComplete(r.Context(), itemID(r))
	if err != nil {
		api.BadRequest(w, "INVALID_ITEM", "item_id is required", rid, nil)
		return
	}
	api.WriteJSON(w, http.StatusOK, recordResponse{Record: rec})
}

func (h *playback) overall(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	sh, ok := h.handle(w, r, rid)
	if !ok {
		return
	}
	records := sh.Session.Records()
	if records == nil {
		records = []progress.Record{}
	}
	api.WriteJSON(w, http.StatusOK, overallResponse{
		Percent: sh.Session.OverallPercent(),
		Pending: sh.Session.Pending(),
		Records: records,
	})
}

// suspend is called when the learner navigates away. Failures stay dirty for
// the scheduler, so the response is 202 either way.
func (h *playback) suspend(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	uid, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		api.Unauthorized(w, "AUTH_MISSING", "Missing auth", rid)
		return
	}
	res, err := h.sessions.Suspend(r.Context(), uid)
	if err != nil {
		h.log.Warn("suspend flush failed", zap.String("request_id", rid), zap.String("subject_id", uid), zap.Error(err))
	}
	api.WriteJSON(w, http.StatusAccepted, suspendResponse{
		Attempted: res.Attempted,
		Written:   res.Written,
		Unwritten: res.Attempted - res.Written,
		Coalesced: res.Coalesced,
	})
}

func (h *playback) reset(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	var req resetRequest
	if !decodeJSON(w, r, rid, &req) {
		return
	}
	if strings.TrimSpace(req.SubjectID) == "" {
		api.BadRequest(w, "INVALID_SUBJECT", "subject_id is required", rid, nil)
		return
	}
	uid, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		api.Unauthorized(w, "AUTH_MISSING", "Missing auth", rid)
		return
	}
	err := h.sessions.Reset(r.Context(), uid, req.SubjectID)
	switch {
	case errors.Is(err, progress.ErrSubjectMismatch):
		api.Forbidden(w, "SUBJECT_MISMATCH", "Cannot reset progress of another learner", rid)
		return
	case err != nil:
		h.log.Warn("progress reset failed", zap.String("request_id", rid), zap.Error(err))
		api.Unavailable(w, "SESSION_UNAVAILABLE", "Progress is temporarily unavailable", rid)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
