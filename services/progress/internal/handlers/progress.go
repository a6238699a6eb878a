package handlers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/chess-academy/internal/platform/api"
	"github.com/example/chess-academy/internal/platform/auth"
	"github.com/example/chess-academy/internal/platform/httpserver"
	"github.com/example/chess-academy/internal/platform/metrics"
	"github.com/example/chess-academy/internal/progress"
	"github.com/example/chess-academy/services/progress/internal/store"
)

type batchRequest struct {
	Records []progress.WireRecord `json:"records"`
}

type batchResponse struct {
	Applied int `json:"applied"`
}

type queryResponse struct {
	Records []progress.WireRecord `json:"records"`
}

// UpsertBatch writes a batch of records. With async writes enabled the batch
// is published to JetStream and the call returns 202 with X-Event-ID.
func UpsertBatch(repo store.ProgressRepository, publisher *EventPublisher, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		if _, ok := auth.UserIDFromContext(r.Context()); !ok {
			api.Unauthorized(w, "AUTH_MISSING", "Missing auth", rid)
			return
		}

		var req batchRequest
		if !decodeJSON(w, r, rid, &req) {
			return
		}
		for i := range req.Records {
			req.Records[i].SubjectID = strings.TrimSpace(req.Records[i].SubjectID)
			req.Records[i].ItemID = strings.TrimSpace(req.Records[i].ItemID)
			if !auth.CanActFor(r.Context(), req.Records[i].SubjectID) {
				api.Forbidden(w, "SUBJECT_FORBIDDEN", "Cannot write progress of another learner", rid)
				return
			}
		}
		if err := store.Validate(req.Records); err != nil {
			api.WriteStatus(w, rid, err)
			return
		}

		if publisher.Enabled() {
			eventID, err := publisher.PublishBatch(req.Records)
			if err != nil {
				log.Warn("progress batch publish failed", zap.String("request_id", rid), zap.Error(err))
				api.WriteError(w, http.StatusServiceUnavailable, "EVENT_PUBLISH_FAILED", "failed to publish event", rid, nil)
				return
			}
			metrics.RecordStoreUpsert("queued", len(req.Records))
			w.Header().Set("X-Event-ID", eventID)
			w.WriteHeader(http.StatusAccepted)
			return
		}

		applied, err := repo.UpsertBatch(r.Context(), req.Records)
		if err != nil {
			metrics.RecordStoreUpsert("failure", len(req.Records))
			log.Warn("progress batch upsert failed", zap.String("request_id", rid), zap.Error(err))
			api.WriteStatus(w, rid, err)
			return
		}
		metrics.RecordStoreUpsert("applied", applied)
		if skipped := len(req.Records) - applied; skipped > 0 {
			metrics.RecordStoreUpsert("stale", skipped)
		}
		api.WriteJSON(w, http.StatusOK, batchResponse{Applied: applied})
	}
}

// QueryProgress returns stored records for subject_id, optionally narrowed
// by repeated item_id parameters.
func QueryProgress(repo store.ProgressRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		q := r.URL.Query()
		subjectID := strings.TrimSpace(q.Get("subject_id"))
		if subjectID == "" {
			subjectID, _ = auth.UserIDFromContext(r.Context())
		}
		if _, err := uuid.Parse(subjectID); err != nil {
			api.BadRequest(w, "INVALID_SUBJECT", "subject_id must be a uuid", rid, nil)
			return
		}
		if !auth.CanActFor(r.Context(), subjectID) {
			api.Forbidden(w, "SUBJECT_FORBIDDEN", "Cannot read progress of another learner", rid)
			return
		}

		var itemIDs []string
		for _, id := range q["item_id"] {
			if id = strings.TrimSpace(id); id != "" {
				itemIDs = append(itemIDs, id)
			}
		}

		records, err := repo.Query(r.Context(), subjectID, itemIDs)
		if err != nil {
			api.WriteStatus(w, rid, err)
			return
		}
		if records == nil {
			records = []progress.WireRecord{}
		}
		api.WriteJSON(w, http.StatusOK, queryResponse{Records: records})
	}
}
