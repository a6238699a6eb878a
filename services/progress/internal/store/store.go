package store

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/example/chess-academy/internal/progress"
)

// MaxBatch bounds the records accepted by one upsert.
const MaxBatch = 500

// ProgressRepository defines persistence operations for lecture progress.
type ProgressRepository interface {
	// UpsertBatch writes records, ignoring stale writes (last_watched_at older
	// than the stored one). It returns how many rows were written.
	UpsertBatch(ctx context.Context, records []progress.WireRecord) (int, error)
	// ApplyEvent is UpsertBatch deduplicated by eventID. A replayed event
	// reports duplicate=true and writes nothing.
	ApplyEvent(ctx context.Context, eventID string, records []progress.WireRecord) (applied int, duplicate bool, err error)
	// Query returns the stored records of subjectID; empty itemIDs means all.
	Query(ctx context.Context, subjectID string, itemIDs []string) ([]progress.WireRecord, error)
}

// Validate checks a batch before it reaches storage and returns an
// InvalidArgument status listing every field violation.
func Validate(records []progress.WireRecord) error {
	if len(records) == 0 {
		return invalid(&errdetails.BadRequest_FieldViolation{Field: "records", Description: "at least one record is required"})
	}
	if len(records) > MaxBatch {
		return invalid(&errdetails.BadRequest_FieldViolation{Field: "records", Description: "at most " + strconv.Itoa(MaxBatch) + " records per batch"})
	}
	var violations []*errdetails.BadRequest_FieldViolation
	for i, r := range records {
		prefix := "records[" + strconv.Itoa(i) + "]."
		if _, err := uuid.Parse(strings.TrimSpace(r.SubjectID)); err != nil {
			violations = append(violations, &errdetails.BadRequest_FieldViolation{Field: prefix + "subject_id", Description: "must be a uuid"})
		}
		if strings.TrimSpace(r.ItemID) == "" {
			violations = append(violations, &errdetails.BadRequest_FieldViolation{Field: prefix + "item_id", Description: "is required"})
		}
		if r.WatchedSeconds < 0 {
			violations = append(violations, &errdetails.BadRequest_FieldViolation{Field: prefix + "watched_seconds", Description: "must be >= 0"})
		}
		if r.DurationSeconds != nil {
			if d := *r.DurationSeconds; math.IsNaN(d) || math.IsInf(d, 0) || d <= 0 {
				violations = append(violations, &errdetails.BadRequest_FieldViolation{Field: prefix + "duration_seconds", Description: "must be positive or null"})
			}
		}
		if r.LastWatchedAt.IsZero() {
			violations = append(violations, &errdetails.BadRequest_FieldViolation{Field: prefix + "last_watched_at", Description: "is required"})
		}
	}
	if len(violations) > 0 {
		return invalid(violations...)
	}
	return nil
}

func invalid(violations ...*errdetails.BadRequest_FieldViolation) error {
	st := status.New(codes.InvalidArgument, "invalid progress batch")
	withDetails, err := st.WithDetails(
		&errdetails.ErrorInfo{Reason: "INVALID_PROGRESS"},
		&errdetails.BadRequest{FieldViolations: violations},
	)
	if err != nil {
		return st.Err()
	}
	return withDetails.Err()
}

func key(subjectID, itemID string) string {
	return subjectID + "\x00" + itemID
}
