package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/example/chess-academy/internal/progress"
)

const upsertProgressSQL = `
INSERT INTO lecture_progress (user_id, lecture_id, watched_seconds, duration_seconds, completed, last_watched_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, now())
ON CONFLICT (user_id, lecture_id)
DO UPDATE SET
  watched_seconds  = EXCLUDED.watched_seconds,
  duration_seconds = EXCLUDED.duration_seconds,
  completed        = EXCLUDED.completed,
  last_watched_at  = EXCLUDED.last_watched_at,
  updated_at       = EXCLUDED.updated_at
WHERE lecture_progress.last_watched_at <= EXCLUDED.last_watched_at`

// PostgresProgressRepository is the production Postgres-backed implementation.
type PostgresProgressRepository struct {
	db *pgxpool.Pool
}

func NewPostgresProgressRepository(db *pgxpool.Pool) *PostgresProgressRepository {
	return &PostgresProgressRepository{db: db}
}

func (r *PostgresProgressRepository) UpsertBatch(ctx context.Context, records []progress.WireRecord) (int, error) {
	if err := Validate(records); err != nil {
		return 0, err
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, status.Error(codes.Internal, "db")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	applied, err := upsertTx(ctx, tx, records)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, status.Error(codes.Internal, "db")
	}
	return applied, nil
}

func (r *PostgresProgressRepository) ApplyEvent(ctx context.Context, eventID string, records []progress.WireRecord) (int, bool, error) {
	if err := Validate(records); err != nil {
		return 0, false, err
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, false, status.Error(codes.Internal, "db")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `INSERT INTO processed_events (event_id, subject, created_at) VALUES ($1, $2, now()) ON CONFLICT (event_id) DO NOTHING`, eventID, "progress.batch")
	if err != nil {
		return 0, false, status.Error(codes.Internal, "db")
	}
	if ct.RowsAffected() == 0 {
		return 0, true, nil
	}

	applied, err := upsertTx(ctx, tx, records)
	if err != nil {
		return 0, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, false, status.Error(codes.Internal, "db")
	}
	return applied, false, nil
}

func upsertTx(ctx context.Context, tx pgx.Tx, records []progress.WireRecord) (int, error) {
	batch := &pgx.Batch{}
	for _, rec := range records {
		uid, err := uuid.Parse(rec.SubjectID)
		if err != nil {
			return 0, status.Error(codes.InvalidArgument, "subject_id must be a uuid")
		}
		batch.Queue(upsertProgressSQL, uid, rec.ItemID, rec.WatchedSeconds, rec.DurationSeconds, rec.Completed, rec.LastWatchedAt.UTC())
	}

	br := tx.SendBatch(ctx, batch)
	applied := 0
	for range records {
		ct, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return 0, status.Error(codes.Internal, "db")
		}
		applied += int(ct.RowsAffected())
	}
	if err := br.Close(); err != nil {
		return 0, status.Error(codes.Internal, "db")
	}
	return applied, nil
}

func (r *PostgresProgressRepository) Query(ctx context.Context, subjectID string, itemIDs []string) ([]progress.WireRecord, error) {
	uid, err := uuid.Parse(subjectID)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "subject_id must be a uuid")
	}

	q := `SELECT lecture_id, watched_seconds, duration_seconds, completed, last_watched_at
	      FROM lecture_progress WHERE user_id=$1`
	args := []any{uid}
	if len(itemIDs) > 0 {
		q += " AND lecture_id = ANY($2)"
		args = append(args, itemIDs)
	}
	q += " ORDER BY lecture_id"

	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, status.Error(codes.Internal, "db")
	}
	defer rows.Close()

	var out []progress.WireRecord
	for rows.Next() {
		rec := progress.WireRecord{SubjectID: subjectID}
		if err := rows.Scan(&rec.ItemID, &rec.WatchedSeconds, &rec.DurationSeconds, &rec.Completed, &rec.LastWatchedAt); err != nil {
			return nil, status.Error(codes.Internal, "db")
		}
		rec.LastWatchedAt = rec.LastWatchedAt.UTC()
		out = append(out, rec)
	}
	if rows.Err() != nil {
		return nil, status.Error(codes.Internal, "db")
	}
	return out, nil
}
